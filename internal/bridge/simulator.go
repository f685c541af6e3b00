package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Call is one request observed by the Simulator.
type Call struct {
	Method string
	Body   json.RawMessage
}

type simulatedSVA struct {
	Unit         string `json:"svaUnit"`
	PurseSubType string `json:"purseSubType"`
	Balance      int    `json:"balance"`
}

// Simulator is an in-process Transport that behaves like a bridge with a
// single card present. It backs demo mode and tests.
type Simulator struct {
	mu        sync.Mutex
	latency   time.Duration
	failures  map[string]json.RawMessage
	calls     []Call
	publicKey string
	rID       string
	passcode  string
	cardNo    string
	schema    string
	records   map[int]string
	blob      string
	space     json.RawMessage
	svas      map[string]*simulatedSVA
	syncing   bool
}

var _ Transport = (*Simulator)(nil)

// SimulatorOption customizes a Simulator.
type SimulatorOption func(*Simulator)

// WithLatency delays every call, honoring context cancellation.
func WithLatency(d time.Duration) SimulatorOption {
	return func(s *Simulator) {
		if d > 0 {
			s.latency = d
		}
	}
}

// NewSimulator returns a simulator with an empty card.
func NewSimulator(opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		failures:  map[string]json.RawMessage{},
		publicKey: base64.StdEncoding.EncodeToString([]byte("bridge-ra-" + uuid.NewString())),
		records:   map[int]string{},
		svas:      map[string]*simulatedSVA{},
		schema:    `{"type":"object","properties":{"id":{"type":"integer"},"name":{"type":"string"},"voucherBalance":{"type":"integer"}}}`,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Fail makes every following call to method return envelope as an error.
// A nil envelope yields a generic failure.
func (s *Simulator) Fail(method string, envelope json.RawMessage) {
	if envelope == nil {
		envelope = Failure("SIMULATED", method+" failed")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = envelope
}

// Recover clears a scripted failure.
func (s *Simulator) Recover(method string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, method)
}

// Calls returns every request received so far.
func (s *Simulator) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// LastCall returns the most recent request for method.
func (s *Simulator) LastCall(method string) (Call, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.calls) - 1; i >= 0; i-- {
		if s.calls[i].Method == method {
			return s.calls[i], true
		}
	}
	return Call{}, false
}

// Invoke implements Transport.
func (s *Simulator) Invoke(ctx context.Context, method string, body json.RawMessage) (json.RawMessage, error) {
	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("bridge: %s: %w", method, ctx.Err())
		}
	} else if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("bridge: %s: %w", method, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: method, Body: append(json.RawMessage(nil), body...)})
	if envelope, ok := s.failures[method]; ok {
		return nil, &RemoteError{Method: method, Body: envelope}
	}
	var req map[string]any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, &RemoteError{Method: method, Body: Failure("BAD_REQUEST", err.Error())}
		}
	}
	return s.handle(method, simRequest(req))
}

type simRequest map[string]any

func (r simRequest) str(key string) string {
	value, _ := r[key].(string)
	return value
}

func (r simRequest) num(key string) int {
	value, _ := r[key].(float64)
	return int(value)
}

func (r simRequest) obj(key string) simRequest {
	value, _ := r[key].(map[string]any)
	return simRequest(value)
}

func (s *Simulator) handle(method string, req simRequest) (json.RawMessage, error) {
	switch method {
	case MethodGetInstanceID:
		body, _ := json.Marshal(map[string]string{
			"instanceId":           uuid.NewString(),
			"bridgeRAEncPublicKey": s.publicKey,
		})
		return json.RawMessage(body), nil
	case MethodSaveBiometricsConsent:
		if req.str("bridgeRAEncPublicKey") != s.publicKey {
			return nil, s.reject(method, "INVALID_KEY", "bridgeRAEncPublicKey does not match this bridge")
		}
		return Success(map[string]any{"consentId": uuid.NewString(), "granted": req.num("granted")}), nil
	case MethodReadRegistrationData:
		if s.rID == "" {
			return nil, s.reject(method, "CARD_NOT_REGISTERED", "no digital id on card")
		}
		return Success(map[string]any{"rId": s.rID, "isRegisteredInProgram": true}), nil
	case MethodCreateBasicDigitalID:
		s.rID = uuid.NewString()
		return Success(map[string]any{"rId": s.rID}), nil
	case MethodCreateBiometricDigitalID:
		if req.str("consentId") == "" {
			return nil, s.reject(method, "CONSENT_REQUIRED", "consentId is required")
		}
		s.rID = uuid.NewString()
		return Success(map[string]any{"rId": s.rID, "enrolmentStatus": "EXISTING", "modalityType": "FACE"}), nil
	case MethodIdentifyBiometricDigitalID:
		if req.str("consentId") == "" {
			return nil, s.reject(method, "CONSENT_REQUIRED", "consentId is required")
		}
		return Success(map[string]any{"rId": s.rID, "isMatchFound": s.rID != "", "modality": req["modality"]}), nil
	case MethodWriteDigitalID:
		if err := s.requireRID(method, req); err != nil {
			return nil, err
		}
		s.cardNo = fmt.Sprintf("%016d", time.Now().UnixNano()%1e16)
		return Success(map[string]any{"consumerDeviceNumber": s.cardNo}), nil
	case MethodWritePasscode:
		if err := s.requireRID(method, req); err != nil {
			return nil, err
		}
		s.passcode = req.str("passcode")
		return Success(map[string]any{"responseStatus": "SUCCESS"}), nil
	case MethodAddBiometricsToProfile:
		if err := s.requireRID(method, req); err != nil {
			return nil, err
		}
		return Success(map[string]any{"rId": s.rID, "bioToken": uuid.NewString()}), nil
	case MethodVerifyPasscode:
		if s.passcode == "" || req.str("passcode") != s.passcode {
			return Success(map[string]any{"status": false, "retryCount": 1}), nil
		}
		return Success(map[string]any{"status": true, "rId": s.rID, "authToken": "tok_" + uuid.NewString()}), nil
	case MethodEnrollUserInProgram:
		if req.str("authToken") == "" {
			return nil, s.reject(method, "AUTH_REQUIRED", "authToken is required")
		}
		return Success(map[string]any{"rId": s.rID, "consumerDeviceNumber": s.cardNo, "programGuid": req.str("programGuid")}), nil
	case MethodGetConsumerDeviceNumber:
		if s.cardNo == "" {
			return nil, s.reject(method, "CARD_EMPTY", "no consumer device number on card")
		}
		return Success(map[string]any{"consumerDeviceNumber": s.cardNo}), nil
	case MethodGetDataSchema:
		return Success(map[string]any{"schemaJson": s.schema}), nil
	case MethodPrepareProgramSpace:
		if req.str("schema") == "" {
			return nil, s.reject(method, "SCHEMA_REQUIRED", "schema is required")
		}
		output := base64.StdEncoding.EncodeToString([]byte(req.str("programSpaceData")))
		return Success(map[string]any{"output": output}), nil
	case MethodWriteToProgramSpace:
		if err := s.requireRID(method, req); err != nil {
			return nil, err
		}
		if req["data"] == nil {
			return nil, s.reject(method, "DATA_REQUIRED", "data is required")
		}
		s.space, _ = json.Marshal(req["data"])
		return Success(map[string]any{"isSuccess": true}), nil
	case MethodWriteDataRecord:
		if err := s.requireRID(method, req); err != nil {
			return nil, err
		}
		records, _ := req["appDataRecord"].([]any)
		for _, item := range records {
			record := simRequest(asMap(item))
			s.records[record.num("index")] = record.str("chunk")
		}
		return Success(map[string]any{"isSuccess": true, "written": len(records)}), nil
	case MethodReadDataRecord:
		if err := s.requireRID(method, req); err != nil {
			return nil, err
		}
		indexes, _ := req["indexes"].([]any)
		out := make([]DataRecordChunk, 0, len(indexes))
		for _, item := range indexes {
			index, _ := item.(float64)
			if chunk, ok := s.records[int(index)]; ok {
				out = append(out, DataRecordChunk{Index: int(index), Chunk: chunk})
			}
		}
		return Success(map[string]any{"appDataRecord": out}), nil
	case MethodWriteDataBlob:
		if err := s.requireRID(method, req); err != nil {
			return nil, err
		}
		s.blob = req.str("appDataBlock")
		return Success(map[string]any{"isSuccess": true}), nil
	case MethodReadDataBlob:
		if err := s.requireRID(method, req); err != nil {
			return nil, err
		}
		return Success(map[string]any{"appDataBlock": s.blob, "isShared": req["isShared"]}), nil
	case MethodCreateSVA:
		if err := s.requireRID(method, req); err != nil {
			return nil, err
		}
		data := req.obj("svaData")
		unit := data.str("svaUnit")
		if unit == "" {
			return nil, s.reject(method, "UNIT_REQUIRED", "svaData.svaUnit is required")
		}
		if _, ok := s.svas[unit]; !ok {
			s.svas[unit] = &simulatedSVA{Unit: unit, PurseSubType: data.str("purseSubType")}
		}
		return Success(map[string]any{"isSuccess": true}), nil
	case MethodReadSVA:
		if err := s.requireRID(method, req); err != nil {
			return nil, err
		}
		sva, ok := s.svas[req.str("svaUnit")]
		if !ok {
			return nil, s.reject(method, "SVA_NOT_FOUND", "no sva for unit "+req.str("svaUnit"))
		}
		return Success(sva), nil
	case MethodReadAllSVAs:
		if err := s.requireRID(method, req); err != nil {
			return nil, err
		}
		return Success(s.listSVAs()), nil
	case MethodMutateSVA:
		if err := s.requireRID(method, req); err != nil {
			return nil, err
		}
		op := req.obj("svaOperation")
		sva, ok := s.svas[op.str("svaUnit")]
		if !ok {
			return nil, s.reject(method, "SVA_NOT_FOUND", "no sva for unit "+op.str("svaUnit"))
		}
		switch op.str("operationType") {
		case SVAIncrease:
			sva.Balance += op.num("amount")
		case SVADecrease:
			if sva.Balance < op.num("amount") {
				return nil, s.reject(method, "INSUFFICIENT_BALANCE", "balance too low")
			}
			sva.Balance -= op.num("amount")
		default:
			return nil, s.reject(method, "INVALID_OPERATION", "unknown operationType "+op.str("operationType"))
		}
		return Success(sva), nil
	case MethodVerifyBiometricDigitalID:
		return Success(map[string]any{"isMatchFound": s.rID != "", "rId": s.rID}), nil
	case MethodBatchOperation:
		return s.batch(method, req)
	case MethodStartDataSync:
		s.syncing = true
		return Success(map[string]any{"isSuccess": true}), nil
	case MethodGetDataSyncWorkerStatus:
		status := "IDLE"
		if s.syncing {
			status = "RUNNING"
		}
		return Success(map[string]any{"status": status}), nil
	}
	return nil, s.reject(method, "UNKNOWN_METHOD", "method "+method+" is not supported")
}

func (s *Simulator) batch(method string, req simRequest) (json.RawMessage, error) {
	if req.str("reliantAppInstanceId") == "" {
		return nil, s.reject(method, "INSTANCE_REQUIRED", "reliantAppInstanceId is required")
	}
	steps, _ := req["operations"].([]any)
	continueOnError, _ := req["shouldContinueOnError"].(bool)
	results := make([]map[string]any, 0, len(steps))
	for _, item := range steps {
		step := simRequest(asMap(item))
		payload := step.obj("payload")
		result := map[string]any{"actions": step.str("actions"), "status": "SUCCESS"}
		switch step.str("actions") {
		case BatchVerifyPasscode:
			if s.passcode == "" || payload.str("passcode") != s.passcode {
				result["status"] = "FAILED"
			}
		case BatchReadSVA:
			if payload.str("rId") == "" || s.rID == "" {
				result["status"] = "FAILED"
			} else {
				result["svas"] = s.listSVAs()
			}
		default:
			result["status"] = "UNSUPPORTED"
		}
		results = append(results, result)
		if result["status"] != "SUCCESS" && !continueOnError {
			break
		}
	}
	return Success(map[string]any{"operations": results}), nil
}

func (s *Simulator) listSVAs() []simulatedSVA {
	units := make([]string, 0, len(s.svas))
	for unit := range s.svas {
		units = append(units, unit)
	}
	sort.Strings(units)
	out := make([]simulatedSVA, 0, len(units))
	for _, unit := range units {
		out = append(out, *s.svas[unit])
	}
	return out
}

func (s *Simulator) requireRID(method string, req simRequest) error {
	if strings.TrimSpace(req.str("rId")) == "" {
		return s.reject(method, "RID_REQUIRED", "rId is required")
	}
	return nil
}

func (s *Simulator) reject(method, code, message string) error {
	return &RemoteError{Method: method, Body: Failure(code, message)}
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
