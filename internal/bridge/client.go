package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Remote method names as exposed by the bridge.
const (
	MethodGetInstanceID              = "getInstanceId"
	MethodSaveBiometricsConsent      = "saveBiometricsConsent"
	MethodReadRegistrationData       = "readRegistrationData"
	MethodCreateBasicDigitalID       = "createBasicDigitalId"
	MethodCreateBiometricDigitalID   = "createBiometricDigitalId"
	MethodIdentifyBiometricDigitalID = "identifyBiometricDigitalId"
	MethodWriteDigitalID             = "writeDigitalIdOnCard"
	MethodWritePasscode              = "writePasscode"
	MethodAddBiometricsToProfile     = "addBiometricsToCpUserProfile"
	MethodVerifyPasscode             = "verifyPasscode"
	MethodEnrollUserInProgram        = "enrollNewUserInProgram"
	MethodGetConsumerDeviceNumber    = "getConsumerDeviceNumber"
	MethodGetDataSchema              = "getDataSchema"
	MethodPrepareProgramSpace        = "prepareProgramSpace"
	MethodWriteToProgramSpace        = "writeToProgramSpace"
	MethodWriteDataRecord            = "writeDataRecordToCard"
	MethodReadDataRecord             = "readDataRecordFromCard"
	MethodWriteDataBlob              = "writeDataBlobToCard"
	MethodReadDataBlob               = "readDataBlobFromCard"
	MethodCreateSVA                  = "createSva"
	MethodReadSVA                    = "readSva"
	MethodReadAllSVAs                = "readAllSvas"
	MethodMutateSVA                  = "mutateSva"
	MethodVerifyBiometricDigitalID   = "verifyBiometricDigitalId"
	MethodBatchOperation             = "batchOperation"
	MethodStartDataSync              = "startDataSync"
	MethodGetDataSyncWorkerStatus    = "getDataSyncWorkerStatus"
)

// Capabilities is the remote surface the console drives. Every call returns
// the raw response envelope; failures come back as errors that ErrorEnvelope
// turns into the raw value to record.
type Capabilities interface {
	GetInstanceID(ctx context.Context, programGUID string) (json.RawMessage, error)
	SaveBiometricsConsent(ctx context.Context, req ConsentRequest) (json.RawMessage, error)
	ReadRegistrationData(ctx context.Context, programGUID string) (json.RawMessage, error)
	CreateBasicDigitalID(ctx context.Context, programGUID string) (json.RawMessage, error)
	CreateBiometricDigitalID(ctx context.Context, req BiometricEnrollRequest) (json.RawMessage, error)
	IdentifyBiometricDigitalID(ctx context.Context, req IdentifyRequest) (json.RawMessage, error)
	WriteDigitalID(ctx context.Context, programGUID, rID string) (json.RawMessage, error)
	WritePasscode(ctx context.Context, programGUID, rID, passcode string) (json.RawMessage, error)
	AddBiometricsToProfile(ctx context.Context, req ProfileBiometricsRequest) (json.RawMessage, error)
	VerifyPasscode(ctx context.Context, programGUID, formFactor, passcode string) (json.RawMessage, error)
	EnrollUserInProgram(ctx context.Context, req EnrollRequest) (json.RawMessage, error)
	GetConsumerDeviceNumber(ctx context.Context, programGUID string) (json.RawMessage, error)
	GetDataSchema(ctx context.Context, programGUID string) (json.RawMessage, error)
	PrepareProgramSpace(ctx context.Context, req PrepareProgramSpaceRequest) (json.RawMessage, error)
	WriteToProgramSpace(ctx context.Context, req ProgramSpaceWriteRequest) (json.RawMessage, error)
	WriteDataRecord(ctx context.Context, req DataRecordWriteRequest) (json.RawMessage, error)
	ReadDataRecord(ctx context.Context, req DataRecordReadRequest) (json.RawMessage, error)
	WriteDataBlob(ctx context.Context, req DataBlobWriteRequest) (json.RawMessage, error)
	ReadDataBlob(ctx context.Context, req DataBlobReadRequest) (json.RawMessage, error)
	CreateSVA(ctx context.Context, req SVACreateRequest) (json.RawMessage, error)
	ReadSVA(ctx context.Context, req SVAReadRequest) (json.RawMessage, error)
	ReadAllSVAs(ctx context.Context, req SVAListRequest) (json.RawMessage, error)
	MutateSVA(ctx context.Context, req SVAMutateRequest) (json.RawMessage, error)
	VerifyBiometricDigitalID(ctx context.Context, req BiometricVerifyRequest) (json.RawMessage, error)
	BatchOperation(ctx context.Context, req BatchRequest) (json.RawMessage, error)
	StartDataSync(ctx context.Context, programGUID string) (json.RawMessage, error)
	GetDataSyncWorkerStatus(ctx context.Context, programGUID string) (json.RawMessage, error)
}

// Transport carries one request body to a named remote method.
type Transport interface {
	Invoke(ctx context.Context, method string, body json.RawMessage) (json.RawMessage, error)
}

// Client implements Capabilities over a Transport, stamping the reliant app
// GUID on every request.
type Client struct {
	transport      Transport
	reliantAppGUID string
}

var _ Capabilities = (*Client)(nil)

// NewClient binds a transport to a reliant application.
func NewClient(transport Transport, reliantAppGUID string) (*Client, error) {
	if transport == nil {
		return nil, fmt.Errorf("bridge: transport is required")
	}
	return &Client{transport: transport, reliantAppGUID: strings.TrimSpace(reliantAppGUID)}, nil
}

func (c *Client) call(ctx context.Context, method string, req any) (json.RawMessage, error) {
	body, err := c.encode(req)
	if err != nil {
		return nil, fmt.Errorf("bridge: encode %s: %w", method, err)
	}
	raw, err := c.transport.Invoke(ctx, method, body)
	if err != nil {
		return nil, err
	}
	if IsErrorEnvelope(raw) {
		return nil, &RemoteError{Method: method, Body: raw}
	}
	return raw, nil
}

func (c *Client) encode(req any) (json.RawMessage, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if _, ok := fields["reliantAppGuid"]; !ok && c.reliantAppGUID != "" {
		guid, _ := json.Marshal(c.reliantAppGUID)
		fields["reliantAppGuid"] = guid
	}
	return json.Marshal(fields)
}

type programRequest struct {
	ProgramGUID string `json:"programGuid"`
}

func (c *Client) GetInstanceID(ctx context.Context, programGUID string) (json.RawMessage, error) {
	return c.call(ctx, MethodGetInstanceID, programRequest{ProgramGUID: programGUID})
}

func (c *Client) SaveBiometricsConsent(ctx context.Context, req ConsentRequest) (json.RawMessage, error) {
	return c.call(ctx, MethodSaveBiometricsConsent, req)
}

func (c *Client) ReadRegistrationData(ctx context.Context, programGUID string) (json.RawMessage, error) {
	return c.call(ctx, MethodReadRegistrationData, programRequest{ProgramGUID: programGUID})
}

func (c *Client) CreateBasicDigitalID(ctx context.Context, programGUID string) (json.RawMessage, error) {
	return c.call(ctx, MethodCreateBasicDigitalID, programRequest{ProgramGUID: programGUID})
}

func (c *Client) CreateBiometricDigitalID(ctx context.Context, req BiometricEnrollRequest) (json.RawMessage, error) {
	return c.call(ctx, MethodCreateBiometricDigitalID, req)
}

func (c *Client) IdentifyBiometricDigitalID(ctx context.Context, req IdentifyRequest) (json.RawMessage, error) {
	return c.call(ctx, MethodIdentifyBiometricDigitalID, req)
}

func (c *Client) WriteDigitalID(ctx context.Context, programGUID, rID string) (json.RawMessage, error) {
	return c.call(ctx, MethodWriteDigitalID, struct {
		ProgramGUID string `json:"programGuid"`
		RID         string `json:"rId"`
	}{programGUID, rID})
}

func (c *Client) WritePasscode(ctx context.Context, programGUID, rID, passcode string) (json.RawMessage, error) {
	return c.call(ctx, MethodWritePasscode, struct {
		ProgramGUID string `json:"programGuid"`
		RID         string `json:"rId"`
		Passcode    string `json:"passcode"`
	}{programGUID, rID, passcode})
}

func (c *Client) AddBiometricsToProfile(ctx context.Context, req ProfileBiometricsRequest) (json.RawMessage, error) {
	return c.call(ctx, MethodAddBiometricsToProfile, req)
}

func (c *Client) VerifyPasscode(ctx context.Context, programGUID, formFactor, passcode string) (json.RawMessage, error) {
	return c.call(ctx, MethodVerifyPasscode, struct {
		ProgramGUID string `json:"programGuid"`
		FormFactor  string `json:"formFactor"`
		Passcode    string `json:"passcode"`
	}{programGUID, formFactor, passcode})
}

func (c *Client) EnrollUserInProgram(ctx context.Context, req EnrollRequest) (json.RawMessage, error) {
	return c.call(ctx, MethodEnrollUserInProgram, req)
}

func (c *Client) GetConsumerDeviceNumber(ctx context.Context, programGUID string) (json.RawMessage, error) {
	return c.call(ctx, MethodGetConsumerDeviceNumber, programRequest{ProgramGUID: programGUID})
}

func (c *Client) GetDataSchema(ctx context.Context, programGUID string) (json.RawMessage, error) {
	return c.call(ctx, MethodGetDataSchema, programRequest{ProgramGUID: programGUID})
}

func (c *Client) PrepareProgramSpace(ctx context.Context, req PrepareProgramSpaceRequest) (json.RawMessage, error) {
	return c.call(ctx, MethodPrepareProgramSpace, req)
}

func (c *Client) WriteToProgramSpace(ctx context.Context, req ProgramSpaceWriteRequest) (json.RawMessage, error) {
	return c.call(ctx, MethodWriteToProgramSpace, req)
}

func (c *Client) WriteDataRecord(ctx context.Context, req DataRecordWriteRequest) (json.RawMessage, error) {
	return c.call(ctx, MethodWriteDataRecord, req)
}

func (c *Client) ReadDataRecord(ctx context.Context, req DataRecordReadRequest) (json.RawMessage, error) {
	return c.call(ctx, MethodReadDataRecord, req)
}

func (c *Client) WriteDataBlob(ctx context.Context, req DataBlobWriteRequest) (json.RawMessage, error) {
	return c.call(ctx, MethodWriteDataBlob, req)
}

func (c *Client) ReadDataBlob(ctx context.Context, req DataBlobReadRequest) (json.RawMessage, error) {
	return c.call(ctx, MethodReadDataBlob, req)
}

func (c *Client) CreateSVA(ctx context.Context, req SVACreateRequest) (json.RawMessage, error) {
	return c.call(ctx, MethodCreateSVA, req)
}

func (c *Client) ReadSVA(ctx context.Context, req SVAReadRequest) (json.RawMessage, error) {
	return c.call(ctx, MethodReadSVA, req)
}

func (c *Client) ReadAllSVAs(ctx context.Context, req SVAListRequest) (json.RawMessage, error) {
	return c.call(ctx, MethodReadAllSVAs, req)
}

func (c *Client) MutateSVA(ctx context.Context, req SVAMutateRequest) (json.RawMessage, error) {
	return c.call(ctx, MethodMutateSVA, req)
}

func (c *Client) VerifyBiometricDigitalID(ctx context.Context, req BiometricVerifyRequest) (json.RawMessage, error) {
	return c.call(ctx, MethodVerifyBiometricDigitalID, req)
}

func (c *Client) BatchOperation(ctx context.Context, req BatchRequest) (json.RawMessage, error) {
	return c.call(ctx, MethodBatchOperation, req)
}

func (c *Client) StartDataSync(ctx context.Context, programGUID string) (json.RawMessage, error) {
	return c.call(ctx, MethodStartDataSync, programRequest{ProgramGUID: programGUID})
}

func (c *Client) GetDataSyncWorkerStatus(ctx context.Context, programGUID string) (json.RawMessage, error) {
	return c.call(ctx, MethodGetDataSyncWorkerStatus, programRequest{ProgramGUID: programGUID})
}
