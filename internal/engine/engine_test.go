package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kingrea/bridgera/internal/bridge"
	"github.com/kingrea/bridgera/internal/config"
	"github.com/kingrea/bridgera/internal/operation"
	"github.com/kingrea/bridgera/internal/operations"
	"github.com/kingrea/bridgera/internal/session"
)

const bindEnvelope = `{"payload":{"data":{"instanceId":"abc","bridgeRAEncPublicKey":"pub123"}}}`

type scriptedTransport struct {
	mu        sync.Mutex
	responses map[string]json.RawMessage
	failures  map[string]json.RawMessage
	calls     []bridge.Call
	hold      chan struct{}
	entered   chan string
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{
		responses: map[string]json.RawMessage{
			bridge.MethodGetInstanceID: json.RawMessage(bindEnvelope),
		},
		failures: map[string]json.RawMessage{},
	}
}

func (s *scriptedTransport) respond(method, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[method] = json.RawMessage(body)
}

func (s *scriptedTransport) fail(method, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = json.RawMessage(body)
}

func (s *scriptedTransport) Invoke(ctx context.Context, method string, body json.RawMessage) (json.RawMessage, error) {
	s.mu.Lock()
	s.calls = append(s.calls, bridge.Call{Method: method, Body: body})
	hold, entered := s.hold, s.entered
	s.mu.Unlock()

	if entered != nil {
		entered <- method
	}
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, fmt.Errorf("bridge: %s: %w", method, ctx.Err())
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if envelope, ok := s.failures[method]; ok {
		return nil, &bridge.RemoteError{Method: method, Body: envelope}
	}
	if raw, ok := s.responses[method]; ok {
		return raw, nil
	}
	return json.RawMessage(`{"payload":{"data":{}}}`), nil
}

func (s *scriptedTransport) lastBody(t *testing.T, method string) map[string]any {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.calls) - 1; i >= 0; i-- {
		if s.calls[i].Method == method {
			var out map[string]any
			if err := json.Unmarshal(s.calls[i].Body, &out); err != nil {
				t.Fatalf("decode %s body: %v", method, err)
			}
			return out
		}
	}
	t.Fatalf("no call to %s", method)
	return nil
}

func (s *scriptedTransport) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type recordingJournal struct {
	mu    sync.Mutex
	lines []string
}

func (j *recordingJournal) Info(format string, args ...any) { j.add("INFO " + fmt.Sprintf(format, args...)) }
func (j *recordingJournal) Warn(format string, args ...any) { j.add("WARN " + fmt.Sprintf(format, args...)) }

func (j *recordingJournal) add(line string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lines = append(j.lines, line)
}

type engineHarness struct {
	engine    *Engine
	store     *session.Store
	backend   *session.MemoryBackend
	transport *scriptedTransport
	metrics   *Metrics
	journal   *recordingJournal
}

func newEngineHarness(t *testing.T, catalog *operation.Catalog, opts ...Option) *engineHarness {
	t.Helper()
	backend := session.NewMemoryBackend()
	store, err := session.Open(backend)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	transport := newScriptedTransport()
	client, err := bridge.NewClient(transport, "app-guid")
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if catalog == nil {
		catalog = operations.NewCatalog()
	}
	metrics := NewMetrics()
	journal := &recordingJournal{}
	base := []Option{
		WithMetrics(metrics),
		WithJournal(journal),
		WithPrograms(config.Programs{CredentialProgramGUID: "P1", AcceptorProgramGUID: "P2"}),
	}
	eng, err := New(catalog, store, client, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return &engineHarness{engine: eng, store: store, backend: backend, transport: transport, metrics: metrics, journal: journal}
}

func (h *engineHarness) execute(t *testing.T, name string) Result {
	t.Helper()
	result, err := h.engine.Execute(context.Background(), name)
	if err != nil {
		t.Fatalf("execute %s: %v", name, err)
	}
	return result
}

func (h *engineHarness) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.store.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	store, _ := session.Open(session.NewMemoryBackend())
	defer store.Close()
	client, _ := bridge.NewClient(bridge.NewSimulator(), "")
	catalog := operations.NewCatalog()
	if _, err := New(nil, store, client); err == nil || !strings.Contains(err.Error(), "catalog is required") {
		t.Fatalf("expected catalog error, got %v", err)
	}
	if _, err := New(catalog, nil, client); err == nil || !strings.Contains(err.Error(), "store is required") {
		t.Fatalf("expected store error, got %v", err)
	}
	if _, err := New(catalog, store, nil); err == nil || !strings.Contains(err.Error(), "client is required") {
		t.Fatalf("expected client error, got %v", err)
	}
}

func TestUnavailableOperationHasNoEffect(t *testing.T) {
	h := newEngineHarness(t, nil)
	for _, name := range []string{operations.CreateBasicDigitalID, "doesNotExist"} {
		result := h.execute(t, name)
		if result.Status != StatusUnavailable {
			t.Fatalf("%s: status = %s, want unavailable", name, result.Status)
		}
	}
	if len(h.engine.State()) != 0 {
		t.Fatalf("state changed: %v", h.engine.State().Keys())
	}
	if h.transport.callCount() != 0 {
		t.Fatalf("unavailable operations must not reach the bridge")
	}
	if h.engine.Selected() != "" {
		t.Fatalf("selection changed to %q", h.engine.Selected())
	}
	if len(h.engine.Runs()) != 0 {
		t.Fatalf("unavailable calls are not runs")
	}
	if h.engine.Busy() {
		t.Fatalf("engine stuck busy")
	}
}

func TestBindingInstanceUnlocksGatedOperations(t *testing.T) {
	h := newEngineHarness(t, nil)
	if got := len(h.engine.Operations()); got != 3 {
		t.Fatalf("expected 3 bootstrap operations, got %d", got)
	}

	result := h.execute(t, operations.GetInstanceIDCM)
	if result.Status != StatusSucceeded {
		t.Fatalf("status = %s (%s)", result.Status, result.Error)
	}
	state := h.engine.State()
	if state.String(session.KeyInstanceID) != "abc" || state.String(session.KeyBridgePublicKey) != "pub123" {
		t.Fatalf("identifiers not threaded: %v", state)
	}
	if body := h.transport.lastBody(t, bridge.MethodGetInstanceID); body["programGuid"] != "P1" {
		t.Fatalf("bound to %v, want P1", body["programGuid"])
	}

	ops := h.engine.Operations()
	if len(ops) != 31 {
		t.Fatalf("expected full catalog, got %d", len(ops))
	}
	want := operations.NewCatalog().Names()
	for i, op := range ops {
		if op.Name != want[i] {
			t.Fatalf("position %d = %s, want %s", i, op.Name, want[i])
		}
	}
	if !ops[0].Selected {
		t.Fatalf("executed operation should be marked selected")
	}
}

func TestResponseStoredByteForByte(t *testing.T) {
	h := newEngineHarness(t, nil)
	h.execute(t, operations.GetInstanceIDCM)

	envelope := `{"payload": {"data": {"rId": "r-9"}},  "trace":[1, 2]}`
	h.transport.respond(bridge.MethodCreateBasicDigitalID, envelope)
	h.execute(t, operations.CreateBasicDigitalID)

	got := h.engine.State()[operation.ResponseKey(operations.CreateBasicDigitalID)]
	if string(got) != envelope {
		t.Fatalf("response altered:\n got %s\nwant %s", got, envelope)
	}
	if h.engine.State().String(session.KeyRID) != "r-9" {
		t.Fatalf("rId not threaded")
	}
}

func TestCreatedDigitalIDIsMirroredAndReused(t *testing.T) {
	h := newEngineHarness(t, nil)
	h.execute(t, operations.GetInstanceIDCM)
	h.transport.respond(bridge.MethodCreateBasicDigitalID, `{"payload":{"data":{"rId":"r-9"}}}`)
	h.execute(t, operations.CreateBasicDigitalID)
	h.flush(t)

	mirror, err := h.backend.Load(session.BucketMirror)
	if err != nil {
		t.Fatalf("load mirror: %v", err)
	}
	if string(mirror[session.KeyRID]) != `"r-9"` {
		t.Fatalf("mirrored rId = %s", mirror[session.KeyRID])
	}

	h.execute(t, operations.WriteDigitalID)
	if body := h.transport.lastBody(t, bridge.MethodWriteDigitalID); body["rId"] != "r-9" {
		t.Fatalf("writeDigitalId sent rId %v", body["rId"])
	}
}

func TestRemoteRejectionRecordsOnlyEnvelope(t *testing.T) {
	h := newEngineHarness(t, nil)
	h.execute(t, operations.GetInstanceIDCM)
	before := h.engine.State()

	h.transport.fail(bridge.MethodCreateBasicDigitalID, `{"error":"timeout"}`)
	result := h.execute(t, operations.CreateBasicDigitalID)
	if result.Status != StatusFailed {
		t.Fatalf("status = %s", result.Status)
	}

	after := h.engine.State()
	key := operation.ResponseKey(operations.CreateBasicDigitalID)
	if string(after[key]) != `{"error":"timeout"}` {
		t.Fatalf("response field = %s", after[key])
	}
	delete(after, key)
	if len(after) != len(before) {
		t.Fatalf("other fields changed: before %v after %v", before.Keys(), after.Keys())
	}
	for k, v := range before {
		if string(after[k]) != string(v) {
			t.Fatalf("field %s changed", k)
		}
	}
	if h.engine.Status().State != RunStateIdle {
		t.Fatalf("engine not idle after failure")
	}
	run, ok := h.engine.LastRun(operations.CreateBasicDigitalID)
	if !ok || run.Outcome != operation.OutcomeFailure {
		t.Fatalf("failed run not recorded: %+v", run)
	}
}

func TestConcurrentExecuteIsRejected(t *testing.T) {
	h := newEngineHarness(t, nil)
	hold := make(chan struct{})
	entered := make(chan string, 1)
	h.transport.mu.Lock()
	h.transport.hold, h.transport.entered = hold, entered
	h.transport.mu.Unlock()

	done := make(chan Result, 1)
	go func() {
		result, err := h.engine.Execute(context.Background(), operations.GetInstanceIDCM)
		if err != nil {
			t.Errorf("winning execute: %v", err)
		}
		done <- result
	}()
	<-entered

	status := h.engine.Status()
	if status.State != RunStateRunning || status.Operation != operations.GetInstanceIDCM {
		t.Fatalf("status while running = %+v", status)
	}
	if _, err := h.engine.Execute(context.Background(), operations.GetInstanceIDAcceptor); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if _, err := h.engine.Execute(context.Background(), operations.ClearAppState); !errors.Is(err, ErrBusy) {
		t.Fatalf("clear must also be rejected while busy, got %v", err)
	}
	if len(h.engine.State()) != 0 {
		t.Fatalf("state mutated while the winner was in flight: %v", h.engine.State().Keys())
	}

	close(hold)
	result := <-done
	if result.Status != StatusSucceeded {
		t.Fatalf("winner status = %s", result.Status)
	}
	state := h.engine.State()
	if state.String(session.KeyInstanceID) != "abc" || state.String(session.KeyBridgePublicKey) != "pub123" {
		t.Fatalf("winner patch not applied: %v", state.Keys())
	}
	if _, ok := state[operation.ResponseKey(operations.GetInstanceIDAcceptor)]; ok {
		t.Fatalf("rejected call left a response field")
	}
	if got := testutil.ToFloat64(h.metrics.busyRejections); got != 2 {
		t.Fatalf("busy rejections = %v, want 2", got)
	}
	if h.engine.Busy() {
		t.Fatalf("engine still busy")
	}
}

func TestManyConcurrentCallersOneWinner(t *testing.T) {
	h := newEngineHarness(t, nil)
	hold := make(chan struct{})
	h.transport.mu.Lock()
	h.transport.hold = hold
	h.transport.mu.Unlock()

	const callers = 8
	type outcome struct {
		result Result
		err    error
	}
	results := make(chan outcome, callers)
	for i := 0; i < callers; i++ {
		go func() {
			result, err := h.engine.Execute(context.Background(), operations.GetInstanceIDCM)
			results <- outcome{result, err}
		}()
	}
	for i := 0; i < callers-1; i++ {
		got := <-results
		if !errors.Is(got.err, ErrBusy) {
			t.Fatalf("loser %d: expected ErrBusy, got %v (%s)", i, got.err, got.result.Status)
		}
	}
	close(hold)
	winner := <-results
	if winner.err != nil || winner.result.Status != StatusSucceeded {
		t.Fatalf("winner: %v %s", winner.err, winner.result.Status)
	}
	if h.transport.callCount() != 1 {
		t.Fatalf("bridge called %d times", h.transport.callCount())
	}
	if len(h.engine.Runs()) != 1 {
		t.Fatalf("runs = %d", len(h.engine.Runs()))
	}
}

func TestClearResetsStateAndMirror(t *testing.T) {
	h := newEngineHarness(t, nil)
	h.execute(t, operations.GetInstanceIDCM)
	h.transport.respond(bridge.MethodCreateBasicDigitalID, `{"payload":{"data":{"rId":"r-9"}}}`)
	h.execute(t, operations.CreateBasicDigitalID)
	h.transport.respond(bridge.MethodVerifyPasscode, `{"payload":{"data":{"authToken":"tok-1"}}}`)
	h.execute(t, operations.VerifyPasscodeCM)
	h.flush(t)

	result := h.execute(t, operations.ClearAppState)
	if !result.Reset || result.Status != StatusSucceeded {
		t.Fatalf("clear result = %+v", result)
	}
	h.flush(t)

	if len(h.engine.State()) != 0 {
		t.Fatalf("state not empty after clear: %v", h.engine.State().Keys())
	}
	mirror, _ := h.backend.Load(session.BucketMirror)
	for _, key := range session.MirroredKeys {
		if _, ok := mirror[key]; ok {
			t.Fatalf("mirrored %s survived clear", key)
		}
	}
	stored, _ := h.backend.Load(session.BucketState)
	if len(stored) != 0 {
		t.Fatalf("state bucket not emptied: %d keys", len(stored))
	}
	if got := len(h.engine.Operations()); got != 3 {
		t.Fatalf("gated operations still offered after clear: %d", got)
	}
	if h.engine.Selected() != operations.ClearAppState {
		t.Fatalf("selection = %q", h.engine.Selected())
	}
	last := h.journal.lines[len(h.journal.lines)-1]
	if !strings.Contains(last, "session cleared") {
		t.Fatalf("journal = %v", h.journal.lines)
	}
}

func TestClearOnEmptyStateIsHarmless(t *testing.T) {
	h := newEngineHarness(t, nil)
	result := h.execute(t, operations.ClearAppState)
	if result.Status != StatusSucceeded {
		t.Fatalf("status = %s", result.Status)
	}
	if len(h.engine.State()) != 0 {
		t.Fatalf("state = %v", h.engine.State().Keys())
	}
}

func TestCallTimeoutProducesTimeoutEnvelope(t *testing.T) {
	h := newEngineHarness(t, nil, WithCallTimeout(20*time.Millisecond))
	h.transport.mu.Lock()
	h.transport.hold = make(chan struct{})
	h.transport.mu.Unlock()

	result := h.execute(t, operations.GetInstanceIDCM)
	if result.Status != StatusFailed {
		t.Fatalf("status = %s", result.Status)
	}
	raw := h.engine.State()[operation.ResponseKey(operations.GetInstanceIDCM)]
	if !strings.Contains(string(raw), bridge.CodeTimeout) {
		t.Fatalf("expected timeout envelope, got %s", raw)
	}
	if len(h.engine.State()) != 1 {
		t.Fatalf("failure must only add the response field: %v", h.engine.State().Keys())
	}
	if h.engine.Busy() {
		t.Fatalf("engine busy after timeout")
	}
}

func TestFailurePatchDropsExecutorFields(t *testing.T) {
	catalog := operation.NewCatalog()
	catalog.MustRegister(operation.Operation{
		Name: "sloppy",
		Tier: operation.TierBootstrap,
		Execute: func(_ context.Context, exec *operation.Exec) operation.Outcome {
			exec.SetString(session.KeyRID, "half-written")
			return exec.Respond(nil, errors.New("card removed"))
		},
	}, operation.Operation{
		Name: "explodes",
		Tier: operation.TierBootstrap,
		Execute: func(context.Context, *operation.Exec) operation.Outcome {
			panic("boom")
		},
	})
	h := newEngineHarness(t, catalog)

	result := h.execute(t, "sloppy")
	if result.Status != StatusFailed || result.Error == "" {
		t.Fatalf("result = %+v", result)
	}
	if h.engine.State().Has(session.KeyRID) {
		t.Fatalf("failed run leaked a threaded field")
	}
	if !bridge.IsErrorEnvelope(h.engine.State()["sloppyResponse"]) {
		t.Fatalf("missing error envelope")
	}

	result = h.execute(t, "explodes")
	if result.Status != StatusFailed || !strings.Contains(result.Error, "panicked") {
		t.Fatalf("panic result = %+v", result)
	}
	if h.engine.Busy() {
		t.Fatalf("engine busy after panic")
	}
}

// deniedBind is a Capabilities that answers the bind with an error-shaped
// envelope and a nil error. Every other method is unused.
type deniedBind struct {
	bridge.Capabilities
}

func (deniedBind) GetInstanceID(context.Context, string) (json.RawMessage, error) {
	return json.RawMessage(`{"error":"denied","instanceId":"leak","bridgeRAEncPublicKey":"pk"}`), nil
}

func TestErrorShapedEnvelopeFailsWithoutClient(t *testing.T) {
	store, err := session.Open(session.NewMemoryBackend())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	eng, err := New(operations.NewCatalog(), store, deniedBind{})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	result, err := eng.Execute(context.Background(), operations.GetInstanceIDCM)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Status != StatusFailed || !strings.Contains(result.Error, "denied") {
		t.Fatalf("result = %+v", result)
	}
	state := eng.State()
	if state.Has(session.KeyInstanceID) || state.Has(session.KeyBridgePublicKey) {
		t.Fatalf("fields threaded out of an error envelope: %v", state.Keys())
	}
	if !bridge.IsErrorEnvelope(state["getInstanceIdCMResponse"]) {
		t.Fatalf("error envelope not stored")
	}
	if len(eng.Operations()) != 3 {
		t.Fatalf("gated operations unlocked after a failed bind")
	}
}

func TestExecutorIgnoringErrorShapeStillFails(t *testing.T) {
	catalog := operation.NewCatalog()
	catalog.MustRegister(operation.Operation{
		Name: "careless",
		Tier: operation.TierBootstrap,
		Execute: func(_ context.Context, exec *operation.Exec) operation.Outcome {
			exec.SetRaw(operation.ResponseKey("careless"), json.RawMessage(`{"success":false}`))
			exec.SetString(session.KeyRID, "bogus")
			return operation.OutcomeSuccess
		},
	})
	h := newEngineHarness(t, catalog)
	result := h.execute(t, "careless")
	if result.Status != StatusFailed || result.Error == "" {
		t.Fatalf("result = %+v", result)
	}
	if h.engine.State().Has(session.KeyRID) {
		t.Fatalf("threaded field kept after an error-shaped response")
	}
}

func TestRunsHistoryMetricsAndJournal(t *testing.T) {
	h := newEngineHarness(t, nil, WithHistoryLimit(2))
	h.execute(t, operations.GetInstanceIDCM)
	h.execute(t, operations.GetInstanceIDAcceptor)
	h.transport.fail(bridge.MethodReadSVA, `{"error":{"code":"SVA_NOT_FOUND"}}`)
	h.execute(t, operations.ReadSva)

	runs := h.engine.Runs()
	if len(runs) != 2 {
		t.Fatalf("history not capped: %d", len(runs))
	}
	if runs[0].Operation != operations.GetInstanceIDAcceptor || runs[1].Operation != operations.ReadSva {
		t.Fatalf("unexpected history %+v", runs)
	}
	if runs[1].Outcome != operation.OutcomeFailure || runs[1].Error == "" {
		t.Fatalf("failed run = %+v", runs[1])
	}
	if got := testutil.ToFloat64(h.metrics.operations.WithLabelValues(operations.ReadSva, "failure")); got != 1 {
		t.Fatalf("failure counter = %v", got)
	}
	if got := testutil.ToFloat64(h.metrics.operations.WithLabelValues(operations.GetInstanceIDCM, "success")); got != 1 {
		t.Fatalf("success counter = %v", got)
	}
	if len(h.journal.lines) != 3 || !strings.HasPrefix(h.journal.lines[2], "WARN readSva: failed") {
		t.Fatalf("journal = %v", h.journal.lines)
	}
}

func TestSelectValidatesNames(t *testing.T) {
	h := newEngineHarness(t, nil)
	if err := h.engine.Select("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := h.engine.Select(operations.MutateSva); err != nil {
		t.Fatalf("select: %v", err)
	}
	if h.engine.Selected() != operations.MutateSva {
		t.Fatalf("selected = %q", h.engine.Selected())
	}
}

func TestClockDrivesStatusAndDuration(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tick := 0
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	h := newEngineHarness(t, nil, WithClock(clock))
	result := h.execute(t, operations.GetInstanceIDCM)
	if result.Duration != time.Second {
		t.Fatalf("duration = %s", result.Duration)
	}
	if h.engine.Status().Since.Before(result.StartedAt) {
		t.Fatalf("idle since should follow the run")
	}
}

func TestObserversSeeFinishedRuns(t *testing.T) {
	var seen []Result
	h := newEngineHarness(t, nil, WithObserver(func(result Result) {
		seen = append(seen, result)
	}))
	h.execute(t, operations.CreateSva)
	h.execute(t, operations.GetInstanceIDCM)
	h.execute(t, operations.ClearAppState)

	if len(seen) != 2 {
		t.Fatalf("observers saw %d runs, want 2 (unavailable calls are skipped)", len(seen))
	}
	if seen[0].Operation != operations.GetInstanceIDCM || seen[0].Status != StatusSucceeded {
		t.Fatalf("first observed run = %+v", seen[0])
	}
	if !seen[1].Reset {
		t.Fatalf("clear run should report a reset")
	}
}
