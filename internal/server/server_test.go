package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/bridgera/internal/bridge"
	"github.com/kingrea/bridgera/internal/config"
	"github.com/kingrea/bridgera/internal/engine"
	"github.com/kingrea/bridgera/internal/operations"
	"github.com/kingrea/bridgera/internal/scenario"
	"github.com/kingrea/bridgera/internal/session"
)

type adapterHarness struct {
	engine  *engine.Engine
	feed    *Feed
	server  *Server
	http    *httptest.Server
	metrics *engine.Metrics
}

func newAdapterHarness(t *testing.T) *adapterHarness {
	t.Helper()
	store, err := session.Open(session.NewMemoryBackend())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	client, err := bridge.NewClient(bridge.NewSimulator(), "app-guid")
	require.NoError(t, err)

	feed := NewFeed()
	metrics := engine.NewMetrics()
	eng, err := engine.New(operations.NewCatalog(), store, client,
		engine.WithMetrics(metrics),
		engine.WithObserver(feed.Observe),
		engine.WithPrograms(config.Programs{CredentialProgramGUID: "cm-guid", AcceptorProgramGUID: "acc-guid"}),
	)
	require.NoError(t, err)

	srv, err := New(Settings{Enabled: true, Host: "127.0.0.1"}, eng,
		WithFeed(feed),
		WithMetricsHandler(metrics.Handler()),
		WithScenarios(scenario.NewSet(scenario.Builtin())),
	)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &adapterHarness{engine: eng, feed: feed, server: srv, http: ts, metrics: metrics}
}

func (h *adapterHarness) do(t *testing.T, method, path string, body io.Reader) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, h.http.URL+path, body)
	require.NoError(t, err)
	resp, err := h.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func (h *adapterHarness) execute(t *testing.T, name string) executeResponse {
	t.Helper()
	status, body := h.do(t, http.MethodPost, "/v1/operations/"+name+"/execute", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var resp executeResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp
}

func TestSettingsFromConfigHonorsEnv(t *testing.T) {
	t.Setenv("BRIDGERA_HTTP_PORT", "9001")
	t.Setenv("BRIDGERA_HTTP_HOST", "0.0.0.0")
	t.Setenv("BRIDGERA_HTTP_ENABLED", "false")
	t.Setenv("BRIDGERA_HTTP_WRITE_TIMEOUT", "30s")
	settings, err := SettingsFromConfig(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, 9001, settings.Port)
	assert.Equal(t, "0.0.0.0", settings.Host)
	assert.False(t, settings.Enabled)
	assert.Equal(t, 30*time.Second, settings.WriteTimeout)
}

func TestSettingsFromConfigReadsProjectBlock(t *testing.T) {
	enabled := true
	cfg := &config.Config{}
	cfg.Project.HTTP = config.HTTPConfig{
		Enabled:      &enabled,
		Host:         "localhost",
		Port:         9100,
		MaxBodyBytes: 1024,
		WriteTimeout: time.Minute,
	}
	settings, err := SettingsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9100", settings.URL())
	assert.Equal(t, int64(1024), settings.MaxBodyBytes)
	assert.Equal(t, time.Minute, settings.WriteTimeout)
	assert.Equal(t, DefaultReadTimeout, settings.ReadTimeout)
}

func TestSettingsFromConfigReportsMalformedEnv(t *testing.T) {
	t.Setenv("BRIDGERA_HTTP_PORT", "70000")
	t.Setenv("BRIDGERA_HTTP_ENABLED", "maybe")
	settings, err := SettingsFromConfig(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BRIDGERA_HTTP_PORT")
	assert.Contains(t, err.Error(), "BRIDGERA_HTTP_ENABLED")
	assert.Equal(t, DefaultPort, settings.Port)
	assert.True(t, settings.Enabled)
}

func TestSettingsDefaults(t *testing.T) {
	settings, err := SettingsFromConfig(nil)
	require.NoError(t, err)
	assert.True(t, settings.Enabled)
	assert.Equal(t, "http://127.0.0.1:8470", settings.URL())
	assert.Equal(t, DefaultMaxBodyBytes, settings.MaxBodyBytes)
	assert.Equal(t, DefaultWriteTimeout, settings.WriteTimeout)
}

func TestNewRequiresConsole(t *testing.T) {
	_, err := New(Settings{}, nil)
	require.Error(t, err)
}

func TestHealthAndBootstrapListing(t *testing.T) {
	h := newAdapterHarness(t)

	status, body := h.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, status)
	var health healthResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, ProtocolVersion, health.Version)
	assert.Equal(t, string(engine.RunStateIdle), health.Engine)

	status, body = h.do(t, http.MethodGet, "/v1/operations", nil)
	require.Equal(t, http.StatusOK, status)
	var views []engine.OperationView
	require.NoError(t, json.Unmarshal(body, &views))
	require.Len(t, views, 3)
	assert.Equal(t, operations.GetInstanceIDCM, views[0].Name)
}

func TestExecuteUnlocksCatalog(t *testing.T) {
	h := newAdapterHarness(t)

	resp := h.execute(t, operations.GetInstanceIDCM)
	assert.Equal(t, engine.StatusSucceeded, resp.Result.Status)
	assert.NotEmpty(t, resp.Result.RunID)
	assert.True(t, json.Valid(resp.Response))

	status, body := h.do(t, http.MethodGet, "/v1/operations", nil)
	require.Equal(t, http.StatusOK, status)
	var views []engine.OperationView
	require.NoError(t, json.Unmarshal(body, &views))
	assert.Len(t, views, 31)

	status, body = h.do(t, http.MethodGet, "/v1/operations/"+operations.GetInstanceIDCM, nil)
	require.Equal(t, http.StatusOK, status)
	var detail operationResponse
	require.NoError(t, json.Unmarshal(body, &detail))
	require.NotNil(t, detail.LastRun)
	assert.Equal(t, resp.Result.RunID, detail.LastRun.ID)
	assert.True(t, detail.Selected)
}

func TestExecuteMissingOperations(t *testing.T) {
	h := newAdapterHarness(t)

	status, body := h.do(t, http.MethodPost, "/v1/operations/"+operations.CreateSva+"/execute", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, string(body), "not available")

	status, body = h.do(t, http.MethodPost, "/v1/operations/launchRocket/execute", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, string(body), "unknown operation")

	status, _ = h.do(t, http.MethodGet, "/v1/operations/"+operations.CreateSva, nil)
	assert.Equal(t, http.StatusNotFound, status)

	assert.Empty(t, h.engine.State())
}

func TestExecuteFailureIsReported(t *testing.T) {
	h := newAdapterHarness(t)
	h.execute(t, operations.GetInstanceIDCM)

	// no digital id yet, so the card rejects the write
	resp := h.execute(t, operations.WriteDigitalID)
	assert.Equal(t, engine.StatusFailed, resp.Result.Status)
	assert.True(t, bridge.IsErrorEnvelope(resp.Response))
}

type busyConsole struct {
	*engine.Engine
}

func (busyConsole) Execute(context.Context, string) (engine.Result, error) {
	return engine.Result{}, engine.ErrBusy
}

func (busyConsole) Status() engine.Status {
	return engine.Status{State: engine.RunStateRunning, Operation: operations.GetInstanceIDCM}
}

func TestExecuteWhileBusyConflicts(t *testing.T) {
	h := newAdapterHarness(t)
	srv, err := New(Settings{Enabled: true}, busyConsole{h.engine})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/operations/"+operations.ClearAppState+"/execute", nil)
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Running)
	assert.Equal(t, operations.GetInstanceIDCM, resp.Running.Operation)
}

func TestStateRedactsSensitiveValues(t *testing.T) {
	h := newAdapterHarness(t)
	for _, name := range []string{
		operations.GetInstanceIDCM,
		operations.CreateBasicDigitalID,
		operations.WritePasscode,
		operations.VerifyPasscodeCM,
	} {
		h.execute(t, name)
	}
	token := h.engine.State().String(session.KeyAuthToken)
	require.NotEmpty(t, token)

	status, body := h.do(t, http.MethodGet, "/v1/state", nil)
	require.Equal(t, http.StatusOK, status)
	var state map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &state))
	assert.Contains(t, string(state[session.KeyAuthToken]), "[REDACTED]")
	assert.NotContains(t, string(state[session.KeyAuthToken]), token)
	assert.Equal(t, `"`+h.engine.State().String(session.KeyRID)+`"`, string(state[session.KeyRID]))
	assert.NotContains(t, string(body), token, "token must not appear anywhere in the masked state")
	assert.NotContains(t, string(body), `"123456"`)

	_, body = h.do(t, http.MethodGet, "/v1/state?reveal=true", nil)
	require.NoError(t, json.Unmarshal(body, &state))
	assert.Equal(t, `"`+token+`"`, string(state[session.KeyAuthToken]))
}

func TestStatusAndRuns(t *testing.T) {
	h := newAdapterHarness(t)
	h.execute(t, operations.GetInstanceIDCM)
	h.execute(t, operations.GetInstanceIDAcceptor)

	status, body := h.do(t, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, status)
	var st engine.Status
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, engine.RunStateIdle, st.State)

	_, body = h.do(t, http.MethodGet, "/v1/runs", nil)
	var runs []engine.Run
	require.NoError(t, json.Unmarshal(body, &runs))
	assert.Len(t, runs, 2)

	_, body = h.do(t, http.MethodGet, "/v1/runs?operation="+operations.GetInstanceIDAcceptor, nil)
	require.NoError(t, json.Unmarshal(body, &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, operations.GetInstanceIDAcceptor, runs[0].Operation)
}

func TestSelection(t *testing.T) {
	h := newAdapterHarness(t)

	status, body := h.do(t, http.MethodPut, "/v1/selection", strings.NewReader(`{"operation":"mutateSva"}`))
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, operations.MutateSva, h.engine.Selected())

	_, body = h.do(t, http.MethodGet, "/v1/selection", nil)
	assert.JSONEq(t, `{"operation":"mutateSva"}`, string(body))

	status, _ = h.do(t, http.MethodPut, "/v1/selection", strings.NewReader(`{"operation":"nope"}`))
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = h.do(t, http.MethodPut, "/v1/selection", strings.NewReader(`{`))
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = h.do(t, http.MethodPut, "/v1/selection", strings.NewReader(`{}`))
	assert.Equal(t, http.StatusBadRequest, status)

	big := bytes.Repeat([]byte("a"), int(DefaultMaxBodyBytes)+1)
	status, _ = h.do(t, http.MethodPut, "/v1/selection", bytes.NewReader(big))
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newAdapterHarness(t)
	h.execute(t, operations.GetInstanceIDCM)

	status, body := h.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `bridgera_operations_total{operation="getInstanceIdCM",outcome="success"} 1`)
}

func TestEventStreamDeliversRuns(t *testing.T) {
	h := newAdapterHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.http.URL+"/v1/events", nil)
	require.NoError(t, err)
	resp, err := h.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	h.execute(t, operations.GetInstanceIDCM)

	reader := bufio.NewReader(resp.Body)
	var kind, data string
	for kind == "" || data == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "event: "):
			kind = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
	assert.Equal(t, EventSucceeded, kind)
	var event Event
	require.NoError(t, json.Unmarshal([]byte(data), &event))
	assert.Equal(t, operations.GetInstanceIDCM, event.Operation)
	assert.Contains(t, event.Fields, session.KeyInstanceID)
}

func TestServerLifecycle(t *testing.T) {
	h := newAdapterHarness(t)
	srv, err := New(Settings{Enabled: true, Host: "127.0.0.1", Port: 0}, h.engine, WithFeed(NewFeed()))
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, srv.Phase())
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	assert.Equal(t, PhaseListening, srv.Phase())
	require.Error(t, srv.Start(context.Background()))

	resp, err := http.Get(srv.BaseURL() + "/health")
	require.NoError(t, err)
	var health healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, string(PhaseListening), health.Status)

	require.NoError(t, srv.Shutdown(context.Background()))
	select {
	case <-srv.Done():
	default:
		t.Fatal("Done should be closed after Shutdown")
	}
	assert.NoError(t, srv.Err())
	assert.Equal(t, PhaseStopped, srv.Phase())
	assert.Empty(t, srv.Addr())
	require.Error(t, srv.Start(context.Background()), "a stopped server does not restart")

	disabled, err := New(Settings{}, h.engine)
	require.NoError(t, err)
	assert.True(t, errors.Is(disabled.Start(context.Background()), ErrDisabled))
}
