package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 4 << 20

// HTTPSettings configures an HTTPTransport.
type HTTPSettings struct {
	BaseURL        string
	ReliantAppGUID string
	PackageName    string
	// RatePerSecond limits outgoing calls; zero disables limiting.
	RatePerSecond float64
	Burst         int
	Client        *http.Client
}

// HTTPTransport posts each call to {BaseURL}/v1/{method}.
type HTTPTransport struct {
	baseURL     string
	appGUID     string
	packageName string
	client      *http.Client
	limiter     *rate.Limiter
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport validates settings and builds the transport.
func NewHTTPTransport(settings HTTPSettings) (*HTTPTransport, error) {
	base := strings.TrimRight(strings.TrimSpace(settings.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("bridge: base url is required")
	}
	client := settings.Client
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	t := &HTTPTransport{
		baseURL:     base,
		appGUID:     settings.ReliantAppGUID,
		packageName: settings.PackageName,
		client:      client,
	}
	if settings.RatePerSecond > 0 {
		burst := settings.Burst
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(settings.RatePerSecond), burst)
	}
	return t, nil
}

// Invoke implements Transport. Non-2xx responses become *RemoteError with the
// body preserved when it is JSON.
func (t *HTTPTransport) Invoke(ctx context.Context, method string, body json.RawMessage) (json.RawMessage, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("bridge: %s: rate limit: %w", method, err)
		}
	}
	if len(body) == 0 {
		body = json.RawMessage(`{}`)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v1/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("bridge: build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", "req_"+uuid.NewString())
	if t.appGUID != "" {
		req.Header.Set("X-Reliant-App-Guid", t.appGUID)
	}
	if t.packageName != "" {
		req.Header.Set("X-Package-Name", t.packageName)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bridge: %s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("bridge: read %s response: %w", method, err)
	}
	data = bytes.TrimSpace(data)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(data) == 0 || !json.Valid(data) {
			message := strings.TrimSpace(string(data))
			if message == "" {
				message = resp.Status
			}
			data = Failure(fmt.Sprintf("HTTP_%d", resp.StatusCode), message)
		}
		return nil, &RemoteError{Method: method, Status: resp.StatusCode, Body: data}
	}
	if len(data) == 0 {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("bridge: %s: response is not json", method)
	}
	return json.RawMessage(data), nil
}
