package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Error codes synthesized when a failure carries no envelope of its own.
const (
	CodeTransport = "TRANSPORT"
	CodeTimeout   = "TIMEOUT"
	CodeCanceled  = "CANCELED"
	CodeRemote    = "REMOTE"
)

// RemoteError is a failure reported by the bridge. Body holds the raw error
// envelope exactly as received.
type RemoteError struct {
	Method string
	Status int
	Body   json.RawMessage
}

func (e *RemoteError) Error() string {
	if msg := errorMessage(e.Body); msg != "" {
		return fmt.Sprintf("bridge: %s: %s", e.Method, msg)
	}
	if e.Status != 0 {
		return fmt.Sprintf("bridge: %s: status %d", e.Method, e.Status)
	}
	return fmt.Sprintf("bridge: %s failed", e.Method)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Method  string `json:"method,omitempty"`
}

// ErrorEnvelope converts any failure into the raw value recorded in session
// state. Remote envelopes pass through untouched.
func ErrorEnvelope(err error) json.RawMessage {
	if err == nil {
		return nil
	}
	var remote *RemoteError
	if errors.As(err, &remote) && len(remote.Body) > 0 && json.Valid(remote.Body) {
		return append(json.RawMessage(nil), remote.Body...)
	}
	detail := errorDetail{Code: CodeTransport, Message: err.Error()}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		detail.Code = CodeTimeout
	case errors.Is(err, context.Canceled):
		detail.Code = CodeCanceled
	case remote != nil:
		detail.Code = CodeRemote
		detail.Method = remote.Method
	}
	data, _ := json.Marshal(errorBody{Error: detail})
	return json.RawMessage(data)
}

// IsErrorEnvelope reports whether raw carries a non-null top-level error or
// an explicit "success": false.
func IsErrorEnvelope(raw json.RawMessage) bool {
	var probe struct {
		Error   json.RawMessage `json:"error"`
		Success *bool           `json:"success"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	if len(probe.Error) > 0 && !bytes.Equal(bytes.TrimSpace(probe.Error), []byte("null")) {
		return true
	}
	return probe.Success != nil && !*probe.Success
}

// DataField returns payload.data.<name>, falling back to a top-level <name>.
// The second result is false when neither is present or the value is null.
func DataField(raw json.RawMessage, name string) (json.RawMessage, bool) {
	var envelope struct {
		Payload struct {
			Data map[string]json.RawMessage `json:"data"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil {
		if value, ok := envelope.Payload.Data[name]; ok && !isNull(value) {
			return value, true
		}
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, false
	}
	if value, ok := top[name]; ok && !isNull(value) {
		return value, true
	}
	return nil, false
}

// DataString decodes DataField as a string; non-strings yield "".
func DataString(raw json.RawMessage, name string) string {
	value, ok := DataField(raw, name)
	if !ok {
		return ""
	}
	var out string
	if err := json.Unmarshal(value, &out); err != nil {
		return ""
	}
	return out
}

// Success wraps data in the bridge's success envelope.
func Success(data any) json.RawMessage {
	body, err := json.Marshal(map[string]any{"payload": map[string]any{"data": data}})
	if err != nil {
		return ErrorEnvelope(err)
	}
	return json.RawMessage(body)
}

// Failure builds an error envelope with code and message.
func Failure(code, message string) json.RawMessage {
	data, _ := json.Marshal(errorBody{Error: errorDetail{Code: code, Message: message}})
	return json.RawMessage(data)
}

func errorMessage(raw json.RawMessage) string {
	var body struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	if len(body.Error) > 0 {
		var detail errorDetail
		if err := json.Unmarshal(body.Error, &detail); err == nil && detail.Message != "" {
			return detail.Message
		}
		var text string
		if err := json.Unmarshal(body.Error, &text); err == nil {
			return text
		}
	}
	return body.Message
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
