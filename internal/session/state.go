package session

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Well-known session fields threaded between operations.
const (
	KeyInstanceID         = "instanceId"           // string - reliant app instance bound to a program
	KeyBridgePublicKey    = "bridgeRAEncPublicKey" // string - unlocks the gated operation tier
	KeyRID                = "rId"                  // string - digital id created by createBasicDigitalId
	KeyCMRID              = "cmRID"                // string - rId read back from the credential program
	KeyAccRID             = "accRID"               // string - rId read back from the acceptor program
	KeyConsentID          = "consentId"            // string - biometric consent reference
	KeyAuthToken          = "authToken"            // string - passcode verification token
	KeyConsumerDeviceID   = "consumerDeviceId"     // string - card number written by writeDigitalId
	KeyProgramSpaceSchema = "programSpaceSchema"   // string - acceptor program space schema json
)

// MirroredKeys are additionally written to the mirror bucket so identifiers
// survive a restart even if the full state snapshot is lost.
var MirroredKeys = []string{
	KeyInstanceID,
	KeyRID,
	KeyBridgePublicKey,
	KeyConsumerDeviceID,
	KeyAuthToken,
	KeyProgramSpaceSchema,
	KeyConsentID,
}

// IsMirrored reports whether key belongs to MirroredKeys.
func IsMirrored(key string) bool {
	for _, candidate := range MirroredKeys {
		if candidate == key {
			return true
		}
	}
	return false
}

// State maps field names to raw JSON values. Response envelopes are stored
// verbatim so consumers see exactly what the bridge returned.
type State map[string]json.RawMessage

// Get returns the raw value stored under key.
func (s State) Get(key string) (json.RawMessage, bool) {
	raw, ok := s[key]
	return raw, ok
}

// String decodes a string field. Absent or non-string values yield "".
func (s State) String(key string) string {
	raw, ok := s[key]
	if !ok {
		return ""
	}
	var out string
	if err := json.Unmarshal(raw, &out); err != nil {
		return ""
	}
	return out
}

// Has reports whether key holds a non-null, non-empty value.
func (s State) Has(key string) bool {
	raw, ok := s[key]
	if !ok {
		return false
	}
	trimmed := bytes.TrimSpace(raw)
	switch string(trimmed) {
	case "", "null", `""`, "{}", "[]":
		return false
	}
	return true
}

// Clone deep-copies the state.
func (s State) Clone() State {
	out := make(State, len(s))
	for key, raw := range s {
		out[key] = cloneRaw(raw)
	}
	return out
}

// Keys returns field names in sorted order.
func (s State) Keys() []string {
	keys := make([]string, 0, len(s))
	for key := range s {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Encode converts any JSON-serializable value into a raw state value.
func Encode(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return cloneRaw(raw), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// StringValue encodes a string field value.
func StringValue(value string) json.RawMessage {
	data, _ := json.Marshal(value)
	return json.RawMessage(data)
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}
