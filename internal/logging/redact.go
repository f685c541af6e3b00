package logging

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"
)

const redactedValue = "[REDACTED]"

var sensitiveKeyParts = []string{"token", "secret", "password", "passcode", "passphrase", "authorization"}

// IsSensitiveKey reports whether values stored under key must not reach logs.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

// Redact returns value unless key is sensitive, in which case a short
// fingerprint is returned so equal values can still be correlated.
func Redact(key, value string) string {
	if !IsSensitiveKey(key) {
		return value
	}
	return mask(value)
}

func mask(value string) string {
	if value == "" {
		return redactedValue
	}
	return redactedValue + " " + Fingerprint(value)
}

// Fingerprint hashes value into a stable, non-reversible short form.
func Fingerprint(value string) string {
	sum := sha256.Sum256([]byte(value))
	return "fp_" + hex.EncodeToString(sum[:6])
}

// Fields adds redacted string fields to a zerolog dictionary.
func Fields(values map[string]string) *zerolog.Event {
	dict := zerolog.Dict()
	for key, value := range values {
		dict = dict.Str(key, Redact(key, value))
	}
	return dict
}

// RedactJSON masks every string in raw that sits under a sensitive key,
// at any depth. key names the value itself, so a sensitive key masks the
// whole value. raw is returned untouched when nothing needs masking or it
// is not valid JSON.
func RedactJSON(key string, raw []byte) []byte {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return raw
	}
	masked, changed := redactValue(key, value, false)
	if !changed {
		return raw
	}
	out, err := json.Marshal(masked)
	if err != nil {
		return raw
	}
	return out
}

func redactValue(key string, value any, inherited bool) (any, bool) {
	sensitive := inherited || IsSensitiveKey(key)
	switch v := value.(type) {
	case string:
		if !sensitive {
			return v, false
		}
		return mask(v), true
	case map[string]any:
		changed := false
		for k, child := range v {
			masked, c := redactValue(k, child, sensitive)
			if c {
				v[k] = masked
				changed = true
			}
		}
		return v, changed
	case []any:
		changed := false
		for i, child := range v {
			masked, c := redactValue(key, child, sensitive)
			if c {
				v[i] = masked
				changed = true
			}
		}
		return v, changed
	default:
		return v, false
	}
}
