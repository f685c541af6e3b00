package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/kingrea/bridgera/internal/config"
)

func TestRedactHidesSensitiveValues(t *testing.T) {
	if got := Redact("rId", "r-9"); got != "r-9" {
		t.Fatalf("non-sensitive key should pass through, got %q", got)
	}
	got := Redact("authToken", "tok-123")
	if strings.Contains(got, "tok-123") {
		t.Fatalf("token leaked: %q", got)
	}
	if got != Redact("authToken", "tok-123") {
		t.Fatalf("fingerprint must be stable")
	}
	if Redact("passcode", "") != redactedValue {
		t.Fatalf("empty sensitive value should be plain redaction marker")
	}
}

func TestFieldsDictRedacts(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	logger.Info().Dict("fields", Fields(map[string]string{"authToken": "secret-value", "rId": "r-1"})).Msg("patched")
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	fields := line["fields"].(map[string]any)
	if fields["rId"] != "r-1" {
		t.Fatalf("rId = %v", fields["rId"])
	}
	if strings.Contains(buf.String(), "secret-value") {
		t.Fatalf("sensitive value written to log: %s", buf.String())
	}
}

func TestNewWritesIntoProjectLogDir(t *testing.T) {
	projectDir := t.TempDir()
	logger, err := New(projectDir, "debug")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Debug().Str("operation", "getInstanceIdCM").Msg("hello")
	if err := logger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(projectDir, config.ProjectDirName, "logs", "bridgera.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"operation":"getInstanceIdCM"`) {
		t.Fatalf("unexpected log contents %s", data)
	}
}

func TestParseLevelFallsBackToInfo(t *testing.T) {
	if ParseLevel("nonsense") != zerolog.InfoLevel {
		t.Fatalf("expected info fallback")
	}
	if ParseLevel(" WARN ") != zerolog.WarnLevel {
		t.Fatalf("expected warn")
	}
}

func TestRedactJSONOnlyMasksSensitiveStrings(t *testing.T) {
	if got := string(RedactJSON("rId", []byte(`"r-9"`))); got != `"r-9"` {
		t.Fatalf("non-sensitive value changed: %s", got)
	}
	masked := string(RedactJSON("authToken", []byte(`"tok-1"`)))
	if strings.Contains(masked, "tok-1") || !strings.HasPrefix(masked, `"[REDACTED]`) {
		t.Fatalf("token not masked: %s", masked)
	}
	plain := `{"payload":{"data":{"rId":"r-1"}}}`
	if got := string(RedactJSON("createBasicDigitalIdResponse", []byte(plain))); got != plain {
		t.Fatalf("envelope without secrets changed: %s", got)
	}
}

func TestRedactJSONMasksNestedSecrets(t *testing.T) {
	envelope := `{"payload":{"status":"OK","data":{"authToken":"tok-1","rId":"r-1","expiry":3600}}}`
	masked := RedactJSON("verifyPasscodeCMResponse", []byte(envelope))
	if strings.Contains(string(masked), "tok-1") {
		t.Fatalf("nested token leaked: %s", masked)
	}
	var decoded map[string]any
	if err := json.Unmarshal(masked, &decoded); err != nil {
		t.Fatalf("masked envelope is not JSON: %v", err)
	}
	data := decoded["payload"].(map[string]any)["data"].(map[string]any)
	if data["rId"] != "r-1" || data["expiry"] != float64(3600) {
		t.Fatalf("non-sensitive fields changed: %v", data)
	}
	if !strings.HasPrefix(data["authToken"].(string), redactedValue) {
		t.Fatalf("authToken = %v", data["authToken"])
	}

	batch := `[{"operation":"writePasscode","payload":{"passcode":"123456","rId":"r-1"}}]`
	masked = RedactJSON("batchOperationRequest", []byte(batch))
	if strings.Contains(string(masked), "123456") || !strings.Contains(string(masked), "r-1") {
		t.Fatalf("batch payload = %s", masked)
	}

	whole := RedactJSON("secrets", []byte(`{"a":"x1","b":["y2"]}`))
	if strings.Contains(string(whole), "x1") || strings.Contains(string(whole), "y2") {
		t.Fatalf("values under a sensitive key leaked: %s", whole)
	}
}
