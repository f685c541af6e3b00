package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestInitCreatesProjectConfig(t *testing.T) {
	dir := t.TempDir()
	out, err := runCLI(t, "init", "--dir", dir)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, "Initialized") {
		t.Fatalf("output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(dir, ".bridgera", "config.yaml")); err != nil {
		t.Fatalf("config not written: %v", err)
	}
}

func TestOpsListsBootstrapTierForEmptySession(t *testing.T) {
	out, err := runCLI(t, "ops", "--dir", t.TempDir(), "--ephemeral", "--log-level", "error")
	if err != nil {
		t.Fatalf("ops: %v", err)
	}
	for _, name := range []string{"getInstanceIdCM", "getInstanceIdAcceptor", "clearAppState"} {
		if !strings.Contains(out, name) {
			t.Fatalf("missing %s in:\n%s", name, out)
		}
	}
	if strings.Contains(out, "createBasicDigitalId") {
		t.Fatalf("gated operation offered before binding:\n%s", out)
	}
}

func TestExecPersistsSessionAcrossInvocations(t *testing.T) {
	dir := t.TempDir()
	out, err := runCLI(t, "exec", "getInstanceIdCM", "--dir", dir, "--log-level", "error")
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if !strings.Contains(out, "instanceId") {
		t.Fatalf("response not printed:\n%s", out)
	}

	out, err = runCLI(t, "ops", "--dir", dir, "--log-level", "error")
	if err != nil {
		t.Fatalf("ops: %v", err)
	}
	if !strings.Contains(out, "createBasicDigitalId") {
		t.Fatalf("binding did not survive restart:\n%s", out)
	}
}

func TestExecStopsOnFailure(t *testing.T) {
	dir := t.TempDir()
	out, err := runCLI(t, "exec", "getInstanceIdCM", "writeDigitalId", "getConsumerDeviceNumber",
		"--dir", dir, "--ephemeral", "--log-level", "error")
	if err == nil {
		t.Fatalf("expected failure error")
	}
	if !strings.Contains(err.Error(), "writeDigitalId failed") {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(out, "RID_REQUIRED") {
		t.Fatalf("error envelope not printed:\n%s", out)
	}
	if strings.Contains(out, "CARD_EMPTY") {
		t.Fatalf("sequence continued after failure:\n%s", out)
	}
}

func TestExecRejectsGatedOperation(t *testing.T) {
	_, err := runCLI(t, "exec", "createBasicDigitalId", "--dir", t.TempDir(), "--ephemeral", "--log-level", "error")
	if err == nil || !strings.Contains(err.Error(), "not available") {
		t.Fatalf("err = %v", err)
	}
}

func TestStateMasksSecretsUnlessRevealed(t *testing.T) {
	dir := t.TempDir()
	if _, err := runCLI(t, "exec", "getInstanceIdCM", "createBasicDigitalId", "writePasscode", "verifyPasscodeCM",
		"--dir", dir, "--log-level", "error"); err != nil {
		t.Fatalf("exec: %v", err)
	}
	masked, err := runCLI(t, "state", "--dir", dir, "--log-level", "error")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	revealed, err := runCLI(t, "state", "--reveal", "--dir", dir, "--log-level", "error")
	if err != nil {
		t.Fatalf("state --reveal: %v", err)
	}
	if !strings.Contains(masked, `"authToken"`) {
		t.Fatalf("authToken missing:\n%s", masked)
	}
	var view map[string]json.RawMessage
	if err := json.Unmarshal([]byte(revealed), &view); err != nil {
		t.Fatalf("decode revealed state: %v", err)
	}
	var token string
	if err := json.Unmarshal(view["authToken"], &token); err != nil || token == "" {
		t.Fatalf("revealed authToken = %s", view["authToken"])
	}
	if strings.Contains(masked, token) {
		t.Fatalf("token leaked into masked state:\n%s", masked)
	}
	if strings.Contains(masked, `"123456"`) {
		t.Fatalf("passcode leaked into masked state:\n%s", masked)
	}
}

func TestClearUnbindsInstance(t *testing.T) {
	dir := t.TempDir()
	if _, err := runCLI(t, "exec", "getInstanceIdCM", "--dir", dir, "--log-level", "error"); err != nil {
		t.Fatalf("exec: %v", err)
	}
	out, err := runCLI(t, "clear", "--dir", dir, "--log-level", "error")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if !strings.Contains(out, "Session cleared") {
		t.Fatalf("output = %q", out)
	}
	out, err = runCLI(t, "ops", "--dir", dir, "--log-level", "error")
	if err != nil {
		t.Fatalf("ops: %v", err)
	}
	if strings.Contains(out, "createBasicDigitalId") {
		t.Fatalf("gated tier still offered after clear:\n%s", out)
	}
}

func TestScenarioRunBasicCard(t *testing.T) {
	dir := t.TempDir()
	out, err := runCLI(t, "scenario", "run", "basic-card", "--dir", dir, "--ephemeral", "--log-level", "error")
	if err != nil {
		t.Fatalf("scenario run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "basic-card: 6/6 succeeded") {
		t.Fatalf("output = %s", out)
	}
}

func TestScenarioListIncludesProjectFiles(t *testing.T) {
	dir := t.TempDir()
	if _, err := runCLI(t, "init", "--dir", dir); err != nil {
		t.Fatalf("init: %v", err)
	}
	custom := "id: bind-only\nname: Bind only\nsteps:\n  - operation: getInstanceIdAcceptor\n"
	if err := os.WriteFile(filepath.Join(dir, ".bridgera", "scenarios", "bind.yaml"), []byte(custom), 0o644); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	out, err := runCLI(t, "scenario", "list", "--dir", dir, "--ephemeral", "--log-level", "error")
	if err != nil {
		t.Fatalf("scenario list: %v", err)
	}
	for _, id := range []string{"basic-card", "stored-value", "bind-only"} {
		if !strings.Contains(out, id) {
			t.Fatalf("missing %s in:\n%s", id, out)
		}
	}
}

func TestScenarioRunUnknown(t *testing.T) {
	_, err := runCLI(t, "scenario", "run", "nope", "--dir", t.TempDir(), "--ephemeral", "--log-level", "error")
	if err == nil || !strings.Contains(err.Error(), "unknown scenario") {
		t.Fatalf("err = %v", err)
	}
}
