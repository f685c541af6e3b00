package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewConfigDefaultsWhenMissing(t *testing.T) {
	projectDir := t.TempDir()
	cfg, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	if cfg.Project.Version != 1 {
		t.Fatalf("expected default version == 1, got %d", cfg.Project.Version)
	}
	if cfg.Project.Bridge.Mode != BridgeModeSimulator {
		t.Fatalf("expected simulator mode by default, got %q", cfg.Project.Bridge.Mode)
	}
	if cfg.Project.Bridge.Timeout != 0 {
		t.Fatalf("expected no call timeout by default, got %s", cfg.Project.Bridge.Timeout)
	}
	if cfg.Fixtures().Passcode != "123456" {
		t.Fatalf("expected default passcode, got %q", cfg.Fixtures().Passcode)
	}
	want := filepath.Join(projectDir, ProjectDirName, "state", "session.db")
	if cfg.SessionPath() != want {
		t.Fatalf("session path = %s, want %s", cfg.SessionPath(), want)
	}
	if !cfg.HTTPEnabled() {
		t.Fatalf("expected http adapter enabled by default")
	}
}

func TestInitProjectDirWritesParsableDefaults(t *testing.T) {
	projectDir := t.TempDir()
	if err := InitProjectDir(projectDir); err != nil {
		t.Fatalf("init: %v", err)
	}
	for _, dir := range []string{"logs", "scenarios", "state"} {
		if _, err := os.Stat(filepath.Join(projectDir, ProjectDirName, dir)); err != nil {
			t.Fatalf("expected %s dir: %v", dir, err)
		}
	}
	cfg, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig on generated file: %v", err)
	}
	if len(cfg.Fixtures().Modalities) != 3 {
		t.Fatalf("expected 3 modalities, got %v", cfg.Fixtures().Modalities)
	}
	if cfg.Fixtures().ProgramSpaceRecord["name"] != "Sample Holder" {
		t.Fatalf("unexpected program space record %+v", cfg.Fixtures().ProgramSpaceRecord)
	}
}

func TestLoadProjectConfigParsesYaml(t *testing.T) {
	projectDir := t.TempDir()
	root := filepath.Join(projectDir, ProjectDirName)
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	configYAML := strings.TrimSpace(`
version: 1
programs:
  reliant_app_guid: " app-1 "
  credential_program_guid: cm-1
  acceptor_program_guid: acc-1
bridge:
  mode: HTTP
  base_url: https://bridge.example.test/
  timeout: 45s
  rate_per_second: 2.5
  burst: 3
http:
  enabled: false
  port: 9100
fixtures:
  passcode: "999999"
`)
	if err := os.WriteFile(filepath.Join(root, "config.yaml"), []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	if cfg.Programs().ReliantAppGUID != "app-1" {
		t.Fatalf("expected trimmed app guid, got %q", cfg.Programs().ReliantAppGUID)
	}
	if cfg.Project.Bridge.Mode != BridgeModeHTTP {
		t.Fatalf("expected http mode, got %q", cfg.Project.Bridge.Mode)
	}
	if cfg.Project.Bridge.BaseURL != "https://bridge.example.test" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Project.Bridge.BaseURL)
	}
	if cfg.Project.Bridge.Timeout != 45*time.Second {
		t.Fatalf("timeout = %s, want 45s", cfg.Project.Bridge.Timeout)
	}
	if cfg.HTTPEnabled() {
		t.Fatalf("expected http adapter disabled")
	}
	if cfg.Project.HTTP.Port != 9100 {
		t.Fatalf("port = %d, want 9100", cfg.Project.HTTP.Port)
	}
	if cfg.Fixtures().Passcode != "999999" {
		t.Fatalf("passcode = %q", cfg.Fixtures().Passcode)
	}
	if cfg.Fixtures().SVAUnit != "bl" {
		t.Fatalf("expected fixture defaults to fill gaps, got %q", cfg.Fixtures().SVAUnit)
	}
}

func TestLoadProjectConfigValidation(t *testing.T) {
	projectDir := t.TempDir()
	root := filepath.Join(projectDir, ProjectDirName)
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "config.yaml"), []byte("bridge:\n  mode: carrier-pigeon\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewConfig(projectDir); err == nil || !strings.Contains(err.Error(), "bridge.mode") {
		t.Fatalf("expected bridge.mode validation error, got %v", err)
	}
}

func TestEnvOverridesWin(t *testing.T) {
	t.Setenv("BRIDGERA_CREDENTIAL_PROGRAM_GUID", "cm-env")
	t.Setenv("BRIDGERA_HTTP_PORT", "9001")
	t.Setenv("BRIDGERA_BRIDGE_MODE", "http")
	t.Setenv("BRIDGERA_SESSION_PASSPHRASE", "hunter2")
	cfg, err := NewConfig(t.TempDir())
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if cfg.Programs().CredentialProgramGUID != "cm-env" {
		t.Fatalf("expected env program guid, got %q", cfg.Programs().CredentialProgramGUID)
	}
	if cfg.Project.HTTP.Port != 9001 {
		t.Fatalf("expected env port, got %d", cfg.Project.HTTP.Port)
	}
	if cfg.Project.Bridge.Mode != BridgeModeHTTP {
		t.Fatalf("expected env bridge mode, got %q", cfg.Project.Bridge.Mode)
	}
	if cfg.SessionPassphrase() != "hunter2" {
		t.Fatalf("expected passphrase from env")
	}
}
