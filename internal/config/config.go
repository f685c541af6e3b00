// internal/config/config.go
//
// This package handles configuration and the .bridgera directory structure.
// Every project that runs the console gets a .bridgera/ folder created in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// ProjectDirName is the name of the directory we create in each project
	ProjectDirName = ".bridgera"

	// BridgeModeSimulator answers every call in-process with canned envelopes.
	BridgeModeSimulator = "simulator"
	// BridgeModeHTTP forwards calls to a bridge gateway over HTTP.
	BridgeModeHTTP = "http"

	defaultBridgeURL     = "http://127.0.0.1:9470"
	defaultPassphraseEnv = "BRIDGERA_SESSION_PASSPHRASE"
	defaultHTTPHost      = "127.0.0.1"
	defaultHTTPPort      = 8470
	defaultLogLevel      = "info"
)

const defaultProjectConfigYAML = `# bridgera project configuration
version: 1

# Opaque identifiers assigned to this deployment by the bridge operator.
programs:
  reliant_app_guid: ""
  credential_program_guid: ""
  acceptor_program_guid: ""
  package_name: ""

# mode: simulator answers locally; mode: http talks to a bridge gateway.
bridge:
  mode: simulator
  base_url: http://127.0.0.1:9470
  # 0 disables the per-call timeout.
  timeout: 0s
  rate_per_second: 0
  burst: 1

session:
  path: state/session.db
  # Name of the environment variable holding the at-rest encryption passphrase.
  passphrase_env: BRIDGERA_SESSION_PASSPHRASE

http:
  enabled: true
  host: 127.0.0.1
  port: 8470
  # max_body_bytes: 65536
  # write_timeout: 3m

log:
  level: info

# Literal request parameters used by the demo operations.
fixtures:
  passcode: "123456"
  form_factor: CARD
  program_space_record:
    id: 1000000001
    name: Sample Holder
    voucherBalance: 0
  data_records:
    - Test Data
    - Test Data 2
  data_blob: Test Data Blob
  sva_unit: bl
  sva_amount: 100
  purse_sub_type: POINT
  modalities:
    - FACE
    - LEFT_PALM
    - RIGHT_PALM
`

// Programs carries the program and application identifiers sent with every bridge call.
type Programs struct {
	ReliantAppGUID        string `yaml:"reliant_app_guid"`
	CredentialProgramGUID string `yaml:"credential_program_guid"`
	AcceptorProgramGUID   string `yaml:"acceptor_program_guid"`
	PackageName           string `yaml:"package_name"`
}

// BridgeConfig selects and tunes the remote capability transport.
type BridgeConfig struct {
	Mode          string        `yaml:"mode"`
	BaseURL       string        `yaml:"base_url"`
	Timeout       time.Duration `yaml:"timeout"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
}

// SessionConfig locates the persisted session database.
type SessionConfig struct {
	Path          string `yaml:"path"`
	PassphraseEnv string `yaml:"passphrase_env"`
}

// HTTPConfig configures the optional HTTP adapter.
type HTTPConfig struct {
	Enabled      *bool         `yaml:"enabled,omitempty"`
	Host         string        `yaml:"host,omitempty"`
	Port         int           `yaml:"port,omitempty"`
	MaxBodyBytes int64         `yaml:"max_body_bytes,omitempty"`
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Fixtures are the literal request parameters the demo operations send.
type Fixtures struct {
	Passcode           string         `yaml:"passcode"`
	FormFactor         string         `yaml:"form_factor"`
	ProgramSpaceRecord map[string]any `yaml:"program_space_record"`
	DataRecords        []string       `yaml:"data_records"`
	DataBlob           string         `yaml:"data_blob"`
	SVAUnit            string         `yaml:"sva_unit"`
	SVAAmount          int            `yaml:"sva_amount"`
	PurseSubType       string         `yaml:"purse_sub_type"`
	Modalities         []string       `yaml:"modalities"`
}

// ProjectConfig models .bridgera/config.yaml.
type ProjectConfig struct {
	Version  int           `yaml:"version"`
	Programs Programs      `yaml:"programs"`
	Bridge   BridgeConfig  `yaml:"bridge"`
	Session  SessionConfig `yaml:"session"`
	HTTP     HTTPConfig    `yaml:"http"`
	Log      LogConfig     `yaml:"log"`
	Fixtures Fixtures      `yaml:"fixtures"`
}

// Config holds the runtime configuration for the console.
type Config struct {
	// ProjectDir is the directory the console was started from
	ProjectDir string

	// StateRoot is ProjectDir/.bridgera
	StateRoot string

	Project ProjectConfig
}

// InitProjectDir creates the .bridgera directory structure in the given project directory.
//
// Structure created:
// .bridgera/
// ├── config.yaml
// ├── logs/       <- zerolog output and the operation journal
// ├── scenarios/  <- YAML operation scenarios
// └── state/      <- persisted session database
func InitProjectDir(projectDir string) error {
	root := filepath.Join(projectDir, ProjectDirName)
	dirs := []string{
		filepath.Join(root, "logs"),
		filepath.Join(root, "scenarios"),
		filepath.Join(root, "state"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return ensureProjectConfig(filepath.Join(root, "config.yaml"))
}

// NewConfig creates a new Config instance populated with project settings.
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir: projectDir,
		StateRoot:  filepath.Join(projectDir, ProjectDirName),
		Project:    DefaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultProjectConfig returns the configuration used when no file exists.
func DefaultProjectConfig() ProjectConfig {
	pc := ProjectConfig{}
	pc.applyDefaults()
	return pc
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.StateRoot, "logs")
}

// StateDir returns the path to the state directory
func (c *Config) StateDir() string {
	return filepath.Join(c.StateRoot, "state")
}

// ScenariosDir returns the path to the scenario definitions directory
func (c *Config) ScenariosDir() string {
	return filepath.Join(c.StateRoot, "scenarios")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.StateRoot, "config.yaml")
}

// SessionPath returns the absolute location of the session database.
func (c *Config) SessionPath() string {
	return resolvePath(c.StateRoot, c.Project.Session.Path)
}

// SessionPassphrase reads the at-rest passphrase from the configured env var.
func (c *Config) SessionPassphrase() string {
	name := strings.TrimSpace(c.Project.Session.PassphraseEnv)
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

// Programs returns the configured program identifiers.
func (c *Config) Programs() Programs {
	return c.Project.Programs
}

// Fixtures returns the configured demo request parameters.
func (c *Config) Fixtures() Fixtures {
	return c.Project.Fixtures
}

// HTTPEnabled reports whether the HTTP adapter should start.
func (c *Config) HTTPEnabled() bool {
	if c.Project.HTTP.Enabled == nil {
		return true
	}
	return *c.Project.HTTP.Enabled
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: read %s: %w", path, err)
		}
		data = nil
	}

	parsed := ProjectConfig{}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	parsed.applyDefaults()
	parsed.applyEnvOverrides()
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if pc.Bridge.Mode == "" {
		pc.Bridge.Mode = BridgeModeSimulator
	}
	if pc.Bridge.BaseURL == "" {
		pc.Bridge.BaseURL = defaultBridgeURL
	}
	if pc.Bridge.Burst <= 0 {
		pc.Bridge.Burst = 1
	}
	if pc.Session.Path == "" {
		pc.Session.Path = filepath.Join("state", "session.db")
	}
	if pc.Session.PassphraseEnv == "" {
		pc.Session.PassphraseEnv = defaultPassphraseEnv
	}
	if pc.HTTP.Host == "" {
		pc.HTTP.Host = defaultHTTPHost
	}
	if pc.HTTP.Port == 0 {
		pc.HTTP.Port = defaultHTTPPort
	}
	if pc.Log.Level == "" {
		pc.Log.Level = defaultLogLevel
	}
	pc.Fixtures.applyDefaults()
}

func (f *Fixtures) applyDefaults() {
	if f.Passcode == "" {
		f.Passcode = "123456"
	}
	if f.FormFactor == "" {
		f.FormFactor = "CARD"
	}
	if len(f.ProgramSpaceRecord) == 0 {
		f.ProgramSpaceRecord = map[string]any{
			"id":             1000000001,
			"name":           "Sample Holder",
			"voucherBalance": 0,
		}
	}
	if len(f.DataRecords) == 0 {
		f.DataRecords = []string{"Test Data", "Test Data 2"}
	}
	if f.DataBlob == "" {
		f.DataBlob = "Test Data Blob"
	}
	if f.SVAUnit == "" {
		f.SVAUnit = "bl"
	}
	if f.SVAAmount == 0 {
		f.SVAAmount = 100
	}
	if f.PurseSubType == "" {
		f.PurseSubType = "POINT"
	}
	if len(f.Modalities) == 0 {
		f.Modalities = []string{"FACE", "LEFT_PALM", "RIGHT_PALM"}
	}
}

func (pc *ProjectConfig) applyEnvOverrides() {
	overrideString(&pc.Programs.ReliantAppGUID, "BRIDGERA_RELIANT_APP_GUID")
	overrideString(&pc.Programs.CredentialProgramGUID, "BRIDGERA_CREDENTIAL_PROGRAM_GUID")
	overrideString(&pc.Programs.AcceptorProgramGUID, "BRIDGERA_ACCEPTOR_PROGRAM_GUID")
	overrideString(&pc.Programs.PackageName, "BRIDGERA_PACKAGE_NAME")
	overrideString(&pc.Bridge.BaseURL, "BRIDGERA_BRIDGE_URL")
	overrideString(&pc.Bridge.Mode, "BRIDGERA_BRIDGE_MODE")
	overrideString(&pc.HTTP.Host, "BRIDGERA_HTTP_HOST")
	overrideString(&pc.Log.Level, "BRIDGERA_LOG_LEVEL")
	if port := strings.TrimSpace(os.Getenv("BRIDGERA_HTTP_PORT")); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil && isValidPort(parsed) {
			pc.HTTP.Port = parsed
		}
	}
}

func (pc *ProjectConfig) normalize() {
	pc.Programs.ReliantAppGUID = strings.TrimSpace(pc.Programs.ReliantAppGUID)
	pc.Programs.CredentialProgramGUID = strings.TrimSpace(pc.Programs.CredentialProgramGUID)
	pc.Programs.AcceptorProgramGUID = strings.TrimSpace(pc.Programs.AcceptorProgramGUID)
	pc.Programs.PackageName = strings.TrimSpace(pc.Programs.PackageName)
	pc.Bridge.Mode = strings.ToLower(strings.TrimSpace(pc.Bridge.Mode))
	pc.Bridge.BaseURL = strings.TrimRight(strings.TrimSpace(pc.Bridge.BaseURL), "/")
	pc.HTTP.Host = strings.TrimSpace(pc.HTTP.Host)
	pc.Log.Level = strings.ToLower(strings.TrimSpace(pc.Log.Level))
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	switch pc.Bridge.Mode {
	case BridgeModeSimulator:
	case BridgeModeHTTP:
		if pc.Bridge.BaseURL == "" {
			return fmt.Errorf("bridge.base_url is required for http mode")
		}
	default:
		return fmt.Errorf("bridge.mode must be '%s' or '%s'", BridgeModeSimulator, BridgeModeHTTP)
	}
	if pc.Bridge.Timeout < 0 {
		return fmt.Errorf("bridge.timeout must be >= 0")
	}
	if pc.Bridge.RatePerSecond < 0 {
		return fmt.Errorf("bridge.rate_per_second must be >= 0")
	}
	if !isValidPort(pc.HTTP.Port) {
		return fmt.Errorf("http.port must be between 1 and 65535")
	}
	if pc.HTTP.MaxBodyBytes < 0 || pc.HTTP.WriteTimeout < 0 {
		return fmt.Errorf("http.max_body_bytes and http.write_timeout must be >= 0")
	}
	if pc.Fixtures.SVAAmount < 0 {
		return fmt.Errorf("fixtures.sva_amount must be >= 0")
	}
	return nil
}

func overrideString(target *string, env string) {
	if value := strings.TrimSpace(os.Getenv(env)); value != "" {
		*target = value
	}
}

func isValidPort(port int) bool {
	return port > 0 && port <= 65535
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}
