package server

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/kingrea/bridgera/internal/config"
)

// Adapter defaults. The write timeout is long because remote card
// operations wait on the holder.
const (
	DefaultHost                = "127.0.0.1"
	DefaultPort                = 8470
	DefaultMaxBodyBytes  int64 = 64 << 10
	DefaultReadTimeout         = 15 * time.Second
	DefaultWriteTimeout        = 3 * time.Minute
	DefaultIdleTimeout         = 60 * time.Second
)

// Settings is the resolved adapter configuration. Port 0 binds an
// ephemeral port.
type Settings struct {
	Enabled      bool
	Host         string
	Port         int
	MaxBodyBytes int64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// envOverride maps one BRIDGERA_HTTP_* variable onto Settings.
type envOverride struct {
	name  string
	apply func(*Settings, string) error
}

var envOverrides = []envOverride{
	{"BRIDGERA_HTTP_ENABLED", func(s *Settings, v string) error {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		s.Enabled = enabled
		return nil
	}},
	{"BRIDGERA_HTTP_HOST", func(s *Settings, v string) error {
		s.Host = v
		return nil
	}},
	{"BRIDGERA_HTTP_PORT", func(s *Settings, v string) error {
		port, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		if port < 0 || port > 65535 {
			return fmt.Errorf("port %d out of range", port)
		}
		s.Port = port
		return nil
	}},
	{"BRIDGERA_HTTP_WRITE_TIMEOUT", func(s *Settings, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		s.WriteTimeout = d
		return nil
	}},
}

// SettingsFromConfig resolves the adapter settings from the project's http
// block and BRIDGERA_HTTP_* variables. Malformed variables are reported and
// left out; the rest of the settings are still usable.
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	settings := Settings{Enabled: true}
	if cfg != nil {
		raw := cfg.Project.HTTP
		settings = Settings{
			Enabled:      cfg.HTTPEnabled(),
			Host:         raw.Host,
			Port:         raw.Port,
			MaxBodyBytes: raw.MaxBodyBytes,
			WriteTimeout: raw.WriteTimeout,
		}
	}
	if settings.Port == 0 {
		settings.Port = DefaultPort
	}

	var result *multierror.Error
	for _, override := range envOverrides {
		value := strings.TrimSpace(os.Getenv(override.name))
		if value == "" {
			continue
		}
		if err := override.apply(&settings, value); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s=%q: %w", override.name, value, err))
		}
	}
	settings.normalize()
	return settings, result.ErrorOrNil()
}

// normalize fills zero values with defaults.
func (s *Settings) normalize() {
	s.Host = strings.TrimSpace(s.Host)
	if s.Host == "" {
		s.Host = DefaultHost
	}
	if s.Port < 0 || s.Port > 65535 {
		s.Port = DefaultPort
	}
	defaultDuration(&s.ReadTimeout, DefaultReadTimeout)
	defaultDuration(&s.WriteTimeout, DefaultWriteTimeout)
	defaultDuration(&s.IdleTimeout, DefaultIdleTimeout)
	if s.MaxBodyBytes <= 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

func defaultDuration(d *time.Duration, fallback time.Duration) {
	if *d <= 0 {
		*d = fallback
	}
}

// Address is the host:port the listener binds.
func (s Settings) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// URL is the base URL clients use.
func (s Settings) URL() string {
	return "http://" + s.Address()
}
