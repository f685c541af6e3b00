package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/kingrea/bridgera/internal/bridge"
	"github.com/kingrea/bridgera/internal/config"
	"github.com/kingrea/bridgera/internal/engine"
	"github.com/kingrea/bridgera/internal/logbook"
	"github.com/kingrea/bridgera/internal/logging"
	"github.com/kingrea/bridgera/internal/operations"
	"github.com/kingrea/bridgera/internal/scenario"
	"github.com/kingrea/bridgera/internal/server"
	"github.com/kingrea/bridgera/internal/session"
)

const closeTimeout = 5 * time.Second

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	projectDir string
	ephemeral  bool
	mode       string
	logLevel   string
}

// runtime is one fully wired engine plus everything that must be closed
// with it.
type runtime struct {
	cfg       *config.Config
	logger    zerolog.Logger
	fileLog   *logging.Logger
	journal   *logbook.Logbook
	store     *session.Store
	metrics   *engine.Metrics
	feed      *server.Feed
	engine    *engine.Engine
	scenarios *scenario.Set
	server    *server.Server
}

// openRuntime loads config and wires logging, the session store, the bridge
// transport and the engine. Interactive runs log to file so the console owns
// the terminal.
func openRuntime(opts *globalOptions, interactive bool) (*runtime, error) {
	projectDir, err := resolveProjectDir(opts.projectDir)
	if err != nil {
		return nil, err
	}
	if err := config.InitProjectDir(projectDir); err != nil {
		return nil, fmt.Errorf("init %s: %w", config.ProjectDirName, err)
	}
	if mode := strings.TrimSpace(opts.mode); mode != "" {
		if err := os.Setenv("BRIDGERA_BRIDGE_MODE", mode); err != nil {
			return nil, fmt.Errorf("set bridge mode: %w", err)
		}
	}
	cfg, err := config.NewConfig(projectDir)
	if err != nil {
		return nil, err
	}
	level := cfg.Project.Log.Level
	if strings.TrimSpace(opts.logLevel) != "" {
		level = opts.logLevel
	}

	rt := &runtime{cfg: cfg}
	if interactive {
		fileLog, err := logging.New(projectDir, level)
		if err != nil {
			return nil, err
		}
		rt.fileLog = fileLog
		rt.logger = fileLog.Logger
	} else {
		rt.logger = logging.Console(os.Stderr, level)
	}
	rt.logger = rt.logger.With().Str("mode", cfg.Project.Bridge.Mode).Logger()

	journal, err := logbook.New(filepath.Join(cfg.LogsDir(), "journal.log"))
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("open journal: %w", err)
	}
	rt.journal = journal
	rt.metrics = engine.NewMetrics()
	rt.feed = server.NewFeed(server.FeedWithLogger(rt.logger))

	if err := rt.openStore(opts.ephemeral); err != nil {
		_ = rt.Close()
		return nil, err
	}
	client, err := rt.buildClient()
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	eng, err := engine.New(operations.NewCatalog(), rt.store, client,
		engine.WithLogger(rt.logger.With().Str("component", "engine").Logger()),
		engine.WithJournal(journal),
		engine.WithMetrics(rt.metrics),
		engine.WithObserver(rt.feed.Observe),
		engine.WithCallTimeout(cfg.Project.Bridge.Timeout),
		engine.WithPrograms(cfg.Programs()),
		engine.WithFixtures(cfg.Fixtures()),
	)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.engine = eng
	rt.scenarios = rt.loadScenarios()
	return rt, nil
}

// loadScenarios merges the builtin scenarios with the project's files.
// Broken files are logged and skipped.
func (rt *runtime) loadScenarios() *scenario.Set {
	loaded, err := scenario.LoadDir(rt.cfg.ScenariosDir())
	if err != nil {
		rt.logger.Warn().Err(err).Str("dir", rt.cfg.ScenariosDir()).Msg("some scenarios could not be loaded")
	}
	for _, sc := range loaded {
		for _, name := range sc.Operations() {
			if !rt.engine.Known(name) {
				rt.logger.Warn().Str("scenario", sc.ID).Str("operation", name).Msg("scenario names an unknown operation")
			}
		}
	}
	return scenario.NewSet(scenario.Builtin(), loaded)
}

func (rt *runtime) openStore(ephemeral bool) error {
	var backend session.Backend
	if ephemeral {
		backend = session.NewMemoryBackend()
	} else {
		bolt, err := session.OpenBolt(rt.cfg.SessionPath())
		if err != nil {
			return err
		}
		backend = bolt
	}
	opts := []session.Option{
		session.WithLogger(rt.logger.With().Str("component", "session").Logger()),
		session.WithFailureHook(rt.metrics.PersistFailed),
	}
	if passphrase := rt.cfg.SessionPassphrase(); passphrase != "" {
		opts = append(opts, session.WithPassphrase(passphrase))
	}
	store, err := session.Open(backend, opts...)
	if err != nil {
		_ = backend.Close()
		return err
	}
	rt.store = store
	return nil
}

func (rt *runtime) buildClient() (*bridge.Client, error) {
	project := rt.cfg.Project
	var transport bridge.Transport
	switch project.Bridge.Mode {
	case config.BridgeModeHTTP:
		httpTransport, err := bridge.NewHTTPTransport(bridge.HTTPSettings{
			BaseURL:        project.Bridge.BaseURL,
			ReliantAppGUID: project.Programs.ReliantAppGUID,
			PackageName:    project.Programs.PackageName,
			RatePerSecond:  project.Bridge.RatePerSecond,
			Burst:          project.Bridge.Burst,
		})
		if err != nil {
			return nil, err
		}
		transport = httpTransport
	default:
		transport = bridge.NewSimulator()
	}
	return bridge.NewClient(transport, project.Programs.ReliantAppGUID)
}

// startServer starts the HTTP adapter unless it is disabled. A disabled
// adapter is not an error.
func (rt *runtime) startServer(ctx context.Context) error {
	settings, err := server.SettingsFromConfig(rt.cfg)
	if err != nil {
		rt.logger.Warn().Err(err).Msg("ignoring malformed http overrides")
	}
	srv, err := server.New(settings, rt.engine,
		server.WithFeed(rt.feed),
		server.WithScenarios(rt.scenarios),
		server.WithMetricsHandler(rt.metrics.Handler()),
		server.WithLogger(rt.logger.With().Str("component", "http").Logger()),
	)
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		if errors.Is(err, server.ErrDisabled) {
			rt.logger.Info().Msg("http adapter disabled")
			return nil
		}
		return err
	}
	rt.server = srv
	return nil
}

// Close shuts down in reverse order of construction and reports every
// failure.
func (rt *runtime) Close() error {
	if rt == nil {
		return nil
	}
	var result *multierror.Error
	if rt.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		if err := rt.server.Shutdown(ctx); err != nil {
			result = multierror.Append(result, err)
		}
		cancel()
	}
	if rt.feed != nil {
		rt.feed.Close()
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close session: %w", err))
		}
	}
	if err := rt.journal.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close journal: %w", err))
	}
	if rt.fileLog != nil {
		if err := rt.fileLog.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close log: %w", err))
		}
	}
	return result.ErrorOrNil()
}

func resolveProjectDir(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get working directory: %w", err)
		}
		return cwd, nil
	}
	return filepath.Abs(dir)
}
