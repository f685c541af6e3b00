// Package server exposes the orchestration engine over HTTP: the offered
// operations, the session state, execution and a live feed of finished runs.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/kingrea/bridgera/internal/engine"
	"github.com/kingrea/bridgera/internal/scenario"
	"github.com/kingrea/bridgera/internal/session"
)

// ProtocolVersion identifies the adapter contract exposed via /health.
const ProtocolVersion = "1.0.0"

// Phase is where the adapter is in its lifecycle. It is reported by /health.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseListening Phase = "listening"
	PhaseDraining  Phase = "draining"
	PhaseStopped   Phase = "stopped"
)

// ErrDisabled is returned by Start when the adapter is switched off.
var ErrDisabled = errors.New("server: http adapter disabled")

// Console is the engine surface the adapter drives.
type Console interface {
	Execute(ctx context.Context, name string) (engine.Result, error)
	Operations() []engine.OperationView
	State() session.State
	Status() engine.Status
	Runs() []engine.Run
	LastRun(name string) (engine.Run, bool)
	Select(name string) error
	Selected() string
	Known(name string) bool
}

// Server wraps the HTTP listener and handlers backing the adapter.
type Server struct {
	settings  Settings
	console   Console
	feed      *Feed
	scenarios *scenario.Set
	metrics   http.Handler
	logger    zerolog.Logger
	clock     func() time.Time
	router    chi.Router

	mu       sync.RWMutex
	httpSrv  *http.Server
	listener net.Listener
	phase    Phase
	since    time.Time
	done     chan struct{}
	serveErr error
}

// Option customizes server construction.
type Option func(*Server)

// WithFeed streams finished runs on /v1/events.
func WithFeed(feed *Feed) Option {
	return func(s *Server) {
		s.feed = feed
	}
}

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithClock sets the clock used for uptime.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New prepares an adapter for console using the provided settings.
func New(settings Settings, console Console, opts ...Option) (*Server, error) {
	if console == nil {
		return nil, fmt.Errorf("server: console is required")
	}
	settings.normalize()
	s := &Server{
		settings: settings,
		console:  console,
		logger:   zerolog.Nop(),
		clock:    time.Now,
		phase:    PhaseIdle,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/health", s.handleHealth)
	r.Head("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	r.Route("/v1", func(api chi.Router) {
		api.Get("/status", s.handleStatus)
		api.Get("/state", s.handleState)
		api.Get("/runs", s.handleRuns)
		api.Get("/operations", s.handleOperations)
		api.Get("/operations/{name}", s.handleOperation)
		api.Post("/operations/{name}/execute", s.handleExecute)
		api.Get("/selection", s.handleSelection)
		api.Put("/selection", s.handleSelect)
		if s.feed != nil {
			api.Get("/events", s.handleEvents)
		}
		if s.scenarios != nil {
			s.scenarioRoutes(api)
		}
	})
	return r
}

// Start listens on the configured address and serves in the background.
// A server runs once; Start after Shutdown is an error. Requests inherit ctx.
func (s *Server) Start(ctx context.Context) error {
	if !s.settings.Enabled {
		return ErrDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseIdle {
		return fmt.Errorf("server: cannot start while %s", s.phase)
	}
	listener, err := net.Listen("tcp", s.settings.Address())
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.settings.Address(), err)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.listener = listener
	s.httpSrv = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		IdleTimeout:  s.settings.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	s.phase = PhaseListening
	s.since = s.clock()
	go s.serve(s.httpSrv, listener)
	s.logger.Info().Str("addr", listener.Addr().String()).Msg("http adapter listening")
	return nil
}

func (s *Server) serve(srv *http.Server, listener net.Listener) {
	err := srv.Serve(listener)
	s.mu.Lock()
	if !errors.Is(err, http.ErrServerClosed) {
		s.serveErr = err
		s.logger.Error().Err(err).Msg("http adapter stopped serving")
	}
	s.phase = PhaseStopped
	s.listener = nil
	s.mu.Unlock()
	close(s.done)
}

// Done is closed once the adapter has stopped serving, whether through
// Shutdown or a listener failure.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Err returns the failure that stopped the adapter, or nil after a clean
// Shutdown.
func (s *Server) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serveErr
}

// Shutdown ends open event streams, stops accepting connections and waits
// for in-flight executions until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != PhaseListening {
		s.mu.Unlock()
		return nil
	}
	s.phase = PhaseDraining
	srv := s.httpSrv
	s.mu.Unlock()

	if s.feed != nil {
		s.feed.Close()
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	<-s.done
	return nil
}

// Addr is the bound address while listening, or "".
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL is the URL clients should use. Before Start it is the configured
// address.
func (s *Server) BaseURL() string {
	if addr := s.Addr(); addr != "" {
		return "http://" + addr
	}
	return s.settings.URL()
}

// Phase reports the lifecycle phase.
func (s *Server) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

func (s *Server) uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.phase != PhaseListening {
		return 0
	}
	return s.clock().Sub(s.since)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(started)).
			Msg("http request")
	})
}
