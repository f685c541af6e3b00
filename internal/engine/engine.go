package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kingrea/bridgera/internal/bridge"
	"github.com/kingrea/bridgera/internal/config"
	"github.com/kingrea/bridgera/internal/logging"
	"github.com/kingrea/bridgera/internal/operation"
	"github.com/kingrea/bridgera/internal/session"
)

const defaultHistoryLimit = 100

var (
	// ErrBusy is returned when Execute is called while another operation runs.
	ErrBusy = errors.New("engine: an operation is already running")
	// ErrNotFound is returned when a name is not in the catalog.
	ErrNotFound = errors.New("engine: unknown operation")
)

// Store is the session collaborator the engine merges into.
type Store interface {
	Snapshot() session.State
	MergeAndPersist(patch session.State)
	Reset()
	Selected() string
	SetSelected(name string)
}

// Journal receives one human readable line per run.
type Journal interface {
	Info(format string, args ...any)
	Warn(format string, args ...any)
}

// Engine executes catalog operations one at a time.
type Engine struct {
	catalog     *operation.Catalog
	store       Store
	bridge      bridge.Capabilities
	clock       func() time.Time
	logger      zerolog.Logger
	journal     Journal
	metrics     *Metrics
	callTimeout time.Duration
	programs    config.Programs
	fixtures    config.Fixtures
	historySize int
	observers   []func(Result)

	mu      sync.Mutex
	running bool
	current string
	since   time.Time
	runs    []Run
}

// Option customizes the engine instance.
type Option func(*Engine)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger routes run diagnostics to logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithJournal records every run in a human readable journal.
func WithJournal(journal Journal) Option {
	return func(e *Engine) {
		e.journal = journal
	}
}

// WithMetrics counts runs and busy rejections.
func WithMetrics(metrics *Metrics) Option {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

// WithCallTimeout bounds every run. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.callTimeout = d
		}
	}
}

// WithPrograms sets the program identifiers handed to executors.
func WithPrograms(programs config.Programs) Option {
	return func(e *Engine) {
		e.programs = programs
	}
}

// WithFixtures sets the literal request parameters handed to executors.
func WithFixtures(fixtures config.Fixtures) Option {
	return func(e *Engine) {
		e.fixtures = fixtures
	}
}

// WithHistoryLimit caps how many runs Runs() remembers.
func WithHistoryLimit(limit int) Option {
	return func(e *Engine) {
		if limit > 0 {
			e.historySize = limit
		}
	}
}

// WithObserver registers fn to receive every finished run. Observers are
// called synchronously after the run is recorded and must not block.
func WithObserver(fn func(Result)) Option {
	return func(e *Engine) {
		if fn != nil {
			e.observers = append(e.observers, fn)
		}
	}
}

// New wires an engine to its catalog, session store and remote client.
func New(catalog *operation.Catalog, store Store, client bridge.Capabilities, opts ...Option) (*Engine, error) {
	if catalog == nil {
		return nil, fmt.Errorf("engine: operation catalog is required")
	}
	if store == nil {
		return nil, fmt.Errorf("engine: session store is required")
	}
	if client == nil {
		return nil, fmt.Errorf("engine: bridge client is required")
	}
	engine := &Engine{
		catalog:     catalog,
		store:       store,
		bridge:      client,
		clock:       time.Now,
		logger:      zerolog.Nop(),
		fixtures:    config.DefaultProjectConfig().Fixtures,
		historySize: defaultHistoryLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(engine)
		}
	}
	engine.since = engine.now()
	return engine, nil
}

// Execute runs the named operation if it is offered for the current state.
// A concurrent call returns ErrBusy without touching the running operation.
// An operation that is not offered yields StatusUnavailable and no change.
func (e *Engine) Execute(ctx context.Context, name string) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	started, ok := e.enter(name)
	if !ok {
		e.metrics.busy()
		e.logger.Debug().Str("operation", name).Msg("rejected: engine busy")
		return Result{Operation: name}, ErrBusy
	}
	defer e.leave()

	snapshot := e.store.Snapshot()
	op, ok := e.catalog.Visible(snapshot, name)
	if !ok {
		e.logger.Debug().Str("operation", name).Msg("operation not available for current state")
		return Result{Operation: name, Status: StatusUnavailable, StartedAt: started}, nil
	}

	runCtx := ctx
	if e.callTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
	}
	exec := operation.NewExec(op.Name, snapshot, operation.Deps{
		Bridge:   e.bridge,
		Programs: e.programs,
		Fixtures: e.fixtures,
	})
	outcome := e.invoke(runCtx, op, exec)

	patch := exec.Patch()
	runErr := exec.Err()
	if raw, ok := patch[op.ResponseKey()]; ok && outcome == operation.OutcomeSuccess && bridge.IsErrorEnvelope(raw) {
		outcome = operation.OutcomeFailure
		if runErr == nil {
			runErr = &bridge.RemoteError{Method: op.Name, Body: raw}
		}
	}
	if outcome != operation.OutcomeSuccess {
		patch = failurePatch(op, patch, runErr)
	}
	reset := outcome == operation.OutcomeSuccess && exec.ResetRequested()
	if reset {
		e.store.Reset()
	}
	e.store.MergeAndPersist(patch)
	e.store.SetSelected(op.Name)

	finished := e.now()
	result := Result{
		RunID:     "run_" + uuid.NewString(),
		Operation: op.Name,
		Status:    StatusSucceeded,
		Patch:     patch,
		Reset:     reset,
		StartedAt: started,
		Duration:  finished.Sub(started),
	}
	if outcome != operation.OutcomeSuccess {
		result.Status = StatusFailed
		if runErr != nil {
			result.Error = runErr.Error()
		}
	}
	e.record(result, outcome, finished)
	return result, nil
}

func (e *Engine) invoke(ctx context.Context, op operation.Operation, exec *operation.Exec) (outcome operation.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Str("operation", op.Name).Interface("panic", r).Msg("executor panicked")
			outcome = exec.Respond(nil, fmt.Errorf("engine: %s panicked: %v", op.Name, r))
		}
	}()
	return op.Execute(ctx, exec)
}

// failurePatch keeps only the response field of a failed run.
func failurePatch(op operation.Operation, patch session.State, err error) session.State {
	key := op.ResponseKey()
	raw, ok := patch[key]
	if !ok || !bridge.IsErrorEnvelope(raw) {
		if err == nil {
			err = fmt.Errorf("engine: %s failed", op.Name)
		}
		raw = bridge.ErrorEnvelope(err)
	}
	return session.State{key: raw}
}

func (e *Engine) record(result Result, outcome operation.Outcome, finished time.Time) {
	fields := result.Patch.Keys()
	run := Run{
		ID:         result.RunID,
		Operation:  result.Operation,
		Outcome:    outcome,
		Fields:     fields,
		Error:      result.Error,
		StartedAt:  result.StartedAt,
		FinishedAt: finished,
	}
	e.mu.Lock()
	e.runs = append(e.runs, run)
	if overflow := len(e.runs) - e.historySize; overflow > 0 {
		e.runs = append([]Run(nil), e.runs[overflow:]...)
	}
	e.mu.Unlock()

	e.metrics.observe(result.Operation, outcome, result.Duration)

	threaded := map[string]string{}
	for _, key := range fields {
		if strings.HasSuffix(key, "Response") {
			continue
		}
		threaded[key] = result.Patch.String(key)
	}
	event := e.logger.Info()
	if outcome != operation.OutcomeSuccess {
		event = e.logger.Warn().Str("error", result.Error)
	}
	event.Str("operation", result.Operation).
		Str("outcome", string(outcome)).
		Dur("duration", result.Duration).
		Bool("reset", result.Reset).
		Dict("fields", logging.Fields(threaded)).
		Msg("operation finished")

	if e.journal != nil {
		switch {
		case result.Reset:
			e.journal.Info("%s: session cleared", result.Operation)
		case outcome == operation.OutcomeSuccess:
			e.journal.Info("%s: ok (%s)", result.Operation, result.Duration.Round(time.Millisecond))
		default:
			e.journal.Warn("%s: failed: %s", result.Operation, result.Error)
		}
	}
	for _, observe := range e.observers {
		observe(result)
	}
}

func (e *Engine) enter(name string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return time.Time{}, false
	}
	now := e.now()
	e.running = true
	e.current = name
	e.since = now
	return now, true
}

func (e *Engine) leave() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	e.current = ""
	e.since = e.now()
}

// Status reports whether an operation is in flight.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return Status{State: RunStateRunning, Operation: e.current, Since: e.since}
	}
	return Status{State: RunStateIdle, Since: e.since}
}

// Busy reports whether an operation is in flight.
func (e *Engine) Busy() bool {
	return e.Status().State == RunStateRunning
}

// Operations lists the operations offered for the current state.
func (e *Engine) Operations() []OperationView {
	selected := e.store.Selected()
	ops := e.catalog.List(e.store.Snapshot())
	out := make([]OperationView, 0, len(ops))
	for _, op := range ops {
		out = append(out, viewOf(op, selected))
	}
	return out
}

// State returns a copy of the current session.
func (e *Engine) State() session.State {
	return e.store.Snapshot()
}

// Runs returns the remembered run history, oldest first.
func (e *Engine) Runs() []Run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Run(nil), e.runs...)
}

// LastRun returns the most recent run of name.
func (e *Engine) LastRun(name string) (Run, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.runs) - 1; i >= 0; i-- {
		if e.runs[i].Operation == name {
			return e.runs[i], true
		}
	}
	return Run{}, false
}

// Select remembers the operation the user is pointing at.
func (e *Engine) Select(name string) error {
	if _, ok := e.catalog.Lookup(name); !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	e.store.SetSelected(name)
	return nil
}

// Selected returns the remembered selection.
func (e *Engine) Selected() string {
	return e.store.Selected()
}

// Known reports whether name is in the catalog at all.
func (e *Engine) Known(name string) bool {
	_, ok := e.catalog.Lookup(name)
	return ok
}

func (e *Engine) now() time.Time {
	if e.clock == nil {
		return time.Now()
	}
	return e.clock()
}
