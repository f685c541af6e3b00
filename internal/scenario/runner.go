package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kingrea/bridgera/internal/engine"
)

// Executor runs one operation. *engine.Engine satisfies it.
type Executor interface {
	Execute(ctx context.Context, name string) (engine.Result, error)
}

// StepStatus classifies one step of a run.
type StepStatus string

const (
	StepSucceeded   StepStatus = "succeeded"
	StepFailed      StepStatus = "failed"
	StepUnavailable StepStatus = "unavailable"
	StepSkipped     StepStatus = "skipped"
)

// StepReport records what happened to one step.
type StepReport struct {
	Step   string         `json:"step"`
	Status StepStatus     `json:"status"`
	Reason string         `json:"reason,omitempty"`
	Result *engine.Result `json:"result,omitempty"`
}

// Report summarizes a scenario run.
type Report struct {
	Scenario   string       `json:"scenario"`
	Steps      []StepReport `json:"steps"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// Succeeded reports whether every step succeeded.
func (r Report) Succeeded() bool {
	for _, step := range r.Steps {
		if step.Status != StepSucceeded {
			return false
		}
	}
	return len(r.Steps) > 0
}

// Count returns how many steps ended with status.
func (r Report) Count(status StepStatus) int {
	n := 0
	for _, step := range r.Steps {
		if step.Status == status {
			n++
		}
	}
	return n
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the structured logger.
func WithLogger(logger zerolog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithStepHook is called after every step, including skipped ones.
func WithStepHook(fn func(StepReport)) RunnerOption {
	return func(r *Runner) {
		r.hook = fn
	}
}

// Runner executes scenarios one step at a time.
type Runner struct {
	exec   Executor
	logger zerolog.Logger
	hook   func(StepReport)
}

// NewRunner binds a runner to an executor.
func NewRunner(exec Executor, opts ...RunnerOption) (*Runner, error) {
	if exec == nil {
		return nil, fmt.Errorf("scenario: executor is required")
	}
	r := &Runner{exec: exec, logger: zerolog.Nop()}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Run executes sc. A step runs only when all its dependencies succeeded. A
// failed step stops the run unless it sets ContinueOnFailure. Execute errors
// (engine busy, cancelled context) abort the run and are returned alongside
// the partial report.
func (r *Runner) Run(ctx context.Context, sc Scenario) (Report, error) {
	report := Report{Scenario: sc.ID, StartedAt: time.Now()}
	steps, err := sc.Order()
	if err != nil {
		return report, err
	}
	logger := r.logger.With().Str("scenario", sc.ID).Logger()
	logger.Info().Int("steps", len(steps)).Msg("scenario started")

	outcome := map[string]StepStatus{}
	stopped := ""
	var runErr error
	for _, step := range steps {
		id := step.StepID()
		var entry StepReport
		switch {
		case runErr != nil:
			entry = StepReport{Step: id, Status: StepSkipped, Reason: "run aborted"}
		case stopped != "":
			entry = StepReport{Step: id, Status: StepSkipped, Reason: fmt.Sprintf("stopped after %s failed", stopped)}
		default:
			if blocker := firstUnmet(step, outcome); blocker != "" {
				entry = StepReport{Step: id, Status: StepSkipped, Reason: fmt.Sprintf("dependency %s did not succeed", blocker)}
				break
			}
			entry, runErr = r.runStep(ctx, step)
			if runErr == nil && entry.Status != StepSucceeded && !step.ContinueOnFailure {
				stopped = id
			}
		}
		outcome[id] = entry.Status
		report.Steps = append(report.Steps, entry)
		r.emit(logger, entry)
	}

	report.FinishedAt = time.Now()
	logger.Info().
		Int("succeeded", report.Count(StepSucceeded)).
		Int("skipped", report.Count(StepSkipped)).
		Bool("ok", report.Succeeded()).
		Msg("scenario finished")
	return report, runErr
}

func (r *Runner) runStep(ctx context.Context, step Step) (StepReport, error) {
	id := step.StepID()
	if err := ctx.Err(); err != nil {
		return StepReport{Step: id, Status: StepSkipped, Reason: "run aborted"}, err
	}
	result, err := r.exec.Execute(ctx, step.Operation)
	if err != nil {
		reason := err.Error()
		if errors.Is(err, engine.ErrBusy) {
			reason = "engine busy"
		}
		return StepReport{Step: id, Status: StepSkipped, Reason: reason}, fmt.Errorf("scenario: step %s: %w", id, err)
	}
	entry := StepReport{Step: id, Result: &result}
	switch result.Status {
	case engine.StatusSucceeded:
		entry.Status = StepSucceeded
	case engine.StatusUnavailable:
		entry.Status = StepUnavailable
		entry.Reason = "operation not offered for the current session"
	default:
		entry.Status = StepFailed
		entry.Reason = result.Error
	}
	return entry, nil
}

func (r *Runner) emit(logger zerolog.Logger, entry StepReport) {
	event := logger.Info()
	if entry.Status != StepSucceeded {
		event = logger.Warn()
	}
	event.Str("step", entry.Step).Str("status", string(entry.Status))
	if entry.Reason != "" {
		event.Str("reason", entry.Reason)
	}
	event.Msg("scenario step")
	if r.hook != nil {
		r.hook(entry)
	}
}

func firstUnmet(step Step, outcome map[string]StepStatus) string {
	for _, dep := range step.DependsOn {
		if outcome[dep] != StepSucceeded {
			return dep
		}
	}
	return ""
}

// Summary renders a one-line description of the report.
func (r Report) Summary() string {
	parts := []string{fmt.Sprintf("%d/%d succeeded", r.Count(StepSucceeded), len(r.Steps))}
	if n := r.Count(StepFailed) + r.Count(StepUnavailable); n > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", n))
	}
	if n := r.Count(StepSkipped); n > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", n))
	}
	return r.Scenario + ": " + strings.Join(parts, ", ")
}
