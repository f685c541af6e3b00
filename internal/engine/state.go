package engine

import (
	"time"

	"github.com/kingrea/bridgera/internal/operation"
	"github.com/kingrea/bridgera/internal/session"
)

// RunState enumerates coarse engine phases.
type RunState string

const (
	RunStateIdle    RunState = "idle"
	RunStateRunning RunState = "running"
)

// Status reports what the engine is doing right now.
type Status struct {
	State     RunState  `json:"state"`
	Operation string    `json:"operation,omitempty"`
	Since     time.Time `json:"since"`
}

// ResultStatus classifies a finished Execute call.
type ResultStatus string

const (
	StatusSucceeded ResultStatus = "succeeded"
	StatusFailed    ResultStatus = "failed"
	// StatusUnavailable means the operation was not offered for the current
	// state. Nothing ran and nothing changed.
	StatusUnavailable ResultStatus = "unavailable"
)

// Result is returned by Execute.
type Result struct {
	RunID     string        `json:"run_id,omitempty"`
	Operation string        `json:"operation"`
	Status    ResultStatus  `json:"status"`
	Patch     session.State `json:"patch,omitempty"`
	Reset     bool          `json:"reset,omitempty"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Run is one entry of the in-memory execution history.
type Run struct {
	ID         string            `json:"id"`
	Operation  string            `json:"operation"`
	Outcome    operation.Outcome `json:"outcome"`
	Fields     []string          `json:"fields,omitempty"`
	Error      string            `json:"error,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// OperationView describes a catalog entry offered for the current state.
type OperationView struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	Tier        string `json:"tier"`
	Selected    bool   `json:"selected,omitempty"`
}

func viewOf(op operation.Operation, selected string) OperationView {
	return OperationView{
		Name:        op.Name,
		Label:       op.Title(),
		Description: op.Description,
		Tier:        op.Tier.String(),
		Selected:    op.Name == selected,
	}
}
