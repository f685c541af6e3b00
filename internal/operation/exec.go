package operation

import (
	"encoding/json"

	"github.com/kingrea/bridgera/internal/bridge"
	"github.com/kingrea/bridgera/internal/config"
	"github.com/kingrea/bridgera/internal/session"
)

// Deps are the collaborators every executor may reach.
type Deps struct {
	Bridge   bridge.Capabilities
	Programs config.Programs
	Fixtures config.Fixtures
}

// Exec is the per-run view handed to an executor. Reads see the run's own
// writes first, then the snapshot taken when the run started.
type Exec struct {
	name     string
	snapshot session.State
	patch    session.State
	deps     Deps
	reset    bool
	err      error
}

// NewExec prepares a run of the named operation against snapshot.
func NewExec(name string, snapshot session.State, deps Deps) *Exec {
	if snapshot == nil {
		snapshot = session.State{}
	}
	return &Exec{name: name, snapshot: snapshot, patch: session.State{}, deps: deps}
}

// Name returns the operation being run.
func (e *Exec) Name() string { return e.name }

// Bridge returns the remote capability client.
func (e *Exec) Bridge() bridge.Capabilities { return e.deps.Bridge }

// Programs returns the configured program identifiers.
func (e *Exec) Programs() config.Programs { return e.deps.Programs }

// Fixtures returns the literal demo request parameters.
func (e *Exec) Fixtures() config.Fixtures { return e.deps.Fixtures }

// Get reads key from the patch, then from the snapshot.
func (e *Exec) Get(key string) (json.RawMessage, bool) {
	if raw, ok := e.patch[key]; ok {
		return raw, true
	}
	return e.snapshot.Get(key)
}

// String reads a string field; absent or non-string values yield "".
func (e *Exec) String(key string) string {
	if _, ok := e.patch[key]; ok {
		return e.patch.String(key)
	}
	return e.snapshot.String(key)
}

// Set records a field in the patch.
func (e *Exec) Set(key string, value any) error {
	raw, err := session.Encode(value)
	if err != nil {
		return err
	}
	e.patch[key] = raw
	return nil
}

// SetString records a string field in the patch.
func (e *Exec) SetString(key, value string) {
	e.patch[key] = session.StringValue(value)
}

// SetRaw records a raw JSON field in the patch.
func (e *Exec) SetRaw(key string, raw json.RawMessage) {
	e.patch[key] = append(json.RawMessage(nil), raw...)
}

// Respond stores the outcome of a remote call under the operation's response
// key and reports success or failure accordingly. A response shaped like an
// error envelope is a failure even when err is nil.
func (e *Exec) Respond(raw json.RawMessage, err error) Outcome {
	if err != nil {
		e.err = err
		e.patch[ResponseKey(e.name)] = bridge.ErrorEnvelope(err)
		return OutcomeFailure
	}
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	e.SetRaw(ResponseKey(e.name), raw)
	if bridge.IsErrorEnvelope(raw) {
		e.err = &bridge.RemoteError{Method: e.name, Body: e.patch[ResponseKey(e.name)]}
		return OutcomeFailure
	}
	return OutcomeSuccess
}

// Thread copies a non-empty string payload.data.<field> of raw into stateKey
// and returns it. Missing values leave the state untouched.
func (e *Exec) Thread(raw json.RawMessage, field, stateKey string) string {
	value := bridge.DataString(raw, field)
	if value != "" {
		e.SetString(stateKey, value)
	}
	return value
}

// Reset asks the engine to clear the whole session before merging the patch.
func (e *Exec) Reset() { e.reset = true }

// ResetRequested reports whether the executor asked for a clear.
func (e *Exec) ResetRequested() bool { return e.reset }

// Patch returns the fields written during the run.
func (e *Exec) Patch() session.State { return e.patch.Clone() }

// Err returns the remote failure recorded by Respond, if any.
func (e *Exec) Err() error { return e.err }
