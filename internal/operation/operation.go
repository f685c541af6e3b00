package operation

import (
	"context"
	"fmt"

	"github.com/kingrea/bridgera/internal/session"
)

// Tier decides when an operation is offered at all.
type Tier int

const (
	// TierBootstrap operations are always offered.
	TierBootstrap Tier = iota
	// TierGated operations are offered once the bridge public key is known.
	TierGated
)

func (t Tier) String() string {
	switch t {
	case TierBootstrap:
		return "bootstrap"
	case TierGated:
		return "gated"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Outcome is what an executor reports back to the engine.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Gate is an optional availability predicate evaluated against the session.
type Gate func(session.State) bool

// Operation is one named, user-triggerable remote action.
type Operation struct {
	Name        string
	Label       string
	Description string
	Tier        Tier
	Gate        Gate
	Execute     func(ctx context.Context, exec *Exec) Outcome
}

// Validate ensures the operation can be registered.
func (o Operation) Validate() error {
	if o.Name == "" {
		return fmt.Errorf("operation: name is required")
	}
	if o.Execute == nil {
		return fmt.Errorf("operation: executor is required for %s", o.Name)
	}
	if o.Tier != TierBootstrap && o.Tier != TierGated {
		return fmt.Errorf("operation: unknown tier %d for %s", int(o.Tier), o.Name)
	}
	return nil
}

// Title returns the label, falling back to the name.
func (o Operation) Title() string {
	if o.Label != "" {
		return o.Label
	}
	return o.Name
}

// ResponseKey is the state field holding the latest envelope of o.
func (o Operation) ResponseKey() string {
	return ResponseKey(o.Name)
}

// ResponseKey returns the state field for the raw envelope of an operation.
func ResponseKey(name string) string {
	return name + "Response"
}

func (o Operation) available(state session.State) bool {
	if o.Tier == TierGated && !state.Has(session.KeyBridgePublicKey) {
		return false
	}
	if o.Gate != nil && !o.Gate(state) {
		return false
	}
	return true
}
