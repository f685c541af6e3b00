package operation

import (
	"fmt"
	"sync"

	"github.com/kingrea/bridgera/internal/session"
)

// Catalog keeps operations in declaration order.
type Catalog struct {
	mu     sync.RWMutex
	order  []string
	byName map[string]Operation
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{byName: map[string]Operation{}}
}

// Register appends an operation. Returns an error if the name already exists.
func (c *Catalog) Register(op Operation) error {
	if err := op.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byName[op.Name]; exists {
		return fmt.Errorf("operation: %s already registered", op.Name)
	}
	c.byName[op.Name] = op
	c.order = append(c.order, op.Name)
	return nil
}

// MustRegister panics if registration fails.
func (c *Catalog) MustRegister(ops ...Operation) {
	for _, op := range ops {
		if err := c.Register(op); err != nil {
			panic(err)
		}
	}
}

// List returns the operations available for state, in declaration order.
// It has no side effects.
func (c *Catalog) List(state session.State) []Operation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Operation, 0, len(c.order))
	for _, name := range c.order {
		op := c.byName[name]
		if op.available(state) {
			out = append(out, op)
		}
	}
	return out
}

// Visible looks name up among the operations available for state.
func (c *Catalog) Visible(state session.State, name string) (Operation, bool) {
	for _, op := range c.List(state) {
		if op.Name == name {
			return op, true
		}
	}
	return Operation{}, false
}

// Lookup finds an operation regardless of availability.
func (c *Catalog) Lookup(name string) (Operation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	op, ok := c.byName[name]
	return op, ok
}

// Names returns every registered name in declaration order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// Len reports how many operations are registered.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}
