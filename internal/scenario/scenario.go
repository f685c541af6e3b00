// Package scenario runs named sequences of console operations.
//
// A scenario is a list of steps, each naming one operation. Steps may depend
// on earlier steps; a step whose dependency did not succeed is skipped. The
// engine serializes execution, so steps always run one at a time in
// dependency order.
package scenario

import (
	"fmt"
	"sort"
)

// Scenario declares an ordered set of operation steps.
type Scenario struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []Step `json:"steps" yaml:"steps"`
}

// Step runs one operation.
type Step struct {
	ID        string   `json:"id,omitempty" yaml:"id,omitempty"`
	Operation string   `json:"operation" yaml:"operation"`
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	// ContinueOnFailure lets later independent steps run after this one fails.
	ContinueOnFailure bool `json:"continue_on_failure,omitempty" yaml:"continue_on_failure,omitempty"`
}

// StepID returns the scenario-local identifier used by depends_on.
func (s Step) StepID() string {
	if s.ID != "" {
		return s.ID
	}
	return s.Operation
}

// Title returns Name or falls back to ID.
func (sc Scenario) Title() string {
	if sc.Name != "" {
		return sc.Name
	}
	return sc.ID
}

// Validate ensures the scenario is self-consistent and acyclic.
func (sc Scenario) Validate() error {
	if sc.ID == "" {
		return fmt.Errorf("scenario: id is required")
	}
	if len(sc.Steps) == 0 {
		return fmt.Errorf("scenario %s: at least one step is required", sc.ID)
	}
	seen := map[string]struct{}{}
	for idx, step := range sc.Steps {
		if step.Operation == "" {
			return fmt.Errorf("scenario %s step[%d]: operation is required", sc.ID, idx)
		}
		id := step.StepID()
		if _, exists := seen[id]; exists {
			return fmt.Errorf("scenario %s: duplicate step id %s", sc.ID, id)
		}
		seen[id] = struct{}{}
	}
	for _, step := range sc.Steps {
		deps := append([]string{}, step.DependsOn...)
		sort.Strings(deps)
		for i, dep := range deps {
			if _, ok := seen[dep]; !ok {
				return fmt.Errorf("scenario %s: step %s depends on unknown step %s", sc.ID, step.StepID(), dep)
			}
			if i > 0 && deps[i-1] == dep {
				return fmt.Errorf("scenario %s: step %s has duplicate dependency on %s", sc.ID, step.StepID(), dep)
			}
		}
	}
	if _, err := sc.Order(); err != nil {
		return err
	}
	return nil
}

// Order returns the steps in dependency order. Independent steps keep their
// declaration order.
func (sc Scenario) Order() ([]Step, error) {
	index := make(map[string]int, len(sc.Steps))
	for i, step := range sc.Steps {
		index[step.StepID()] = i
	}
	pending := make([]int, len(sc.Steps))
	dependents := make(map[int][]int, len(sc.Steps))
	for i, step := range sc.Steps {
		for _, dep := range step.DependsOn {
			j, ok := index[dep]
			if !ok {
				return nil, fmt.Errorf("scenario %s: step %s depends on unknown step %s", sc.ID, step.StepID(), dep)
			}
			pending[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	ordered := make([]Step, 0, len(sc.Steps))
	done := make([]bool, len(sc.Steps))
	for len(ordered) < len(sc.Steps) {
		next := -1
		for i := range sc.Steps {
			if !done[i] && pending[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			return nil, fmt.Errorf("scenario %s: dependency cycle among %v", sc.ID, sc.blocked(done))
		}
		done[next] = true
		ordered = append(ordered, sc.Steps[next])
		for _, d := range dependents[next] {
			pending[d]--
		}
	}
	return ordered, nil
}

func (sc Scenario) blocked(done []bool) []string {
	var ids []string
	for i, step := range sc.Steps {
		if !done[i] {
			ids = append(ids, step.StepID())
		}
	}
	return ids
}

// Operations lists the distinct operation names the scenario uses.
func (sc Scenario) Operations() []string {
	seen := map[string]struct{}{}
	var names []string
	for _, step := range sc.Steps {
		if _, ok := seen[step.Operation]; ok {
			continue
		}
		seen[step.Operation] = struct{}{}
		names = append(names, step.Operation)
	}
	return names
}
