package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Parse decodes and validates a scenario from YAML (or JSON) bytes.
func Parse(data []byte) (Scenario, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Scenario{}, fmt.Errorf("scenario: definition is empty")
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return Scenario{}, fmt.Errorf("scenario: decode definition: %w", err)
	}
	sc.ID = strings.TrimSpace(sc.ID)
	if err := sc.Validate(); err != nil {
		return Scenario{}, err
	}
	return sc, nil
}

// LoadFile loads one scenario file.
func LoadFile(path string) (Scenario, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("scenario: read %s: %w", path, err)
	}
	sc, err := Parse(content)
	if err != nil {
		return Scenario{}, fmt.Errorf("scenario: %s: %w", filepath.Base(path), err)
	}
	return sc, nil
}

// LoadDir loads every *.yaml and *.yml file in dir, sorted by file name. A
// missing directory yields no scenarios. Broken files are reported together
// while the valid ones are still returned.
func LoadDir(dir string) ([]Scenario, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scenario: read dir %s: %w", dir, err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml":
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var (
		out  []Scenario
		errs *multierror.Error
	)
	for _, name := range names {
		sc, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		out = append(out, sc)
	}
	return out, errs.ErrorOrNil()
}

// Set merges scenario sources; later sources replace earlier ones with the
// same id.
type Set struct {
	order []string
	byID  map[string]Scenario
}

// NewSet builds a Set from the given scenarios in order.
func NewSet(groups ...[]Scenario) *Set {
	set := &Set{byID: map[string]Scenario{}}
	for _, group := range groups {
		for _, sc := range group {
			if _, exists := set.byID[sc.ID]; !exists {
				set.order = append(set.order, sc.ID)
			}
			set.byID[sc.ID] = sc
		}
	}
	return set
}

// Get returns the scenario with the given id.
func (s *Set) Get(id string) (Scenario, bool) {
	sc, ok := s.byID[id]
	return sc, ok
}

// List returns scenarios in first-seen order.
func (s *Set) List() []Scenario {
	out := make([]Scenario, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}
