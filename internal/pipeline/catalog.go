package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/blackwell-systems/ciwarden/internal/scenario"
)

// Catalog maps strategy names to their ordered steps.
type Catalog map[scenario.Strategy][]Step

// Builtin returns a fresh copy of the built-in strategies.
func Builtin() Catalog {
	c := Catalog{
		scenario.StrategyComprehensive: {
			{Name: "generate e2e spec", Action: ActionGenerateE2ESpec},
			{Name: "unit tests", Command: []string{"npm", "run", "test:unit"}, Tolerate: true},
			{Name: "playwright", Command: []string{"npx", "playwright", "test", "--reporter=html"}, Tolerate: true},
			{Name: "supawright", Command: []string{"npx", "supawright", "test"}, When: []string{WhenSupawright}},
		},
		scenario.StrategyTargeted: {
			{Name: "frontend tests", Command: []string{"npx", "playwright", "test", "--grep=frontend|ui|component"}, Tolerate: true, When: []string{"module:frontend"}},
			{Name: "backend tests", Command: []string{"npx", "playwright", "test", "--grep=api|backend|server"}, Tolerate: true, When: []string{"module:backend"}},
			{Name: "database tests", Command: []string{"npx", "supawright", "test", "--grep=database"}, Tolerate: true, When: []string{"module:database", WhenSupawright}},
		},
		scenario.StrategyBatch: {
			{Name: "unit tests", Command: []string{"npm", "run", "test:unit", "--", "--maxWorkers=2"}},
			{Name: "critical e2e", Command: []string{"npx", "playwright", "test", "--grep=critical|essential", "--reporter=list"}},
		},
		scenario.StrategySafeRefactor: {
			{Name: "comment unused imports", Action: ActionCommentUnusedImports, Tolerate: true},
			{Name: "remove unused files", Action: ActionRemoveUnusedFiles, Tolerate: true},
			{Name: "reorganize layout", Action: ActionReorganizeLayout, Tolerate: true},
		},
		scenario.StrategyEmergencyFix: {
			{Name: "lint fix", Command: []string{"npm", "run", "lint:fix"}},
			{Name: "type check", Command: []string{"npm", "run", "type:check"}},
			{Name: "build", Command: []string{"npm", "run", "build"}},
		},
		scenario.StrategyMaintenance: {
			{Name: "update dependencies", Command: []string{"npm", "update"}},
			{Name: "audit fix", Command: []string{"npm", "audit", "fix"}},
			{Name: "build", Command: []string{"npm", "run", "build"}},
		},
		scenario.StrategySafeCleanup: {
			{Name: "remove build output", Action: ActionRemoveBuildOutput, Tolerate: true},
			{Name: "remove stale files", Action: ActionRemoveStaleFiles, Tolerate: true},
		},
	}
	return c
}

// Names returns the strategy names in sorted order.
func (c Catalog) Names() []scenario.Strategy {
	return slices.Sorted(maps.Keys(c))
}

// Steps returns a copy of the steps of name.
func (c Catalog) Steps(name scenario.Strategy) ([]Step, error) {
	steps, ok := c[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	return slices.Clone(steps), nil
}

// Validate checks every step of every strategy.
func (c Catalog) Validate() error {
	for _, name := range c.Names() {
		for i, s := range c[name] {
			if err := s.Validate(); err != nil {
				return fmt.Errorf("strategy %s step %d: %w", name, i+1, err)
			}
		}
	}
	return nil
}

// strategiesFile is the on-disk shape of the strategy file.
type strategiesFile struct {
	Strategies map[string][]Step `yaml:"strategies"`
}

// LoadFile returns the built-in catalog with the strategies defined in path
// replacing or adding entries. A missing file yields the built-in catalog.
func LoadFile(path string) (Catalog, error) {
	c := Builtin()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading strategies file: %w", err)
	}

	var f strategiesFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing strategies file %s: %w", path, err)
	}
	for name, steps := range f.Strategies {
		if len(steps) == 0 {
			return nil, fmt.Errorf("strategies file %s: strategy %s has no steps", path, name)
		}
		c[scenario.Strategy(name)] = steps
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("strategies file %s: %w", path, err)
	}
	return c, nil
}
