package scenario

import (
	"fmt"
	"slices"
)

var catalog = []Scenario{
	{
		Key:         FirstRun,
		Name:        "First run",
		Description: "Full validation of every test suite and the system baseline",
		Strategy:    StrategyComprehensive,
		Priority:    1,
		Duration:    Long,
		Checks:      []string{"full-system", "database-integrity", "security-scan", "performance-baseline"},
	},
	{
		Key:         Incremental,
		Name:        "Incremental run",
		Description: "Tests scoped to the modules touched by recent changes",
		Strategy:    StrategyTargeted,
		Priority:    2,
		Duration:    Medium,
		Checks:      []string{"affected-modules", "integration", "regression"},
	},
	{
		Key:         RapidCommits,
		Name:        "Rapid commits",
		Description: "Reduced critical-path suite for a burst of commits",
		Strategy:    StrategyBatch,
		Priority:    3,
		Duration:    Short,
		Checks:      []string{"critical-only", "smoke-tests"},
	},
	{
		Key:         CodeOrganization,
		Name:        "Code organization",
		Description: "Safe cleanup and reorganization of source files",
		Strategy:    StrategySafeRefactor,
		Priority:    4,
		Duration:    Medium,
		Checks:      []string{"structure-validation", "import-cleanup", "unused-code-removal"},
	},
	{
		Key:         Emergency,
		Name:        "Emergency",
		Description: "Immediate repair of critical type, build or security failures",
		Strategy:    StrategyEmergencyFix,
		Priority:    1,
		Duration:    Short,
		Checks:      []string{"critical-path", "hotfix-validation"},
	},
	{
		Key:         Maintenance,
		Name:        "Periodic maintenance",
		Description: "Dependency updates, security patches and a verification build",
		Strategy:    StrategyMaintenance,
		Priority:    5,
		Duration:    Long,
		Checks:      []string{"dependency-update", "security-patch", "performance-optimization"},
	},
	{
		Key:         Cleanup,
		Name:        "Cleanup",
		Description: "Safe removal of build output and stale temporary files",
		Strategy:    StrategySafeCleanup,
		Priority:    6,
		Duration:    Medium,
		Checks:      []string{"backup-verification", "cleanup-validation"},
	},
}

// All returns a copy of the catalog in declaration order.
func All() []Scenario {
	out := make([]Scenario, len(catalog))
	for i, s := range catalog {
		s.Checks = slices.Clone(s.Checks)
		out[i] = s
	}
	return out
}

// Get returns the catalog entry for key.
func Get(key Key) (Scenario, bool) {
	for _, s := range catalog {
		if s.Key == key {
			s.Checks = slices.Clone(s.Checks)
			return s, true
		}
	}
	return Scenario{}, false
}

// MustGet is Get for keys known at compile time.
func MustGet(key Key) Scenario {
	s, ok := Get(key)
	if !ok {
		panic(fmt.Sprintf("scenario: unknown key %q", key))
	}
	return s
}

// Strategies returns every strategy referenced by the catalog.
func Strategies() []Strategy {
	out := make([]Strategy, 0, len(catalog))
	for _, s := range catalog {
		if !slices.Contains(out, s.Strategy) {
			out = append(out, s.Strategy)
		}
	}
	return out
}
