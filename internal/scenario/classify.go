package scenario

import (
	"fmt"
	"strings"
	"time"

	"github.com/blackwell-systems/ciwarden/internal/project"
)

// DefaultMaintenanceInterval is used by Classify and by a zero Classifier.
const DefaultMaintenanceInterval = 24 * time.Hour

// Rule selects its scenario when match returns true.
type Rule struct {
	Key    Key
	Reason func(s project.State, interval time.Duration) string
	Match  func(s project.State, interval time.Duration) bool
}

// rules are evaluated in order; the first match wins.
var rules = []Rule{
	{
		Key:    FirstRun,
		Match:  func(s project.State, _ time.Duration) bool { return s.IsFirstRun },
		Reason: func(project.State, time.Duration) string { return "no validation report exists yet" },
	},
	{
		Key:   Emergency,
		Match: func(s project.State, _ time.Duration) bool { return len(s.CriticalIssues) > 0 },
		Reason: func(s project.State, _ time.Duration) string {
			return "critical issues: " + strings.Join(s.CriticalIssues, ", ")
		},
	},
	{
		Key:    RapidCommits,
		Match:  func(s project.State, _ time.Duration) bool { return s.RapidCommits },
		Reason: func(project.State, time.Duration) string { return "recent commits arrived in a rapid burst" },
	},
	{
		Key: CodeOrganization,
		Match: func(s project.State, _ time.Duration) bool {
			return s.CodeOrganization == project.OrgPoor || s.CodeOrganization == project.OrgFair
		},
		Reason: func(s project.State, _ time.Duration) string {
			return fmt.Sprintf("code organization is %s (score %d)", s.CodeOrganization, s.OrganizationScore)
		},
	},
	{
		Key:   Cleanup,
		Match: func(s project.State, _ time.Duration) bool { return s.NeedsCleanup },
		Reason: func(s project.State, _ time.Duration) string {
			if len(s.CleanupReasons) == 0 {
				return "cleanup needed"
			}
			return "cleanup needed: " + strings.Join(s.CleanupReasons, ", ")
		},
	},
	{
		Key: Maintenance,
		Match: func(s project.State, interval time.Duration) bool {
			return s.HoursSinceMaintenance > interval.Hours()
		},
		Reason: func(s project.State, interval time.Duration) string {
			if !s.MaintenanceKnown() {
				return "no maintenance has been recorded"
			}
			return fmt.Sprintf("last maintenance %.1fh ago (interval %s)", s.HoursSinceMaintenance, interval)
		},
	},
}

// Classifier maps a project state to exactly one scenario.
type Classifier struct {
	MaintenanceInterval time.Duration
}

// NewClassifier returns a Classifier using interval, or the default when
// interval is not positive.
func NewClassifier(interval time.Duration) Classifier {
	if interval <= 0 {
		interval = DefaultMaintenanceInterval
	}
	return Classifier{MaintenanceInterval: interval}
}

// Classify returns the selected scenario. It is pure and total; when no rule
// matches the result is Incremental.
func (c Classifier) Classify(s project.State) Scenario {
	sc, _ := c.Explain(s)
	return sc
}

// Explain returns the selected scenario with the reason its rule matched.
func (c Classifier) Explain(s project.State) (Scenario, string) {
	interval := c.MaintenanceInterval
	if interval <= 0 {
		interval = DefaultMaintenanceInterval
	}
	for _, r := range rules {
		if r.Match(s, interval) {
			return MustGet(r.Key), r.Reason(s, interval)
		}
	}
	return MustGet(Incremental), "no other scenario applies"
}

// Classify applies the default classifier.
func Classify(s project.State) Scenario {
	return Classifier{}.Classify(s)
}
