// Package scenario holds the fixed catalog of maintenance scenarios and the
// classifier that selects one per run.
package scenario

// Key identifies a scenario.
type Key string

const (
	FirstRun         Key = "first-run"
	Incremental      Key = "incremental"
	RapidCommits     Key = "rapid-commits"
	CodeOrganization Key = "code-organization"
	Emergency        Key = "emergency"
	Maintenance      Key = "maintenance"
	Cleanup          Key = "cleanup"
)

// Strategy names the step list a scenario executes.
type Strategy string

const (
	StrategyComprehensive Strategy = "comprehensive"
	StrategyTargeted      Strategy = "targeted"
	StrategyBatch         Strategy = "batch"
	StrategySafeRefactor  Strategy = "safe-refactor"
	StrategyEmergencyFix  Strategy = "emergency-fix"
	StrategyMaintenance   Strategy = "maintenance"
	StrategySafeCleanup   Strategy = "safe-cleanup"
)

// Duration is the expected run length label.
type Duration string

const (
	Short  Duration = "short"
	Medium Duration = "medium"
	Long   Duration = "long"
)

// Scenario is one entry of the catalog. Values are read-only.
type Scenario struct {
	Key         Key      `json:"key"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Strategy    Strategy `json:"strategy"`
	Priority    int      `json:"priority"`
	Duration    Duration `json:"duration"`
	Checks      []string `json:"checks"`
}
