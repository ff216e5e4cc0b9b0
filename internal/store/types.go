// Package store provides SQLite access to the history of maintenance runs.
package store

import "time"

// Run is one recorded maintenance cycle.
type Run struct {
	ID            string    `json:"id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	WorkDir       string    `json:"work_dir"`
	Branch        string    `json:"branch,omitempty"`
	Scenario      string    `json:"scenario"`
	Strategy      string    `json:"strategy"`
	Reason        string    `json:"reason,omitempty"`
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`
	SnapshotID    string    `json:"snapshot_id,omitempty"`
	RolledBack    bool      `json:"rolled_back"`
	RollbackError string    `json:"rollback_error,omitempty"`
	DryRun        bool      `json:"dry_run"`
	Steps         []Step    `json:"steps,omitempty"`
}

// Duration returns how long the run took.
func (r Run) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Step is the recorded outcome of one strategy step.
type Step struct {
	Name       string `json:"name"`
	Command    string `json:"command"`
	ExitCode   int    `json:"exit_code"`
	Tolerated  bool   `json:"tolerated"`
	Skipped    bool   `json:"skipped"`
	Changed    int    `json:"changed"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// ScenarioCount is the number of runs per scenario.
type ScenarioCount struct {
	Scenario string `json:"scenario"`
	Runs     int    `json:"runs"`
	Failures int    `json:"failures"`
}
