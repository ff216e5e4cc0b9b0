package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/blackwell-systems/ciwarden/internal/gitrepo"
	"github.com/blackwell-systems/ciwarden/internal/pipeline"
)

// Report statuses.
const (
	StatusPassed       = "passed"
	StatusWithWarnings = "passed_with_warnings"
)

// ValidationReport is written after a successful comprehensive run. Its
// presence is what takes the tree out of the first-run scenario.
type ValidationReport struct {
	Timestamp time.Time             `json:"timestamp"`
	RunID     string                `json:"run_id"`
	Trigger   string                `json:"trigger"`
	Branch    string                `json:"branch,omitempty"`
	Commit    string                `json:"commit,omitempty"`
	Strategy  string                `json:"strategy"`
	Summary   ReportSummary         `json:"summary"`
	Steps     []pipeline.StepResult `json:"steps"`
}

// ReportSummary rolls the step results up.
type ReportSummary struct {
	OverallStatus string   `json:"overall_status"`
	Warnings      []string `json:"warnings"`
}

func newValidationReport(out *Outcome, workDir string) ValidationReport {
	r := ValidationReport{
		Timestamp: out.FinishedAt.UTC(),
		RunID:     out.RunID,
		Trigger:   "ciwarden",
		Strategy:  string(out.Report.Strategy),
		Summary:   ReportSummary{OverallStatus: StatusPassed, Warnings: []string{}},
		Steps:     out.Report.Steps,
	}
	r.Commit, r.Branch = gitrepo.Describe(workDir)
	for _, s := range out.Report.Steps {
		if s.Failed() {
			r.Summary.Warnings = append(r.Summary.Warnings, s.String())
		}
	}
	if len(r.Summary.Warnings) > 0 {
		r.Summary.OverallStatus = StatusWithWarnings
	}
	return r
}

// writeValidationReport writes r to path unless a report is already there.
func writeValidationReport(path string, r ValidationReport) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("checking report: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return false, fmt.Errorf("encoding report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("creating report dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".report-*")
	if err != nil {
		return false, fmt.Errorf("creating report temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return false, fmt.Errorf("writing report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("writing report: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return false, fmt.Errorf("replacing report: %w", err)
	}
	return true, nil
}
