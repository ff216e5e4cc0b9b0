// Package project defines the health signals gathered from a working tree
// on every run.
package project

import (
	"math"
	"slices"
)

// Organization buckets the code-organization score.
type Organization string

const (
	OrgExcellent Organization = "excellent"
	OrgGood      Organization = "good"
	OrgFair      Organization = "fair"
	OrgPoor      Organization = "poor"
	OrgUnknown   Organization = "unknown"
)

// Score thresholds for each bucket, highest first.
const (
	ExcellentScore = 80
	GoodScore      = 60
	FairScore      = 40
)

// BucketScore maps a 0-100 score to its Organization bucket.
func BucketScore(score int) Organization {
	switch {
	case score >= ExcellentScore:
		return OrgExcellent
	case score >= GoodScore:
		return OrgGood
	case score >= FairScore:
		return OrgFair
	default:
		return OrgPoor
	}
}

// Critical issue identifiers.
const (
	IssueTypeScript = "typescript-errors"
	IssueBuild      = "build-failure"
	IssueSecurity   = "security-vulnerabilities"
)

// Affected module identifiers.
const (
	ModuleFrontend = "frontend"
	ModuleBackend  = "backend"
	ModuleDatabase = "database"
)

// Commit is one entry of the recent git history.
type Commit struct {
	Hash      string `json:"hash"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"` // unix seconds
}

// State is the snapshot of repository health used to pick a scenario. It is
// rebuilt on every run; only HoursSinceMaintenance derives from prior runs.
type State struct {
	IsFirstRun            bool         `json:"is_first_run"`
	RecentCommits         []Commit     `json:"recent_commits"`
	RapidCommits          bool         `json:"rapid_commits"`
	CodeOrganization      Organization `json:"code_organization"`
	OrganizationScore     int          `json:"organization_score"`
	OrganizationIssues    []string     `json:"organization_issues,omitempty"`
	NeedsCleanup          bool         `json:"needs_cleanup"`
	CleanupReasons        []string     `json:"cleanup_reasons,omitempty"`
	CriticalIssues        []string     `json:"critical_issues"`
	HoursSinceMaintenance float64      `json:"-"`
	AffectedModules       []string     `json:"affected_modules,omitempty"`
	HasSupawright         bool         `json:"has_supawright"`
	Branch                string       `json:"branch,omitempty"`
}

// AddIssue inserts issue into CriticalIssues, keeping the set sorted and
// free of duplicates.
func (s *State) AddIssue(issue string) {
	i, found := slices.BinarySearch(s.CriticalIssues, issue)
	if found {
		return
	}
	s.CriticalIssues = slices.Insert(s.CriticalIssues, i, issue)
}

// HasIssue reports whether issue is present.
func (s State) HasIssue(issue string) bool {
	_, found := slices.BinarySearch(s.CriticalIssues, issue)
	return found
}

// HasModule reports whether module was touched by the latest commit.
func (s State) HasModule(module string) bool {
	return slices.Contains(s.AffectedModules, module)
}

// MaintenanceKnown reports whether a prior run was recorded.
func (s State) MaintenanceKnown() bool {
	return !math.IsInf(s.HoursSinceMaintenance, 1)
}

// HoursOrNil returns the ledger age for JSON output, nil when never recorded.
func (s State) HoursOrNil() *float64 {
	if !s.MaintenanceKnown() || math.IsNaN(s.HoursSinceMaintenance) {
		return nil
	}
	h := s.HoursSinceMaintenance
	return &h
}

// RapidWithin reports whether the n newest commits span less than window
// seconds. Commits must be ordered newest first.
func RapidWithin(commits []Commit, n int, windowSecs int64) bool {
	if n < 2 || len(commits) < n {
		return false
	}
	return commits[0].Timestamp-commits[n-1].Timestamp < windowSecs
}
