// Package config provides configuration loading and defaults for ciwarden.
package config

import "time"

// DefaultConfigDir is the user-level configuration directory.
const DefaultConfigDir = "~/.config/ciwarden"

// DefaultConfigName is the basename of the per-repository config file.
const DefaultConfigName = ".ciwarden"

// Paths inside the working tree. All are relative to the tree root.
const (
	DefaultReportPath     = "reports/ai_validation_report.json"
	DefaultLedgerPath     = "logs/last-maintenance.json"
	DefaultBackupDir      = "backups"
	DefaultLockPath       = ".ciwarden.lock"
	DefaultLogPath        = "logs/ciwarden.log"
	DefaultMetricsPath    = "logs/ciwarden.prom"
	DefaultHistoryDB      = "logs/history.db"
	DefaultStrategiesFile = "strategies.yaml"
)

// Classification and probe thresholds.
const (
	// DefaultRapidCommitCount is how many of the newest commits form the
	// rapid-commit window.
	DefaultRapidCommitCount = 5

	// DefaultRapidCommitWindow is the span those commits must fit under.
	DefaultRapidCommitWindow = 300 * time.Second

	// DefaultMaintenanceInterval is the ledger age after which the
	// maintenance scenario is due.
	DefaultMaintenanceInterval = 24 * time.Hour

	// DefaultUnusedFileThreshold is the number of *.unused/*.old/*.backup
	// files tolerated before the organization score is reduced.
	DefaultUnusedFileThreshold = 10

	// DefaultNodeModulesLimitMB is the dependency directory size that
	// triggers cleanup.
	DefaultNodeModulesLimitMB = 500

	// DefaultStaleFileCount is the number of stale temp/log files that
	// triggers cleanup.
	DefaultStaleFileCount = 20

	// DefaultStaleFileAge is the age after which temp/log files count as stale.
	DefaultStaleFileAge = 24 * time.Hour

	// DefaultLogRetention is the age after which safe-cleanup removes logs.
	DefaultLogRetention = 7 * 24 * time.Hour
)

// Organization score deductions.
const (
	DefaultUnusedFilesPenalty   = 20
	DefaultUnusedImportsPenalty = 15
	DefaultStructurePenalty     = 10
)

// DefaultStepTimeout bounds a single external command.
const DefaultStepTimeout = 15 * time.Minute

// DefaultKeepLast is the number of snapshots kept by retention.
const DefaultKeepLast = 10

// DefaultMaxFileChanges caps how many files a refactor action may modify.
const DefaultMaxFileChanges = 50

// DefaultAllowlist is the set of paths copied into every snapshot.
var DefaultAllowlist = []string{
	"package.json",
	"tsconfig.json",
	"next.config.js",
	"src",
	"components",
	"lib",
	"utils",
}

// DefaultProtectedFiles are never modified or deleted by file actions.
var DefaultProtectedFiles = []string{
	"package.json",
	"tsconfig.json",
	"next.config.js",
}

// DefaultSafety holds the default safety switches.
var DefaultSafety = Safety{
	BackupBeforeChanges: true,
	RollbackOnFailure:   true,
	DryRun:              false,
	MaxFileChanges:      DefaultMaxFileChanges,
}

// DefaultOutput holds the default output preferences.
var DefaultOutput = Output{
	Color: true,
}
