package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level ciwarden configuration. It is loaded once and
// passed by value; nothing mutates it after Load returns.
type Config struct {
	// WorkDir is the absolute path of the working tree being maintained.
	WorkDir string `mapstructure:"-"`

	ReportPath     string     `mapstructure:"report_path"`
	LedgerPath     string     `mapstructure:"ledger_path"`
	BackupDir      string     `mapstructure:"backup_dir"`
	LockPath       string     `mapstructure:"lock_path"`
	StrategiesFile string     `mapstructure:"strategies_file"`
	Thresholds     Thresholds `mapstructure:"thresholds"`
	Safety         Safety     `mapstructure:"safety"`
	Retention      Retention  `mapstructure:"retention"`
	Steps          Steps      `mapstructure:"steps"`
	Imports        Imports    `mapstructure:"imports"`
	Output         Output     `mapstructure:"output"`
	Log            Log        `mapstructure:"log"`
	Metrics        Metrics    `mapstructure:"metrics"`
	History        History    `mapstructure:"history"`
}

// Thresholds are the named constants the probe and classifier compare against.
type Thresholds struct {
	RapidCommitCount     int           `mapstructure:"rapid_commit_count"`
	RapidCommitWindow    time.Duration `mapstructure:"rapid_commit_window"`
	MaintenanceInterval  time.Duration `mapstructure:"maintenance_interval"`
	UnusedFileThreshold  int           `mapstructure:"unused_file_threshold"`
	UnusedFilesPenalty   int           `mapstructure:"unused_files_penalty"`
	UnusedImportsPenalty int           `mapstructure:"unused_imports_penalty"`
	StructurePenalty     int           `mapstructure:"structure_penalty"`
	NodeModulesLimitMB   int64         `mapstructure:"node_modules_limit_mb"`
	StaleFileCount       int           `mapstructure:"stale_file_count"`
	StaleFileAge         time.Duration `mapstructure:"stale_file_age"`
	LogRetention         time.Duration `mapstructure:"log_retention"`
}

// Safety holds the switches consulted by the safety wrapper and file actions.
type Safety struct {
	BackupBeforeChanges bool     `mapstructure:"backup_before_changes"`
	RollbackOnFailure   bool     `mapstructure:"rollback_on_failure"`
	DryRun              bool     `mapstructure:"dry_run"`
	MaxFileChanges      int      `mapstructure:"max_file_changes"`
	ProtectedFiles      []string `mapstructure:"protected_files"`
	Allowlist           []string `mapstructure:"allowlist"`
}

// Retention bounds how many snapshots stay on disk.
type Retention struct {
	KeepLast int           `mapstructure:"keep_last"`
	MaxAge   time.Duration `mapstructure:"max_age"`
}

// Steps holds step runner defaults.
type Steps struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// Imports selects the unused-import analyzer: "treesitter" or "heuristic".
type Imports struct {
	Analyzer string `mapstructure:"analyzer"`
}

// Output defines console preferences.
type Output struct {
	Color bool `mapstructure:"color"`
}

// Log configures the structured run log.
type Log struct {
	Path  string `mapstructure:"path"`
	Level string `mapstructure:"level"`
}

// Metrics configures the Prometheus textfile.
type Metrics struct {
	Textfile string `mapstructure:"textfile"`
}

// History configures the SQLite run history.
type History struct {
	DB string `mapstructure:"db"`
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("report_path", DefaultReportPath)
	v.SetDefault("ledger_path", DefaultLedgerPath)
	v.SetDefault("backup_dir", DefaultBackupDir)
	v.SetDefault("lock_path", DefaultLockPath)
	v.SetDefault("strategies_file", DefaultStrategiesFile)

	v.SetDefault("thresholds.rapid_commit_count", DefaultRapidCommitCount)
	v.SetDefault("thresholds.rapid_commit_window", DefaultRapidCommitWindow)
	v.SetDefault("thresholds.maintenance_interval", DefaultMaintenanceInterval)
	v.SetDefault("thresholds.unused_file_threshold", DefaultUnusedFileThreshold)
	v.SetDefault("thresholds.unused_files_penalty", DefaultUnusedFilesPenalty)
	v.SetDefault("thresholds.unused_imports_penalty", DefaultUnusedImportsPenalty)
	v.SetDefault("thresholds.structure_penalty", DefaultStructurePenalty)
	v.SetDefault("thresholds.node_modules_limit_mb", DefaultNodeModulesLimitMB)
	v.SetDefault("thresholds.stale_file_count", DefaultStaleFileCount)
	v.SetDefault("thresholds.stale_file_age", DefaultStaleFileAge)
	v.SetDefault("thresholds.log_retention", DefaultLogRetention)

	v.SetDefault("safety.backup_before_changes", DefaultSafety.BackupBeforeChanges)
	v.SetDefault("safety.rollback_on_failure", DefaultSafety.RollbackOnFailure)
	v.SetDefault("safety.dry_run", DefaultSafety.DryRun)
	v.SetDefault("safety.max_file_changes", DefaultSafety.MaxFileChanges)
	v.SetDefault("safety.protected_files", DefaultProtectedFiles)
	v.SetDefault("safety.allowlist", DefaultAllowlist)

	v.SetDefault("retention.keep_last", DefaultKeepLast)
	v.SetDefault("retention.max_age", time.Duration(0))

	v.SetDefault("steps.default_timeout", DefaultStepTimeout)
	v.SetDefault("imports.analyzer", "treesitter")
	v.SetDefault("output.color", DefaultOutput.Color)
	v.SetDefault("log.path", DefaultLogPath)
	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.textfile", DefaultMetricsPath)
	v.SetDefault("history.db", DefaultHistoryDB)
}

// Load reads configuration for the working tree at workDir. When cfgFile is
// empty, .ciwarden.yaml in workDir is tried first, then
// ~/.config/ciwarden/config.yaml.
// A missing file is not an error. CIWARDEN_* environment variables override
// file values (e.g. CIWARDEN_SAFETY_DRY_RUN=true).
func Load(cfgFile, workDir string) (Config, error) {
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("resolving working directory: %w", err)
		}
		workDir = wd
	}
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return Config{}, fmt.Errorf("resolving %s: %w", workDir, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CIWARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile == "" {
		cfgFile = filepath.Join(abs, DefaultConfigName+".yaml")
		if _, err := os.Stat(cfgFile); err != nil {
			cfgFile = filepath.Join(DefaultConfigDir, "config.yaml")
		}
	}
	v.SetConfigFile(expandPath(cfgFile))
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; defaults apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	cfg.WorkDir = abs

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the built-in configuration for workDir without reading
// any file or environment.
func Default(workDir string) Config {
	return Config{
		WorkDir:        workDir,
		ReportPath:     DefaultReportPath,
		LedgerPath:     DefaultLedgerPath,
		BackupDir:      DefaultBackupDir,
		LockPath:       DefaultLockPath,
		StrategiesFile: DefaultStrategiesFile,
		Thresholds: Thresholds{
			RapidCommitCount:     DefaultRapidCommitCount,
			RapidCommitWindow:    DefaultRapidCommitWindow,
			MaintenanceInterval:  DefaultMaintenanceInterval,
			UnusedFileThreshold:  DefaultUnusedFileThreshold,
			UnusedFilesPenalty:   DefaultUnusedFilesPenalty,
			UnusedImportsPenalty: DefaultUnusedImportsPenalty,
			StructurePenalty:     DefaultStructurePenalty,
			NodeModulesLimitMB:   DefaultNodeModulesLimitMB,
			StaleFileCount:       DefaultStaleFileCount,
			StaleFileAge:         DefaultStaleFileAge,
			LogRetention:         DefaultLogRetention,
		},
		Safety: Safety{
			BackupBeforeChanges: DefaultSafety.BackupBeforeChanges,
			RollbackOnFailure:   DefaultSafety.RollbackOnFailure,
			DryRun:              DefaultSafety.DryRun,
			MaxFileChanges:      DefaultSafety.MaxFileChanges,
			ProtectedFiles:      slices.Clone(DefaultProtectedFiles),
			Allowlist:           slices.Clone(DefaultAllowlist),
		},
		Retention: Retention{KeepLast: DefaultKeepLast},
		Steps:     Steps{DefaultTimeout: DefaultStepTimeout},
		Imports:   Imports{Analyzer: "treesitter"},
		Output:    DefaultOutput,
		Log:       Log{Path: DefaultLogPath, Level: "info"},
		Metrics:   Metrics{Textfile: DefaultMetricsPath},
		History:   History{DB: DefaultHistoryDB},
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Thresholds.RapidCommitCount < 2 {
		return fmt.Errorf("thresholds.rapid_commit_count must be at least 2, got %d", c.Thresholds.RapidCommitCount)
	}
	if c.Thresholds.MaintenanceInterval <= 0 {
		return fmt.Errorf("thresholds.maintenance_interval must be positive")
	}
	if c.Retention.KeepLast < 1 {
		return fmt.Errorf("retention.keep_last must be at least 1, got %d", c.Retention.KeepLast)
	}
	switch c.Imports.Analyzer {
	case "treesitter", "heuristic":
	default:
		return fmt.Errorf("imports.analyzer must be treesitter or heuristic, got %q", c.Imports.Analyzer)
	}
	for _, p := range c.Safety.Allowlist {
		clean := filepath.Clean(p)
		if filepath.IsAbs(p) || clean == "." || strings.HasPrefix(clean, "..") {
			return fmt.Errorf("safety.allowlist entry %q must be a path inside the working tree", p)
		}
	}
	return nil
}

// Path resolves a tree-relative path against WorkDir. Absolute paths are
// returned unchanged.
func (c Config) Path(rel string) string {
	rel = expandPath(rel)
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(c.WorkDir, rel)
}

// IsProtected reports whether the tree-relative path is a protected file.
func (c Config) IsProtected(rel string) bool {
	rel = filepath.ToSlash(filepath.Clean(rel))
	for _, p := range c.Safety.ProtectedFiles {
		if filepath.ToSlash(filepath.Clean(p)) == rel {
			return true
		}
	}
	return false
}
