// Package app contains the Cobra command tree for ciwarden.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/blackwell-systems/ciwarden/internal/config"
	"github.com/blackwell-systems/ciwarden/internal/logging"
	"github.com/blackwell-systems/ciwarden/internal/output"
	"github.com/blackwell-systems/ciwarden/internal/runner"
	"github.com/blackwell-systems/ciwarden/internal/store"
	"github.com/blackwell-systems/ciwarden/internal/workflow"
)

var appVersion = "dev"

// SetVersion sets the application version (called from main with ldflags value).
func SetVersion(v string) {
	appVersion = v
	rootCmd.Version = v
}

// errRunFailed makes the process exit non-zero after a reported run whose
// strategy failed. Only returned with --fail-on-error.
var errRunFailed = errors.New("maintenance run failed")

var (
	flagNoColor bool
	flagJSON    bool
	flagVerbose bool
	flagConfig  string
	flagDir     string
	flagDryRun  bool

	flagFailOnError bool
)

// newRunner is replaced in tests.
var newRunner = func() runner.Runner { return runner.NewExec() }

var rootCmd = &cobra.Command{
	Use:   "ciwarden",
	Short: "Scenario-driven maintenance for JavaScript working trees",
	Long: `ciwarden inspects a working tree (git history, type check, build,
audit, layout, clutter), picks the maintenance scenario that fits, and runs
the matching strategy behind a snapshot that is restored if it fails.

Run 'ciwarden' with no arguments to run one full cycle in the current
directory. Use 'ciwarden plan' to see what would run.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runCycle,
}

// Execute is the entry point called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (default: ./.ciwarden.yaml, then ~/.config/ciwarden/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagDir, "dir", "", "Working tree to maintain (default: current directory)")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Output as JSON")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "Enable verbose output")
	rootCmd.Flags().BoolVar(&flagFailOnError, "fail-on-error", false, "Exit 1 when the strategy fails, even after a clean rollback")
	rootCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Probe and plan only: no strategy commands, snapshot or ledger update")
}

// session holds what a command needs for one working tree.
type session struct {
	cfg     config.Config
	log     *zap.Logger
	history *store.DB
	out     *output.Console
	closers []func() error
}

// openSession loads config and opens the run log. History is opened only
// when withHistory is set.
func openSession(cmd *cobra.Command, withHistory bool) (*session, error) {
	if f, ok := cmd.OutOrStdout().(*os.File); ok {
		output.AutoColor(f, flagNoColor)
	} else {
		output.SetNoColor(true)
	}

	cfg, err := config.Load(flagConfig, flagDir)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if flagDryRun {
		cfg.Safety.DryRun = true
	}

	s := &session{cfg: cfg, log: logging.NewNop(), out: output.NewConsole(cmd.OutOrStdout(), flagVerbose)}
	if cfg.Log.Path != "" {
		level := cfg.Log.Level
		if flagVerbose {
			level = "debug"
		}
		logger, closeFn, err := logging.NewFile(cfg.Path(cfg.Log.Path), level)
		if err != nil {
			return nil, err
		}
		s.log = logger
		s.closers = append(s.closers, closeFn)
	}
	if withHistory && cfg.History.DB != "" {
		db, err := store.Open(cfg.Path(cfg.History.DB))
		if err != nil {
			s.Close()
			return nil, err
		}
		s.history = db
		s.closers = append(s.closers, db.Close)
	}
	return s, nil
}

// Close releases the session's files in reverse order.
func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
	s.closers = nil
}

func (s *session) workflow(onStep bool) (*workflow.Workflow, error) {
	opts := workflow.Options{
		Config:  s.cfg,
		Runner:  newRunner(),
		Logger:  s.log,
		History: s.history,
	}
	if onStep && !flagJSON {
		opts.OnStep = renderStep(s.out)
	}
	return workflow.New(opts)
}

func runCycle(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, true)
	if err != nil {
		return err
	}
	defer s.Close()

	wf, err := s.workflow(true)
	if err != nil {
		return err
	}
	return cycle(cmd.Context(), s, wf)
}

// cycle runs one workflow cycle and renders its outcome. A strategy failure
// that was rolled back is a reported result, not an error.
func cycle(ctx context.Context, s *session, wf *workflow.Workflow) error {
	out, err := wf.Run(ctx)
	if out == nil {
		return err
	}
	if flagJSON {
		if encErr := writeJSON(s.out.Writer(), out); encErr != nil {
			return encErr
		}
	} else {
		renderOutcome(s.out, out)
	}
	if err != nil {
		return err
	}
	if !out.Success() && flagFailOnError {
		return errRunFailed
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
