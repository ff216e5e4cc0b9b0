package app

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/ciwarden/internal/output"
	"github.com/blackwell-systems/ciwarden/internal/store"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent maintenance runs",
	Long: `List the runs recorded in the history database, newest first, followed
by per-scenario totals.

Examples:
  ciwarden history              # last 20 runs
  ciwarden history --limit 0    # every run
  ciwarden history --json`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of runs to show (0 for all)")
	rootCmd.AddCommand(historyCmd)
}

// historyOutput is the JSON-serializable result of the history command.
type historyOutput struct {
	Runs   []store.Run           `json:"runs"`
	Totals []store.ScenarioCount `json:"totals"`
}

func runHistory(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, true)
	if err != nil {
		return err
	}
	defer s.Close()
	if s.history == nil {
		return errors.New("history is disabled (history.db is empty)")
	}

	runs, err := s.history.ListRuns(historyLimit)
	if err != nil {
		return err
	}
	totals, err := s.history.CountByScenario()
	if err != nil {
		return err
	}

	if flagJSON {
		out := historyOutput{Runs: runs, Totals: totals}
		if out.Runs == nil {
			out.Runs = []store.Run{}
		}
		if out.Totals == nil {
			out.Totals = []store.ScenarioCount{}
		}
		return writeJSON(s.out.Writer(), out)
	}

	if len(runs) == 0 {
		s.out.Info("no runs recorded yet. Run 'ciwarden' to start.")
		return nil
	}

	s.out.Println(output.Section("Runs"))
	t := output.NewTable("STARTED", "SCENARIO", "STRATEGY", "RESULT", "STEPS", "DURATION")
	for _, r := range runs {
		t.AddRow(output.Ago(r.StartedAt), r.Scenario, r.Strategy, runResult(r), fmt.Sprintf("%d", len(r.Steps)), output.Duration(r.Duration()))
	}
	t.Fprint(s.out.Writer())

	s.out.Println(output.Section("Totals"))
	tt := output.NewTable("SCENARIO", "RUNS", "FAILURES")
	for _, c := range totals {
		tt.AddRow(c.Scenario, fmt.Sprintf("%d", c.Runs), fmt.Sprintf("%d", c.Failures))
	}
	tt.Fprint(s.out.Writer())
	return nil
}

func runResult(r store.Run) string {
	switch {
	case r.DryRun:
		return output.StyleMuted.Render("dry run")
	case r.Success:
		return output.StyleSuccess.Render("ok")
	case r.RolledBack:
		return output.StyleWarning.Render("rolled back")
	default:
		return output.StyleError.Render("failed")
	}
}
