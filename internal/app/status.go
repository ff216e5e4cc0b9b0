package app

import (
	"github.com/spf13/cobra"

	"github.com/blackwell-systems/ciwarden/internal/workflow"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe the working tree and show the scenario it selects",
	Long: `Run the read-only checks (type check, build, audit, lint) and print the
resulting working tree state together with the scenario a full cycle would
select. Nothing is snapshotted, changed or recorded.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAssess(cmd, false)
	},
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the selected strategy's steps without running them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAssess(cmd, true)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, planCmd)
}

// assessOutput adds the ledger age, which State leaves out of its JSON.
type assessOutput struct {
	workflow.Assessment
	HoursSinceMaintenance *float64 `json:"hours_since_maintenance"`
}

func runAssess(cmd *cobra.Command, withSteps bool) error {
	s, err := openSession(cmd, false)
	if err != nil {
		return err
	}
	defer s.Close()

	wf, err := s.workflow(false)
	if err != nil {
		return err
	}
	a, err := wf.Assess(cmd.Context())
	if err != nil {
		return err
	}

	if flagJSON {
		if !withSteps {
			a.Steps = nil
		}
		return writeJSON(s.out.Writer(), assessOutput{Assessment: a, HoursSinceMaintenance: a.State.HoursOrNil()})
	}

	if withSteps {
		renderAssessment(s.out, a)
		renderPlan(s.out, a.Steps)
		return nil
	}
	renderState(s.out, a.State)
	renderAssessment(s.out, a)
	return nil
}

