package app

import (
	"fmt"
	"strings"

	"github.com/blackwell-systems/ciwarden/internal/output"
	"github.com/blackwell-systems/ciwarden/internal/pipeline"
	"github.com/blackwell-systems/ciwarden/internal/project"
	"github.com/blackwell-systems/ciwarden/internal/workflow"
)

// renderStep returns an OnStep callback printing one line per step.
func renderStep(c *output.Console) func(pipeline.StepResult) {
	return func(r pipeline.StepResult) {
		switch {
		case r.Skipped:
			c.Debug("%s", r)
		case r.Failed() && r.Tolerated:
			c.Warn("%s", r)
		case r.Failed():
			c.Error("%s", r)
		default:
			c.OK("%s %s", r, output.StyleMuted.Render(output.Duration(r.Duration)))
		}
	}
}

func renderState(c *output.Console, st project.State) {
	c.Println(output.Section("Working tree"))
	c.Println(output.KV("Branch", orDash(st.Branch)))
	c.Println(output.KV("First run", yesNo(st.IsFirstRun)))
	c.Println(output.KV("Last maintenance", output.Hours(st.HoursSinceMaintenance)))
	c.Println(output.KV("Recent commits", fmt.Sprintf("%d (rapid: %s)", len(st.RecentCommits), yesNo(st.RapidCommits))))
	c.Println(output.KV("Organization", fmt.Sprintf("%s  %s", st.CodeOrganization, output.ScoreBar(float64(st.OrganizationScore), 20))))
	if len(st.OrganizationIssues) > 0 {
		c.Println(output.KV("", strings.Join(st.OrganizationIssues, ", ")))
	}
	c.Println(output.KV("Needs cleanup", yesNo(st.NeedsCleanup)))
	if len(st.CleanupReasons) > 0 {
		c.Println(output.KV("", strings.Join(st.CleanupReasons, ", ")))
	}
	c.Println(output.KV("Critical issues", orDash(strings.Join(st.CriticalIssues, ", "))))
	c.Println(output.KV("Affected modules", orDash(strings.Join(st.AffectedModules, ", "))))
	c.Println(output.KV("Supawright", yesNo(st.HasSupawright)))
}

func renderAssessment(c *output.Console, a workflow.Assessment) {
	c.Println(output.Section("Scenario"))
	c.Println(output.KV("Selected", fmt.Sprintf("%s (%s)", a.Scenario.Name, a.Scenario.Key)))
	c.Println(output.KV("Strategy", string(a.Scenario.Strategy)))
	c.Println(output.KV("Priority", fmt.Sprintf("%d", a.Scenario.Priority)))
	c.Println(output.KV("Expected duration", string(a.Scenario.Duration)))
	c.Println(output.KV("Reason", a.Reason))
}

func renderPlan(c *output.Console, steps []pipeline.StepResult) {
	c.Println(output.Section("Steps"))
	t := output.NewTable("#", "STEP", "RUNS", "NOTE")
	for i, s := range steps {
		note := ""
		switch {
		case s.Skipped:
			note = output.StyleMuted.Render("skip: " + s.SkipReason)
		case s.Tolerated:
			note = "failure tolerated"
		}
		t.AddRow(fmt.Sprintf("%d", i+1), s.Name, s.Command, note)
	}
	t.Fprint(c.Writer())
}

func renderOutcome(c *output.Console, o *workflow.Outcome) {
	c.Println("")
	switch {
	case o.Safety.DryRun:
		c.Info("%s", o)
		renderPlan(c, o.Report.Steps)
		return
	case o.Success():
		c.OK("%s in %s", o, output.Duration(o.FinishedAt.Sub(o.StartedAt)))
	default:
		c.Error("%s: %s", o, o.Safety.Error)
	}
	if n := len(o.Report.Tolerated()); n > 0 {
		c.Warn("%d step(s) failed and were tolerated", n)
	}
	if o.Report.Changed > 0 {
		c.Info("%d file(s) changed", o.Report.Changed)
	}
	if o.Safety.SnapshotID != "" {
		c.Debug("snapshot %s", o.Safety.SnapshotID)
	}
	if o.Safety.RolledBack {
		c.Warn("working tree restored from %s", o.Safety.SnapshotID)
	}
	if o.Safety.RollbackError != "" {
		c.Error("rollback failed: %s", o.Safety.RollbackError)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
