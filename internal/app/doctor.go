package app

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/ciwarden/internal/config"
	"github.com/blackwell-systems/ciwarden/internal/gitrepo"
	"github.com/blackwell-systems/ciwarden/internal/ledger"
	"github.com/blackwell-systems/ciwarden/internal/lock"
	"github.com/blackwell-systems/ciwarden/internal/output"
	"github.com/blackwell-systems/ciwarden/internal/pipeline"
	"github.com/blackwell-systems/ciwarden/internal/snapshot"
	"github.com/blackwell-systems/ciwarden/internal/store"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check whether the working tree is ready for ciwarden",
	Long: `Run a series of health checks against the working tree and the
ciwarden state files. Prints a pass/fail line for each check and a summary
of how many checks passed.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

// doctorCheck holds the result of a single health check.
type doctorCheck struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

// doctorOutput is the JSON-serializable result of the doctor command.
type doctorOutput struct {
	Checks      []doctorCheck `json:"checks"`
	PassedCount int           `json:"passed"`
	TotalCount  int           `json:"total"`
}

// lookPath is replaced in tests.
var lookPath = exec.LookPath

func runDoctor(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, false)
	if err != nil {
		return err
	}
	defer s.Close()

	checks := doctorChecks(s.cfg)
	passed := 0
	for _, c := range checks {
		if c.Passed {
			passed++
		}
	}

	if flagJSON {
		return writeJSON(s.out.Writer(), doctorOutput{
			Checks:      checks,
			PassedCount: passed,
			TotalCount:  len(checks),
		})
	}

	s.out.Println(output.Section("Doctor"))
	s.out.Println("")
	for _, c := range checks {
		indicator := output.StyleSuccess.Render("✓")
		if !c.Passed {
			indicator = output.StyleWarning.Render("✗")
		}
		fmt.Fprintf(s.out.Writer(), "  %s  %-30s %s\n", indicator, output.StyleBold.Render(c.Name), output.StyleMuted.Render(c.Message))
	}
	s.out.Println("")
	summary := fmt.Sprintf("%d/%d checks passed", passed, len(checks))
	if passed == len(checks) {
		fmt.Fprintf(s.out.Writer(), " %s\n\n", output.StyleSuccess.Render(summary))
	} else {
		fmt.Fprintf(s.out.Writer(), " %s\n\n", output.StyleWarning.Render(summary))
	}
	return nil
}

func doctorChecks(cfg config.Config) []doctorCheck {
	return []doctorCheck{
		checkGitRepo(cfg.WorkDir),
		checkTool("npm"),
		checkTool("npx"),
		checkPackageJSON(cfg.WorkDir),
		checkNodeModules(cfg.WorkDir),
		checkStrategies(cfg),
		checkLedger(cfg),
		checkLock(cfg),
		checkBackups(cfg),
		checkHistory(cfg),
	}
}

func checkGitRepo(dir string) doctorCheck {
	c := doctorCheck{Name: "Git repository"}
	repo, err := gitrepo.Open(dir)
	if err != nil {
		c.Message = err.Error()
		return c
	}
	c.Passed = true
	c.Message = "branch " + orDash(repo.Branch())
	return c
}

func checkTool(name string) doctorCheck {
	c := doctorCheck{Name: name + " on PATH"}
	path, err := lookPath(name)
	if err != nil {
		c.Message = "not found"
		return c
	}
	c.Passed = true
	c.Message = path
	return c
}

func checkPackageJSON(dir string) doctorCheck {
	c := doctorCheck{Name: "package.json"}
	if _, err := os.Stat(filepath.Join(dir, "package.json")); err != nil {
		c.Message = "missing; check commands will fail"
		return c
	}
	c.Passed = true
	c.Message = "present"
	return c
}

func checkNodeModules(dir string) doctorCheck {
	c := doctorCheck{Name: "node_modules"}
	info, err := os.Stat(filepath.Join(dir, "node_modules"))
	if err != nil || !info.IsDir() {
		c.Message = "not installed; run npm install"
		return c
	}
	c.Passed = true
	c.Message = "installed"
	return c
}

func checkStrategies(cfg config.Config) doctorCheck {
	c := doctorCheck{Name: "Strategies"}
	catalog, err := pipeline.LoadFile(cfg.Path(cfg.StrategiesFile))
	if err != nil {
		c.Message = err.Error()
		return c
	}
	c.Passed = true
	c.Message = fmt.Sprintf("%d strategies", len(catalog))
	return c
}

func checkLedger(cfg config.Config) doctorCheck {
	c := doctorCheck{Name: "Maintenance ledger"}
	entry, err := ledger.New(cfg.Path(cfg.LedgerPath)).Read()
	switch {
	case err != nil:
		c.Message = err.Error()
	case entry == nil:
		c.Passed = true
		c.Message = "no run recorded yet"
	default:
		c.Passed = true
		c.Message = fmt.Sprintf("%s, %s", entry.Scenario, output.Ago(entry.Timestamp))
	}
	return c
}

func checkLock(cfg config.Config) doctorCheck {
	c := doctorCheck{Name: "Run lock"}
	holder, held, err := lock.Held(cfg.Path(cfg.LockPath))
	switch {
	case err != nil:
		c.Message = err.Error()
	case held:
		c.Message = fmt.Sprintf("held by PID %d", holder.PID)
	case holder.PID != 0:
		c.Passed = true
		c.Message = fmt.Sprintf("left by PID %d, will be reused", holder.PID)
	default:
		c.Passed = true
		c.Message = "free"
	}
	return c
}

func checkBackups(cfg config.Config) doctorCheck {
	c := doctorCheck{Name: "Snapshots"}
	list, err := snapshot.ForConfig(cfg).List()
	if err != nil {
		c.Message = err.Error()
		return c
	}
	broken := 0
	for _, m := range list {
		if m.Broken != "" {
			broken++
		}
	}
	if broken > 0 {
		c.Message = fmt.Sprintf("%d of %d unreadable", broken, len(list))
		return c
	}
	c.Passed = true
	c.Message = fmt.Sprintf("%d stored (keep_last %d)", len(list), cfg.Retention.KeepLast)
	return c
}

func checkHistory(cfg config.Config) doctorCheck {
	c := doctorCheck{Name: "History database"}
	if cfg.History.DB == "" {
		c.Passed = true
		c.Message = "disabled"
		return c
	}
	path := cfg.Path(cfg.History.DB)
	if _, err := os.Stat(path); err != nil {
		c.Passed = true
		c.Message = "not created yet"
		return c
	}
	db, err := store.Open(path)
	if err != nil {
		c.Message = err.Error()
		return c
	}
	defer db.Close()
	runs, err := db.ListRuns(0)
	if err != nil {
		c.Message = err.Error()
		return c
	}
	c.Passed = true
	c.Message = fmt.Sprintf("%d runs", len(runs))
	return c
}
