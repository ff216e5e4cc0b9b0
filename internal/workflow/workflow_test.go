package workflow

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/blackwell-systems/ciwarden/internal/config"
	"github.com/blackwell-systems/ciwarden/internal/ledger"
	"github.com/blackwell-systems/ciwarden/internal/lock"
	"github.com/blackwell-systems/ciwarden/internal/logging"
	"github.com/blackwell-systems/ciwarden/internal/pipeline"
	"github.com/blackwell-systems/ciwarden/internal/runner"
	"github.com/blackwell-systems/ciwarden/internal/safety"
	"github.com/blackwell-systems/ciwarden/internal/scenario"
	"github.com/blackwell-systems/ciwarden/internal/store"
)

// probeCommands is how many check commands every probe issues.
const probeCommands = 4

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func writeFile(t *testing.T, root, rel, body string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
}

// validated marks the tree as past its first run.
func validated(t *testing.T, dir string) {
	writeFile(t, dir, config.DefaultReportPath, "{}")
}

// writeLedger stores a ledger entry aged by age.
func writeLedger(t *testing.T, dir string, age time.Duration) {
	t.Helper()
	data, err := json.Marshal(ledger.Entry{
		Timestamp: time.Now().Add(-age).UTC(),
		Scenario:  scenario.Incremental,
		Strategy:  scenario.StrategyTargeted,
	})
	require.NoError(t, err)
	writeFile(t, dir, config.DefaultLedgerPath, string(data))
}

func newWorkflow(t *testing.T, dir string, rec *runner.Recorder, mutate func(*config.Config)) (*Workflow, *store.DB) {
	t.Helper()
	cfg := config.Default(dir)
	if mutate != nil {
		mutate(&cfg)
	}
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	w, err := New(Options{Config: cfg, Runner: rec, History: db})
	require.NoError(t, err)
	return w, db
}

// strategyLines drops the probe's check commands.
func strategyLines(rec *runner.Recorder) []string {
	lines := rec.Lines()
	if len(lines) < probeCommands {
		return nil
	}
	return lines[probeCommands:]
}

// ---------------------------------------------------------------------------
// End-to-end scenarios
// ---------------------------------------------------------------------------

func TestRun_EmptyRepoRunsComprehensive(t *testing.T) {
	dir := t.TempDir()
	rec := runner.NewRecorder()
	w, db := newWorkflow(t, dir, rec, nil)

	out, err := w.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, scenario.FirstRun, out.Scenario.Key)
	assert.Equal(t, scenario.StrategyComprehensive, out.Report.Strategy)
	assert.True(t, out.Success())
	assert.Equal(t, []string{"npm run test:unit", "npx playwright test --reporter=html"}, strategyLines(rec))
	assert.FileExists(t, filepath.Join(dir, filepath.FromSlash(pipeline.E2ESpecPath)))

	entry, err := ledger.New(filepath.Join(dir, config.DefaultLedgerPath)).Read()
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, scenario.FirstRun, entry.Scenario)
	assert.Equal(t, scenario.StrategyComprehensive, entry.Strategy)

	runs, err := db.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, out.RunID, runs[0].ID)
	assert.True(t, runs[0].Success)

	assert.FileExists(t, filepath.Join(dir, config.DefaultMetricsPath))
	assert.NoFileExists(t, filepath.Join(dir, config.DefaultLockPath), "lease released")

	data, err := os.ReadFile(filepath.Join(dir, config.DefaultReportPath))
	require.NoError(t, err)
	var report ValidationReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, out.RunID, report.RunID)
	assert.Equal(t, string(scenario.StrategyComprehensive), report.Strategy)
	assert.Equal(t, StatusPassed, report.Summary.OverallStatus)

	// The report ends the first-run phase.
	again, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, scenario.FirstRun, again.Scenario.Key)
}

func TestRun_ComprehensiveReportCarriesWarnings(t *testing.T) {
	dir := t.TempDir()
	rec := runner.NewRecorder().Fail("npm run test:unit", 1, "1 failing")
	w, _ := newWorkflow(t, dir, rec, nil)

	out, err := w.Run(context.Background())
	require.NoError(t, err)
	require.True(t, out.Success())

	data, err := os.ReadFile(filepath.Join(dir, config.DefaultReportPath))
	require.NoError(t, err)
	var report ValidationReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, StatusWithWarnings, report.Summary.OverallStatus)
	require.Len(t, report.Summary.Warnings, 1)
	assert.Contains(t, report.Summary.Warnings[0], "unit tests")
}

func TestRun_FailedComprehensiveWritesNoReport(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", `{"devDependencies":{"supawright":"^1.0.0"}}`)
	rec := runner.NewRecorder().Fail("npx supawright test", 1, "db unreachable")
	w, _ := newWorkflow(t, dir, rec, nil)

	out, err := w.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, scenario.FirstRun, out.Scenario.Key)
	assert.False(t, out.Success())
	assert.NoFileExists(t, filepath.Join(dir, config.DefaultReportPath))
}

func TestWriteValidationReport_KeepsExisting(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, config.DefaultReportPath, `{"source":"ci"}`)
	path := filepath.Join(dir, config.DefaultReportPath)

	wrote, err := writeValidationReport(path, ValidationReport{RunID: "r1"})
	require.NoError(t, err)
	assert.False(t, wrote)
	data, _ := os.ReadFile(path)
	assert.Equal(t, `{"source":"ci"}`, string(data))
}

func TestRun_TypeScriptErrorsRunEmergencyFixInOrder(t *testing.T) {
	dir := t.TempDir()
	validated(t, dir)
	rec := runner.NewRecorder()
	// The probe's type check fails; once lint:fix has run it passes.
	rec.On("npm run type:check", runner.Response{
		ExitCode: 2,
		Output:   "src/a.ts(3,7): error TS2322",
		Hook: func(string) {
			rec.On("npm run type:check", runner.Response{})
		},
	})
	w, _ := newWorkflow(t, dir, rec, nil)

	out, err := w.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"typescript-errors"}, out.State.CriticalIssues)
	assert.Equal(t, scenario.Emergency, out.Scenario.Key)
	assert.Equal(t, scenario.StrategyEmergencyFix, out.Report.Strategy)
	assert.Equal(t, []string{"npm run lint:fix", "npm run type:check", "npm run build"}, strategyLines(rec))
	assert.True(t, out.Success())
}

func TestRun_StaleLedgerRunsMaintenance(t *testing.T) {
	dir := t.TempDir()
	validated(t, dir)
	writeLedger(t, dir, 30*time.Hour)
	rec := runner.NewRecorder()
	w, _ := newWorkflow(t, dir, rec, nil)

	out, err := w.Run(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 30, out.State.HoursSinceMaintenance, 0.1)
	assert.Equal(t, scenario.Maintenance, out.Scenario.Key)
	assert.Equal(t, scenario.StrategyMaintenance, out.Report.Strategy)
	assert.Equal(t, []string{"npm update", "npm audit fix", "npm run build"}, strategyLines(rec))

	// The ledger was rewritten by the successful run.
	age := ledger.New(filepath.Join(dir, config.DefaultLedgerPath)).LastRunAgeHours()
	assert.Less(t, age, 1.0)
}

func TestRun_FreshLedgerRunsIncremental(t *testing.T) {
	dir := t.TempDir()
	validated(t, dir)
	writeLedger(t, dir, 2*time.Hour)
	rec := runner.NewRecorder()
	w, _ := newWorkflow(t, dir, rec, nil)

	out, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, scenario.Incremental, out.Scenario.Key)
	assert.Empty(t, strategyLines(rec), "no modules affected, every targeted step skipped")
	assert.True(t, out.Success())
}

func TestRun_CleanupClearsWhatItDetected(t *testing.T) {
	dir := t.TempDir()
	validated(t, dir)
	writeLedger(t, dir, time.Hour)
	writeFile(t, dir, "dist/app.js", "x")
	writeFile(t, dir, "packages/ui/dist/index.js", "x")
	w, _ := newWorkflow(t, dir, runner.NewRecorder(), nil)

	first, err := w.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, scenario.Cleanup, first.Scenario.Key)
	assert.Equal(t, []string{"build output: dist"}, first.State.CleanupReasons)
	assert.True(t, first.Success())

	a, err := w.Assess(context.Background())
	require.NoError(t, err)
	assert.False(t, a.State.NeedsCleanup)

	second, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, scenario.Incremental, second.Scenario.Key)
	assert.FileExists(t, filepath.Join(dir, "packages/ui/dist/index.js"))
}

// ---------------------------------------------------------------------------
// Failure paths
// ---------------------------------------------------------------------------

func TestRun_FailedStrategyRollsBack(t *testing.T) {
	dir := t.TempDir()
	validated(t, dir)
	writeLedger(t, dir, 30*time.Hour)
	writeFile(t, dir, "package.json", `{"name":"app","version":"1.0.0"}`)
	rec := runner.NewRecorder()
	rec.On("npm update", runner.Response{Hook: func(dir string) {
		_ = os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"broken":true}`), 0o644)
	}})
	rec.Fail("npm audit fix", 1, "fix available via `npm audit fix --force`")
	w, db := newWorkflow(t, dir, rec, nil)

	out, err := w.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, out.Success())
	assert.True(t, out.Safety.RolledBack)
	assert.ErrorIs(t, out.Safety.Err, pipeline.ErrStepFailed)
	assert.Equal(t, []string{"npm update", "npm audit fix"}, strategyLines(rec))

	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"name":"app","version":"1.0.0"}`, string(data))

	age := ledger.New(filepath.Join(dir, config.DefaultLedgerPath)).LastRunAgeHours()
	assert.InDelta(t, 30, age, 0.1, "failed run leaves the ledger alone")

	run, err := db.GetRun(out.RunID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.False(t, run.Success)
	assert.True(t, run.RolledBack)
	assert.Len(t, run.Steps, 2)
	assert.Equal(t, 1, run.Steps[1].ExitCode)
}

func TestRun_SnapshotFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, config.DefaultBackupDir, "not a directory")
	rec := runner.NewRecorder()
	w, db := newWorkflow(t, dir, rec, nil)

	out, err := w.Run(context.Background())
	require.ErrorIs(t, err, safety.ErrSnapshot)
	require.NotNil(t, out)
	assert.Empty(t, strategyLines(rec))

	runs, err := db.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.False(t, runs[0].Success)
}

func TestRun_LockedTree(t *testing.T) {
	dir := t.TempDir()
	rec := runner.NewRecorder()
	w, _ := newWorkflow(t, dir, rec, nil)

	lease, err := lock.Acquire(filepath.Join(dir, config.DefaultLockPath))
	require.NoError(t, err)
	defer lease.Release()

	_, err = w.Run(context.Background())
	require.ErrorIs(t, err, lock.ErrLocked)
	assert.Empty(t, rec.Calls(), "nothing probed while locked")
}

func TestRun_DryRun(t *testing.T) {
	dir := t.TempDir()
	rec := runner.NewRecorder()
	w, db := newWorkflow(t, dir, rec, func(c *config.Config) { c.Safety.DryRun = true })

	out, err := w.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, out.Safety.DryRun)
	assert.True(t, out.Report.DryRun)
	assert.NotEmpty(t, out.Report.Steps)
	assert.Empty(t, strategyLines(rec))
	assert.NoFileExists(t, filepath.Join(dir, config.DefaultLedgerPath))
	assert.NoDirExists(t, filepath.Join(dir, config.DefaultBackupDir))
	assert.NoFileExists(t, filepath.Join(dir, filepath.FromSlash(pipeline.E2ESpecPath)))

	runs, err := db.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].DryRun)
}

// ---------------------------------------------------------------------------
// Assess and logging
// ---------------------------------------------------------------------------

func TestAssess_DoesNotRecord(t *testing.T) {
	dir := t.TempDir()
	validated(t, dir)
	writeFile(t, dir, "dist/app.js", "x")
	rec := runner.NewRecorder()
	w, db := newWorkflow(t, dir, rec, nil)

	a, err := w.Assess(context.Background())
	require.NoError(t, err)
	assert.Equal(t, scenario.Cleanup, a.Scenario.Key)
	assert.Contains(t, a.Reason, "build output: dist")
	require.Len(t, a.Steps, 2)
	assert.Len(t, rec.Lines(), probeCommands)
	assert.DirExists(t, filepath.Join(dir, "dist"))

	runs, err := db.ListRuns(0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRun_LogsCarryRunFields(t *testing.T) {
	dir := t.TempDir()
	logger, logs := logging.NewObserved()
	cfg := config.Default(dir)
	w, err := New(Options{Config: cfg, Runner: runner.NewRecorder(), Logger: logger})
	require.NoError(t, err)

	out, err := w.Run(context.Background())
	require.NoError(t, err)

	selected := logs.FilterMessage("scenario selected").All()
	require.Len(t, selected, 1)
	fields := selected[0].ContextMap()
	assert.Equal(t, out.RunID, fields[logging.KeyRunID])
	assert.Equal(t, string(scenario.FirstRun), fields[logging.KeyScenario])

	steps := logs.FilterField(zapcore.Field{Key: logging.KeyStep, Type: zapcore.StringType, String: "unit tests"}).All()
	assert.NotEmpty(t, steps)
}

func TestNew_RejectsBadStrategiesFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, config.DefaultStrategiesFile, "strategies:\n  x:\n    - name: a\n      action: nope\n")
	_, err := New(Options{Config: config.Default(dir), Runner: runner.NewRecorder()})
	assert.ErrorContains(t, err, "unknown action")
}

func TestNew_RequiresRunner(t *testing.T) {
	_, err := New(Options{Config: config.Default(t.TempDir())})
	assert.Error(t, err)
}
