package safety

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/ciwarden/internal/config"
	"github.com/blackwell-systems/ciwarden/internal/ledger"
	"github.com/blackwell-systems/ciwarden/internal/project"
	"github.com/blackwell-systems/ciwarden/internal/scenario"
	"github.com/blackwell-systems/ciwarden/internal/snapshot"
)

type fixture struct {
	dir    string
	cfg    config.Config
	snaps  *snapshot.Store
	ledger *ledger.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default(dir)
	files := map[string]string{
		"package.json":       `{"name":"app"}`,
		"src/index.ts":       "export const a = 1;\n",
		"src/deep/util.ts":   "export const u = 2;\n",
		"components/Nav.tsx": "export {}\n",
	}
	for rel, body := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	return &fixture{
		dir:    dir,
		cfg:    cfg,
		snaps:  snapshot.ForConfig(cfg),
		ledger: ledger.New(cfg.Path(cfg.LedgerPath)),
	}
}

func (f *fixture) wrapper(mutate func(*config.Safety)) *Wrapper {
	flags := f.cfg.Safety
	if mutate != nil {
		mutate(&flags)
	}
	return New(flags, f.snaps, f.ledger, nil)
}

// treeContents reads every file under the allowlisted roots.
func (f *fixture) treeContents(t *testing.T) map[string]string {
	t.Helper()
	out := map[string]string{}
	for _, root := range f.cfg.Safety.Allowlist {
		base := filepath.Join(f.dir, root)
		_ = filepath.WalkDir(base, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			data, rerr := os.ReadFile(path)
			require.NoError(t, rerr)
			rel, _ := filepath.Rel(f.dir, path)
			out[filepath.ToSlash(rel)] = string(data)
			return nil
		})
	}
	return out
}

// mutateTree edits, deletes and creates files inside allowlisted roots.
func (f *fixture) mutateTree(t *testing.T) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "package.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "src/index.ts"), []byte("broken"), 0o644))
	require.NoError(t, os.Remove(filepath.Join(f.dir, "src/deep/util.ts")))
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "src/new.ts"), []byte("new"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(f.dir, "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "lib/created.ts"), []byte("x"), 0o644))
	require.NoError(t, os.RemoveAll(filepath.Join(f.dir, "components")))
}

var errBoom = errors.New("boom")

// ---------------------------------------------------------------------------
// RunSafely
// ---------------------------------------------------------------------------

func TestRunSafely_RollbackRestoresTreeExactly(t *testing.T) {
	f := newFixture(t)
	before := f.treeContents(t)

	res, err := f.wrapper(nil).RunSafely(context.Background(), scenario.MustGet(scenario.CodeOrganization), project.State{},
		func(context.Context) error {
			f.mutateTree(t)
			return errBoom
		})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "boom", res.Error)
	assert.ErrorIs(t, res.Err, errBoom)
	assert.True(t, res.RolledBack)
	assert.Empty(t, res.RollbackError)
	assert.NotEmpty(t, res.SnapshotID)

	assert.Equal(t, before, f.treeContents(t))
	assert.NoDirExists(t, filepath.Join(f.dir, "lib"))
	assert.True(t, math.IsInf(f.ledger.LastRunAgeHours(), 1), "failed run must not touch the ledger")
}

func TestRunSafely_SuccessRecordsLedger(t *testing.T) {
	f := newFixture(t)
	called := false

	res, err := f.wrapper(nil).RunSafely(context.Background(), scenario.MustGet(scenario.Maintenance), project.State{},
		func(context.Context) error {
			called = true
			return nil
		})
	require.NoError(t, err)
	assert.True(t, called)
	assert.True(t, res.Success)
	assert.False(t, res.RolledBack)

	entry, err := f.ledger.Read()
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, scenario.Maintenance, entry.Scenario)
	assert.Equal(t, scenario.StrategyMaintenance, entry.Strategy)
}

func TestRunSafely_SnapshotFailureAborts(t *testing.T) {
	f := newFixture(t)
	// A file where the backup directory should be.
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "backups"), []byte("x"), 0o644))
	called := false

	res, err := f.wrapper(nil).RunSafely(context.Background(), scenario.MustGet(scenario.Cleanup), project.State{},
		func(context.Context) error {
			called = true
			return nil
		})
	require.ErrorIs(t, err, ErrSnapshot)
	assert.False(t, called)
	assert.False(t, res.Success)
	assert.True(t, math.IsInf(f.ledger.LastRunAgeHours(), 1))
}

func TestRunSafely_RollbackDisabled(t *testing.T) {
	f := newFixture(t)
	res, err := f.wrapper(func(s *config.Safety) { s.RollbackOnFailure = false }).
		RunSafely(context.Background(), scenario.MustGet(scenario.Emergency), project.State{},
			func(context.Context) error {
				f.mutateTree(t)
				return errBoom
			})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.False(t, res.RolledBack)
	assert.FileExists(t, filepath.Join(f.dir, "lib/created.ts"))
}

func TestRunSafely_NoBackupCannotRollBack(t *testing.T) {
	f := newFixture(t)
	res, err := f.wrapper(func(s *config.Safety) { s.BackupBeforeChanges = false }).
		RunSafely(context.Background(), scenario.MustGet(scenario.Emergency), project.State{},
			func(context.Context) error { return errBoom })
	require.NoError(t, err)
	assert.Empty(t, res.SnapshotID)
	assert.False(t, res.RolledBack)
	assert.NotEmpty(t, res.RollbackError)
	assert.NoDirExists(t, filepath.Join(f.dir, "backups"))
}

func TestRunSafely_CorruptSnapshotReportedNotPanicking(t *testing.T) {
	f := newFixture(t)
	res, err := f.wrapper(nil).RunSafely(context.Background(), scenario.MustGet(scenario.Emergency), project.State{},
		func(context.Context) error {
			latest, lerr := f.snaps.Latest()
			require.NoError(t, lerr)
			victim := filepath.Join(f.snaps.Path(latest.ID), "src", "index.ts")
			require.NoError(t, os.WriteFile(victim, []byte("tampered"), 0o644))
			require.NoError(t, os.WriteFile(filepath.Join(f.dir, "src/index.ts"), []byte("changed"), 0o644))
			return errBoom
		})
	require.NoError(t, err)
	assert.False(t, res.RolledBack)
	assert.Contains(t, res.RollbackError, snapshot.ErrCorrupt.Error())

	got, _ := os.ReadFile(filepath.Join(f.dir, "src/index.ts"))
	assert.Equal(t, "changed", string(got))
}

func TestRunSafely_CanceledRunStillRollsBack(t *testing.T) {
	f := newFixture(t)
	before := f.treeContents(t)
	ctx, cancel := context.WithCancel(context.Background())

	res, err := f.wrapper(nil).RunSafely(ctx, scenario.MustGet(scenario.Emergency), project.State{},
		func(ctx context.Context) error {
			f.mutateTree(t)
			cancel()
			return ctx.Err()
		})
	require.NoError(t, err)
	assert.True(t, res.RolledBack)
	assert.Equal(t, before, f.treeContents(t))
}

func TestRunSafely_DryRun(t *testing.T) {
	f := newFixture(t)
	called := false

	res, err := f.wrapper(func(s *config.Safety) { s.DryRun = true }).
		RunSafely(context.Background(), scenario.MustGet(scenario.FirstRun), project.State{},
			func(context.Context) error {
				called = true
				return nil
			})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.DryRun)
	assert.False(t, called)
	assert.NoDirExists(t, filepath.Join(f.dir, "backups"))
	assert.NoFileExists(t, f.ledger.Path())
}
