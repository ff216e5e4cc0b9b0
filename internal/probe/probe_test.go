package probe

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/ciwarden/internal/config"
	"github.com/blackwell-systems/ciwarden/internal/ledger"
	"github.com/blackwell-systems/ciwarden/internal/project"
	"github.com/blackwell-systems/ciwarden/internal/runner"
	"github.com/blackwell-systems/ciwarden/internal/scenario"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func writeFile(t *testing.T, root, rel, body string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
}

func newProber(t *testing.T, dir string, rec *runner.Recorder) (*Prober, *ledger.Ledger) {
	t.Helper()
	cfg := config.Default(dir)
	l := ledger.New(cfg.Path(cfg.LedgerPath))
	return New(cfg, rec, l, nil), l
}

// markValidated writes the validation report so the tree is not a first run.
func markValidated(t *testing.T, dir string) {
	writeFile(t, dir, config.DefaultReportPath, "{}")
}

func commitAt(t *testing.T, repo *git.Repository, dir, name string, when time.Time) {
	t.Helper()
	writeFile(t, dir, name, when.String())
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(name)
	require.NoError(t, err)
	sig := &object.Signature{Name: "dev", Email: "dev@example.com", When: when}
	_, err = wt.Commit("change "+name, &git.CommitOptions{Author: sig, Committer: sig})
	require.NoError(t, err)
}

// ---------------------------------------------------------------------------
// Whole probe
// ---------------------------------------------------------------------------

func TestProbe_EmptyTree(t *testing.T) {
	dir := t.TempDir()
	p, _ := newProber(t, dir, runner.NewRecorder())

	s := p.Probe(context.Background())
	assert.True(t, s.IsFirstRun)
	assert.Empty(t, s.RecentCommits)
	assert.False(t, s.RapidCommits)
	assert.Equal(t, project.OrgExcellent, s.CodeOrganization)
	assert.Equal(t, 100, s.OrganizationScore)
	assert.False(t, s.NeedsCleanup)
	assert.Empty(t, s.CriticalIssues)
	assert.True(t, math.IsInf(s.HoursSinceMaintenance, 1))
	assert.Empty(t, s.Branch)

	assert.Equal(t, scenario.FirstRun, scenario.Classify(s).Key)
}

func TestProbe_IssuesCommandsInCheckMode(t *testing.T) {
	dir := t.TempDir()
	rec := runner.NewRecorder()
	p, _ := newProber(t, dir, rec)
	p.Probe(context.Background())

	assert.Equal(t, []string{
		"npx eslint . --ext .js,.jsx,.ts,.tsx --rule no-unused-vars: error",
		"npm run type:check",
		"npm run build",
		"npm audit --audit-level=high",
	}, rec.Lines())
}

func TestProbe_LedgerAge(t *testing.T) {
	dir := t.TempDir()
	p, l := newProber(t, dir, runner.NewRecorder())
	require.NoError(t, l.Record(scenario.MustGet(scenario.Incremental)))

	s := p.Probe(context.Background())
	assert.Less(t, s.HoursSinceMaintenance, 1.0)
}

// ---------------------------------------------------------------------------
// Critical issues
// ---------------------------------------------------------------------------

func TestCriticalIssues(t *testing.T) {
	tests := []struct {
		name string
		rec  *runner.Recorder
		want []string
	}{
		{
			name: "all pass",
			rec:  runner.NewRecorder(),
			want: []string{},
		},
		{
			name: "type errors",
			rec:  runner.NewRecorder().Fail("npm run type:check", 2, "src/a.ts(1,1): error TS2304"),
			want: []string{project.IssueTypeScript},
		},
		{
			name: "build and audit",
			rec: runner.NewRecorder().
				Fail("npm run build", 1, "Failed to compile").
				Fail("npm audit", 1, "3 high severity vulnerabilities"),
			want: []string{project.IssueBuild, project.IssueSecurity},
		},
		{
			name: "missing script is not an issue",
			rec:  runner.NewRecorder().Fail("npm run type:check", 1, `npm ERR! Missing script: "type:check"`),
			want: []string{},
		},
		{
			name: "missing tool is not an issue",
			rec:  runner.NewRecorder().Missing("npm"),
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newProber(t, t.TempDir(), tt.rec)
			s := project.State{CriticalIssues: []string{}}
			p.criticalIssues(context.Background(), &s)
			assert.Equal(t, tt.want, s.CriticalIssues)
		})
	}
}

// ---------------------------------------------------------------------------
// Organization
// ---------------------------------------------------------------------------

func TestOrganization_Deductions(t *testing.T) {
	dir := t.TempDir()
	for i := range 11 {
		writeFile(t, dir, fmt.Sprintf("old/file%d.old", i), "x")
	}
	writeFile(t, dir, "src/index.ts", "export {}")
	rec := runner.NewRecorder().Fail("npx eslint", 1, "  3:10  error  'a' is defined but never used  no-unused-vars")

	p, _ := newProber(t, dir, rec)
	s := p.Probe(context.Background())

	assert.Equal(t, 55, s.OrganizationScore)
	assert.Equal(t, project.OrgFair, s.CodeOrganization)
	assert.Equal(t, []string{"unused-files", "unused-imports", "poor-structure"}, s.OrganizationIssues)
}

func TestOrganization_GoodBoundary(t *testing.T) {
	dir := t.TempDir()
	for i := range 11 {
		writeFile(t, dir, fmt.Sprintf("f%d.backup", i), "x")
	}
	writeFile(t, dir, "src/components/Button.tsx", "export {}")
	rec := runner.NewRecorder().Fail("npx eslint", 1, "no-unused-vars")

	p, _ := newProber(t, dir, rec)
	s := p.Probe(context.Background())
	assert.Equal(t, 65, s.OrganizationScore)
	assert.Equal(t, project.OrgGood, s.CodeOrganization)
}

func TestOrganization_ThresholdIsStrict(t *testing.T) {
	dir := t.TempDir()
	for i := range 10 {
		writeFile(t, dir, fmt.Sprintf("f%d.unused", i), "x")
	}
	p, _ := newProber(t, dir, runner.NewRecorder())
	s := p.Probe(context.Background())
	assert.Equal(t, 100, s.OrganizationScore)
}

func TestOrganization_LintFailureWithoutRuleIgnored(t *testing.T) {
	dir := t.TempDir()
	p, _ := newProber(t, dir, runner.NewRecorder().Fail("npx eslint", 2, "Oops! Something went wrong"))
	s := p.Probe(context.Background())
	assert.Equal(t, 100, s.OrganizationScore)
}

func TestOrganization_IgnoresSkippedDirs(t *testing.T) {
	dir := t.TempDir()
	for i := range 15 {
		writeFile(t, dir, fmt.Sprintf("node_modules/pkg/f%d.old", i), "x")
		writeFile(t, dir, fmt.Sprintf("backups/backup-1/f%d.old", i), "x")
	}
	p, _ := newProber(t, dir, runner.NewRecorder())
	s := p.Probe(context.Background())
	assert.Equal(t, 100, s.OrganizationScore)
}

func TestOrganization_WalkErrorIsUnknown(t *testing.T) {
	p, _ := newProber(t, filepath.Join(t.TempDir(), "missing"), runner.NewRecorder())
	s := p.Probe(context.Background())
	assert.Equal(t, project.OrgUnknown, s.CodeOrganization)
	assert.False(t, s.NeedsCleanup)
}

// ---------------------------------------------------------------------------
// Cleanup
// ---------------------------------------------------------------------------

func TestCleanup_BuildOutput(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".next/cache/x", "x")
	writeFile(t, dir, "node_modules/lib/dist/index.js", "x")

	p, _ := newProber(t, dir, runner.NewRecorder())
	s := p.Probe(context.Background())
	assert.True(t, s.NeedsCleanup)
	assert.Equal(t, []string{"build output: .next"}, s.CleanupReasons)
}

func TestCleanup_NestedBuildNamesIgnored(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "packages/ui/dist/index.js", "x")
	writeFile(t, dir, "src/lib/build/step.ts", "x")

	p, _ := newProber(t, dir, runner.NewRecorder())
	s := p.Probe(context.Background())
	assert.False(t, s.NeedsCleanup)
	assert.Empty(t, s.CleanupReasons)
}

func TestCleanup_StaleFiles(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().Add(-48 * time.Hour)
	for i := range 21 {
		name := filepath.Join(dir, fmt.Sprintf("tmp/f%d.tmp", i))
		writeFile(t, dir, fmt.Sprintf("tmp/f%d.tmp", i), "x")
		require.NoError(t, os.Chtimes(name, old, old))
	}
	// Fresh files do not count.
	for i := range 30 {
		writeFile(t, dir, fmt.Sprintf("logs/f%d.log", i), "x")
	}

	p, _ := newProber(t, dir, runner.NewRecorder())
	s := p.Probe(context.Background())
	assert.True(t, s.NeedsCleanup)
	assert.Equal(t, []string{"stale temp/log files"}, s.CleanupReasons)
}

func TestCleanup_NodeModulesSize(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "node_modules/big/blob.bin", string(make([]byte, 2*1024*1024)))

	cfg := config.Default(dir)
	cfg.Thresholds.NodeModulesLimitMB = 1
	p := New(cfg, runner.NewRecorder(), ledger.New(cfg.Path(cfg.LedgerPath)), nil)

	s := p.Probe(context.Background())
	assert.True(t, s.NeedsCleanup)
	assert.Equal(t, []string{"node_modules exceeds 1 MB"}, s.CleanupReasons)
}

// ---------------------------------------------------------------------------
// Git
// ---------------------------------------------------------------------------

func TestProbe_RapidCommitsAndModules(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	markValidated(t, dir)

	base := time.Now().Add(-time.Hour)
	commitAt(t, repo, dir, "README.md", base)
	commitAt(t, repo, dir, "src/lib/db.ts", base.Add(30*time.Second))
	commitAt(t, repo, dir, "supabase/migrations/001.sql", base.Add(60*time.Second))
	commitAt(t, repo, dir, "src/pages/api/health.ts", base.Add(90*time.Second))
	commitAt(t, repo, dir, "src/components/Nav.tsx", base.Add(120*time.Second))

	p, _ := newProber(t, dir, runner.NewRecorder())
	s := p.Probe(context.Background())

	assert.False(t, s.IsFirstRun)
	require.Len(t, s.RecentCommits, 5)
	assert.Equal(t, "change src/components/Nav.tsx", s.RecentCommits[0].Message)
	assert.True(t, s.RapidCommits)
	assert.Equal(t, "master", s.Branch)
	assert.Equal(t, []string{project.ModuleFrontend}, s.AffectedModules)
	assert.Equal(t, scenario.RapidCommits, scenario.Classify(s).Key)
}

func TestProbe_SlowCommitsAreNotRapid(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	base := time.Now().Add(-24 * time.Hour)
	for i := range 5 {
		commitAt(t, repo, dir, fmt.Sprintf("f%d.txt", i), base.Add(time.Duration(i)*10*time.Minute))
	}
	p, _ := newProber(t, dir, runner.NewRecorder())
	s := p.Probe(context.Background())
	assert.Len(t, s.RecentCommits, 5)
	assert.False(t, s.RapidCommits)
}

// ---------------------------------------------------------------------------
// Pure helpers
// ---------------------------------------------------------------------------

func TestAffectedModules(t *testing.T) {
	tests := []struct {
		files []string
		want  []string
	}{
		{nil, nil},
		{[]string{"README.md"}, nil},
		{[]string{"src/components/Button.tsx"}, []string{"frontend"}},
		{[]string{"src/server/auth.ts"}, []string{"backend"}},
		{[]string{"src/app/api/patients/route.ts"}, []string{"frontend", "backend"}},
		{[]string{"supabase/migrations/20240101_init.sql"}, []string{"database"}},
		{[]string{"styles/main.css", "server/index.js", "db/seed.ts"}, []string{"frontend", "backend", "database"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AffectedModules(tt.files), "%v", tt.files)
	}
}

func TestHasSupawright(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, HasSupawright(dir))

	writeFile(t, dir, "package.json", `{"devDependencies":{"supawright":"^0.3.0"}}`)
	assert.True(t, HasSupawright(dir))

	writeFile(t, dir, "package.json", `{"dependencies":{"supawright":"^0.3.0"}}`)
	assert.False(t, HasSupawright(dir))

	writeFile(t, dir, "package.json", `{not json`)
	assert.False(t, HasSupawright(dir))
}
