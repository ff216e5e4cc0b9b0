// Package probe builds a project.State from a working tree. Every sub-probe
// is read-only and folds its own failures into the state instead of
// returning them.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/blackwell-systems/ciwarden/internal/config"
	"github.com/blackwell-systems/ciwarden/internal/gitrepo"
	"github.com/blackwell-systems/ciwarden/internal/ledger"
	"github.com/blackwell-systems/ciwarden/internal/project"
	"github.com/blackwell-systems/ciwarden/internal/runner"
)

// CommitWindow is how many commits the probe reads.
const CommitWindow = 10

// Command lines used by the probe. All run in check mode.
var (
	LintCommand      = []string{"npx", "eslint", ".", "--ext", ".js,.jsx,.ts,.tsx", "--rule", "no-unused-vars: error"}
	TypeCheckCommand = []string{"npm", "run", "type:check"}
	BuildCommand     = []string{"npm", "run", "build"}
	AuditCommand     = []string{"npm", "audit", "--audit-level=high"}
)

// Prober inspects one working tree.
type Prober struct {
	cfg    config.Config
	run    runner.Runner
	ledger *ledger.Ledger
	log    *zap.Logger
	now    func() time.Time
}

// New returns a Prober for cfg.WorkDir.
func New(cfg config.Config, run runner.Runner, l *ledger.Ledger, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{cfg: cfg, run: run, ledger: l, log: logger.Named("probe"), now: time.Now}
}

// Probe gathers a fresh State. It never fails; sub-probe errors leave their
// fields at the unknown/empty/false value.
func (p *Prober) Probe(ctx context.Context) project.State {
	s := project.State{CriticalIssues: []string{}}

	s.IsFirstRun = p.firstRun()
	p.commits(&s)

	stats, walkErr := scanTree(p.cfg.WorkDir, p.skipDirs(), p.now(), p.cfg.Thresholds.StaleFileAge)
	if walkErr != nil {
		p.log.Warn("scanning working tree", zap.Error(walkErr))
	}
	p.organization(ctx, &s, stats, walkErr)
	p.cleanup(&s, stats, walkErr)
	p.criticalIssues(ctx, &s)
	s.HoursSinceMaintenance = p.ledger.LastRunAgeHours()
	s.HasSupawright = HasSupawright(p.cfg.WorkDir)

	p.log.Debug("probe complete",
		zap.Bool("first_run", s.IsFirstRun),
		zap.Bool("rapid_commits", s.RapidCommits),
		zap.String("organization", string(s.CodeOrganization)),
		zap.Int("organization_score", s.OrganizationScore),
		zap.Bool("needs_cleanup", s.NeedsCleanup),
		zap.Strings("critical_issues", s.CriticalIssues),
		zap.Strings("affected_modules", s.AffectedModules),
	)
	return s
}

func (p *Prober) firstRun() bool {
	_, err := os.Stat(p.cfg.Path(p.cfg.ReportPath))
	return errors.Is(err, os.ErrNotExist)
}

// commits fills history, rapid-commit, branch and affected-module fields.
func (p *Prober) commits(s *project.State) {
	repo, err := gitrepo.Open(p.cfg.WorkDir)
	if err != nil {
		p.log.Debug("git history unavailable", zap.Error(err))
		return
	}
	s.Branch = repo.Branch()

	commits, err := repo.RecentCommits(CommitWindow)
	if err != nil {
		p.log.Warn("reading commits", zap.Error(err))
	}
	s.RecentCommits = commits
	window := int64(p.cfg.Thresholds.RapidCommitWindow / time.Second)
	s.RapidCommits = project.RapidWithin(commits, p.cfg.Thresholds.RapidCommitCount, window)

	files, err := repo.HeadFiles()
	if err != nil {
		p.log.Warn("reading HEAD diff", zap.Error(err))
		return
	}
	s.AffectedModules = AffectedModules(files)
}

// organization scores the tree and buckets it. A failed walk yields unknown.
func (p *Prober) organization(ctx context.Context, s *project.State, stats treeStats, walkErr error) {
	if walkErr != nil {
		s.CodeOrganization = project.OrgUnknown
		return
	}

	t := p.cfg.Thresholds
	score := 100
	if stats.unusedFiles > t.UnusedFileThreshold {
		score -= t.UnusedFilesPenalty
		s.OrganizationIssues = append(s.OrganizationIssues, "unused-files")
	}
	if p.lintReportsUnused(ctx) {
		score -= t.UnusedImportsPenalty
		s.OrganizationIssues = append(s.OrganizationIssues, "unused-imports")
	}
	if stats.srcSources > 0 && stats.srcComponents == 0 {
		score -= t.StructurePenalty
		s.OrganizationIssues = append(s.OrganizationIssues, "poor-structure")
	}
	s.OrganizationScore = max(score, 0)
	s.CodeOrganization = project.BucketScore(s.OrganizationScore)
}

func (p *Prober) lintReportsUnused(ctx context.Context) bool {
	res, err := p.run.Run(ctx, p.cfg.WorkDir, p.cfg.Steps.DefaultTimeout, LintCommand...)
	if err != nil {
		p.log.Debug("lint probe unavailable", zap.Error(err))
		return false
	}
	return !res.Success() && strings.Contains(res.Output, "no-unused-vars")
}

// cleanup decides whether disk hygiene is due. A failed walk yields false.
func (p *Prober) cleanup(s *project.State, stats treeStats, walkErr error) {
	if walkErr != nil {
		return
	}
	t := p.cfg.Thresholds

	limit := t.NodeModulesLimitMB * 1024 * 1024
	if size, err := dirSizeExceeds(filepath.Join(p.cfg.WorkDir, "node_modules"), limit); err == nil && size > limit {
		s.CleanupReasons = append(s.CleanupReasons, fmt.Sprintf("node_modules exceeds %d MB", t.NodeModulesLimitMB))
	}
	if stats.staleFiles > t.StaleFileCount {
		s.CleanupReasons = append(s.CleanupReasons, "stale temp/log files")
	}
	if len(stats.buildDirs) > 0 {
		s.CleanupReasons = append(s.CleanupReasons, "build output: "+strings.Join(stats.buildDirs, ", "))
	}
	s.NeedsCleanup = len(s.CleanupReasons) > 0
}

// criticalIssues runs the three check commands independently.
func (p *Prober) criticalIssues(ctx context.Context, s *project.State) {
	checks := []struct {
		issue string
		cmd   []string
	}{
		{project.IssueTypeScript, TypeCheckCommand},
		{project.IssueBuild, BuildCommand},
		{project.IssueSecurity, AuditCommand},
	}
	for _, c := range checks {
		if p.checkFails(ctx, c.cmd) {
			s.AddIssue(c.issue)
		}
	}
}

// checkFails reports whether cmd ran and failed. A tool that is not
// installed or an npm script that is not defined is not a failure.
func (p *Prober) checkFails(ctx context.Context, cmd []string) bool {
	res, err := p.run.Run(ctx, p.cfg.WorkDir, p.cfg.Steps.DefaultTimeout, cmd...)
	if err != nil {
		p.log.Debug("check unavailable", zap.Strings("command", cmd), zap.Error(err))
		return false
	}
	if res.Success() {
		return false
	}
	if strings.Contains(res.Output, "Missing script") {
		return false
	}
	p.log.Info("check failed", zap.Strings("command", cmd), zap.Int("exit_code", res.ExitCode))
	return true
}

func (p *Prober) skipDirs() []string {
	return []string{
		filepath.Join(p.cfg.WorkDir, "node_modules"),
		filepath.Join(p.cfg.WorkDir, ".git"),
		p.cfg.Path(p.cfg.BackupDir),
	}
}

// HasSupawright reports whether package.json lists supawright in
// devDependencies.
func HasSupawright(workDir string) bool {
	data, err := os.ReadFile(filepath.Join(workDir, "package.json"))
	if err != nil {
		return false
	}
	var pkg struct {
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return false
	}
	_, ok := pkg.DevDependencies["supawright"]
	return ok
}
