// Package workflow runs one full maintenance cycle: lease, probe, classify,
// execute the selected strategy under the safety wrapper, then record the
// outcome.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/blackwell-systems/ciwarden/internal/config"
	"github.com/blackwell-systems/ciwarden/internal/ledger"
	"github.com/blackwell-systems/ciwarden/internal/lock"
	"github.com/blackwell-systems/ciwarden/internal/logging"
	"github.com/blackwell-systems/ciwarden/internal/metrics"
	"github.com/blackwell-systems/ciwarden/internal/pipeline"
	"github.com/blackwell-systems/ciwarden/internal/probe"
	"github.com/blackwell-systems/ciwarden/internal/project"
	"github.com/blackwell-systems/ciwarden/internal/runner"
	"github.com/blackwell-systems/ciwarden/internal/safety"
	"github.com/blackwell-systems/ciwarden/internal/scenario"
	"github.com/blackwell-systems/ciwarden/internal/snapshot"
	"github.com/blackwell-systems/ciwarden/internal/store"
)

// Options configures a Workflow. Runner and Config are required.
type Options struct {
	Config  config.Config
	Runner  runner.Runner
	Catalog pipeline.Catalog
	Logger  *zap.Logger
	// History, when set, receives one record per run.
	History *store.DB
	// OnStep, when set, is called after every executed step.
	OnStep func(pipeline.StepResult)
}

// Workflow ties the components of a cycle together for one working tree.
type Workflow struct {
	cfg        config.Config
	run        runner.Runner
	log        *zap.Logger
	history    *store.DB
	onStep     func(pipeline.StepResult)
	catalog    pipeline.Catalog
	ledger     *ledger.Ledger
	snaps      *snapshot.Store
	classifier scenario.Classifier
	now        func() time.Time
}

// New returns a Workflow. A nil Catalog is loaded from the configured
// strategies file.
func New(opts Options) (*Workflow, error) {
	if opts.Runner == nil {
		return nil, errors.New("workflow: runner is required")
	}
	cfg := opts.Config
	catalog := opts.Catalog
	if catalog == nil {
		var err error
		catalog, err = pipeline.LoadFile(cfg.Path(cfg.StrategiesFile))
		if err != nil {
			return nil, err
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workflow{
		cfg:        cfg,
		run:        opts.Runner,
		log:        logger,
		history:    opts.History,
		onStep:     opts.OnStep,
		catalog:    catalog,
		ledger:     ledger.New(cfg.Path(cfg.LedgerPath)),
		snaps:      snapshot.ForConfig(cfg).WithLogger(logger),
		classifier: scenario.NewClassifier(cfg.Thresholds.MaintenanceInterval),
		now:        time.Now,
	}, nil
}

// Assessment is the probe result and the scenario it selects.
type Assessment struct {
	State    project.State         `json:"state"`
	Scenario scenario.Scenario     `json:"scenario"`
	Reason   string                `json:"reason"`
	Steps    []pipeline.StepResult `json:"steps"`
}

// Assess probes the tree and classifies it without changing anything other
// than what the check commands themselves write.
func (w *Workflow) Assess(ctx context.Context) (Assessment, error) {
	return w.assess(ctx, w.log)
}

func (w *Workflow) assess(ctx context.Context, log *zap.Logger) (Assessment, error) {
	state := probe.New(w.cfg, w.run, w.ledger, log).Probe(ctx)
	sc, reason := w.classifier.Explain(state)
	steps, err := w.executor(log).Plan(sc.Strategy, state)
	if err != nil {
		return Assessment{}, err
	}
	return Assessment{State: state, Scenario: sc, Reason: reason, Steps: steps}, nil
}

func (w *Workflow) executor(log *zap.Logger) *pipeline.Executor {
	e := pipeline.NewExecutor(w.cfg, w.run, w.catalog, log)
	e.OnStep = w.onStep
	return e
}

// Outcome is the result of one cycle.
type Outcome struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Assessment
	Report pipeline.Report `json:"report"`
	Safety safety.Result   `json:"result"`
}

// Success reports whether the strategy completed.
func (o *Outcome) Success() bool { return o.Safety.Success }

// Run executes one full cycle. The returned error is non-nil for failures
// that prevented the strategy from running (lease, snapshot, catalog);
// a strategy that ran and failed is reported through Outcome.
func (w *Workflow) Run(ctx context.Context) (*Outcome, error) {
	lease, err := lock.Acquire(w.cfg.Path(w.cfg.LockPath))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lease.Release(); err != nil {
			w.log.Warn("releasing lock", zap.Error(err))
		}
	}()

	out := &Outcome{RunID: uuid.NewString(), StartedAt: w.now()}
	log := w.log.With(logging.RunID(out.RunID))

	a, err := w.assess(ctx, log)
	if err != nil {
		return nil, err
	}
	out.Assessment = a
	log = log.With(logging.Scenario(string(a.Scenario.Key)), logging.Strategy(string(a.Scenario.Strategy)))
	log.Info("scenario selected", zap.String("reason", a.Reason), zap.Int("priority", a.Scenario.Priority))

	exec := w.executor(log)
	wrapper := safety.New(w.cfg.Safety, w.snaps, w.ledger, log)
	res, runErr := wrapper.RunSafely(ctx, a.Scenario, a.State, func(ctx context.Context) error {
		rep, err := exec.Execute(ctx, a.Scenario.Strategy, a.State)
		out.Report = rep
		return err
	})
	out.Safety = res
	if res.DryRun {
		out.Report = pipeline.Report{Strategy: a.Scenario.Strategy, DryRun: true, Steps: a.Steps}
	}
	out.FinishedAt = w.now()

	w.record(out, log)
	if runErr != nil {
		return out, runErr
	}
	if res.Success && !res.DryRun && a.Scenario.Strategy == scenario.StrategyComprehensive {
		path := w.cfg.Path(w.cfg.ReportPath)
		if wrote, err := writeValidationReport(path, newValidationReport(out, w.cfg.WorkDir)); err != nil {
			log.Warn("writing validation report", zap.Error(err))
		} else if wrote {
			log.Info("validation report written", zap.String("path", path))
		}
	}
	log.Info("run finished",
		zap.Bool("success", res.Success),
		zap.Bool("rolled_back", res.RolledBack),
		zap.Duration("duration", out.FinishedAt.Sub(out.StartedAt)),
	)
	return out, nil
}

// record writes history and metrics. Failures are logged, never returned.
func (w *Workflow) record(out *Outcome, log *zap.Logger) {
	var counts []store.ScenarioCount
	if w.history != nil {
		if err := w.history.InsertRun(w.runRecord(out)); err != nil {
			log.Warn("recording run history", zap.Error(err))
		}
		var err error
		if counts, err = w.history.CountByScenario(); err != nil {
			log.Warn("reading run history", zap.Error(err))
		}
	}

	if w.cfg.Metrics.Textfile == "" {
		return
	}
	snaps, err := w.snaps.List()
	if err != nil {
		log.Debug("listing snapshots", zap.Error(err))
	}
	m := metrics.New()
	m.Observe(metrics.Run{
		Scenario:     string(out.Scenario.Key),
		Strategy:     string(out.Scenario.Strategy),
		Success:      out.Safety.Success,
		DryRun:       out.Safety.DryRun,
		RolledBack:   out.Safety.RolledBack,
		FinishedAt:   out.FinishedAt,
		Duration:     out.FinishedAt.Sub(out.StartedAt),
		Steps:        stepOutcomes(out.Report.Steps),
		ChangedFiles: out.Report.Changed,
		Snapshots:    len(snaps),
		History:      counts,
	})
	if err := m.WriteFile(w.cfg.Path(w.cfg.Metrics.Textfile)); err != nil {
		log.Warn("writing metrics", zap.Error(err))
	}
}

func (w *Workflow) runRecord(out *Outcome) *store.Run {
	r := &store.Run{
		ID:            out.RunID,
		StartedAt:     out.StartedAt,
		FinishedAt:    out.FinishedAt,
		WorkDir:       w.cfg.WorkDir,
		Branch:        out.State.Branch,
		Scenario:      string(out.Scenario.Key),
		Strategy:      string(out.Scenario.Strategy),
		Reason:        out.Reason,
		Success:       out.Safety.Success,
		Error:         out.Safety.Error,
		SnapshotID:    out.Safety.SnapshotID,
		RolledBack:    out.Safety.RolledBack,
		RollbackError: out.Safety.RollbackError,
		DryRun:        out.Safety.DryRun,
	}
	for _, s := range out.Report.Steps {
		r.Steps = append(r.Steps, store.Step{
			Name:       s.Name,
			Command:    s.Command,
			ExitCode:   s.ExitCode,
			Tolerated:  s.Tolerated && s.Failed(),
			Skipped:    s.Skipped,
			Changed:    len(s.Changed),
			DurationMS: s.Duration.Milliseconds(),
			Error:      s.Error,
		})
	}
	return r
}

func stepOutcomes(steps []pipeline.StepResult) map[string]int {
	out := map[string]int{}
	for _, s := range steps {
		switch {
		case s.Skipped:
			out["skipped"]++
		case s.Failed() && s.Tolerated:
			out["tolerated"]++
		case s.Failed():
			out["failed"]++
		default:
			out["ok"]++
		}
	}
	return out
}

// String renders a one-line summary of the outcome.
func (o *Outcome) String() string {
	status := "succeeded"
	switch {
	case o.Safety.DryRun:
		status = "planned (dry run)"
	case !o.Safety.Success && o.Safety.RolledBack:
		status = "failed, rolled back"
	case !o.Safety.Success:
		status = "failed"
	}
	return fmt.Sprintf("%s (%s): %s", o.Scenario.Name, o.Scenario.Strategy, status)
}
