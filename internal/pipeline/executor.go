package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/blackwell-systems/ciwarden/internal/config"
	"github.com/blackwell-systems/ciwarden/internal/imports"
	"github.com/blackwell-systems/ciwarden/internal/logging"
	"github.com/blackwell-systems/ciwarden/internal/project"
	"github.com/blackwell-systems/ciwarden/internal/runner"
	"github.com/blackwell-systems/ciwarden/internal/scenario"
)

// outputTail bounds the command output kept on a StepResult.
const outputTail = 4096

// Report is the outcome of one strategy execution.
type Report struct {
	Strategy scenario.Strategy `json:"strategy"`
	DryRun   bool              `json:"dry_run,omitempty"`
	Steps    []StepResult      `json:"steps"`
	Changed  int               `json:"changed"`
}

// Tolerated returns the steps that failed without aborting the strategy.
func (r Report) Tolerated() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Failed() && s.Tolerated {
			out = append(out, s)
		}
	}
	return out
}

// Executor runs catalog strategies against one working tree.
type Executor struct {
	cfg      config.Config
	run      runner.Runner
	catalog  Catalog
	analyzer imports.Analyzer
	log      *zap.Logger
	now      func() time.Time

	// OnStep, when set, is called after every step with its result.
	OnStep func(StepResult)
}

// NewExecutor returns an Executor. A nil catalog means Builtin.
func NewExecutor(cfg config.Config, run runner.Runner, catalog Catalog, logger *zap.Logger) *Executor {
	if catalog == nil {
		catalog = Builtin()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		cfg:      cfg,
		run:      run,
		catalog:  catalog,
		analyzer: imports.New(cfg.Imports.Analyzer),
		log:      logger.Named("pipeline"),
		now:      time.Now,
	}
}

// Catalog returns the strategies the executor knows.
func (e *Executor) Catalog() Catalog { return e.catalog }

// Plan resolves the steps of strategy against state without running them.
// Steps whose conditions do not hold are marked skipped.
func (e *Executor) Plan(strategy scenario.Strategy, state project.State) ([]StepResult, error) {
	steps, err := e.catalog.Steps(strategy)
	if err != nil {
		return nil, err
	}
	out := make([]StepResult, len(steps))
	for i, s := range steps {
		out[i] = StepResult{Name: s.Name, Command: s.Line(), Tolerated: s.Tolerate}
		if reason := s.skipReason(state); reason != "" {
			out[i].Skipped = true
			out[i].SkipReason = reason
		}
	}
	return out, nil
}

// Execute runs strategy step by step. A failing step marked Tolerate is
// logged and the strategy continues; any other failure stops the strategy
// and is returned as a *StepError. In dry-run mode the planned steps are
// returned and nothing runs.
func (e *Executor) Execute(ctx context.Context, strategy scenario.Strategy, state project.State) (Report, error) {
	rep := Report{Strategy: strategy, DryRun: e.cfg.Safety.DryRun}
	if rep.DryRun {
		planned, err := e.Plan(strategy, state)
		rep.Steps = planned
		return rep, err
	}

	steps, err := e.catalog.Steps(strategy)
	if err != nil {
		return rep, err
	}
	log := e.log.With(logging.Strategy(string(strategy)))
	b := &budget{limit: e.cfg.Safety.MaxFileChanges}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return rep, fmt.Errorf("strategy %s: %w", strategy, err)
		}
		res := e.runStep(ctx, step, state, b, log.With(logging.Step(step.Name)))
		rep.Steps = append(rep.Steps, res)
		rep.Changed += len(res.Changed)
		if e.OnStep != nil {
			e.OnStep(res)
		}
		if res.Failed() && !step.Tolerate {
			return rep, &StepError{Strategy: string(strategy), Result: res}
		}
	}
	return rep, nil
}

func (e *Executor) runStep(ctx context.Context, step Step, state project.State, b *budget, log *zap.Logger) StepResult {
	res := StepResult{Name: step.Name, Command: step.Line(), Tolerated: step.Tolerate}
	if reason := step.skipReason(state); reason != "" {
		res.Skipped = true
		res.SkipReason = reason
		log.Debug("step skipped", zap.String("reason", reason))
		return res
	}

	start := e.now()
	if step.Action != "" {
		e.runAction(ctx, step, b, log, &res)
	} else {
		e.runCommand(ctx, step, &res)
	}
	res.Duration = e.now().Sub(start)

	switch {
	case !res.Failed():
		log.Info("step succeeded", zap.Duration("duration", res.Duration), zap.Int("changed", len(res.Changed)))
	case step.Tolerate:
		log.Warn("step failed, continuing", zap.String("error", res.Error), zap.Int("exit_code", res.ExitCode))
	default:
		log.Error("step failed", zap.String("error", res.Error), zap.Int("exit_code", res.ExitCode))
	}
	return res
}

func (e *Executor) runCommand(ctx context.Context, step Step, res *StepResult) {
	out, err := e.run.Run(ctx, e.cfg.WorkDir, e.timeout(step), step.Command...)
	res.ExitCode = out.ExitCode
	res.TimedOut = out.TimedOut
	res.Output = tail(out.Output, outputTail)
	switch {
	case err != nil:
		res.Error = err.Error()
	case out.TimedOut:
		res.Error = fmt.Sprintf("timed out after %s", e.timeout(step))
	case !out.Success():
		res.Error = fmt.Sprintf("exit status %d", out.ExitCode)
	}
}

func (e *Executor) runAction(ctx context.Context, step Step, b *budget, log *zap.Logger, res *StepResult) {
	fn, ok := actions[step.Action]
	if !ok {
		res.Error = fmt.Sprintf("unknown action %q", step.Action)
		return
	}
	env := &actionEnv{cfg: e.cfg, analyzer: e.analyzer, budget: b, log: log, now: e.now()}
	err := fn(ctx, env)
	res.Changed = env.changed
	if err != nil {
		res.ExitCode = 1
		res.Error = err.Error()
	}
}

func (e *Executor) timeout(step Step) time.Duration {
	t := step.Timeout
	if t <= 0 {
		t = e.cfg.Steps.DefaultTimeout
	}
	return min(t, runner.MaxTimeout)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
