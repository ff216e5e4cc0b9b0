// Package safety wraps a mutating strategy in a snapshot, restores the
// working tree when the strategy fails and records successful runs in the
// maintenance ledger.
package safety

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/blackwell-systems/ciwarden/internal/config"
	"github.com/blackwell-systems/ciwarden/internal/ledger"
	"github.com/blackwell-systems/ciwarden/internal/logging"
	"github.com/blackwell-systems/ciwarden/internal/project"
	"github.com/blackwell-systems/ciwarden/internal/scenario"
	"github.com/blackwell-systems/ciwarden/internal/snapshot"
)

// ErrSnapshot wraps a failure to take the pre-run snapshot. The strategy
// does not run when it is returned.
var ErrSnapshot = errors.New("snapshot failed")

// StrategyFunc performs the mutating work of one run.
type StrategyFunc func(ctx context.Context) error

// Result is the outcome of RunSafely.
type Result struct {
	Success       bool   `json:"success"`
	Error         string `json:"error,omitempty"`
	SnapshotID    string `json:"snapshot_id,omitempty"`
	RolledBack    bool   `json:"rolled_back"`
	RollbackError string `json:"rollback_error,omitempty"`
	DryRun        bool   `json:"dry_run,omitempty"`
	// Err is the strategy error behind Error.
	Err error `json:"-"`
}

// Wrapper applies the safety flags to strategy runs.
type Wrapper struct {
	flags  config.Safety
	snaps  *snapshot.Store
	ledger *ledger.Ledger
	log    *zap.Logger
}

// New returns a Wrapper applying flags.
func New(flags config.Safety, snaps *snapshot.Store, l *ledger.Ledger, logger *zap.Logger) *Wrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Wrapper{flags: flags, snaps: snaps, ledger: l, log: logger.Named("safety")}
}

// RunSafely snapshots the allowlist when backups are enabled, runs fn and
// on failure restores the snapshot when rollback is enabled. A successful
// run is recorded in the ledger.
//
// The returned error is non-nil only when the snapshot could not be taken;
// strategy failures are reported through Result. In dry-run mode nothing is
// snapshotted, fn is not called and the ledger is untouched.
func (w *Wrapper) RunSafely(ctx context.Context, sc scenario.Scenario, _ project.State, fn StrategyFunc) (Result, error) {
	log := w.log.With(logging.Scenario(string(sc.Key)), logging.Strategy(string(sc.Strategy)))
	if w.flags.DryRun {
		log.Info("dry run, strategy not executed")
		return Result{Success: true, DryRun: true}, nil
	}

	var res Result
	if w.flags.BackupBeforeChanges {
		meta, err := w.snaps.Create(ctx, string(sc.Key))
		if err != nil {
			log.Error("creating snapshot", zap.Error(err))
			return Result{Error: err.Error(), Err: err}, fmt.Errorf("%w: %w", ErrSnapshot, err)
		}
		res.SnapshotID = meta.ID
		log.Info("snapshot created", zap.String("snapshot", meta.ID), zap.Int("files", len(meta.Files)))
	}

	if err := fn(ctx); err != nil {
		res.Error = err.Error()
		res.Err = err
		log.Error("strategy failed", zap.Error(err))
		if w.flags.RollbackOnFailure {
			w.rollback(ctx, &res, log)
		}
		return res, nil
	}

	res.Success = true
	if err := w.ledger.Record(sc); err != nil {
		log.Warn("recording maintenance ledger", zap.Error(err))
	}
	return res, nil
}

func (w *Wrapper) rollback(ctx context.Context, res *Result, log *zap.Logger) {
	if res.SnapshotID == "" {
		res.RollbackError = "no snapshot was taken"
		log.Warn("rollback requested without a snapshot")
		return
	}
	// The run may have been canceled; restoring must still complete.
	if err := w.snaps.Restore(context.WithoutCancel(ctx), res.SnapshotID); err != nil {
		res.RollbackError = err.Error()
		log.Error("rollback failed", zap.String("snapshot", res.SnapshotID), zap.Error(err))
		return
	}
	res.RolledBack = true
	log.Info("rolled back", zap.String("snapshot", res.SnapshotID))
}
