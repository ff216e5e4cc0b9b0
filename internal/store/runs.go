package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// timeLayout is how timestamps are stored; it sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// InsertRun stores r and its steps in one transaction.
func (db *DB) InsertRun(r *Run) error {
	if r.ID == "" {
		return errors.New("run has no id")
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO runs
		(id, started_at, finished_at, work_dir, branch, scenario, strategy, reason,
		 success, error, snapshot_id, rolled_back, rollback_error, dry_run)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, formatTime(r.StartedAt), formatTime(r.FinishedAt), r.WorkDir, r.Branch,
		r.Scenario, r.Strategy, r.Reason, r.Success, r.Error, r.SnapshotID,
		r.RolledBack, r.RollbackError, r.DryRun,
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", r.ID, err)
	}

	for i, s := range r.Steps {
		_, err := tx.Exec(
			`INSERT INTO steps
			(run_id, position, name, command, exit_code, tolerated, skipped, changed, duration_ms, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, i, s.Name, s.Command, s.ExitCode, s.Tolerated, s.Skipped, s.Changed, s.DurationMS, s.Error,
		)
		if err != nil {
			return fmt.Errorf("inserting step %q: %w", s.Name, err)
		}
	}
	return tx.Commit()
}

const runColumns = `id, started_at, finished_at, work_dir, branch, scenario, strategy, reason,
	success, error, snapshot_id, rolled_back, rollback_error, dry_run`

// ListRuns returns up to limit runs, newest first, without their steps.
// A limit of zero or less returns every run.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.conn.Query(
		"SELECT "+runColumns+" FROM runs ORDER BY started_at DESC, id DESC LIMIT ?", limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetRun returns the run with id and its steps, or nil if none exists.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.conn.QueryRow("SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.Query(
		`SELECT name, command, exit_code, tolerated, skipped, changed, duration_ms, error
		FROM steps WHERE run_id = ? ORDER BY position`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var s Step
		var stepErr sql.NullString
		if err := rows.Scan(&s.Name, &s.Command, &s.ExitCode, &s.Tolerated, &s.Skipped, &s.Changed, &s.DurationMS, &stepErr); err != nil {
			return nil, err
		}
		s.Error = stepErr.String
		r.Steps = append(r.Steps, s)
	}
	return r, rows.Err()
}

// LatestSuccess returns the newest successful run that was not a dry run,
// or nil if none exists.
func (db *DB) LatestSuccess() (*Run, error) {
	row := db.conn.QueryRow(
		"SELECT " + runColumns + " FROM runs WHERE success AND NOT dry_run ORDER BY started_at DESC LIMIT 1",
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// CountByScenario aggregates runs per scenario, most frequent first.
func (db *DB) CountByScenario() ([]ScenarioCount, error) {
	rows, err := db.conn.Query(
		`SELECT scenario, COUNT(*), SUM(CASE WHEN success THEN 0 ELSE 1 END)
		FROM runs WHERE NOT dry_run GROUP BY scenario ORDER BY COUNT(*) DESC, scenario`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScenarioCount
	for rows.Next() {
		var c ScenarioCount
		if err := rows.Scan(&c.Scenario, &c.Runs, &c.Failures); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteRunsBefore removes runs started before t and returns how many were
// deleted. Their steps cascade.
func (db *DB) DeleteRunsBefore(t time.Time) (int64, error) {
	res, err := db.conn.Exec("DELETE FROM runs WHERE started_at < ?", formatTime(t))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var started, finished string
	var branch, reason, runErr, snapshotID, rollbackErr sql.NullString
	err := row.Scan(&r.ID, &started, &finished, &r.WorkDir, &branch, &r.Scenario, &r.Strategy, &reason,
		&r.Success, &runErr, &snapshotID, &r.RolledBack, &rollbackErr, &r.DryRun)
	if err != nil {
		return nil, err
	}
	r.StartedAt, _ = time.Parse(timeLayout, started)
	r.FinishedAt, _ = time.Parse(timeLayout, finished)
	r.Branch = branch.String
	r.Reason = reason.String
	r.Error = runErr.String
	r.SnapshotID = snapshotID.String
	r.RollbackError = rollbackErr.String
	return &r, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
