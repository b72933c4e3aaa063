package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const runColumns = `id, status, source, target, config_file, started_at, completed_at, records, skipped, error`

// CreateRun records the start of a run.
func (s *SQLiteStore) CreateRun(ctx context.Context, r NewRun) (*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run := &Run{
		ID:         generateID(),
		Status:     RunStatusRunning,
		Source:     r.Source,
		Target:     r.Target,
		ConfigFile: r.ConfigFile,
		StartedAt:  time.Now().UTC(),
	}

	s.logger.Debug("creating run", slog.String("id", run.ID), slog.String("target", run.Target))

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, source, target, config_file, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Status), run.Source, run.Target, run.ConfigFile, formatTime(run.StartedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// CompleteRun marks a run finished and stores its counts.
func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, status RunStatus, stats RunStats, errMsg string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	var errValue any
	if errMsg != "" {
		errValue = errMsg
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, records = ?, skipped = ?, error = ? WHERE id = ?`,
		string(status), formatTime(time.Now()), stats.Records, stats.Skipped, errValue, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run not found: %s", id)
	}

	for table, count := range stats.Tables {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_tables (run_id, table_name, row_count) VALUES (?, ?, ?)
			 ON CONFLICT (run_id, table_name) DO UPDATE SET row_count = excluded.row_count`,
			id, table, count,
		); err != nil {
			return fmt.Errorf("failed to record table counts: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if err := s.loadTables(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// GetLatestRun retrieves the most recent run, or nil when there is none.
func (s *SQLiteStore) GetLatestRun(ctx context.Context) (*Run, error) {
	runs, err := s.ListRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil // No runs found, return nil without error
	}
	return runs[0], nil
}

// ListRuns retrieves the most recent runs, newest first, up to limit. A
// non-positive limit lists every run.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	for _, run := range runs {
		if err := s.loadTables(ctx, run); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s *SQLiteStore) loadTables(ctx context.Context, run *Run) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT table_name, row_count FROM run_tables WHERE run_id = ? ORDER BY table_name`, run.ID)
	if err != nil {
		return fmt.Errorf("failed to load table counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var count int64
		if err := rows.Scan(&name, &count); err != nil {
			return fmt.Errorf("failed to scan table count: %w", err)
		}
		if run.Stats.Tables == nil {
			run.Stats.Tables = make(map[string]int64)
		}
		run.Stats.Tables[name] = count
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(sc rowScanner) (*Run, error) {
	run := &Run{}
	var status, startedAt string
	var completedAt, errMsg sql.NullString
	if err := sc.Scan(&run.ID, &status, &run.Source, &run.Target, &run.ConfigFile,
		&startedAt, &completedAt, &run.Stats.Records, &run.Stats.Skipped, &errMsg); err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)

	var err error
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("bad started_at %q: %w", startedAt, err)
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("bad completed_at %q: %w", completedAt.String, err)
		}
		run.CompletedAt = &t
	}
	if errMsg.Valid {
		run.Error = errMsg.String
	}
	return run, nil
}
