// Package state records the history of ETL runs in a local SQLite file.
package state

import (
	"context"
	"time"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run is one recorded ETL run.
type Run struct {
	ID          string
	Status      RunStatus
	Source      string
	Target      string
	ConfigFile  string
	StartedAt   time.Time
	CompletedAt *time.Time
	Stats       RunStats
	Error       string
}

// Duration returns how long the run took, or has taken so far.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return time.Since(r.StartedAt)
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// RunStats are the counts a finished run reports.
type RunStats struct {
	// Records is the number of REDCap records processed.
	Records int64
	// Skipped counts candidate rows that produced no row.
	Skipped int64
	// Tables maps each loaded table to its row count.
	Tables map[string]int64
}

// Rows returns the total row count over all tables.
func (s RunStats) Rows() int64 {
	var n int64
	for _, c := range s.Tables {
		n += c
	}
	return n
}

// NewRun describes a run about to start.
type NewRun struct {
	Source     string
	Target     string
	ConfigFile string
}

// Store persists run history.
type Store interface {
	CreateRun(ctx context.Context, r NewRun) (*Run, error)
	CompleteRun(ctx context.Context, id string, status RunStatus, stats RunStats, errMsg string) error
	GetRun(ctx context.Context, id string) (*Run, error)
	GetLatestRun(ctx context.Context) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	Close() error
}
