package store

import (
	"context"
	"errors"
	"time"

	"wablast/internal/job"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the run-history archive.
//
// Driver values:
//   - "" or "none": storage disabled
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Retention   time.Duration // archived runs older than this are pruned
}

// ArchivedRun is a finished run as read back from the archive. Results holds
// the full ledger as JSON.
type ArchivedRun struct {
	ID         string    `json:"id"`
	Total      int       `json:"total"`
	Sent       int       `json:"sent"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Results    []job.ResultRecord `json:"results"`
}

// Store is the minimal persistence API. It archives completed runs; the
// in-memory ledger stays the source of truth for live queries.
type Store interface {
	ArchiveRun(ctx context.Context, run job.RunSummary) error
	RecentRuns(ctx context.Context, limit int) ([]ArchivedRun, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}
