package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"wablast/internal/job"
	logx "wablast/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) ArchiveRun(ctx context.Context, run job.RunSummary) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}

	var sent, failed, skipped int
	for _, r := range run.Results {
		switch r.Status {
		case job.StatusSent:
			sent++
		case job.StatusFailed:
			failed++
		case job.StatusSkipped:
			skipped++
		}
	}

	results, err := json.Marshal(run.Results)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs(id, total, sent, failed, skipped, started_at, finished_at, results)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO NOTHING`,
		run.ID, run.Total, sent, failed, skipped,
		run.StartedAt.Format(time.RFC3339Nano), run.FinishedAt.Format(time.RFC3339Nano),
		string(results),
	)
	return err
}

func (s *sqliteStore) RecentRuns(ctx context.Context, limit int) ([]ArchivedRun, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, total, sent, failed, skipped, started_at, finished_at, results
		 FROM runs ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ArchivedRun, 0, limit)
	for rows.Next() {
		var (
			ar                   ArchivedRun
			startedAt, finishedAt, results string
		)
		if err := rows.Scan(&ar.ID, &ar.Total, &ar.Sent, &ar.Failed, &ar.Skipped,
			&startedAt, &finishedAt, &results); err != nil {
			return nil, err
		}
		ar.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		ar.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedAt)
		if err := json.Unmarshal([]byte(results), &ar.Results); err != nil {
			s.log.Warn("corrupt archived ledger", logx.String("run", ar.ID), logx.Err(err))
			ar.Results = []job.ResultRecord{}
		}
		out = append(out, ar)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE finished_at < ?`, cutoff.Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
