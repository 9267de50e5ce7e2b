package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"etlsched/pkg/logx"
)

const jobsSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	func          TEXT NOT NULL,
	kwargs        TEXT,
	trigger_spec  TEXT NOT NULL,
	next_fire_ms  INTEGER,
	paused        INTEGER NOT NULL DEFAULT 0,
	misfire_ms    INTEGER NOT NULL DEFAULT 60000,
	max_instances INTEGER NOT NULL DEFAULT 1,
	coalesce      INTEGER NOT NULL DEFAULT 1
);
`

type sqliteBackend struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Backend, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("store: sqlite path is required")
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

	if _, err := db.ExecContext(context.Background(), jobsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &sqliteBackend{db: db, log: log}, nil
}

func (s *sqliteBackend) UpsertJob(ctx context.Context, r Record) error {
	var next any
	if r.NextFireMS != nil {
		next = *r.NextFireMS
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(id, func, kwargs, trigger_spec, next_fire_ms, paused, misfire_ms, max_instances, coalesce)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
			func=excluded.func, kwargs=excluded.kwargs, trigger_spec=excluded.trigger_spec,
			next_fire_ms=excluded.next_fire_ms, paused=excluded.paused, misfire_ms=excluded.misfire_ms,
			max_instances=excluded.max_instances, coalesce=excluded.coalesce`,
		r.ID, r.Func, nullStr(r.KwargsJSON), r.TriggerJSON, next,
		boolInt(r.Paused), r.MisfireMS, r.MaxInstances, boolInt(r.Coalesce),
	)
	return err
}

func (s *sqliteBackend) DeleteJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	return err
}

func (s *sqliteBackend) LoadJobs(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, func, kwargs, trigger_spec, next_fire_ms, paused, misfire_ms, max_instances, coalesce FROM jobs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r      Record
			kwargs sql.NullString
			next   sql.NullInt64
			paused int
			coal   int
		)
		if err := rows.Scan(&r.ID, &r.Func, &kwargs, &r.TriggerJSON, &next, &paused, &r.MisfireMS, &r.MaxInstances, &coal); err != nil {
			return nil, err
		}
		r.KwargsJSON = kwargs.String
		if next.Valid {
			v := next.Int64
			r.NextFireMS = &v
		}
		r.Paused = paused != 0
		r.Coalesce = coal != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteBackend) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
