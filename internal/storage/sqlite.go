package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"jobsman/internal/job"
	logx "jobsman/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the SQLite datastore, applying pragmas and migrations.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if log.IsZero() {
		log = logx.Nop()
	}
	st := &sqliteStore{db: db, log: log.Named(logx.SinkComponent)}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	st.log.Debug("datastore opened", logx.String("path", path))
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

// UpsertJob writes def and a pending reload marker in one transaction.
// With mustExist it fails with ErrNotFound when no row has def.ID.
func (s *sqliteStore) UpsertJob(ctx context.Context, def job.Definition, mustExist bool) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		before, err := snapshotTx(ctx, tx)
		if err != nil {
			return err
		}
		if mustExist {
			var one int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM jm_jobs WHERE id = ?`, def.ID).Scan(&one)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrNotFound, def.ID)
			}
			if err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO jm_jobs(id, command, second, minute, hour, day, month, day_of_week, timeout)
			 VALUES(?,?,?,?,?,?,?,?,?)
			 ON CONFLICT(id) DO UPDATE SET
			   command=excluded.command, second=excluded.second, minute=excluded.minute,
			   hour=excluded.hour, day=excluded.day, month=excluded.month,
			   day_of_week=excluded.day_of_week, timeout=excluded.timeout`,
			def.ID, def.Command, def.Second, def.Minute, def.Hour, def.Day, def.Month, def.DayOfWeek, def.Timeout,
		)
		if err != nil {
			return err
		}
		return insertMarkerTx(ctx, tx, before)
	})
}

// DeleteJob removes the definition and inserts a pending marker.
func (s *sqliteStore) DeleteJob(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		before, err := snapshotTx(ctx, tx)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM jm_jobs WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return insertMarkerTx(ctx, tx, before)
	})
}

func (s *sqliteStore) GetJob(ctx context.Context, id string) (job.Definition, bool, error) {
	var d job.Definition
	err := s.db.QueryRowContext(ctx,
		`SELECT id, command, second, minute, hour, day, month, day_of_week, timeout
		 FROM jm_jobs WHERE id = ?`, id,
	).Scan(&d.ID, &d.Command, &d.Second, &d.Minute, &d.Hour, &d.Day, &d.Month, &d.DayOfWeek, &d.Timeout)
	if errors.Is(err, sql.ErrNoRows) {
		return job.Definition{}, false, nil
	}
	if err != nil {
		return job.Definition{}, false, err
	}
	return d, true, nil
}

func (s *sqliteStore) ListJobs(ctx context.Context) ([]job.Definition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, command, second, minute, hour, day, month, day_of_week, timeout
		 FROM jm_jobs ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *sqliteStore) PendingMarkers(ctx context.Context) ([]Marker, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, updated, insert_time, update_time, jobs_before_update, jobs_after_update
		 FROM jm_update_info WHERE updated = 0 ORDER BY insert_time, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Marker
	for rows.Next() {
		var m Marker
		var updated int
		var insertTime string
		var updateTime, before, after sql.NullString
		if err := rows.Scan(&m.ID, &updated, &insertTime, &updateTime, &before, &after); err != nil {
			return nil, err
		}
		m.Updated = updated != 0
		m.InsertTime = parseTime(insertTime)
		if updateTime.Valid {
			m.UpdateTime = parseTime(updateTime.String)
		}
		m.JobsBefore = before.String
		m.JobsAfter = after.String
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkApplied flips the given markers to updated=1 with a completion time.
// Markers inserted after the reload's snapshot read are untouched; the next
// poll tick picks them up.
func (s *sqliteStore) MarkApplied(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`UPDATE jm_update_info SET updated = 1, update_time = ? WHERE id = ? AND updated = 0`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		ts := formatTime(at)
		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, ts, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// Append implements logx.Sink.
func (s *sqliteStore) Append(ctx context.Context, r logx.Record) error {
	if s == nil || s.db == nil {
		return nil
	}
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jm_syslog(created_at, level, logger_name, message) VALUES(?,?,?,?)`,
		formatTime(at), r.Level, r.Logger, r.Message,
	)
	return err
}

func (s *sqliteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// snapshotTx captures the current job set as JSON inside the transaction,
// so before/after pairs are consistent with the write they bracket.
func snapshotTx(ctx context.Context, tx *sql.Tx) (string, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, command, second, minute, hour, day, month, day_of_week, timeout
		 FROM jm_jobs ORDER BY id`)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	defs, err := scanJobs(rows)
	if err != nil {
		return "", err
	}
	return job.Snapshot(defs)
}

func insertMarkerTx(ctx context.Context, tx *sql.Tx, before string) error {
	after, err := snapshotTx(ctx, tx)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO jm_update_info(updated, insert_time, jobs_before_update, jobs_after_update)
		 VALUES(0, ?, ?, ?)`,
		formatTime(time.Now()), before, after,
	)
	return err
}

func scanJobs(rows *sql.Rows) ([]job.Definition, error) {
	var out []job.Definition
	for rows.Next() {
		var d job.Definition
		if err := rows.Scan(&d.ID, &d.Command, &d.Second, &d.Minute, &d.Hour, &d.Day, &d.Month, &d.DayOfWeek, &d.Timeout); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
