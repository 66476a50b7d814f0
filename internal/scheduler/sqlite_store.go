package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lupppig/dbu/internal/backup"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	name         TEXT    NOT NULL,
	grp          TEXT    NOT NULL,
	trigger_name TEXT    NOT NULL,
	cron         TEXT    NOT NULL,
	state        TEXT    NOT NULL,
	config       TEXT    NOT NULL,
	created_at   INTEGER NOT NULL,
	prev_fire    INTEGER,
	next_fire    INTEGER,
	last_error   TEXT    NOT NULL DEFAULT '',
	PRIMARY KEY (name, grp)
)`

// SQLiteStore persists jobs in a single SQLite file. It is safe for one
// process at a time; concurrent daemons on the same file are unsupported.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the job database at path.
// The file holds connection passwords, so it is created owner-only.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create job store directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create job store: %w", err)
	}
	f.Close()

	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate job store: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, rec JobRecord) error {
	cfg, err := json.Marshal(rec.Config)
	if err != nil {
		return fmt.Errorf("encode job config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (name, grp, trigger_name, cron, state, config, created_at, prev_fire, next_fire, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name, grp) DO UPDATE SET
			trigger_name = excluded.trigger_name,
			cron         = excluded.cron,
			state        = excluded.state,
			config       = excluded.config,
			created_at   = excluded.created_at,
			prev_fire    = excluded.prev_fire,
			next_fire    = excluded.next_fire,
			last_error   = excluded.last_error`,
		rec.Key.Name, rec.Key.Group, rec.Trigger, rec.Cron, string(rec.State), string(cfg),
		rec.CreatedAt.UnixMilli(), toMillis(rec.PrevFire), toMillis(rec.NextFire), rec.LastError,
	)
	return err
}

const selectJobs = `SELECT name, grp, trigger_name, cron, state, config, created_at, prev_fire, next_fire, last_error FROM jobs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (JobRecord, error) {
	var (
		rec       JobRecord
		state     string
		cfg       string
		createdAt int64
		prev      sql.NullInt64
		next      sql.NullInt64
	)
	if err := row.Scan(&rec.Key.Name, &rec.Key.Group, &rec.Trigger, &rec.Cron, &state, &cfg, &createdAt, &prev, &next, &rec.LastError); err != nil {
		return JobRecord{}, err
	}
	var c backup.Config
	if err := json.Unmarshal([]byte(cfg), &c); err != nil {
		return JobRecord{}, fmt.Errorf("decode config of %s.%s: %w", rec.Key.Group, rec.Key.Name, err)
	}
	rec.Config = c
	rec.State = State(state)
	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.PrevFire = fromMillis(prev)
	rec.NextFire = fromMillis(next)
	return rec, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key JobKey) (JobRecord, error) {
	row := s.db.QueryRowContext(ctx, selectJobs+` WHERE name = ? AND grp = ?`, key.Name, key.Group)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return JobRecord{}, ErrJobNotFound
	}
	return rec, err
}

func (s *SQLiteStore) List(ctx context.Context) ([]JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectJobs+` ORDER BY grp, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, key JobKey) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE name = ? AND grp = ?`, key.Name, key.Group)
	if err != nil {
		return err
	}
	return affected(res)
}

func (s *SQLiteStore) SetState(ctx context.Context, key JobKey, state State, next *time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET state = ?, next_fire = ? WHERE name = ? AND grp = ?`,
		string(state), toMillis(next), key.Name, key.Group)
	if err != nil {
		return err
	}
	return affected(res)
}

func (s *SQLiteStore) SetStateAll(ctx context.Context, state State, next NextFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, selectJobs)
	if err != nil {
		return err
	}
	var recs []JobRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return err
		}
		recs = append(recs, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, rec := range recs {
		var n *time.Time
		if next != nil {
			n = next(rec)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET state = ?, next_fire = ? WHERE name = ? AND grp = ?`,
			string(state), toMillis(n), rec.Key.Name, rec.Key.Group); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) RecordFire(ctx context.Context, key JobKey, fired time.Time, next *time.Time, lastErr string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET prev_fire = ?, next_fire = ?, last_error = ? WHERE name = ? AND grp = ?`,
		fired.UnixMilli(), toMillis(next), lastErr, key.Name, key.Group)
	if err != nil {
		return err
	}
	return affected(res)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

func toMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}
