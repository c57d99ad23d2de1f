// Package sqlite is a repository.TxBeginner on modernc.org/sqlite. Every
// transaction starts with BEGIN IMMEDIATE, so the database write lock stands
// in for row locks and is held until commit or rollback.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/fastygo/storecore/repository"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS aggregate_rows (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		kind        TEXT    NOT NULL,
		id          TEXT    NOT NULL,
		natural_key TEXT,
		ref         TEXT    NOT NULL DEFAULT '',
		deleted     INTEGER NOT NULL DEFAULT 0,
		version     INTEGER NOT NULL,
		data        BLOB    NOT NULL,
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL,
		UNIQUE (kind, id)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS aggregate_rows_live_key
		ON aggregate_rows (kind, natural_key)
		WHERE natural_key IS NOT NULL AND deleted = 0`,
	`CREATE INDEX IF NOT EXISTS aggregate_rows_ref ON aggregate_rows (kind, ref, seq)`,
}

// Config describes the database file and lock behaviour.
type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// Store implements repository.TxBeginner.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at cfg.Path and applies the
// schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite: path required")
	}
	timeout := cfg.BusyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		cfg.Path, timeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: apply schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

// Begin takes a dedicated connection and the database write lock, waiting up
// to the busy timeout for it.
func (s *Store) Begin(ctx context.Context) (repository.Tx, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrBeginFailure, err)
	}
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		conn.Close()
		if mapped := mapError(err); errors.Is(mapped, repository.ErrLockTimeout) {
			return nil, mapped
		}
		return nil, fmt.Errorf("%w: %v", repository.ErrBeginFailure, err)
	}
	return &tx{conn: conn}, nil
}

type tx struct {
	conn *sql.Conn
	done bool
}

const selectColumns = `kind, id, natural_key, ref, deleted, version, data, created_at, updated_at`

func (t *tx) GetForUpdate(ctx context.Context, kind, id string) (repository.Row, error) {
	return t.Get(ctx, kind, id)
}

func (t *tx) Get(ctx context.Context, kind, id string) (repository.Row, error) {
	if t.done {
		return repository.Row{}, repository.ErrTxDone
	}
	row := t.conn.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM aggregate_rows WHERE kind = ? AND id = ?`, kind, id)
	return scanRow(row)
}

func (t *tx) Insert(ctx context.Context, row repository.Row) error {
	if t.done {
		return repository.ErrTxDone
	}
	_, err := t.insert(ctx, `INSERT INTO aggregate_rows
		(kind, id, natural_key, ref, deleted, version, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?)`, row)
	return err
}

func (t *tx) InsertIfAbsent(ctx context.Context, row repository.Row) (bool, error) {
	if t.done {
		return false, repository.ErrTxDone
	}
	return t.insert(ctx, `INSERT INTO aggregate_rows
		(kind, id, natural_key, ref, deleted, version, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT DO NOTHING`, row)
}

func (t *tx) insert(ctx context.Context, query string, row repository.Row) (bool, error) {
	now := time.Now().UTC().UnixNano()
	res, err := t.conn.ExecContext(ctx, query,
		row.Kind, row.ID, nullKey(row.Key), row.Ref, row.Deleted, data(row.Data), now, now)
	if err != nil {
		return false, mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *tx) Update(ctx context.Context, row repository.Row) error {
	if t.done {
		return repository.ErrTxDone
	}
	res, err := t.conn.ExecContext(ctx, `UPDATE aggregate_rows
		SET natural_key = ?, ref = ?, deleted = ?, version = version + 1, data = ?, updated_at = ?
		WHERE kind = ? AND id = ?`,
		nullKey(row.Key), row.Ref, row.Deleted, data(row.Data), time.Now().UTC().UnixNano(), row.Kind, row.ID)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", repository.ErrRowNotFound, row.Kind, row.ID)
	}
	return nil
}

func (t *tx) ExistsByKey(ctx context.Context, kind, key string) (bool, error) {
	if t.done {
		return false, repository.ErrTxDone
	}
	var exists bool
	err := t.conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM aggregate_rows WHERE kind = ? AND natural_key = ? AND deleted = 0)`,
		kind, key).Scan(&exists)
	if err != nil {
		return false, mapError(err)
	}
	return exists, nil
}

func (t *tx) List(ctx context.Context, kind, ref string) ([]repository.Row, error) {
	if t.done {
		return nil, repository.ErrTxDone
	}
	rows, err := t.conn.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM aggregate_rows
		WHERE kind = ? AND (? = '' OR ref = ?)
		ORDER BY seq`, kind, ref, ref)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []repository.Row
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return repository.ErrTxDone
	}
	t.done = true
	defer t.conn.Close()

	if _, err := t.conn.ExecContext(ctx, "COMMIT"); err != nil {
		_, _ = t.conn.ExecContext(context.Background(), "ROLLBACK")
		return mapError(err)
	}
	return nil
}

func (t *tx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.conn.Close()

	_, err := t.conn.ExecContext(context.Background(), "ROLLBACK")
	return err
}

func scanRow(row interface {
	Scan(dest ...interface{}) error
}) (repository.Row, error) {
	var (
		r        repository.Row
		key      sql.NullString
		created  int64
		updated  int64
		contents []byte
	)
	if err := row.Scan(&r.Kind, &r.ID, &key, &r.Ref, &r.Deleted, &r.Version, &contents, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return repository.Row{}, repository.ErrRowNotFound
		}
		return repository.Row{}, mapError(err)
	}
	r.Key = key.String
	r.Data = contents
	r.CreatedAt = time.Unix(0, created).UTC()
	r.UpdatedAt = time.Unix(0, updated).UTC()
	return r, nil
}

func nullKey(key string) sql.NullString {
	return sql.NullString{String: key, Valid: key != ""}
}

func data(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// mapError converts sqlite result codes into repository sentinels.
func mapError(err error) error {
	var sErr *sqlitedrv.Error
	if !errors.As(err, &sErr) {
		return err
	}
	switch code := sErr.Code(); {
	case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE, code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return fmt.Errorf("%w: %v", repository.ErrRowExists, err)
	case code&0xff == sqlite3.SQLITE_BUSY, code&0xff == sqlite3.SQLITE_LOCKED:
		return fmt.Errorf("%w: %v", repository.ErrLockTimeout, err)
	}
	return err
}
