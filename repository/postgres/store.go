package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fastygo/storecore/repository"
)

const (
	codeUniqueViolation  = "23505"
	codeLockNotAvailable = "55P03"
)

type store struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewStore returns a Postgres-backed TxBeginner. Row locks come from
// SELECT ... FOR UPDATE; waits longer than lockTimeout fail with
// repository.ErrLockTimeout.
func NewStore(pool *pgxpool.Pool, lockTimeout time.Duration) repository.TxBeginner {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &store{pool: pool, lockTimeout: lockTimeout}
}

func (s *store) Begin(ctx context.Context) (repository.Tx, error) {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrBeginFailure, err)
	}
	// SET does not take bind parameters.
	stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
	if _, err := pgTx.Exec(ctx, stmt); err != nil {
		_ = pgTx.Rollback(ctx)
		return nil, fmt.Errorf("%w: %v", repository.ErrBeginFailure, err)
	}
	return &tx{tx: pgTx}, nil
}

type tx struct {
	tx   pgx.Tx
	done bool
}

const selectColumns = `kind, id, natural_key, ref, deleted, version, data, created_at, updated_at`

func (t *tx) GetForUpdate(ctx context.Context, kind, id string) (repository.Row, error) {
	if t.done {
		return repository.Row{}, repository.ErrTxDone
	}
	const query = `
	SELECT ` + selectColumns + `
	FROM aggregate_rows
	WHERE kind = $1 AND id = $2
	FOR UPDATE
	`
	return scanRow(t.tx.QueryRow(ctx, query, kind, id))
}

func (t *tx) Get(ctx context.Context, kind, id string) (repository.Row, error) {
	if t.done {
		return repository.Row{}, repository.ErrTxDone
	}
	const query = `
	SELECT ` + selectColumns + `
	FROM aggregate_rows
	WHERE kind = $1 AND id = $2
	`
	return scanRow(t.tx.QueryRow(ctx, query, kind, id))
}

func (t *tx) Insert(ctx context.Context, row repository.Row) error {
	if t.done {
		return repository.ErrTxDone
	}
	const query = `
	INSERT INTO aggregate_rows (kind, id, natural_key, ref, deleted, version, data)
	VALUES ($1, $2, $3, $4, $5, 1, $6)
	`
	if _, err := t.tx.Exec(ctx, query, row.Kind, row.ID, nullKey(row.Key), row.Ref, row.Deleted, jsonData(row.Data)); err != nil {
		return mapError(err)
	}
	return nil
}

// InsertIfAbsent inserts and then locks the row. A conflicting insert still
// in flight makes ON CONFLICT wait for it, so the follow-up read sees the
// winner's row.
func (t *tx) InsertIfAbsent(ctx context.Context, row repository.Row) (bool, error) {
	if t.done {
		return false, repository.ErrTxDone
	}
	const query = `
	INSERT INTO aggregate_rows (kind, id, natural_key, ref, deleted, version, data)
	VALUES ($1, $2, $3, $4, $5, 1, $6)
	ON CONFLICT DO NOTHING
	`
	tag, err := t.tx.Exec(ctx, query, row.Kind, row.ID, nullKey(row.Key), row.Ref, row.Deleted, jsonData(row.Data))
	if err != nil {
		return false, mapError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *tx) Update(ctx context.Context, row repository.Row) error {
	if t.done {
		return repository.ErrTxDone
	}
	const query = `
	UPDATE aggregate_rows
	SET natural_key = $3,
		ref = $4,
		deleted = $5,
		version = version + 1,
		data = $6,
		updated_at = NOW()
	WHERE kind = $1 AND id = $2
	`
	tag, err := t.tx.Exec(ctx, query, row.Kind, row.ID, nullKey(row.Key), row.Ref, row.Deleted, jsonData(row.Data))
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s %s", repository.ErrRowNotFound, row.Kind, row.ID)
	}
	return nil
}

func (t *tx) ExistsByKey(ctx context.Context, kind, key string) (bool, error) {
	if t.done {
		return false, repository.ErrTxDone
	}
	const query = `
	SELECT EXISTS (
		SELECT 1 FROM aggregate_rows
		WHERE kind = $1 AND natural_key = $2 AND deleted = FALSE
	)
	`
	var exists bool
	if err := t.tx.QueryRow(ctx, query, kind, key).Scan(&exists); err != nil {
		return false, mapError(err)
	}
	return exists, nil
}

func (t *tx) List(ctx context.Context, kind, ref string) ([]repository.Row, error) {
	if t.done {
		return nil, repository.ErrTxDone
	}
	const query = `
	SELECT ` + selectColumns + `
	FROM aggregate_rows
	WHERE kind = $1 AND ($2 = '' OR ref = $2)
	ORDER BY seq
	`
	rows, err := t.tx.Query(ctx, query, kind, ref)
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
	if err := t.tx.Commit(ctx); err != nil {
		return mapError(err)
	}
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

func scanRow(row pgx.Row) (repository.Row, error) {
	var (
		r    repository.Row
		key  *string
		data []byte
	)
	if err := row.Scan(&r.Kind, &r.ID, &key, &r.Ref, &r.Deleted, &r.Version, &data, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Row{}, repository.ErrRowNotFound
		}
		return repository.Row{}, mapError(err)
	}
	if key != nil {
		r.Key = *key
	}
	r.Data = make([]byte, len(data))
	copy(r.Data, data)
	return r, nil
}

// mapError converts Postgres SQLSTATEs into repository sentinels.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		return fmt.Errorf("%w: %s", repository.ErrRowExists, pgErr.ConstraintName)
	case codeLockNotAvailable:
		return fmt.Errorf("%w: %s", repository.ErrLockTimeout, pgErr.Message)
	}
	return err
}
