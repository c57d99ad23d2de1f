package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/storecore/repository"
)

func TestMapErrorTranslatesSQLState(t *testing.T) {
	plain := errors.New("connection reset")
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"unique violation", &pgconn.PgError{Code: codeUniqueViolation, ConstraintName: "aggregate_rows_live_key"}, repository.ErrRowExists},
		{"wrapped unique violation", wrap(&pgconn.PgError{Code: codeUniqueViolation}), repository.ErrRowExists},
		{"lock not available", &pgconn.PgError{Code: codeLockNotAvailable, Message: "canceling statement due to lock timeout"}, repository.ErrLockTimeout},
		{"other sqlstate", &pgconn.PgError{Code: "40P01"}, nil},
		{"not a pg error", plain, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := mapError(tc.err)
			if tc.want == nil {
				assert.Same(t, tc.err, got)
				assert.False(t, errors.Is(got, repository.ErrRowExists))
				assert.False(t, errors.Is(got, repository.ErrLockTimeout))
				return
			}
			assert.ErrorIs(t, got, tc.want)
		})
	}
}

func TestMapErrorKeepsConstraintName(t *testing.T) {
	err := mapError(&pgconn.PgError{Code: codeUniqueViolation, ConstraintName: "aggregate_rows_live_key"})
	assert.Contains(t, err.Error(), "aggregate_rows_live_key")
}

func wrap(err error) error { return errors.Join(errors.New("insert product"), err) }

type fakeRow struct {
	err    error
	values []any
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case **string:
			*p, _ = r.values[i].(*string)
		case *bool:
			*p = r.values[i].(bool)
		case *int:
			*p = r.values[i].(int)
		case *[]byte:
			*p = r.values[i].([]byte)
		case *time.Time:
			*p = r.values[i].(time.Time)
		}
	}
	return nil
}

func TestScanRow(t *testing.T) {
	_, err := scanRow(fakeRow{err: pgx.ErrNoRows})
	assert.ErrorIs(t, err, repository.ErrRowNotFound)

	_, err = scanRow(fakeRow{err: &pgconn.PgError{Code: codeLockNotAvailable}})
	assert.ErrorIs(t, err, repository.ErrLockTimeout)

	now := time.Now()
	data := []byte(`{"name":"Laptop"}`)
	key := "laptop"
	row, err := scanRow(fakeRow{values: []any{"product", "p1", &key, "", false, 3, data, now, now}})
	require.NoError(t, err)
	assert.Equal(t, "laptop", row.Key)
	assert.Equal(t, 3, row.Version)
	data[0] = 'x'
	assert.JSONEq(t, `{"name":"Laptop"}`, string(row.Data), "data is copied out of the driver buffer")

	row, err = scanRow(fakeRow{values: []any{"cart", "c1", (*string)(nil), "u1", false, 1, []byte(`{}`), now, now}})
	require.NoError(t, err)
	assert.Empty(t, row.Key)
	assert.Equal(t, "u1", row.Ref)
}

func TestFinishedTransactionRejectsUse(t *testing.T) {
	ctx := context.Background()
	done := &tx{done: true}

	_, err := done.GetForUpdate(ctx, "product", "p1")
	assert.ErrorIs(t, err, repository.ErrTxDone)
	_, err = done.Get(ctx, "product", "p1")
	assert.ErrorIs(t, err, repository.ErrTxDone)
	assert.ErrorIs(t, done.Insert(ctx, repository.Row{}), repository.ErrTxDone)
	_, err = done.List(ctx, "product", "")
	assert.ErrorIs(t, err, repository.ErrTxDone)
	assert.ErrorIs(t, done.Commit(ctx), repository.ErrTxDone)
	assert.NoError(t, done.Rollback(ctx))
}

func TestRowHelpers(t *testing.T) {
	assert.Nil(t, nullKey(""))
	assert.Equal(t, "laptop", nullKey("laptop"))
	assert.Equal(t, []byte("null"), jsonData(nil))
	assert.Equal(t, []byte(`{}`), jsonData([]byte(`{}`)))
}
