package repository

import (
	"context"
	"errors"
	"time"
)

// Storage-level errors. Backends return these (possibly wrapped); the typed
// repositories translate them before they reach the application layer.
var (
	ErrRowNotFound  = errors.New("row not found")
	ErrRowExists    = errors.New("row already exists")
	ErrLockTimeout  = errors.New("lock wait timeout")
	ErrTxDone       = errors.New("transaction already finished")
	ErrStoreClosed  = errors.New("store closed")
	ErrBeginFailure = errors.New("cannot open transaction")
)

// Row is the storage shape of an aggregate. Key is an optional natural key
// unique among non-deleted rows of the same kind; Ref is a non-unique
// reference used for listing (owner, aggregate id).
type Row struct {
	Kind      string
	ID        string
	Key       string
	Ref       string
	Deleted   bool
	Version   int
	Data      []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TxBeginner opens storage transactions.
type TxBeginner interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a storage transaction with row-level exclusive locks held until
// Commit or Rollback.
type Tx interface {
	// GetForUpdate blocks until the row lock is acquired or the store's lock
	// timeout elapses (ErrLockTimeout).
	GetForUpdate(ctx context.Context, kind, id string) (Row, error)
	Get(ctx context.Context, kind, id string) (Row, error)
	// Insert stores a new row at version 1.
	Insert(ctx context.Context, row Row) error
	// InsertIfAbsent inserts the row unless one with the same kind and id
	// exists, and locks it either way.
	InsertIfAbsent(ctx context.Context, row Row) (bool, error)
	// Update replaces the row and bumps its version.
	Update(ctx context.Context, row Row) error
	ExistsByKey(ctx context.Context, kind, key string) (bool, error)
	// List returns rows of kind in insertion order, filtered by ref when set.
	List(ctx context.Context, kind, ref string) ([]Row, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// kindRank fixes the global lock acquisition order across aggregate types.
var kindRank = map[string]int{
	"product": 1,
	"cart":    2,
	"order":   3,
	"audit":   4,
}

// LockKey identifies a lockable row.
type LockKey struct {
	Kind string
	ID   string
}

// Less orders keys by aggregate type, then by id.
func (k LockKey) Less(other LockKey) bool {
	ri, rj := kindRank[k.Kind], kindRank[other.Kind]
	if ri != rj {
		return ri < rj
	}
	if k.Kind != other.Kind {
		return k.Kind < other.Kind
	}
	return k.ID < other.ID
}

// LockGuard is consulted before every locking read; a non-nil error aborts
// the read.
type LockGuard func(key LockKey) error
