// Package memory is an in-process row store with per-row exclusive locks.
// Writes are staged inside a transaction and become visible atomically on
// commit; locks are held until commit or rollback.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fastygo/storecore/repository"
)

const defaultLockTimeout = 5 * time.Second

type rowID struct {
	kind string
	id   string
}

// keyLock is the lock slot guarding a natural key of kind.
func keyLock(kind, key string) rowID {
	return rowID{kind: kind + "#key", id: key}
}

type stored struct {
	row repository.Row
	seq int64
}

// Store implements repository.TxBeginner.
type Store struct {
	mu          sync.Mutex
	rows        map[rowID]stored
	locks       map[rowID]*lockSlot
	seq         int64
	closed      bool
	lockTimeout time.Duration
}

// Option customizes a Store.
type Option func(*Store)

// WithLockTimeout bounds how long GetForUpdate waits for a row lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		rows:        make(map[rowID]stored),
		locks:       make(map[rowID]*lockSlot),
		lockTimeout: defaultLockTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Begin opens a transaction. A Tx is meant for a single goroutine.
func (s *Store) Begin(ctx context.Context) (repository.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrBeginFailure, err)
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%w: %w", repository.ErrBeginFailure, repository.ErrStoreClosed)
	}
	return &tx{
		store:  s,
		held:   make(map[rowID]*lockSlot),
		staged: make(map[rowID]*staged),
	}, nil
}

// Close rejects new transactions. Open ones fail on commit.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Ping reports whether the store accepts transactions.
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return repository.ErrStoreClosed
	}
	return nil
}

// lockSlot is a row semaphore shared by its holder and waiters. The slot is
// removed from Store.locks once nobody references it.
type lockSlot struct {
	sem  chan struct{}
	refs int
}

func (s *Store) slot(id rowID) *lockSlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.locks[id]
	if !ok {
		sl = &lockSlot{sem: make(chan struct{}, 1)}
		s.locks[id] = sl
	}
	sl.refs++
	return sl
}

func (s *Store) unref(id rowID, sl *lockSlot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl.refs--
	if sl.refs == 0 {
		delete(s.locks, id)
	}
}

func (s *Store) lockSlots() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}

func (s *Store) committed(id rowID) (stored, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.rows[id]
	return st, ok
}

func (s *Store) committedOfKind(kind string) []stored {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []stored
	for id, st := range s.rows {
		if id.kind == kind {
			out = append(out, st)
		}
	}
	return out
}

type staged struct {
	row    repository.Row
	insert bool
}

type tx struct {
	store  *Store
	held   map[rowID]*lockSlot
	staged map[rowID]*staged
	order  []rowID
	done   bool
}

func (t *tx) acquire(ctx context.Context, id rowID) error {
	if _, ok := t.held[id]; ok {
		return nil
	}
	sl := t.store.slot(id)
	timer := time.NewTimer(t.store.lockTimeout)
	defer timer.Stop()

	select {
	case sl.sem <- struct{}{}:
		t.held[id] = sl
		return nil
	case <-timer.C:
		t.store.unref(id, sl)
		return fmt.Errorf("%w: %s %s after %s", repository.ErrLockTimeout, id.kind, id.id, t.store.lockTimeout)
	case <-ctx.Done():
		t.store.unref(id, sl)
		return fmt.Errorf("%w: %s %s: %v", repository.ErrLockTimeout, id.kind, id.id, ctx.Err())
	}
}

func (t *tx) release() {
	for id, sl := range t.held {
		<-sl.sem
		t.store.unref(id, sl)
		delete(t.held, id)
	}
}

// lookup returns this transaction's view of a row.
func (t *tx) lookup(id rowID) (repository.Row, bool) {
	if st, ok := t.staged[id]; ok {
		return cloneRow(st.row), true
	}
	if st, ok := t.store.committed(id); ok {
		return cloneRow(st.row), true
	}
	return repository.Row{}, false
}

func (t *tx) keyTaken(kind, key, exceptID string) bool {
	if key == "" {
		return false
	}
	for _, st := range t.store.committedOfKind(kind) {
		row := st.row
		if s, ok := t.staged[rowID{kind, row.ID}]; ok {
			row = s.row
		}
		if row.ID != exceptID && !row.Deleted && row.Key == key {
			return true
		}
	}
	for _, s := range t.staged {
		if s.insert && s.row.Kind == kind && s.row.ID != exceptID && !s.row.Deleted && s.row.Key == key {
			return true
		}
	}
	return false
}

func (t *tx) stage(id rowID, row repository.Row, insert bool) {
	if prev, ok := t.staged[id]; ok {
		prev.row = row
		return
	}
	t.staged[id] = &staged{row: row, insert: insert}
	t.order = append(t.order, id)
}

func (t *tx) GetForUpdate(ctx context.Context, kind, id string) (repository.Row, error) {
	if t.done {
		return repository.Row{}, repository.ErrTxDone
	}
	rid := rowID{kind, id}
	if err := t.acquire(ctx, rid); err != nil {
		return repository.Row{}, err
	}
	row, ok := t.lookup(rid)
	if !ok {
		return repository.Row{}, repository.ErrRowNotFound
	}
	return row, nil
}

func (t *tx) Get(_ context.Context, kind, id string) (repository.Row, error) {
	if t.done {
		return repository.Row{}, repository.ErrTxDone
	}
	row, ok := t.lookup(rowID{kind, id})
	if !ok {
		return repository.Row{}, repository.ErrRowNotFound
	}
	return row, nil
}

func (t *tx) Insert(ctx context.Context, row repository.Row) error {
	inserted, err := t.insert(ctx, row)
	if err != nil {
		return err
	}
	if !inserted {
		return fmt.Errorf("%w: %s %s", repository.ErrRowExists, row.Kind, row.ID)
	}
	return nil
}

func (t *tx) InsertIfAbsent(ctx context.Context, row repository.Row) (bool, error) {
	return t.insert(ctx, row)
}

func (t *tx) insert(ctx context.Context, row repository.Row) (bool, error) {
	if t.done {
		return false, repository.ErrTxDone
	}
	rid := rowID{row.Kind, row.ID}
	if err := t.acquire(ctx, rid); err != nil {
		return false, err
	}
	if _, ok := t.lookup(rid); ok {
		return false, nil
	}
	if err := t.claimKey(ctx, row); err != nil {
		return false, err
	}

	now := time.Now().UTC()
	row = cloneRow(row)
	row.Version = 1
	row.CreatedAt = now
	row.UpdatedAt = now
	t.stage(rid, row, true)
	return true, nil
}

func (t *tx) Update(ctx context.Context, row repository.Row) error {
	if t.done {
		return repository.ErrTxDone
	}
	rid := rowID{row.Kind, row.ID}
	if err := t.acquire(ctx, rid); err != nil {
		return err
	}
	current, ok := t.lookup(rid)
	if !ok {
		return fmt.Errorf("%w: %s %s", repository.ErrRowNotFound, row.Kind, row.ID)
	}
	if err := t.claimKey(ctx, row); err != nil {
		return err
	}

	row = cloneRow(row)
	row.Version = current.Version + 1
	row.CreatedAt = current.CreatedAt
	row.UpdatedAt = time.Now().UTC()
	t.stage(rid, row, false)
	return nil
}

// claimKey locks the natural key of a live row and rejects duplicates.
func (t *tx) claimKey(ctx context.Context, row repository.Row) error {
	if row.Key == "" || row.Deleted {
		return nil
	}
	if err := t.acquire(ctx, keyLock(row.Kind, row.Key)); err != nil {
		return err
	}
	if t.keyTaken(row.Kind, row.Key, row.ID) {
		return fmt.Errorf("%w: %s key %q", repository.ErrRowExists, row.Kind, row.Key)
	}
	return nil
}

func (t *tx) ExistsByKey(_ context.Context, kind, key string) (bool, error) {
	if t.done {
		return false, repository.ErrTxDone
	}
	return t.keyTaken(kind, key, ""), nil
}

func (t *tx) List(_ context.Context, kind, ref string) ([]repository.Row, error) {
	if t.done {
		return nil, repository.ErrTxDone
	}
	committed := t.store.committedOfKind(kind)
	sort.Slice(committed, func(i, j int) bool { return committed[i].seq < committed[j].seq })

	out := make([]repository.Row, 0, len(committed))
	for _, st := range committed {
		row := st.row
		if s, ok := t.staged[rowID{kind, row.ID}]; ok {
			row = s.row
		}
		if ref == "" || row.Ref == ref {
			out = append(out, cloneRow(row))
		}
	}
	for _, id := range t.order {
		s := t.staged[id]
		if !s.insert || id.kind != kind {
			continue
		}
		if ref == "" || s.row.Ref == ref {
			out = append(out, cloneRow(s.row))
		}
	}
	return out, nil
}

func (t *tx) Commit(context.Context) error {
	if t.done {
		return repository.ErrTxDone
	}
	t.done = true
	defer t.release()

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return repository.ErrStoreClosed
	}
	for _, id := range t.order {
		st := t.staged[id]
		var seq int64
		if prev, ok := s.rows[id]; ok {
			seq = prev.seq
		} else {
			s.seq++
			seq = s.seq
		}
		s.rows[id] = stored{row: st.row, seq: seq}
	}
	return nil
}

// Rollback discards staged writes. It is a no-op on a finished transaction.
func (t *tx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.staged = nil
	t.order = nil
	t.release()
	return nil
}

func cloneRow(row repository.Row) repository.Row {
	if row.Data != nil {
		data := make([]byte, len(row.Data))
		copy(data, row.Data)
		row.Data = data
	}
	return row
}
