package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/fastygo/storecore/domain"
)

// rowSet is the transaction-bound state shared by the typed repositories: the
// storage transaction, the lock guard and the last known version of every row
// this repository has read or written.
type rowSet struct {
	tx       Tx
	guard    LockGuard
	kind     string
	notFound *domain.Error
	conflict *domain.Error
	versions map[string]int
}

func newRowSet(tx Tx, guard LockGuard, kind string, notFound, conflict *domain.Error) rowSet {
	return rowSet{
		tx:       tx,
		guard:    guard,
		kind:     kind,
		notFound: notFound,
		conflict: conflict,
		versions: make(map[string]int),
	}
}

func (s *rowSet) lock(ctx context.Context, id string) (Row, error) {
	if id == "" {
		return Row{}, s.notFound
	}
	if s.guard != nil {
		if err := s.guard(LockKey{Kind: s.kind, ID: id}); err != nil {
			return Row{}, err
		}
	}
	return s.lockUnguarded(ctx, id)
}

func (s *rowSet) lockUnguarded(ctx context.Context, id string) (Row, error) {
	row, err := s.tx.GetForUpdate(ctx, s.kind, id)
	if err != nil {
		return Row{}, s.translate(err)
	}
	s.versions[id] = row.Version
	return row, nil
}

func (s *rowSet) read(ctx context.Context, id string) (Row, error) {
	if id == "" {
		return Row{}, s.notFound
	}
	row, err := s.tx.Get(ctx, s.kind, id)
	if err != nil {
		return Row{}, s.translate(err)
	}
	if _, ok := s.versions[id]; !ok {
		s.versions[id] = row.Version
	}
	return row, nil
}

// next returns the version the row will carry after the upcoming write.
func (s *rowSet) next(id string) int {
	return s.versions[id] + 1
}

func (s *rowSet) known(id string) bool {
	_, ok := s.versions[id]
	return ok
}

// write inserts unseen rows and updates the ones loaded or saved before.
func (s *rowSet) write(ctx context.Context, row Row) (int, error) {
	row.Kind = s.kind
	version := s.next(row.ID)
	var err error
	if s.known(row.ID) {
		err = s.tx.Update(ctx, row)
	} else {
		err = s.tx.Insert(ctx, row)
	}
	if err != nil {
		return 0, s.translate(err)
	}
	s.versions[row.ID] = version
	return version, nil
}

func (s *rowSet) list(ctx context.Context, ref string) ([]Row, error) {
	rows, err := s.tx.List(ctx, s.kind, ref)
	if err != nil {
		return nil, s.translate(err)
	}
	return rows, nil
}

func (s *rowSet) translate(err error) error {
	return translate(err, s.notFound, s.conflict)
}

// translate maps storage failures onto the domain vocabulary. Only the message
// of a driver error survives; its type never crosses the repository boundary.
func translate(err error, notFound, conflict *domain.Error) error {
	var dErr *domain.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &dErr):
		return err
	case errors.Is(err, ErrRowNotFound):
		return notFound
	case errors.Is(err, ErrRowExists):
		return conflict
	case errors.Is(err, ErrLockTimeout):
		return domain.Detail(domain.ErrResourceUnavailable, "%s", err.Error())
	case errors.Is(err, ErrBeginFailure), errors.Is(err, ErrStoreClosed):
		return domain.Detail(domain.ErrResourceUnavailable, "%s", err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return domain.Detail(domain.ErrResourceUnavailable, "%s", err.Error())
	case errors.Is(err, ErrTxDone):
		return domain.ErrInvalidState
	default:
		return domain.Detail(domain.ErrStorageFailure, "%s", err.Error())
	}
}

// TranslateError exposes the repository error mapping to callers that drive
// a Tx directly, such as the unit of work on begin.
func TranslateError(err error) error {
	return translate(err, domain.ErrNotFound, domain.ErrDuplicate)
}

func encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, domain.WrapError(domain.ErrCodeInternal, "encode aggregate", err)
	}
	return b, nil
}

func decode(row Row, v any) error {
	if err := json.Unmarshal(row.Data, v); err != nil {
		return domain.WrapError(domain.ErrCodeInternal, "decode "+row.Kind, err)
	}
	return nil
}
