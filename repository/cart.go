package repository

import (
	"context"

	"github.com/fastygo/storecore/domain"
)

// CartRepository persists carts inside one storage transaction.
type CartRepository struct {
	rows rowSet
}

func NewCartRepository(tx Tx, guard LockGuard) *CartRepository {
	return &CartRepository{
		rows: newRowSet(tx, guard, domain.KindCart, domain.ErrCartNotFound, domain.ErrDuplicate),
	}
}

func (r *CartRepository) GetForUpdate(ctx context.Context, id string) (*domain.Cart, error) {
	row, err := r.rows.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	return cartFromRow(row)
}

func (r *CartRepository) Get(ctx context.Context, id string) (*domain.Cart, error) {
	row, err := r.rows.read(ctx, id)
	if err != nil {
		return nil, err
	}
	return cartFromRow(row)
}

// GetOrCreateForUpdate returns the locked cart of userID, creating it when it
// does not exist yet. Concurrent callers for the same user converge on one
// row: the loser of the insert race blocks on the winner's lock and then
// reads the winner's cart. A freshly created cart carries CartCreated.
func (r *CartRepository) GetOrCreateForUpdate(ctx context.Context, userID string) (*domain.Cart, error) {
	fresh, err := domain.NewCart(userID)
	if err != nil {
		return nil, err
	}
	id := fresh.ID()
	if r.rows.guard != nil {
		if err := r.rows.guard(LockKey{Kind: domain.KindCart, ID: id}); err != nil {
			return nil, err
		}
	}

	snap := fresh.Snapshot()
	snap.Version = 1
	data, err := encode(snap)
	if err != nil {
		return nil, err
	}
	inserted, err := r.rows.tx.InsertIfAbsent(ctx, Row{
		Kind: domain.KindCart,
		ID:   id,
		Ref:  userID,
		Data: data,
	})
	if err != nil {
		return nil, r.rows.translate(err)
	}
	if inserted {
		r.rows.versions[id] = 1
		fresh.SetVersion(1)
		return fresh, nil
	}

	row, err := r.rows.lockUnguarded(ctx, id)
	if err != nil {
		return nil, err
	}
	return cartFromRow(row)
}

func (r *CartRepository) Save(ctx context.Context, c *domain.Cart) error {
	if c == nil {
		return domain.ErrInvalidPayload
	}
	snap := c.Snapshot()
	snap.Version = r.rows.next(snap.ID)
	data, err := encode(snap)
	if err != nil {
		return err
	}
	version, err := r.rows.write(ctx, Row{ID: snap.ID, Ref: snap.UserID, Data: data})
	if err != nil {
		return err
	}
	c.SetVersion(version)
	return nil
}

// ExistsByKey reports whether userID already owns a cart.
func (r *CartRepository) ExistsByKey(ctx context.Context, userID string) (bool, error) {
	_, err := r.rows.tx.Get(ctx, domain.KindCart, domain.CartIDForUser(userID))
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, r.rows.translate(err)
	}
}

func cartFromRow(row Row) (*domain.Cart, error) {
	var snap domain.CartSnapshot
	if err := decode(row, &snap); err != nil {
		return nil, err
	}
	snap.Version = row.Version
	return domain.ReconstituteCart(snap), nil
}
