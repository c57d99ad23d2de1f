package repository

import (
	"context"
	"errors"

	"github.com/fastygo/storecore/domain"
)

// OrderRepository persists orders. Orders are insert-only.
type OrderRepository struct {
	rows rowSet
}

func NewOrderRepository(tx Tx, guard LockGuard) *OrderRepository {
	return &OrderRepository{
		rows: newRowSet(tx, guard, domain.KindOrder, domain.ErrOrderNotFound, domain.ErrDuplicate),
	}
}

func (r *OrderRepository) GetForUpdate(ctx context.Context, id string) (*domain.Order, error) {
	row, err := r.rows.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	return orderFromRow(row)
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	row, err := r.rows.read(ctx, id)
	if err != nil {
		return nil, err
	}
	return orderFromRow(row)
}

// Save stores a new order. Rewriting a stored order is rejected.
func (r *OrderRepository) Save(ctx context.Context, o *domain.Order) error {
	if o == nil {
		return domain.ErrInvalidPayload
	}
	if r.rows.known(o.ID()) || o.Version() > 0 {
		return domain.Detail(domain.ErrInvalidState, "order %s is immutable", o.ID())
	}
	snap := o.Snapshot()
	snap.Version = 1
	data, err := encode(snap)
	if err != nil {
		return err
	}
	version, err := r.rows.write(ctx, Row{ID: snap.ID, Ref: snap.UserID, Data: data})
	if err != nil {
		return err
	}
	o.SetVersion(version)
	return nil
}

// ExistsByKey reports whether an order with id exists.
func (r *OrderRepository) ExistsByKey(ctx context.Context, id string) (bool, error) {
	_, err := r.rows.tx.Get(ctx, domain.KindOrder, id)
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, r.rows.translate(err)
	}
}

// ListByUser returns the orders placed by userID, oldest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Order, error) {
	rows, err := r.rows.list(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Order, 0, len(rows))
	for _, row := range rows {
		o, err := orderFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func orderFromRow(row Row) (*domain.Order, error) {
	var snap domain.OrderSnapshot
	if err := decode(row, &snap); err != nil {
		return nil, err
	}
	snap.Version = row.Version
	return domain.ReconstituteOrder(snap), nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrRowNotFound)
}
