package repository

import (
	"context"
	"strings"

	"github.com/fastygo/storecore/domain"
)

// ProductRepository persists products inside one storage transaction.
type ProductRepository struct {
	rows rowSet
}

// NewProductRepository binds a product repository to tx. guard may be nil.
func NewProductRepository(tx Tx, guard LockGuard) *ProductRepository {
	return &ProductRepository{
		rows: newRowSet(tx, guard, domain.KindProduct, domain.ErrProductNotFound, domain.ErrDuplicateProduct),
	}
}

// GetForUpdate loads the product and holds its row lock until the
// transaction ends.
func (r *ProductRepository) GetForUpdate(ctx context.Context, id string) (*domain.Product, error) {
	row, err := r.rows.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	return productFromRow(row)
}

// Get reads the product without locking it.
func (r *ProductRepository) Get(ctx context.Context, id string) (*domain.Product, error) {
	row, err := r.rows.read(ctx, id)
	if err != nil {
		return nil, err
	}
	return productFromRow(row)
}

// Save writes the product. A name clash with another live product surfaces
// as domain.ErrDuplicateProduct whether the storage caught it or not.
func (r *ProductRepository) Save(ctx context.Context, p *domain.Product) error {
	if p == nil {
		return domain.ErrInvalidPayload
	}
	snap := p.Snapshot()
	snap.Version = r.rows.next(snap.ID)
	data, err := encode(snap)
	if err != nil {
		return err
	}
	version, err := r.rows.write(ctx, Row{
		ID:      snap.ID,
		Key:     ProductKey(snap.Name),
		Deleted: snap.Deleted,
		Data:    data,
	})
	if err != nil {
		return err
	}
	p.SetVersion(version)
	return nil
}

// ExistsByKey reports whether a live product named name exists.
func (r *ProductRepository) ExistsByKey(ctx context.Context, name string) (bool, error) {
	ok, err := r.rows.tx.ExistsByKey(ctx, domain.KindProduct, ProductKey(name))
	if err != nil {
		return false, r.rows.translate(err)
	}
	return ok, nil
}

// List returns every product, deleted ones included, in creation order.
func (r *ProductRepository) List(ctx context.Context) ([]*domain.Product, error) {
	rows, err := r.rows.list(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Product, 0, len(rows))
	for _, row := range rows {
		p, err := productFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ProductKey normalizes a product name into its natural key.
func ProductKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func productFromRow(row Row) (*domain.Product, error) {
	var snap domain.ProductSnapshot
	if err := decode(row, &snap); err != nil {
		return nil, err
	}
	snap.Version = row.Version
	return domain.ReconstituteProduct(snap), nil
}
