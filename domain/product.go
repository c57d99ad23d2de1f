package domain

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// NewProductParams carries the input of the product factory.
type NewProductParams struct {
	ID          string          `validate:"omitempty,uuid"`
	Name        string          `validate:"required,min=1,max=200"`
	Description string          `validate:"max=2000"`
	Price       decimal.Decimal `validate:"-"`
	Stock       int             `validate:"gte=0"`
}

// ProductSnapshot is the persisted shape of a product.
type ProductSnapshot struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Deleted     bool            `json:"deleted"`
	DeletedAt   *time.Time      `json:"deleted_at,omitempty"`
	Version     int             `json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Product is the catalog aggregate that owns stock.
type Product struct {
	eventRecorder

	id          string
	name        string
	description string
	price       decimal.Decimal
	stock       int
	deleted     bool
	deletedAt   *time.Time
	version     int
	createdAt   time.Time
	updatedAt   time.Time
}

// NewProduct validates params and creates a product raising ProductCreated.
func NewProduct(params NewProductParams) (*Product, error) {
	params.Name = strings.TrimSpace(params.Name)
	if err := validate.Struct(params); err != nil {
		return nil, WrapError(ErrCodeInvalid, "invalid product", err)
	}
	if !params.Price.IsPositive() {
		return nil, ErrInvalidPrice
	}
	if params.ID == "" {
		params.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	p := &Product{
		id:          params.ID,
		name:        params.Name,
		description: params.Description,
		price:       params.Price,
		stock:       params.Stock,
		createdAt:   now,
		updatedAt:   now,
	}
	p.record(KindProduct, p.id, ProductCreated{Name: p.name, Price: p.price, Stock: p.stock}, now)
	return p, nil
}

// ReconstituteProduct rebuilds a product from storage without validation.
func ReconstituteProduct(s ProductSnapshot) *Product {
	return &Product{
		id:          s.ID,
		name:        s.Name,
		description: s.Description,
		price:       s.Price,
		stock:       s.Stock,
		deleted:     s.Deleted,
		deletedAt:   s.DeletedAt,
		version:     s.Version,
		createdAt:   s.CreatedAt,
		updatedAt:   s.UpdatedAt,
	}
}

func (p *Product) AggregateType() string { return KindProduct }
func (p *Product) AggregateID() string   { return p.id }

func (p *Product) ID() string             { return p.id }
func (p *Product) Name() string           { return p.name }
func (p *Product) Description() string    { return p.description }
func (p *Product) Price() decimal.Decimal { return p.price }
func (p *Product) Stock() int             { return p.stock }
func (p *Product) IsDeleted() bool        { return p.deleted }
func (p *Product) Version() int           { return p.version }
func (p *Product) UpdatedAt() time.Time   { return p.updatedAt }

// SetVersion records the storage version assigned by the last save.
func (p *Product) SetVersion(v int) { p.version = v }

// Snapshot returns the persisted shape of the product.
func (p *Product) Snapshot() ProductSnapshot {
	return ProductSnapshot{
		ID:          p.id,
		Name:        p.name,
		Description: p.description,
		Price:       p.price,
		Stock:       p.stock,
		Deleted:     p.deleted,
		DeletedAt:   p.deletedAt,
		Version:     p.version,
		CreatedAt:   p.createdAt,
		UpdatedAt:   p.updatedAt,
	}
}

// ReserveStock takes qty units out of stock for a cart.
func (p *Product) ReserveStock(qty int) error {
	if err := p.ensureAvailable(); err != nil {
		return err
	}
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if qty > p.stock {
		return Detail(ErrInsufficientStock, "product %s: requested %d, available %d", p.id, qty, p.stock)
	}
	p.stock -= qty
	p.mutated(StockReserved{Quantity: qty, Stock: p.stock})
	return nil
}

// ReleaseStock returns qty previously reserved units. Released stock is
// accepted for deleted products so cart removals never fail on a tombstone.
func (p *Product) ReleaseStock(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	p.stock += qty
	p.mutated(StockReleased{Quantity: qty, Stock: p.stock})
	return nil
}

// Restock adds new inventory.
func (p *Product) Restock(qty int) error {
	if err := p.ensureAvailable(); err != nil {
		return err
	}
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	p.stock += qty
	p.mutated(ProductRestocked{Quantity: qty, Stock: p.stock})
	return nil
}

// ChangePrice reprices the product. Existing cart and order snapshots keep
// the price captured when they were taken.
func (p *Product) ChangePrice(price decimal.Decimal) error {
	if err := p.ensureAvailable(); err != nil {
		return err
	}
	if !price.IsPositive() {
		return ErrInvalidPrice
	}
	if price.Equal(p.price) {
		return nil
	}
	old := p.price
	p.price = price
	p.mutated(ProductPriceChanged{OldPrice: old, NewPrice: price})
	return nil
}

// Delete tombstones the product; the row persists.
func (p *Product) Delete() error {
	if p.deleted {
		return nil
	}
	now := time.Now().UTC()
	p.deleted = true
	p.deletedAt = &now
	p.mutated(ProductDeleted{Name: p.name})
	return nil
}

// LineSnapshot captures name and price for a cart line of qty units.
func (p *Product) LineSnapshot(qty int) (CartItem, error) {
	return NewCartItem(p.id, p.name, p.price, qty)
}

func (p *Product) ensureAvailable() error {
	if p.deleted {
		return Detail(ErrProductUnavailable, "product %s", p.id)
	}
	return nil
}

func (p *Product) mutated(payload Payload) {
	now := time.Now().UTC()
	touch(&p.createdAt, &p.updatedAt, now)
	p.record(KindProduct, p.id, payload, now)
}
