package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderItem is an immutable order line. Name and price are copied from the
// cart snapshot and never follow later product changes.
type OrderItem struct {
	productID   string
	productName string
	unitPrice   decimal.Decimal
	quantity    int
}

func (i OrderItem) ProductID() string          { return i.productID }
func (i OrderItem) ProductName() string        { return i.productName }
func (i OrderItem) UnitPrice() decimal.Decimal { return i.unitPrice }
func (i OrderItem) Quantity() int              { return i.quantity }

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.unitPrice.Mul(decimal.NewFromInt(int64(i.quantity)))
}

// OrderItemSnapshot is the persisted shape of an order line.
type OrderItemSnapshot struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
}

// OrderSnapshot is the persisted shape of an order.
type OrderSnapshot struct {
	ID        string              `json:"id"`
	UserID    string              `json:"user_id"`
	Items     []OrderItemSnapshot `json:"items"`
	Total     decimal.Decimal     `json:"total"`
	Version   int                 `json:"version"`
	CreatedAt time.Time           `json:"created_at"`
}

// Order is immutable once created; it has no mutating methods.
type Order struct {
	eventRecorder

	id        string
	userID    string
	items     []OrderItem
	total     decimal.Decimal
	version   int
	createdAt time.Time
}

// NewOrderID allocates an order id before the order exists so the cart can
// reference it in CartSubmitted.
func NewOrderID() string {
	return uuid.NewString()
}

// NewOrder builds an order from submitted cart lines raising OrderCreated.
func NewOrder(id, userID string, lines []CartItem) (*Order, error) {
	if id == "" || userID == "" {
		return nil, Detail(ErrInvalidPayload, "order id and user id required")
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	items := make([]OrderItem, 0, len(lines))
	total := decimal.Zero
	for _, l := range lines {
		item := OrderItem{
			productID:   l.productID,
			productName: l.productName,
			unitPrice:   l.unitPrice,
			quantity:    l.quantity,
		}
		total = total.Add(item.Subtotal())
		items = append(items, item)
	}

	now := time.Now().UTC()
	o := &Order{
		id:        id,
		userID:    userID,
		items:     items,
		total:     total,
		createdAt: now,
	}
	o.record(KindOrder, id, OrderCreated{UserID: userID, ItemCount: len(items), Total: total}, now)
	return o, nil
}

// ReconstituteOrder rebuilds an order from storage without validation.
func ReconstituteOrder(s OrderSnapshot) *Order {
	items := make([]OrderItem, 0, len(s.Items))
	for _, it := range s.Items {
		items = append(items, OrderItem{
			productID:   it.ProductID,
			productName: it.ProductName,
			unitPrice:   it.UnitPrice,
			quantity:    it.Quantity,
		})
	}
	return &Order{
		id:        s.ID,
		userID:    s.UserID,
		items:     items,
		total:     s.Total,
		version:   s.Version,
		createdAt: s.CreatedAt,
	}
}

func (o *Order) AggregateType() string { return KindOrder }
func (o *Order) AggregateID() string   { return o.id }

func (o *Order) ID() string             { return o.id }
func (o *Order) UserID() string         { return o.userID }
func (o *Order) Total() decimal.Decimal { return o.total }
func (o *Order) CreatedAt() time.Time   { return o.createdAt }
func (o *Order) Version() int           { return o.version }

// Items returns a copy of the order lines.
func (o *Order) Items() []OrderItem {
	out := make([]OrderItem, len(o.items))
	copy(out, o.items)
	return out
}

// SetVersion records the storage version assigned by the last save.
func (o *Order) SetVersion(v int) { o.version = v }

// Snapshot returns the persisted shape of the order.
func (o *Order) Snapshot() OrderSnapshot {
	items := make([]OrderItemSnapshot, 0, len(o.items))
	for _, it := range o.items {
		items = append(items, OrderItemSnapshot{
			ProductID:   it.productID,
			ProductName: it.productName,
			UnitPrice:   it.unitPrice,
			Quantity:    it.quantity,
		})
	}
	return OrderSnapshot{
		ID:        o.id,
		UserID:    o.userID,
		Items:     items,
		Total:     o.total,
		Version:   o.version,
		CreatedAt: o.createdAt,
	}
}
