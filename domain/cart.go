package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// cartNamespace seeds the deterministic cart ids.
var cartNamespace = uuid.MustParse("7d4f1c2e-9a0b-4c53-8e61-2f0c3b5a9d17")

// CartIDForUser derives the id of the single cart owned by userID.
func CartIDForUser(userID string) string {
	return uuid.NewSHA1(cartNamespace, []byte(userID)).String()
}

// CartItem is an immutable cart line holding a snapshot of the product.
type CartItem struct {
	productID   string
	productName string
	unitPrice   decimal.Decimal
	quantity    int
}

// NewCartItem validates and builds a cart line.
func NewCartItem(productID, productName string, unitPrice decimal.Decimal, qty int) (CartItem, error) {
	if productID == "" {
		return CartItem{}, Detail(ErrInvalidPayload, "product id required")
	}
	if qty <= 0 {
		return CartItem{}, ErrInvalidQuantity
	}
	if !unitPrice.IsPositive() {
		return CartItem{}, ErrInvalidPrice
	}
	return CartItem{productID: productID, productName: productName, unitPrice: unitPrice, quantity: qty}, nil
}

func (i CartItem) ProductID() string          { return i.productID }
func (i CartItem) ProductName() string        { return i.productName }
func (i CartItem) UnitPrice() decimal.Decimal { return i.unitPrice }
func (i CartItem) Quantity() int              { return i.quantity }

// Subtotal is unit price times quantity.
func (i CartItem) Subtotal() decimal.Decimal {
	return i.unitPrice.Mul(decimal.NewFromInt(int64(i.quantity)))
}

// Equal compares two lines by value.
func (i CartItem) Equal(other CartItem) bool {
	return i.productID == other.productID &&
		i.productName == other.productName &&
		i.unitPrice.Equal(other.unitPrice) &&
		i.quantity == other.quantity
}

// merged keeps the snapshot captured by the first add.
func (i CartItem) merged(qty int) CartItem {
	i.quantity += qty
	return i
}

// CartItemSnapshot is the persisted shape of a cart line.
type CartItemSnapshot struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
}

// CartSnapshot is the persisted shape of a cart.
type CartSnapshot struct {
	ID        string             `json:"id"`
	UserID    string             `json:"user_id"`
	Items     []CartItemSnapshot `json:"items"`
	Version   int                `json:"version"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Cart is the per-user shopping cart aggregate.
type Cart struct {
	eventRecorder

	id        string
	userID    string
	items     []CartItem
	version   int
	createdAt time.Time
	updatedAt time.Time
}

// NewCart creates the cart of userID raising CartCreated.
func NewCart(userID string) (*Cart, error) {
	if userID == "" {
		return nil, Detail(ErrInvalidPayload, "user id required")
	}
	now := time.Now().UTC()
	c := &Cart{
		id:        CartIDForUser(userID),
		userID:    userID,
		createdAt: now,
		updatedAt: now,
	}
	c.record(KindCart, c.id, CartCreated{UserID: userID}, now)
	return c, nil
}

// ReconstituteCart rebuilds a cart from storage without validation.
func ReconstituteCart(s CartSnapshot) *Cart {
	items := make([]CartItem, 0, len(s.Items))
	for _, it := range s.Items {
		items = append(items, CartItem{
			productID:   it.ProductID,
			productName: it.ProductName,
			unitPrice:   it.UnitPrice,
			quantity:    it.Quantity,
		})
	}
	return &Cart{
		id:        s.ID,
		userID:    s.UserID,
		items:     items,
		version:   s.Version,
		createdAt: s.CreatedAt,
		updatedAt: s.UpdatedAt,
	}
}

func (c *Cart) AggregateType() string { return KindCart }
func (c *Cart) AggregateID() string   { return c.id }

func (c *Cart) ID() string     { return c.id }
func (c *Cart) UserID() string { return c.userID }
func (c *Cart) Version() int   { return c.version }
func (c *Cart) IsEmpty() bool  { return len(c.items) == 0 }

// Items returns a copy of the cart lines in insertion order.
func (c *Cart) Items() []CartItem {
	out := make([]CartItem, len(c.items))
	copy(out, c.items)
	return out
}

// Item looks up the line for productID.
func (c *Cart) Item(productID string) (CartItem, bool) {
	for _, it := range c.items {
		if it.productID == productID {
			return it, true
		}
	}
	return CartItem{}, false
}

// Total sums the line subtotals.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range c.items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// AddItem merges item into the line for the same product, or appends it.
func (c *Cart) AddItem(item CartItem) error {
	if item.quantity <= 0 {
		return ErrInvalidQuantity
	}
	line := item
	merged := false
	for idx, existing := range c.items {
		if existing.productID == item.productID {
			line = existing.merged(item.quantity)
			c.items[idx] = line
			merged = true
			break
		}
	}
	if !merged {
		c.items = append(c.items, item)
	}
	c.mutated(CartItemAdded{
		ProductID: item.productID,
		Quantity:  item.quantity,
		UnitPrice: line.unitPrice,
		LineQty:   line.quantity,
	})
	return nil
}

// RemoveItem drops the line for productID and returns it so the caller can
// release the reserved stock.
func (c *Cart) RemoveItem(productID string) (CartItem, error) {
	for idx, existing := range c.items {
		if existing.productID == productID {
			c.items = append(c.items[:idx:idx], c.items[idx+1:]...)
			c.mutated(CartItemRemoved{ProductID: productID, Quantity: existing.quantity})
			return existing, nil
		}
	}
	return CartItem{}, Detail(ErrItemNotInCart, "product %s", productID)
}

// Submit clears the cart for orderID and returns the lines that were in it.
func (c *Cart) Submit(orderID string) ([]CartItem, error) {
	if len(c.items) == 0 {
		return nil, ErrEmptyCart
	}
	lines := c.items
	total := c.Total()
	c.items = nil
	c.mutated(CartSubmitted{OrderID: orderID, ItemCount: len(lines), Total: total})
	return lines, nil
}

// SetVersion records the storage version assigned by the last save.
func (c *Cart) SetVersion(v int) { c.version = v }

// Snapshot returns the persisted shape of the cart.
func (c *Cart) Snapshot() CartSnapshot {
	items := make([]CartItemSnapshot, 0, len(c.items))
	for _, it := range c.items {
		items = append(items, CartItemSnapshot{
			ProductID:   it.productID,
			ProductName: it.productName,
			UnitPrice:   it.unitPrice,
			Quantity:    it.quantity,
		})
	}
	return CartSnapshot{
		ID:        c.id,
		UserID:    c.userID,
		Items:     items,
		Version:   c.version,
		CreatedAt: c.createdAt,
		UpdatedAt: c.updatedAt,
	}
}

func (c *Cart) mutated(payload Payload) {
	now := time.Now().UTC()
	touch(&c.createdAt, &c.updatedAt, now)
	c.record(KindCart, c.id, payload, now)
}
