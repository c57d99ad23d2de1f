package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLaptop(t *testing.T, stock int) *Product {
	t.Helper()
	p, err := NewProduct(NewProductParams{Name: " Laptop ", Price: decimal.RequireFromString("999.99"), Stock: stock})
	require.NoError(t, err)
	return p
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func TestNewProductValidates(t *testing.T) {
	p := newLaptop(t, 10)
	assert.Equal(t, "Laptop", p.Name())
	assert.Equal(t, []EventType{EventProductCreated}, eventTypes(p.PendingEvents()))

	_, err := NewProduct(NewProductParams{Name: "", Price: decimal.NewFromInt(1)})
	assert.Equal(t, ErrCodeInvalid, CodeOf(err))

	_, err = NewProduct(NewProductParams{Name: "X", Price: decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestStockNeverGoesNegative(t *testing.T) {
	p := newLaptop(t, 3)
	p.PullEvents()

	require.NoError(t, p.ReserveStock(3))
	assert.Equal(t, 0, p.Stock())

	err := p.ReserveStock(1)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 0, p.Stock())

	assert.ErrorIs(t, p.ReserveStock(0), ErrInvalidQuantity)
	assert.ErrorIs(t, p.ReleaseStock(-2), ErrInvalidQuantity)
	assert.Equal(t, []EventType{EventStockReserved}, eventTypes(p.PullEvents()))
}

func TestReserveReleaseRestoresStock(t *testing.T) {
	for _, qty := range []int{1, 2, 5, 10} {
		t.Run(fmt.Sprint(qty), func(t *testing.T) {
			p := newLaptop(t, 10)
			require.NoError(t, p.ReserveStock(qty))
			require.NoError(t, p.ReleaseStock(qty))
			assert.Equal(t, 10, p.Stock())
		})
	}
}

func TestDeletedProductRejectsMutationsButAcceptsReleases(t *testing.T) {
	p := newLaptop(t, 5)
	require.NoError(t, p.Delete())
	require.NoError(t, p.Delete())
	assert.True(t, p.IsDeleted())
	assert.NotNil(t, p.Snapshot().DeletedAt)

	assert.ErrorIs(t, p.ReserveStock(1), ErrProductUnavailable)
	assert.ErrorIs(t, p.Restock(1), ErrProductUnavailable)
	assert.ErrorIs(t, p.ChangePrice(decimal.NewFromInt(5)), ErrProductUnavailable)
	require.NoError(t, p.ReleaseStock(2))
	assert.Equal(t, 7, p.Stock())

	assert.Equal(t, []EventType{EventProductCreated, EventProductDeleted, EventStockReleased}, eventTypes(p.PullEvents()))
}

func TestCartMergesLinesAndKeepsFirstSnapshot(t *testing.T) {
	c, err := NewCart("u1")
	require.NoError(t, err)
	assert.Equal(t, CartIDForUser("u1"), c.ID())
	assert.NotEqual(t, CartIDForUser("u2"), c.ID())

	first, err := NewCartItem("p1", "Laptop", decimal.RequireFromString("999.99"), 2)
	require.NoError(t, err)
	later, err := NewCartItem("p1", "Laptop Pro", decimal.RequireFromString("1299"), 3)
	require.NoError(t, err)

	require.NoError(t, c.AddItem(first))
	require.NoError(t, c.AddItem(later))

	items := c.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 5, items[0].Quantity())
	assert.Equal(t, "Laptop", items[0].ProductName())
	assert.True(t, items[0].UnitPrice().Equal(decimal.RequireFromString("999.99")))
	assert.True(t, c.Total().Equal(decimal.RequireFromString("4999.95")))
	assert.True(t, first.Equal(first))
	assert.False(t, first.Equal(later))

	events := c.PullEvents()
	require.Len(t, events, 3)
	added := events[2].Payload.(CartItemAdded)
	assert.Equal(t, 3, added.Quantity)
	assert.Equal(t, 5, added.LineQty)
}

func TestCartSubmitAndRemove(t *testing.T) {
	c, err := NewCart("u1")
	require.NoError(t, err)

	_, err = c.Submit(NewOrderID())
	assert.ErrorIs(t, err, ErrEmptyCart)
	_, err = c.RemoveItem("p1")
	assert.ErrorIs(t, err, ErrItemNotInCart)

	for _, id := range []string{"p1", "p2", "p3"} {
		item, err := NewCartItem(id, id, decimal.NewFromInt(10), 1)
		require.NoError(t, err)
		require.NoError(t, c.AddItem(item))
	}
	removed, err := c.RemoveItem("p2")
	require.NoError(t, err)
	assert.Equal(t, 1, removed.Quantity())

	orderID := NewOrderID()
	lines, err := c.Submit(orderID)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "p1", lines[0].ProductID())
	assert.Equal(t, "p3", lines[1].ProductID())
	assert.True(t, c.IsEmpty())

	events := c.PullEvents()
	submitted := events[len(events)-1].Payload.(CartSubmitted)
	assert.Equal(t, orderID, submitted.OrderID)
	assert.True(t, submitted.Total.Equal(decimal.NewFromInt(20)))
}

func TestOrderTotalsAndImmutability(t *testing.T) {
	a, err := NewCartItem("p1", "Laptop", decimal.RequireFromString("999.99"), 2)
	require.NoError(t, err)
	b, err := NewCartItem("p2", "Mouse", decimal.RequireFromString("25.50"), 1)
	require.NoError(t, err)

	o, err := NewOrder("o1", "u1", []CartItem{a, b})
	require.NoError(t, err)
	assert.True(t, o.Total().Equal(decimal.RequireFromString("2025.48")))

	items := o.Items()
	items[0] = OrderItem{}
	assert.Equal(t, "p1", o.Items()[0].ProductID())

	_, err = NewOrder("o2", "u1", nil)
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestEventJSONKeepsPayloadType(t *testing.T) {
	p := newLaptop(t, 10)
	require.NoError(t, p.ReserveStock(4))
	event := p.PullEvents()[1].WithActor("u1")

	raw, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, "u1", decoded.ActorID)
	assert.Equal(t, StockReserved{Quantity: 4, Stock: 6}, decoded.Payload)

	assert.Error(t, json.Unmarshal([]byte(`{"event_type":"cart.exploded"}`), &decoded))
}

func TestWithActorKeepsExistingActor(t *testing.T) {
	e := Event{ID: "e1"}.WithActor("first").WithActor("second")
	assert.Equal(t, "first", e.ActorID)
}

func TestEventTypesAreClosed(t *testing.T) {
	for _, et := range EventTypes {
		assert.True(t, et.Valid(), et)
	}
	assert.False(t, EventType("order.shipped").Valid())
}

func TestDetailedErrorsMatchSentinels(t *testing.T) {
	err := fmt.Errorf("add: %w", Detail(ErrInsufficientStock, "only %d left", 2))
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.False(t, errors.Is(err, ErrEmptyCart))
	assert.True(t, IsDomainError(err, ErrCodeInvariant))
	assert.Contains(t, err.Error(), "only 2 left")
}

func TestUserContextAccess(t *testing.T) {
	admin := UserContext{ID: "a", Role: RoleAdmin}
	owner := UserContext{ID: "u1", Role: RoleCustomer}
	other := UserContext{ID: "u2", Role: RoleCustomer}

	assert.True(t, admin.CanAccess("u1"))
	assert.True(t, owner.CanAccess("u1"))
	assert.False(t, other.CanAccess("u1"))
	assert.False(t, UserContext{ID: "u1"}.CanAccess("u1"))
	assert.False(t, UserContext{Role: RoleAdmin}.IsAdmin())
}

func TestAuditEntryProjectsEvent(t *testing.T) {
	p := newLaptop(t, 1)
	event := p.PullEvents()[0].WithActor("admin")

	entry, err := NewAuditLogEntry(event, event.OccurredAt)
	require.NoError(t, err)
	assert.Equal(t, event.ID, entry.EventID)
	assert.Equal(t, KindProduct, entry.AggregateType)
	assert.JSONEq(t, `{"name":"Laptop","price":"999.99","stock":1}`, string(entry.Payload))
}
