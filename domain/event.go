package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType is the closed set of event kinds raised by the aggregates.
type EventType string

const (
	EventProductCreated      EventType = "product.created"
	EventProductPriceChanged EventType = "product.price_changed"
	EventProductRestocked    EventType = "product.restocked"
	EventStockReserved       EventType = "product.stock_reserved"
	EventStockReleased       EventType = "product.stock_released"
	EventProductDeleted      EventType = "product.deleted"
	EventCartCreated         EventType = "cart.created"
	EventCartItemAdded       EventType = "cart.item_added"
	EventCartItemRemoved     EventType = "cart.item_removed"
	EventCartSubmitted       EventType = "cart.submitted"
	EventOrderCreated        EventType = "order.created"
)

// EventTypes lists every known event type in a stable order.
var EventTypes = []EventType{
	EventProductCreated,
	EventProductPriceChanged,
	EventProductRestocked,
	EventStockReserved,
	EventStockReleased,
	EventProductDeleted,
	EventCartCreated,
	EventCartItemAdded,
	EventCartItemRemoved,
	EventCartSubmitted,
	EventOrderCreated,
}

// Valid reports whether t belongs to the closed set of event types.
func (t EventType) Valid() bool {
	_, ok := payloadFactories[t]
	return ok
}

// Payload is implemented only by the event payload types of this package.
type Payload interface {
	EventType() EventType
	sealed()
}

// Event is an immutable record of a state change raised by an aggregate.
type Event struct {
	ID            string
	Type          EventType
	OccurredAt    time.Time
	AggregateType string
	AggregateID   string
	ActorID       string
	Payload       Payload
}

// WithActor returns a copy of the event attributed to actorID. An already
// attributed event is returned unchanged.
func (e Event) WithActor(actorID string) Event {
	if e.ActorID == "" {
		e.ActorID = actorID
	}
	return e
}

func newEvent(aggregateType, aggregateID string, payload Payload, at time.Time) Event {
	return Event{
		ID:            uuid.NewString(),
		Type:          payload.EventType(),
		OccurredAt:    at.UTC(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       payload,
	}
}

type eventJSON struct {
	ID            string          `json:"event_id"`
	Type          EventType       `json:"event_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	ActorID       string          `json:"actor_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	var raw json.RawMessage
	if e.Payload != nil {
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(eventJSON{
		ID:            e.ID,
		Type:          e.Type,
		OccurredAt:    e.OccurredAt,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		ActorID:       e.ActorID,
		Payload:       raw,
	})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var raw eventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	factory, ok := payloadFactories[raw.Type]
	if !ok {
		return fmt.Errorf("unknown event type %q", raw.Type)
	}
	payload := factory()
	if len(raw.Payload) > 0 {
		if err := json.Unmarshal(raw.Payload, payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", raw.Type, err)
		}
	}
	*e = Event{
		ID:            raw.ID,
		Type:          raw.Type,
		OccurredAt:    raw.OccurredAt,
		AggregateType: raw.AggregateType,
		AggregateID:   raw.AggregateID,
		ActorID:       raw.ActorID,
		Payload:       deref(payload),
	}
	return nil
}

// payloadFactories returns pointers for decoding; deref turns them back into
// the value types the aggregates emit.
var payloadFactories = map[EventType]func() any{
	EventProductCreated:      func() any { return &ProductCreated{} },
	EventProductPriceChanged: func() any { return &ProductPriceChanged{} },
	EventProductRestocked:    func() any { return &ProductRestocked{} },
	EventStockReserved:       func() any { return &StockReserved{} },
	EventStockReleased:       func() any { return &StockReleased{} },
	EventProductDeleted:      func() any { return &ProductDeleted{} },
	EventCartCreated:         func() any { return &CartCreated{} },
	EventCartItemAdded:       func() any { return &CartItemAdded{} },
	EventCartItemRemoved:     func() any { return &CartItemRemoved{} },
	EventCartSubmitted:       func() any { return &CartSubmitted{} },
	EventOrderCreated:        func() any { return &OrderCreated{} },
}

func deref(p any) Payload {
	switch v := p.(type) {
	case *ProductCreated:
		return *v
	case *ProductPriceChanged:
		return *v
	case *ProductRestocked:
		return *v
	case *StockReserved:
		return *v
	case *StockReleased:
		return *v
	case *ProductDeleted:
		return *v
	case *CartCreated:
		return *v
	case *CartItemAdded:
		return *v
	case *CartItemRemoved:
		return *v
	case *CartSubmitted:
		return *v
	case *OrderCreated:
		return *v
	}
	return nil
}

// Product events

type ProductCreated struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

type ProductPriceChanged struct {
	OldPrice decimal.Decimal `json:"old_price"`
	NewPrice decimal.Decimal `json:"new_price"`
}

type ProductRestocked struct {
	Quantity int `json:"quantity"`
	Stock    int `json:"stock"`
}

type StockReserved struct {
	Quantity int `json:"quantity"`
	Stock    int `json:"stock"`
}

type StockReleased struct {
	Quantity int `json:"quantity"`
	Stock    int `json:"stock"`
}

type ProductDeleted struct {
	Name string `json:"name"`
}

// Cart events

type CartCreated struct {
	UserID string `json:"user_id"`
}

type CartItemAdded struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineQty   int             `json:"line_quantity"`
}

type CartItemRemoved struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type CartSubmitted struct {
	OrderID   string          `json:"order_id"`
	ItemCount int             `json:"item_count"`
	Total     decimal.Decimal `json:"total"`
}

// Order events

type OrderCreated struct {
	UserID    string          `json:"user_id"`
	ItemCount int             `json:"item_count"`
	Total     decimal.Decimal `json:"total"`
}

func (ProductCreated) EventType() EventType      { return EventProductCreated }
func (ProductPriceChanged) EventType() EventType { return EventProductPriceChanged }
func (ProductRestocked) EventType() EventType    { return EventProductRestocked }
func (StockReserved) EventType() EventType       { return EventStockReserved }
func (StockReleased) EventType() EventType       { return EventStockReleased }
func (ProductDeleted) EventType() EventType      { return EventProductDeleted }
func (CartCreated) EventType() EventType         { return EventCartCreated }
func (CartItemAdded) EventType() EventType       { return EventCartItemAdded }
func (CartItemRemoved) EventType() EventType     { return EventCartItemRemoved }
func (CartSubmitted) EventType() EventType       { return EventCartSubmitted }
func (OrderCreated) EventType() EventType        { return EventOrderCreated }

func (ProductCreated) sealed()      {}
func (ProductPriceChanged) sealed() {}
func (ProductRestocked) sealed()    {}
func (StockReserved) sealed()       {}
func (StockReleased) sealed()       {}
func (ProductDeleted) sealed()      {}
func (CartCreated) sealed()         {}
func (CartItemAdded) sealed()       {}
func (CartItemRemoved) sealed()     {}
func (CartSubmitted) sealed()       {}
func (OrderCreated) sealed()        {}
