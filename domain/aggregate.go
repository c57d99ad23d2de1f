package domain

import "time"

// Aggregate kinds, also used as the lock ordering rank.
const (
	KindProduct = "product"
	KindCart    = "cart"
	KindOrder   = "order"
	KindAudit   = "audit"
)

// Aggregate is a consistency boundary that records the events it raises.
// The orchestrator drains them with PullEvents once the mutation is saved.
type Aggregate interface {
	AggregateType() string
	AggregateID() string
	PendingEvents() []Event
	PullEvents() []Event
}

// eventRecorder is embedded by aggregate roots to accumulate raised events.
type eventRecorder struct {
	pending []Event
}

func (r *eventRecorder) record(aggregateType, aggregateID string, payload Payload, at time.Time) {
	r.pending = append(r.pending, newEvent(aggregateType, aggregateID, payload, at))
}

// PendingEvents returns a copy of the events raised since the last pull.
func (r *eventRecorder) PendingEvents() []Event {
	if len(r.pending) == 0 {
		return nil
	}
	out := make([]Event, len(r.pending))
	copy(out, r.pending)
	return out
}

// PullEvents returns the pending events and clears the queue.
func (r *eventRecorder) PullEvents() []Event {
	out := r.pending
	r.pending = nil
	return out
}

// touch mirrors the timestamp bookkeeping every root performs on mutation.
func touch(created, updated *time.Time, now time.Time) {
	*updated = now
	if created.IsZero() {
		*created = now
	}
}
