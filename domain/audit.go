package domain

import (
	"encoding/json"
	"time"
)

// AuditLogEntry is the append-only projection of a dispatched event.
type AuditLogEntry struct {
	EventID       string          `json:"event_id"`
	EventType     EventType       `json:"event_type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	ActorID       string          `json:"actor_id,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
	RecordedAt    time.Time       `json:"recorded_at"`
	Payload       json.RawMessage `json:"payload"`
}

// NewAuditLogEntry projects event into an audit entry.
func NewAuditLogEntry(event Event, recordedAt time.Time) (AuditLogEntry, error) {
	var payload json.RawMessage
	if event.Payload != nil {
		b, err := json.Marshal(event.Payload)
		if err != nil {
			return AuditLogEntry{}, err
		}
		payload = b
	}
	return AuditLogEntry{
		EventID:       event.ID,
		EventType:     event.Type,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		ActorID:       event.ActorID,
		OccurredAt:    event.OccurredAt,
		RecordedAt:    recordedAt.UTC(),
		Payload:       payload,
	}, nil
}
