package buffer

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Item is an async handler invocation waiting to be redelivered.
type Item struct {
	ID        string          `json:"id"`
	Handler   string          `json:"handler"`
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Event     json.RawMessage `json:"event"`
	Reason    string          `json:"reason"`
	Attempts  int             `json:"attempts"`
	FailedAt  time.Time       `json:"failed_at"`

	bucketKey []byte
}

func (i *Item) normalize() {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	if i.FailedAt.IsZero() {
		i.FailedAt = time.Now().UTC()
	}
}
