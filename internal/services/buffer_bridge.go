package services

import (
	"context"
	"encoding/json"

	"github.com/fastygo/storecore/domain"
	"github.com/fastygo/storecore/internal/events"
	"github.com/fastygo/storecore/internal/infrastructure/buffer"
)

// BufferBridge stores the dispatcher's dead letters in the bolt buffer.
type BufferBridge struct {
	store *buffer.Store
}

func NewBufferBridge(store *buffer.Store) *BufferBridge {
	return &BufferBridge{store: store}
}

func (b *BufferBridge) Store(_ context.Context, letter events.DeadLetter) error {
	if b.store == nil || letter.Handler == "" {
		return domain.ErrInvalidPayload
	}
	payload, err := json.Marshal(letter.Event)
	if err != nil {
		return err
	}
	return b.store.Enqueue(buffer.Item{
		Handler:   letter.Handler,
		EventID:   letter.Event.ID,
		EventType: string(letter.Event.Type),
		Event:     payload,
		Reason:    letter.Reason,
		Attempts:  letter.Attempts,
	})
}

var _ events.DeadLetterSink = (*BufferBridge)(nil)
