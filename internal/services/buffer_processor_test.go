package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/storecore/domain"
	"github.com/fastygo/storecore/internal/events"
	"github.com/fastygo/storecore/internal/infrastructure/buffer"
)

type offline struct{}

func (offline) IsOnline() bool { return false }

func openBuffer(t *testing.T) *buffer.Store {
	t.Helper()
	store, err := buffer.Open(filepath.Join(t.TempDir(), "dead_letters.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func cartCreated(t *testing.T) domain.Event {
	t.Helper()
	cart, err := domain.NewCart("u1")
	require.NoError(t, err)
	return cart.PullEvents()[0]
}

// flaky fails the first n deliveries.
func flaky(n int32, calls *atomic.Int32) events.Handler {
	return events.WithName("notifier", events.HandlerFunc(func(context.Context, domain.Event) error {
		if calls.Add(1) <= n {
			return errors.New("relay down")
		}
		return nil
	}))
}

func TestBufferBridgeStoresDeadLetters(t *testing.T) {
	store := openBuffer(t)
	bridge := NewBufferBridge(store)
	event := cartCreated(t)

	require.NoError(t, bridge.Store(context.Background(), events.DeadLetter{
		Handler: "notifier", Event: event, Reason: "relay down", Attempts: 1,
	}))
	assert.ErrorIs(t, bridge.Store(context.Background(), events.DeadLetter{Event: event}), domain.ErrInvalidPayload)

	items, err := store.GetBatch(10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "notifier", items[0].Handler)
	assert.Equal(t, event.ID, items[0].EventID)
	assert.Equal(t, string(domain.EventCartCreated), items[0].EventType)
	assert.Equal(t, 1, items[0].Attempts)
}

func TestDrainRedeliversThroughDispatcher(t *testing.T) {
	store := openBuffer(t)
	var calls atomic.Int32
	d := events.NewDispatcher(events.Config{Workers: 1}, nil, events.WithDeadLetterSink(NewBufferBridge(store)))
	require.NoError(t, d.RegisterAsync(domain.EventCartCreated, flaky(1, &calls)))

	d.Dispatch(context.Background(), []domain.Event{cartCreated(t)})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))

	rp := NewRetryProcessor(store, nil, d, nil, ProcessorConfig{Interval: time.Hour})
	require.Equal(t, 1, rp.Size())

	require.NoError(t, rp.Drain(context.Background()))
	assert.Equal(t, 0, rp.Size())
	assert.EqualValues(t, 2, calls.Load())
}

func TestDrainRequeuesThenDrops(t *testing.T) {
	store := openBuffer(t)
	var calls atomic.Int32
	d := events.NewDispatcher(events.Config{Workers: 1}, nil)
	require.NoError(t, d.RegisterAsync(domain.EventCartCreated, flaky(100, &calls)))
	defer func() { _ = d.Close(context.Background()) }()

	require.NoError(t, NewBufferBridge(store).Store(context.Background(), events.DeadLetter{
		Handler: "notifier", Event: cartCreated(t), Reason: "relay down", Attempts: 1,
	}))

	rp := NewRetryProcessor(store, nil, d, nil, ProcessorConfig{Interval: time.Hour, MaxRetries: 3})

	require.NoError(t, rp.Drain(context.Background()))
	items, err := store.GetBatch(10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Attempts)
	assert.Equal(t, "relay down", items[0].Reason)

	require.NoError(t, rp.Drain(context.Background()))
	assert.Equal(t, 0, rp.Size())
	assert.EqualValues(t, 2, calls.Load())
}

func TestDrainDropsLettersForUnknownHandlers(t *testing.T) {
	store := openBuffer(t)
	d := events.NewDispatcher(events.Config{Workers: 1}, nil)
	defer func() { _ = d.Close(context.Background()) }()

	require.NoError(t, NewBufferBridge(store).Store(context.Background(), events.DeadLetter{
		Handler: "retired-handler", Event: cartCreated(t), Attempts: 1,
	}))

	rp := NewRetryProcessor(store, nil, d, nil, ProcessorConfig{Interval: time.Hour, MaxRetries: 2})
	require.NoError(t, rp.Drain(context.Background()))
	assert.Equal(t, 0, rp.Size())
}

func TestDrainSkipsWhileOffline(t *testing.T) {
	store := openBuffer(t)
	require.NoError(t, NewBufferBridge(store).Store(context.Background(), events.DeadLetter{
		Handler: "notifier", Event: cartCreated(t), Attempts: 1,
	}))

	rp := NewRetryProcessor(store, offline{}, nil, nil, ProcessorConfig{Interval: time.Hour})
	require.NoError(t, rp.Drain(context.Background()))
	assert.Equal(t, 1, rp.Size())
}

func TestCleanupRemovesExpiredLetters(t *testing.T) {
	store := openBuffer(t)
	require.NoError(t, store.Enqueue(buffer.Item{Handler: "notifier", FailedAt: time.Now().Add(-48 * time.Hour)}))
	require.NoError(t, store.Enqueue(buffer.Item{Handler: "notifier"}))

	removed, err := store.Cleanup(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	size, err := store.Size()
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestRetryProcessorStartStop(t *testing.T) {
	rp := NewRetryProcessor(openBuffer(t), nil, nil, nil, ProcessorConfig{Interval: time.Second})
	rp.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, rp.Stop(ctx))
}
