package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestShutdownRunsHooksNewestFirst(t *testing.T) {
	m := New(time.Second, nil)
	var order []string
	for _, name := range []string{"store", "dispatcher", "http_server"} {
		name := name
		m.Register(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}
	assert.Equal(t, []string{"http_server", "dispatcher", "store"}, m.Components())

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, []string{"http_server", "dispatcher", "store"}, order)
}

func TestShutdownJoinsErrorsAndContinues(t *testing.T) {
	m := New(time.Second, nil)
	errBuffer := errors.New("buffer close failed")
	closed := false

	m.RegisterCloser("store", closerFunc(func() error {
		closed = true
		return nil
	}))
	m.RegisterCloser("buffer", closerFunc(func() error { return errBuffer }))

	err := m.Shutdown(context.Background())
	assert.ErrorIs(t, err, errBuffer)
	assert.True(t, closed)
}

func TestShutdownIsOnce(t *testing.T) {
	m := New(time.Second, nil)
	calls := 0
	m.Register("store", func(context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, 1, calls)

	m.Register("late", func(context.Context) error { return nil })
	assert.Empty(t, m.Components())
}

func TestShutdownHooksSeeDeadline(t *testing.T) {
	m := New(50*time.Millisecond, nil)
	m.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, m.Shutdown(context.Background()), context.DeadlineExceeded)
}
