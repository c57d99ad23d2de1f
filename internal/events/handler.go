package events

import (
	"context"
	"fmt"
	"time"

	"github.com/fastygo/storecore/domain"
)

// Handler reacts to one dispatched event.
type Handler interface {
	Handle(ctx context.Context, event domain.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event domain.Event) error

func (f HandlerFunc) Handle(ctx context.Context, event domain.Event) error {
	return f(ctx, event)
}

// Named is implemented by handlers that carry a stable name. Names identify
// handlers in logs, metrics and dead letters.
type Named interface {
	Name() string
}

type namedHandler struct {
	Handler
	name string
}

func (h namedHandler) Name() string { return h.name }

// WithName attaches name to h.
func WithName(name string, h Handler) Handler {
	return namedHandler{Handler: h, name: name}
}

// NameOf returns the handler's name, falling back to its type.
func NameOf(h Handler) string {
	if n, ok := h.(Named); ok && n.Name() != "" {
		return n.Name()
	}
	return fmt.Sprintf("%T", h)
}

type timeoutHandler struct {
	next    Handler
	timeout time.Duration
}

// WithTimeout bounds every invocation of h by d.
func WithTimeout(h Handler, d time.Duration) Handler {
	return timeoutHandler{next: h, timeout: d}
}

func (h timeoutHandler) Handle(ctx context.Context, event domain.Event) error {
	if h.timeout <= 0 {
		return h.next.Handle(ctx, event)
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.next.Handle(ctx, event)
}

func (h timeoutHandler) Name() string { return NameOf(h.next) }

// DeadLetter is an async invocation that could not be completed.
type DeadLetter struct {
	Handler  string
	Event    domain.Event
	Reason   string
	Attempts int
}

// DeadLetterSink keeps failed async invocations for later redelivery.
type DeadLetterSink interface {
	Store(ctx context.Context, letter DeadLetter) error
}
