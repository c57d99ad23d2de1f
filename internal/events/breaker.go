package events

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/fastygo/storecore/domain"
)

// BreakerConfig controls the circuit breaker placed in front of a handler.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns the settings used for outbound notifiers.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

type breakerHandler struct {
	next Handler
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker wraps h in a circuit breaker. While the breaker is open the
// handler is not called and the invocation fails with gobreaker.ErrOpenState,
// which sends it to the dead-letter sink.
func WithBreaker(h Handler, cfg BreakerConfig, logger *zap.Logger) Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := NameOf(h)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("handler circuit breaker state changed",
				zap.String("handler", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return breakerHandler{next: h, cb: cb}
}

func (h breakerHandler) Handle(ctx context.Context, event domain.Event) error {
	_, err := h.cb.Execute(func() (interface{}, error) {
		return nil, h.next.Handle(ctx, event)
	})
	return err
}

func (h breakerHandler) Name() string { return NameOf(h.next) }

// BreakerState reports the breaker state of h when it was built by WithBreaker.
func BreakerState(h Handler) (gobreaker.State, bool) {
	b, ok := h.(breakerHandler)
	if !ok {
		return gobreaker.StateClosed, false
	}
	return b.cb.State(), true
}
