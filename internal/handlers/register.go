// Package handlers holds the infrastructure reactions to committed domain
// events: the audit log, customer notifications and cache eviction.
package handlers

import (
	"go.uber.org/zap"

	"github.com/fastygo/storecore/domain"
	"github.com/fastygo/storecore/internal/events"
	"github.com/fastygo/storecore/repository"
)

// Options selects the handlers to register.
type Options struct {
	Store   repository.TxBeginner
	Cache   Invalidator
	Sender  Sender
	Breaker events.BreakerConfig
	Logger  *zap.Logger
}

// Register wires the audit writer for every event type as a sync handler,
// and the notifier and cache invalidator as async handlers.
func Register(d *events.Dispatcher, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	audit := NewAuditWriter(opts.Store, logger.Named("audit"))
	for _, eventType := range domain.EventTypes {
		if err := d.Register(eventType, audit); err != nil {
			return err
		}
	}

	breaker := opts.Breaker
	if breaker == (events.BreakerConfig{}) {
		breaker = events.DefaultBreakerConfig()
	}
	notifier := events.WithBreaker(NewNotifier(opts.Sender, logger.Named("notifier")), breaker, logger)
	for _, eventType := range NotifierEvents {
		if err := d.RegisterAsync(eventType, notifier); err != nil {
			return err
		}
	}

	if opts.Cache != nil {
		invalidator := NewCacheInvalidator(opts.Cache, logger.Named("cache"))
		for _, eventType := range ProductEvents {
			if err := d.RegisterAsync(eventType, invalidator); err != nil {
				return err
			}
		}
	}
	return nil
}
