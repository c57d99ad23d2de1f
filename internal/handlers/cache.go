package handlers

import (
	"context"

	"go.uber.org/zap"

	"github.com/fastygo/storecore/domain"
)

// CacheInvalidatorName identifies the cache invalidator in logs and dead letters.
const CacheInvalidatorName = "product-cache-invalidator"

// ProductEvents are the events after which a cached product is stale.
var ProductEvents = []domain.EventType{
	domain.EventProductCreated,
	domain.EventProductPriceChanged,
	domain.EventProductRestocked,
	domain.EventStockReserved,
	domain.EventStockReleased,
	domain.EventProductDeleted,
}

// Invalidator drops a cached product. *redis.ProductCache implements it.
type Invalidator interface {
	Invalidate(ctx context.Context, id string) error
}

// CacheInvalidator evicts the product named by a product event.
type CacheInvalidator struct {
	cache  Invalidator
	logger *zap.Logger
}

func NewCacheInvalidator(cache Invalidator, logger *zap.Logger) *CacheInvalidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheInvalidator{cache: cache, logger: logger}
}

func (h *CacheInvalidator) Name() string { return CacheInvalidatorName }

func (h *CacheInvalidator) Handle(ctx context.Context, event domain.Event) error {
	if event.AggregateType != domain.KindProduct {
		return nil
	}
	if err := h.cache.Invalidate(ctx, event.AggregateID); err != nil {
		return err
	}
	h.logger.Debug("product cache entry evicted",
		zap.String("product_id", event.AggregateID),
		zap.String("event_type", string(event.Type)),
	)
	return nil
}
