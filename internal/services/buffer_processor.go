package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fastygo/storecore/domain"
	"github.com/fastygo/storecore/internal/infrastructure/buffer"
)

// ConnectionHealth abstracts the connection monitor functionality.
type ConnectionHealth interface {
	IsOnline() bool
}

// Redeliverer runs one named handler for an event again.
// *events.Dispatcher implements it.
type Redeliverer interface {
	Redeliver(ctx context.Context, handlerName string, event domain.Event) error
}

// ProcessorConfig controls how frequently the buffer is drained.
type ProcessorConfig struct {
	Interval   time.Duration
	BatchSize  int
	MaxRetries int
	Retention  time.Duration
}

// RetryProcessor redelivers dead letters on a schedule until they succeed
// or run out of attempts.
type RetryProcessor struct {
	store     *buffer.Store
	monitor   ConnectionHealth
	redeliver Redeliverer
	logger    *zap.Logger
	cron      *cron.Cron
	cfg       ProcessorConfig
}

func NewRetryProcessor(
	store *buffer.Store,
	monitor ConnectionHealth,
	redeliver Redeliverer,
	logger *zap.Logger,
	cfg ProcessorConfig,
) *RetryProcessor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	rp := &RetryProcessor{
		store:     store,
		monitor:   monitor,
		redeliver: redeliver,
		logger:    logger,
		cfg:       cfg,
		cron:      cron.New(cron.WithSeconds()),
	}

	schedule := fmt.Sprintf("@every %ds", int(cfg.Interval.Seconds()))
	_, _ = rp.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Interval)
		defer cancel()
		if err := rp.Drain(ctx); err != nil {
			rp.logger.Error("dead letter drain failed", zap.Error(err))
		}
	})
	_, _ = rp.cron.AddFunc("@hourly", func() {
		removed, err := rp.store.Cleanup(time.Now().Add(-cfg.Retention))
		if err != nil {
			rp.logger.Error("dead letter cleanup failed", zap.Error(err))
			return
		}
		if removed > 0 {
			rp.logger.Warn("expired dead letters removed", zap.Int("count", removed))
		}
	})

	return rp
}

// Start launches the cron scheduler.
func (rp *RetryProcessor) Start() {
	if rp == nil || rp.cron == nil {
		return
	}
	rp.cron.Start()
	rp.logger.Info("retry processor started", zap.Duration("interval", rp.cfg.Interval))
}

// Stop waits for a running drain or ctx, whichever ends first.
func (rp *RetryProcessor) Stop(ctx context.Context) error {
	if rp == nil || rp.cron == nil {
		return nil
	}
	stopCtx := rp.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	rp.logger.Info("retry processor stopped")
	return nil
}

// Drain redelivers one batch synchronously.
func (rp *RetryProcessor) Drain(ctx context.Context) error {
	if rp == nil || rp.store == nil {
		return nil
	}
	if rp.monitor != nil && !rp.monitor.IsOnline() {
		rp.logger.Debug("skipping dead letter drain (offline)")
		return nil
	}

	items, err := rp.store.GetBatch(rp.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, item := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := rp.process(ctx, item); err != nil {
			item.Attempts++
			item.Reason = err.Error()
			rp.logger.Error("dead letter redelivery failed",
				zap.String("item_id", item.ID),
				zap.String("handler", item.Handler),
				zap.String("event_id", item.EventID),
				zap.Int("attempts", item.Attempts),
				zap.Error(err))

			if item.Attempts >= rp.cfg.MaxRetries {
				rp.logger.Warn("dropping dead letter (max retries reached)",
					zap.String("item_id", item.ID),
					zap.String("handler", item.Handler),
					zap.String("event_id", item.EventID))
				_ = rp.store.Remove(item)
				continue
			}
			if err := rp.store.Requeue(item); err != nil {
				rp.logger.Error("failed to requeue dead letter", zap.Error(err))
			}
			continue
		}

		rp.logger.Info("dead letter redelivered",
			zap.String("handler", item.Handler),
			zap.String("event_id", item.EventID))
		if err := rp.store.Remove(item); err != nil {
			rp.logger.Warn("failed to purge redelivered dead letter", zap.Error(err))
		}
	}
	return nil
}

// Size returns the number of pending dead letters.
func (rp *RetryProcessor) Size() int {
	if rp == nil || rp.store == nil {
		return 0
	}
	size, err := rp.store.Size()
	if err != nil {
		return 0
	}
	return size
}

func (rp *RetryProcessor) process(ctx context.Context, item buffer.Item) error {
	var event domain.Event
	if err := json.Unmarshal(item.Event, &event); err != nil {
		return fmt.Errorf("decode event %s: %w", item.EventID, err)
	}
	return rp.redeliver.Redeliver(ctx, item.Handler, event)
}
