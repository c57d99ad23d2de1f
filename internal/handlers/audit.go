package handlers

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fastygo/storecore/domain"
	"github.com/fastygo/storecore/repository"
)

// AuditWriterName identifies the audit writer in logs and dead letters.
const AuditWriterName = "audit-writer"

// AuditWriter appends every dispatched event to the audit log in its own
// transaction. It is registered as a sync handler.
type AuditWriter struct {
	store  repository.TxBeginner
	logger *zap.Logger
	now    func() time.Time
}

func NewAuditWriter(store repository.TxBeginner, logger *zap.Logger) *AuditWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditWriter{store: store, logger: logger, now: time.Now}
}

func (w *AuditWriter) Name() string { return AuditWriterName }

// Handle records event. An event that is already recorded is not an error.
func (w *AuditWriter) Handle(ctx context.Context, event domain.Event) error {
	entry, err := domain.NewAuditLogEntry(event, w.now())
	if err != nil {
		return domain.WrapError(domain.ErrCodeInternal, "encode audit entry", err)
	}

	tx, err := w.store.Begin(ctx)
	if err != nil {
		return repository.TranslateError(err)
	}

	if err := repository.NewAuditLogRepository(tx).Append(ctx, entry); err != nil {
		_ = tx.Rollback(ctx)
		if errors.Is(err, domain.ErrDuplicate) {
			w.logger.Debug("audit entry already recorded", zap.String("event_id", event.ID))
			return nil
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if errors.Is(err, repository.ErrRowExists) {
			return nil
		}
		return repository.TranslateError(err)
	}
	return nil
}
