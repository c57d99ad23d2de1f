package repository

import (
	"context"

	"github.com/fastygo/storecore/domain"
)

// AuditLogRepository appends audit entries. Entries are keyed by event id, so
// recording the same event twice fails with domain.ErrDuplicate.
type AuditLogRepository struct {
	rows rowSet
}

func NewAuditLogRepository(tx Tx) *AuditLogRepository {
	return &AuditLogRepository{
		rows: newRowSet(tx, nil, domain.KindAudit, domain.ErrNotFound, domain.ErrDuplicate),
	}
}

func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	if entry.EventID == "" {
		return domain.Detail(domain.ErrInvalidPayload, "audit entry without event id")
	}
	data, err := encode(entry)
	if err != nil {
		return err
	}
	_, err = r.rows.write(ctx, Row{ID: entry.EventID, Ref: entry.AggregateID, Data: data})
	return err
}

// List returns the entries recorded for aggregateID, or all entries when it
// is empty, in the order they were appended.
func (r *AuditLogRepository) List(ctx context.Context, aggregateID string) ([]domain.AuditLogEntry, error) {
	rows, err := r.rows.list(ctx, aggregateID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.AuditLogEntry, 0, len(rows))
	for _, row := range rows {
		var entry domain.AuditLogEntry
		if err := decode(row, &entry); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}
