package repository

import (
	"context"
	"time"

	"mpesa-settlement/internal/domain/model"
)

// CallbackAuditRepository stores callback bodies kept for manual review.
type CallbackAuditRepository interface {
	Save(ctx context.Context, tx Tx, a *model.CallbackAudit) error
	ListRecent(ctx context.Context, tx Tx, limit int) ([]*model.CallbackAudit, error)
	FindByID(ctx context.Context, tx Tx, id string) (*model.CallbackAudit, error)
	// ListReplayable returns internal_error audits received before olderThan and not yet replayed.
	ListReplayable(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.CallbackAudit, error)
	// MarkReplayed returns ErrNotFound when the audit is missing or was already replayed.
	MarkReplayed(ctx context.Context, tx Tx, id string, at time.Time) error
}
