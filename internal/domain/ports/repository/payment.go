package repository

import (
	"context"
	"time"

	"mpesa-settlement/internal/domain/model"
)

// PaymentRepository is the idempotent ledger. provider_request_id is unique and every
// write that could race a callback is conditional on it.
type PaymentRepository interface {
	// Upsert writes a pending row. An existing row is only refreshed while still pending,
	// so a callback that landed first is never regressed.
	Upsert(ctx context.Context, tx Tx, p *model.PaymentRecord) error
	// InsertIfAbsent reports whether the row was created.
	InsertIfAbsent(ctx context.Context, tx Tx, p *model.PaymentRecord) (bool, error)
	// FindByProviderRequestID locks the row FOR UPDATE when tx is a transaction.
	FindByProviderRequestID(ctx context.Context, tx Tx, providerRequestID string) (*model.PaymentRecord, error)
	// FindLatestByCorrelationID prefers the row of attemptID, then the newest created since `since`.
	FindLatestByCorrelationID(ctx context.Context, tx Tx, correlationID, attemptID string, since time.Time) (*model.PaymentRecord, error)
	// UpdateOutcomeIfPending is a compare-and-swap on status='pending'.
	UpdateOutcomeIfPending(ctx context.Context, tx Tx, providerRequestID string, o *model.CallbackOutcome) (bool, error)
	MarkPossibleDuplicate(ctx context.Context, tx Tx, providerRequestID string) error
	MarkSubjectApplied(ctx context.Context, tx Tx, providerRequestID string, at time.Time) error

	ListUnappliedSuccess(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.PaymentRecord, error)
	ListPendingOlderThan(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.PaymentRecord, error)

	// Summarize aggregates rows created at or after since.
	Summarize(ctx context.Context, tx Tx, since time.Time) (*model.LedgerStats, error)
	// SumSettledSince totals the settlement amount of success rows settled at or after since.
	SumSettledSince(ctx context.Context, tx Tx, since time.Time) (int64, error)
}
