package adapter

import (
	"context"
	"time"

	"mpesa-settlement/internal/domain/model"
)

type ApplyResult string

const (
	ApplyApplied        ApplyResult = "applied"
	ApplyAlreadyApplied ApplyResult = "already_applied"
)

// SettlementRequest is the single call made into the balance or subscription owner.
// ProviderRequestID is the idempotency key.
type SettlementRequest struct {
	ProviderRequestID string
	CorrelationID     string
	OwnerID           string
	PlanID            string
	Purpose           model.Purpose
	Amount            int64
	ReceiptNumber     string
	SettledAt         time.Time
}

// SettlementSubject applies a verified successful payment exactly once per ProviderRequestID.
type SettlementSubject interface {
	ApplySuccessfulPayment(ctx context.Context, req SettlementRequest) (ApplyResult, error)
}
