package model

import "time"

// CallbackOutcome is the provider-neutral shape of one asynchronous delivery.
type CallbackOutcome struct {
	ProviderRequestID string
	MerchantRequestID string
	ResultCode        int
	ResultDesc        string
	Amount            int64
	Destination       string
	ReceiptNumber     string
	ProviderTimestamp time.Time
}

func (o *CallbackOutcome) Succeeded() bool { return o.ResultCode == 0 }

func (o *CallbackOutcome) Status() PaymentStatus {
	if o.Succeeded() {
		return PaymentStatusSuccess
	}
	return PaymentStatusFailed
}

// ReconcileOutcome classifies what a single callback delivery did to the ledger.
type ReconcileOutcome string

const (
	OutcomeRejectedToken  ReconcileOutcome = "rejected_token"
	OutcomeUnparseable    ReconcileOutcome = "unparseable"
	OutcomeMismatch       ReconcileOutcome = "correlation_mismatch"
	OutcomeSettled        ReconcileOutcome = "settled"
	OutcomeFailed         ReconcileOutcome = "failed"
	OutcomeDuplicate      ReconcileOutcome = "duplicate"
	OutcomeRepairQueued   ReconcileOutcome = "repair_queued"
	OutcomeInternalFailed ReconcileOutcome = "internal_error"
)

// CallbackAudit keeps a callback body that could not be reconciled, for manual review.
// Payload and Claims are encrypted at rest. Claims is only kept for deliveries whose
// ledger step failed, so they can be replayed after the token has expired.
type CallbackAudit struct {
	ID                string
	Reason            ReconcileOutcome
	Detail            string
	ProviderRequestID string
	CorrelationID     string
	Payload           string
	Claims            string
	ReceivedAt        time.Time
	ReplayedAt        *time.Time
}

// Replayable reports whether the delivery can still be fed back through the reconciler.
func (a *CallbackAudit) Replayable() bool {
	return a.Reason == OutcomeInternalFailed && a.ReplayedAt == nil && a.Payload != "" && a.Claims != ""
}
