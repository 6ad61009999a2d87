package model

import (
	"time"

	"mpesa-settlement/internal/domain"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusSuccess PaymentStatus = "success"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// Purpose names the settlement subject a payment funds.
type Purpose string

const (
	PurposeSubscription Purpose = "subscription"
	PurposeWalletTopUp  Purpose = "wallet_topup"
)

func (p Purpose) Valid() bool {
	return p == PurposeSubscription || p == PurposeWalletTopUp
}

// PaymentRecord is the ledger row for one provider request. ProviderRequestID is unique.
type PaymentRecord struct {
	ID                string
	ProviderRequestID string // M-Pesa CheckoutRequestID
	MerchantRequestID string
	CorrelationID     string
	AttemptID         string // jti of the continuation token
	OwnerID           string
	Purpose           Purpose
	PlanID            string
	Amount            int64 // requested
	PaidAmount        int64 // reported by the provider, 0 until settled
	Destination       string
	Status            PaymentStatus
	ResultCode        *int
	ResultDesc        string
	ReceiptNumber     string
	ProviderTimestamp *time.Time
	PossibleDuplicate bool
	DeliveryCount     int
	SubjectApplied    bool
	SubjectAppliedAt  *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewPendingPayment builds the row written right after the provider accepted a push request.
func NewPendingPayment(id, providerRequestID string, claims *ContinuationClaims) (*PaymentRecord, error) {
	if id == "" || providerRequestID == "" || claims == nil {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &PaymentRecord{
		ID:                id,
		ProviderRequestID: providerRequestID,
		CorrelationID:     claims.CorrelationID,
		AttemptID:         claims.AttemptID,
		OwnerID:           claims.OwnerID,
		Purpose:           claims.Purpose,
		PlanID:            claims.PlanID,
		Amount:            claims.Amount,
		Destination:       claims.Destination,
		Status:            PaymentStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// NewSettledPayment builds the row for a callback that arrived before any pending row existed.
func NewSettledPayment(id string, claims *ContinuationClaims, o *CallbackOutcome) (*PaymentRecord, error) {
	if o == nil {
		return nil, domain.ErrInvalidArgument
	}
	p, err := NewPendingPayment(id, o.ProviderRequestID, claims)
	if err != nil {
		return nil, err
	}
	p.MerchantRequestID = o.MerchantRequestID
	p.ApplyOutcome(o)
	p.DeliveryCount = 1
	return p, nil
}

// ApplyOutcome copies the provider result onto the record.
func (p *PaymentRecord) ApplyOutcome(o *CallbackOutcome) {
	code := o.ResultCode
	p.Status = o.Status()
	p.ResultCode = &code
	p.ResultDesc = o.ResultDesc
	p.ReceiptNumber = o.ReceiptNumber
	p.PaidAmount = o.Amount
	if !o.ProviderTimestamp.IsZero() {
		ts := o.ProviderTimestamp
		p.ProviderTimestamp = &ts
	}
	p.UpdatedAt = time.Now()
}

func (p *PaymentRecord) Settled() bool {
	return p.Status == PaymentStatusSuccess || p.Status == PaymentStatusFailed
}

// SettlementAmount is what the subject is credited with. The provider figure wins when present.
func (p *PaymentRecord) SettlementAmount() int64 {
	if p.PaidAmount > 0 {
		return p.PaidAmount
	}
	return p.Amount
}
