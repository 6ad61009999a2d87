package usecase

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"mpesa-settlement/internal/domain"
	"mpesa-settlement/internal/domain/model"
	"mpesa-settlement/internal/domain/ports/repository"
)

// Compile-time check
var _ StatusUseCase = (*statusUC)(nil)

type StatusUseCase interface {
	// Status reports the settlement of the attempt behind token. It only reads.
	Status(ctx context.Context, token string) (*PaymentStatusView, error)
}

type PaymentStatusView struct {
	Settled           bool                `json:"settled"`
	Success           *bool               `json:"success"`
	Status            model.PaymentStatus `json:"status"`
	Message           string              `json:"message"`
	ProviderRequestID string              `json:"provider_request_id,omitempty"`
	ReceiptNumber     string              `json:"receipt_number,omitempty"`
	Amount            int64               `json:"amount"`
}

type statusUC struct {
	payments repository.PaymentRepository
	codec    TokenCodec
	tr       Translator
	log      *zerolog.Logger
}

func NewStatusUseCase(payments repository.PaymentRepository, codec TokenCodec, tr Translator, logger *zerolog.Logger) *statusUC {
	return &statusUC{payments: payments, codec: codec, tr: tr, log: logger}
}

func (u *statusUC) Status(ctx context.Context, token string) (*PaymentStatusView, error) {
	claims, err := u.codec.Verify(token)
	if err != nil {
		return nil, err
	}
	rec, err := u.payments.FindLatestByCorrelationID(ctx, repository.NoTX, claims.CorrelationID, claims.AttemptID, claims.IssuedAt)
	if errors.Is(err, domain.ErrNotFound) {
		return &PaymentStatusView{Status: model.PaymentStatusPending, Message: u.tr.T("payment_pending"), Amount: claims.Amount}, nil
	}
	if err != nil {
		return nil, err
	}

	v := &PaymentStatusView{
		Status:            rec.Status,
		ProviderRequestID: rec.ProviderRequestID,
		ReceiptNumber:     rec.ReceiptNumber,
		Amount:            rec.SettlementAmount(),
	}
	switch rec.Status {
	case model.PaymentStatusSuccess:
		ok := true
		v.Settled, v.Success = true, &ok
		v.Message = u.tr.T("payment_succeeded", rec.SettlementAmount(), rec.ReceiptNumber)
	case model.PaymentStatusFailed:
		ok := false
		v.Settled, v.Success = true, &ok
		v.Message = u.tr.T("payment_failed", rec.ResultDesc)
	default:
		v.Message = u.tr.T("payment_pending")
	}
	return v, nil
}
