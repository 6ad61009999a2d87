package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"mpesa-settlement/internal/domain/model"
	"mpesa-settlement/internal/domain/ports/repository"
)

// Compile-time check
var _ AdminUseCase = (*adminUC)(nil)

type AdminUseCase interface {
	GetPayment(ctx context.Context, providerRequestID string) (*model.PaymentRecord, error)
	// ListAudits returns recent callback audits with their bodies decrypted.
	ListAudits(ctx context.Context, limit int) ([]AuditView, error)
	RepairPayment(ctx context.Context, providerRequestID string) error
	// ReplayAudit reconciles an audited delivery whose ledger step failed.
	ReplayAudit(ctx context.Context, auditID string) (Ack, error)
}

type AuditView struct {
	ID                string                 `json:"id"`
	Reason            model.ReconcileOutcome `json:"reason"`
	Detail            string                 `json:"detail"`
	ProviderRequestID string                 `json:"provider_request_id,omitempty"`
	CorrelationID     string                 `json:"correlation_id,omitempty"`
	Payload           string                 `json:"payload,omitempty"`
	Replayable        bool                   `json:"replayable"`
	ReceivedAt        time.Time              `json:"received_at"`
	ReplayedAt        *time.Time             `json:"replayed_at,omitempty"`
}

type adminUC struct {
	payments  repository.PaymentRepository
	audits    repository.CallbackAuditRepository
	callbacks CallbackUseCase
	sealer    PayloadSealer
	log       *zerolog.Logger
}

func NewAdminUseCase(payments repository.PaymentRepository, audits repository.CallbackAuditRepository, callbacks CallbackUseCase, sealer PayloadSealer, logger *zerolog.Logger) *adminUC {
	return &adminUC{payments: payments, audits: audits, callbacks: callbacks, sealer: sealer, log: logger}
}

func (u *adminUC) GetPayment(ctx context.Context, providerRequestID string) (*model.PaymentRecord, error) {
	return u.payments.FindByProviderRequestID(ctx, repository.NoTX, providerRequestID)
}

func (u *adminUC) ListAudits(ctx context.Context, limit int) ([]AuditView, error) {
	items, err := u.audits.ListRecent(ctx, repository.NoTX, limit)
	if err != nil {
		return nil, err
	}
	out := make([]AuditView, 0, len(items))
	for _, a := range items {
		v := AuditView{
			ID:                a.ID,
			Reason:            a.Reason,
			Detail:            a.Detail,
			ProviderRequestID: a.ProviderRequestID,
			CorrelationID:     a.CorrelationID,
			Replayable:        a.Replayable(),
			ReceivedAt:        a.ReceivedAt,
			ReplayedAt:        a.ReplayedAt,
		}
		if a.Payload != "" && u.sealer != nil {
			if body, err := u.sealer.Open(a.Payload); err != nil {
				u.log.Warn().Err(err).Str("audit_id", a.ID).Msg("audit payload could not be opened")
			} else {
				v.Payload = string(body)
			}
		}
		out = append(out, v)
	}
	return out, nil
}

func (u *adminUC) RepairPayment(ctx context.Context, providerRequestID string) error {
	if err := u.callbacks.Repair(ctx, providerRequestID); err != nil {
		return err
	}
	u.log.Info().Str("provider_request_id", providerRequestID).Msg("payment repaired by operator")
	return nil
}

func (u *adminUC) ReplayAudit(ctx context.Context, auditID string) (Ack, error) {
	ack, err := u.callbacks.Replay(ctx, auditID)
	if err != nil {
		return Ack{}, err
	}
	u.log.Info().Str("audit_id", auditID).Str("provider_request_id", ack.ProviderRequestID).Str("outcome", string(ack.Outcome)).Msg("delivery replayed by operator")
	return ack, nil
}
