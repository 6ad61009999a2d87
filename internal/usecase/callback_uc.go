package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"mpesa-settlement/internal/domain"
	"mpesa-settlement/internal/domain/model"
	"mpesa-settlement/internal/domain/ports/adapter"
	"mpesa-settlement/internal/domain/ports/repository"
	"mpesa-settlement/internal/infra/logging"
)

// Compile-time check
var _ CallbackUseCase = (*callbackUC)(nil)

type CallbackUseCase interface {
	// Reconcile applies one provider delivery. It never fails: every path ends in an Ack
	// so the provider is always answered.
	Reconcile(ctx context.Context, raw []byte, token string) Ack
	// Repair re-applies the subject mutation of a success row that was not confirmed applied.
	Repair(ctx context.Context, providerRequestID string) error
	// Replay feeds an audited delivery whose ledger step failed back through reconciliation,
	// using the claims kept with the audit instead of the long-expired token.
	Replay(ctx context.Context, auditID string) (Ack, error)
	// ReplayFailed replays failed deliveries received before olderThan and returns how many
	// were reconciled.
	ReplayFailed(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

// Ack is the answer to one delivery. Accepted=false tells the provider the body was refused;
// either way nothing more will come of retrying it.
type Ack struct {
	Accepted          bool
	Outcome           model.ReconcileOutcome
	Description       string
	ProviderRequestID string
	Purpose           model.Purpose
	SettledAmount     int64
	SubjectResult     string // applied | already_applied | error, empty when no subject call was made
}

const (
	callbackLockTTL = 30 * time.Second
	replayLockTTL   = time.Minute
)

type callbackUC struct {
	payments repository.PaymentRepository
	audits   repository.CallbackAuditRepository
	tm       repository.TransactionManager
	gateway  adapter.PushPaymentGateway
	codec    TokenCodec
	subject  adapter.SettlementSubject
	locker   adapter.Locker
	sealer   PayloadSealer
	alerter  adapter.Alerter
	notifier adapter.Notifier
	tr       Translator
	log      *zerolog.Logger
}

func NewCallbackUseCase(
	payments repository.PaymentRepository,
	audits repository.CallbackAuditRepository,
	tm repository.TransactionManager,
	gateway adapter.PushPaymentGateway,
	codec TokenCodec,
	subject adapter.SettlementSubject,
	locker adapter.Locker,
	sealer PayloadSealer,
	alerter adapter.Alerter,
	notifier adapter.Notifier,
	tr Translator,
	logger *zerolog.Logger,
) *callbackUC {
	return &callbackUC{
		payments: payments,
		audits:   audits,
		tm:       tm,
		gateway:  gateway,
		codec:    codec,
		subject:  subject,
		locker:   locker,
		sealer:   sealer,
		alerter:  alerter,
		notifier: notifier,
		tr:       tr,
		log:      logger,
	}
}

// transition is what the ledger step decided.
type transition struct {
	outcome model.ReconcileOutcome
	record  *model.PaymentRecord
	first   bool // this delivery moved the row out of pending
}

func (u *callbackUC) Reconcile(ctx context.Context, raw []byte, token string) Ack {
	log := logging.With(ctx, u.log)

	claims, err := u.codec.Verify(token)
	if err != nil {
		providerID := ""
		if o, perr := u.gateway.ParseCallback(raw); perr == nil {
			providerID = o.ProviderRequestID
		}
		log.Warn().Err(err).Str("provider_request_id", providerID).Msg("callback token rejected")
		u.audit(ctx, model.OutcomeRejectedToken, err.Error(), providerID, "", raw, nil)
		if !errors.Is(err, domain.ErrTokenExpired) {
			u.alert(ctx, adapter.AlertWarning, "callback with invalid token", map[string]string{
				"provider_request_id": providerID,
				"error":               err.Error(),
			})
		}
		return Ack{Outcome: model.OutcomeRejectedToken, Description: "rejected", ProviderRequestID: providerID}
	}

	ctx = logging.WithCorrelationID(ctx, claims.CorrelationID)
	ctx = logging.WithOwnerID(ctx, claims.OwnerID)

	outcome, err := u.gateway.ParseCallback(raw)
	if err != nil {
		log = logging.With(ctx, u.log)
		log.Error().Err(err).Msg("unparseable callback payload")
		u.audit(ctx, model.OutcomeUnparseable, err.Error(), "", claims.CorrelationID, raw, nil)
		u.alert(ctx, adapter.AlertCritical, "unparseable provider callback", map[string]string{
			"correlation_id": claims.CorrelationID,
			"attempt_id":     claims.AttemptID,
			"error":          err.Error(),
		})
		return Ack{Outcome: model.OutcomeUnparseable, Description: "unparseable payload", Purpose: claims.Purpose}
	}

	ctx = logging.WithProviderRequestID(ctx, outcome.ProviderRequestID)
	log = logging.With(ctx, u.log)

	ack, err := u.settle(ctx, claims, outcome, raw)
	if err != nil {
		log.Error().Err(err).Int("result_code", outcome.ResultCode).Msg("ledger update failed; delivery kept for replay")
		u.audit(ctx, model.OutcomeInternalFailed, err.Error(), outcome.ProviderRequestID, claims.CorrelationID, raw, claims)
		u.alert(ctx, adapter.AlertCritical, "callback could not be recorded", map[string]string{
			"provider_request_id": outcome.ProviderRequestID,
			"correlation_id":      claims.CorrelationID,
			"result_code":         strconv.Itoa(outcome.ResultCode),
			"receipt":             outcome.ReceiptNumber,
			"error":               err.Error(),
		})
		return Ack{Accepted: true, Outcome: model.OutcomeInternalFailed, Description: "accepted", ProviderRequestID: outcome.ProviderRequestID, Purpose: claims.Purpose}
	}
	return ack
}

// settle runs the ledger step and everything after it for a verified, parsed delivery.
// Only a ledger failure is returned; the caller decides how to keep the delivery.
func (u *callbackUC) settle(ctx context.Context, claims *model.ContinuationClaims, outcome *model.CallbackOutcome, raw []byte) (Ack, error) {
	log := logging.With(ctx, u.log)

	if u.locker != nil {
		key := callbackLockKey(outcome.ProviderRequestID)
		if lockToken, err := u.locker.TryLock(ctx, key, callbackLockTTL); err != nil {
			log.Warn().Err(err).Msg("callback lock not acquired; relying on ledger compare-and-swap")
		} else {
			defer func() {
				if err := u.locker.Unlock(context.WithoutCancel(ctx), key, lockToken); err != nil {
					log.Warn().Err(err).Msg("callback unlock failed")
				}
			}()
		}
	}

	tr, err := u.record(ctx, claims, outcome)
	if err != nil {
		return Ack{}, err
	}

	ack := Ack{
		Accepted:          true,
		Outcome:           tr.outcome,
		Description:       "accepted",
		ProviderRequestID: outcome.ProviderRequestID,
		Purpose:           claims.Purpose,
	}

	switch tr.outcome {
	case model.OutcomeMismatch:
		log.Error().Str("row_correlation_id", tr.record.CorrelationID).Msg("callback token does not match ledger row")
		u.audit(ctx, model.OutcomeMismatch, domain.ErrCorrelationMismatch.Error(), outcome.ProviderRequestID, claims.CorrelationID, raw, nil)
		u.alert(ctx, adapter.AlertCritical, "callback correlation mismatch", map[string]string{
			"provider_request_id": outcome.ProviderRequestID,
			"token_correlation":   claims.CorrelationID,
			"row_correlation":     tr.record.CorrelationID,
		})
		ack.Accepted = false
		ack.Description = "rejected"
		return ack, nil
	case model.OutcomeDuplicate:
		if tr.record.Status != outcome.Status() {
			log.Warn().
				Str("ledger_status", string(tr.record.Status)).
				Str("delivered_status", string(outcome.Status())).
				Msg("conflicting duplicate delivery ignored")
		} else {
			log.Info().Msg("duplicate delivery")
		}
		return ack, nil
	}

	rec := tr.record
	if rec.Status == model.PaymentStatusSuccess {
		if outcome.Amount > 0 && outcome.Amount != rec.Amount {
			u.alert(ctx, adapter.AlertWarning, "settled amount differs from requested", map[string]string{
				"provider_request_id": rec.ProviderRequestID,
				"requested":           strconv.FormatInt(rec.Amount, 10),
				"paid":                strconv.FormatInt(outcome.Amount, 10),
			})
		}
		ack.SettledAmount = rec.SettlementAmount()
		result, err := u.applySubject(ctx, rec)
		if err != nil {
			ack.Outcome = model.OutcomeRepairQueued
			ack.SubjectResult = "error"
		} else {
			ack.SubjectResult = string(result)
		}
	}
	log.Info().Str("status", string(rec.Status)).Str("outcome", string(ack.Outcome)).Msg("callback reconciled")
	u.notifyOutcome(ctx, rec)
	return ack, nil
}

func (u *callbackUC) Replay(ctx context.Context, auditID string) (Ack, error) {
	if auditID == "" {
		return Ack{}, domain.ErrInvalidArgument
	}
	if u.locker != nil {
		key := "lock:callback-replay:" + auditID
		lockToken, err := u.locker.TryLock(ctx, key, replayLockTTL)
		switch {
		case errors.Is(err, domain.ErrLockBusy):
			return Ack{}, err
		case err != nil:
			u.log.Warn().Err(err).Str("audit_id", auditID).Msg("replay lock not acquired; relying on ledger compare-and-swap")
		default:
			defer func() { _ = u.locker.Unlock(context.WithoutCancel(ctx), key, lockToken) }()
		}
	}

	a, err := u.audits.FindByID(ctx, repository.NoTX, auditID)
	if err != nil {
		return Ack{}, err
	}
	if !a.Replayable() {
		return Ack{}, fmt.Errorf("%w: audit %s (%s) cannot be replayed", domain.ErrInvalidArgument, a.ID, a.Reason)
	}
	if u.sealer == nil {
		return Ack{}, fmt.Errorf("%w: no payload key configured", domain.ErrInvalidArgument)
	}
	raw, err := u.sealer.Open(a.Payload)
	if err != nil {
		return Ack{}, fmt.Errorf("open audit payload: %w", err)
	}
	sealedClaims, err := u.sealer.Open(a.Claims)
	if err != nil {
		return Ack{}, fmt.Errorf("open audit claims: %w", err)
	}
	var claims model.ContinuationClaims
	if err := json.Unmarshal(sealedClaims, &claims); err != nil {
		return Ack{}, fmt.Errorf("decode audit claims: %w", err)
	}
	outcome, err := u.gateway.ParseCallback(raw)
	if err != nil {
		return Ack{}, err
	}

	ctx = logging.WithCorrelationID(ctx, claims.CorrelationID)
	ctx = logging.WithOwnerID(ctx, claims.OwnerID)
	ctx = logging.WithProviderRequestID(ctx, outcome.ProviderRequestID)
	log := logging.With(ctx, u.log)

	ack, err := u.settle(ctx, &claims, outcome, raw)
	if err != nil {
		log.Warn().Err(err).Str("audit_id", a.ID).Msg("replay failed; delivery kept for another attempt")
		return Ack{}, err
	}
	if err := u.audits.MarkReplayed(ctx, repository.NoTX, a.ID, time.Now()); err != nil {
		log.Warn().Err(err).Str("audit_id", a.ID).Msg("replayed audit could not be marked")
	}
	log.Info().Str("audit_id", a.ID).Str("outcome", string(ack.Outcome)).Msg("failed delivery replayed")
	return ack, nil
}

func (u *callbackUC) ReplayFailed(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	items, err := u.audits.ListReplayable(ctx, repository.NoTX, olderThan, limit)
	if err != nil {
		return 0, err
	}
	replayed := 0
	var first error
	for _, a := range items {
		if ctx.Err() != nil {
			return replayed, ctx.Err()
		}
		if _, err := u.Replay(ctx, a.ID); err != nil {
			if first == nil {
				first = fmt.Errorf("replay audit %s: %w", a.ID, err)
			}
			continue
		}
		replayed++
	}
	return replayed, first
}

// record performs the ledger step inside one transaction: insert-if-absent, or a compare-and-swap
// on a pending row, or a duplicate flag on a settled one.
func (u *callbackUC) record(ctx context.Context, claims *model.ContinuationClaims, o *model.CallbackOutcome) (*transition, error) {
	var tr transition
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		tr = transition{}
		rec, err := u.payments.FindByProviderRequestID(ctx, tx, o.ProviderRequestID)
		if errors.Is(err, domain.ErrNotFound) {
			fresh, err := model.NewSettledPayment(uuid.NewString(), claims, o)
			if err != nil {
				return err
			}
			inserted, err := u.payments.InsertIfAbsent(ctx, tx, fresh)
			if err != nil {
				return err
			}
			if inserted {
				tr = transition{outcome: settledOutcome(fresh), record: fresh, first: true}
				return nil
			}
			rec, err = u.payments.FindByProviderRequestID(ctx, tx, o.ProviderRequestID)
			if err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		if rec.CorrelationID != claims.CorrelationID {
			tr = transition{outcome: model.OutcomeMismatch, record: rec}
			return nil
		}
		if !rec.Settled() {
			won, err := u.payments.UpdateOutcomeIfPending(ctx, tx, o.ProviderRequestID, o)
			if err != nil {
				return err
			}
			if won {
				rec.ApplyOutcome(o)
				rec.DeliveryCount++
				if o.MerchantRequestID != "" {
					rec.MerchantRequestID = o.MerchantRequestID
				}
				tr = transition{outcome: settledOutcome(rec), record: rec, first: true}
				return nil
			}
			// Settled by a concurrent delivery between our read and the update.
			if rec, err = u.payments.FindByProviderRequestID(ctx, tx, o.ProviderRequestID); err != nil {
				return err
			}
		}
		if err := u.payments.MarkPossibleDuplicate(ctx, tx, o.ProviderRequestID); err != nil {
			return err
		}
		rec.PossibleDuplicate = true
		rec.DeliveryCount++
		tr = transition{outcome: model.OutcomeDuplicate, record: rec}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &tr, nil
}

func settledOutcome(p *model.PaymentRecord) model.ReconcileOutcome {
	if p.Status == model.PaymentStatusSuccess {
		return model.OutcomeSettled
	}
	return model.OutcomeFailed
}

// applySubject calls the settlement subject and marks the ledger row applied. A failure leaves
// the row success-but-unapplied for the repair job; the ledger itself is never rolled back.
func (u *callbackUC) applySubject(ctx context.Context, rec *model.PaymentRecord) (adapter.ApplyResult, error) {
	log := logging.With(ctx, u.log)
	settledAt := rec.UpdatedAt
	if rec.ProviderTimestamp != nil {
		settledAt = *rec.ProviderTimestamp
	}
	result, err := u.subject.ApplySuccessfulPayment(ctx, adapter.SettlementRequest{
		ProviderRequestID: rec.ProviderRequestID,
		CorrelationID:     rec.CorrelationID,
		OwnerID:           rec.OwnerID,
		PlanID:            rec.PlanID,
		Purpose:           rec.Purpose,
		Amount:            rec.SettlementAmount(),
		ReceiptNumber:     rec.ReceiptNumber,
		SettledAt:         settledAt,
	})
	if err != nil {
		err = fmt.Errorf("%w: %v", domain.ErrSubjectMutationFailed, err)
		log.Error().Err(err).Msg("settlement subject mutation failed; queued for repair")
		u.alert(ctx, adapter.AlertCritical, "payment succeeded but was not applied", map[string]string{
			"provider_request_id": rec.ProviderRequestID,
			"correlation_id":      rec.CorrelationID,
			"purpose":             string(rec.Purpose),
			"amount":              strconv.FormatInt(rec.SettlementAmount(), 10),
			"error":               err.Error(),
		})
		return "", err
	}
	if err := u.payments.MarkSubjectApplied(ctx, repository.NoTX, rec.ProviderRequestID, time.Now()); err != nil {
		// The subject is idempotent on the provider request id, so the repair job may safely call it again.
		log.Warn().Err(err).Msg("subject applied but ledger flag not set")
	}
	if result == adapter.ApplyAlreadyApplied {
		log.Info().Msg("settlement subject reported already applied")
	}
	return result, nil
}

func (u *callbackUC) Repair(ctx context.Context, providerRequestID string) error {
	ctx = logging.WithProviderRequestID(ctx, providerRequestID)
	rec, err := u.payments.FindByProviderRequestID(ctx, repository.NoTX, providerRequestID)
	if err != nil {
		return err
	}
	if rec.Status != model.PaymentStatusSuccess {
		return fmt.Errorf("%w: payment %s is %s", domain.ErrInvalidArgument, providerRequestID, rec.Status)
	}
	if rec.SubjectApplied {
		return nil
	}
	ctx = logging.WithCorrelationID(ctx, rec.CorrelationID)
	_, err = u.applySubject(ctx, rec)
	return err
}

func (u *callbackUC) notifyOutcome(ctx context.Context, rec *model.PaymentRecord) {
	if u.notifier == nil {
		return
	}
	n := adapter.Notification{OwnerID: rec.OwnerID, Destination: rec.Destination}
	switch {
	case rec.Status == model.PaymentStatusSuccess && rec.Purpose == model.PurposeWalletTopUp:
		n.Kind = adapter.NotifyPaymentSucceeded
		n.Text = u.tr.T("deposit_succeeded", rec.SettlementAmount(), rec.ReceiptNumber)
	case rec.Status == model.PaymentStatusSuccess:
		n.Kind = adapter.NotifyPaymentSucceeded
		n.Text = u.tr.T("payment_succeeded", rec.SettlementAmount(), rec.ReceiptNumber)
	default:
		n.Kind = adapter.NotifyPaymentFailed
		n.Text = u.tr.T("payment_failed", rec.ResultDesc)
	}
	if err := u.notifier.Notify(ctx, n); err != nil {
		logging.With(ctx, u.log).Warn().Err(err).Str("kind", string(n.Kind)).Msg("notification not dispatched")
	}
}

// audit keeps the delivery for review. claims are kept only when the delivery may be replayed.
func (u *callbackUC) audit(ctx context.Context, reason model.ReconcileOutcome, detail, providerRequestID, correlationID string, raw []byte, claims *model.ContinuationClaims) {
	payload, sealedClaims := "", ""
	if u.sealer != nil && len(raw) > 0 {
		sealed, err := u.sealer.Seal(raw)
		if err != nil {
			u.log.Error().Err(err).Msg("callback payload could not be sealed; storing without body")
		} else {
			payload = sealed
		}
	}
	if u.sealer != nil && claims != nil {
		if b, err := json.Marshal(claims); err != nil {
			u.log.Error().Err(err).Msg("callback claims could not be encoded")
		} else if sealed, err := u.sealer.Seal(b); err != nil {
			u.log.Error().Err(err).Msg("callback claims could not be sealed")
		} else {
			sealedClaims = sealed
		}
	}
	a := &model.CallbackAudit{
		ID:                uuid.NewString(),
		Reason:            reason,
		Detail:            detail,
		ProviderRequestID: providerRequestID,
		CorrelationID:     correlationID,
		Payload:           payload,
		Claims:            sealedClaims,
		ReceivedAt:        time.Now(),
	}
	if err := u.audits.Save(ctx, repository.NoTX, a); err != nil {
		logging.With(ctx, u.log).Error().Err(err).Str("reason", string(reason)).Msg("callback audit not stored")
	}
}

func (u *callbackUC) alert(ctx context.Context, sev adapter.AlertSeverity, title string, fields map[string]string) {
	if u.alerter == nil {
		return
	}
	if err := u.alerter.Alert(ctx, adapter.Alert{Severity: sev, Title: title, Fields: fields}); err != nil {
		u.log.Warn().Err(err).Str("title", title).Msg("alert delivery failed")
	}
}
