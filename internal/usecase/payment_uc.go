package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mpesa-settlement/internal/domain"
	"mpesa-settlement/internal/domain/model"
	"mpesa-settlement/internal/domain/ports/adapter"
	"mpesa-settlement/internal/domain/ports/repository"
	"mpesa-settlement/internal/infra/logging"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

type PaymentUseCase interface {
	// Initiate asks the provider to push a payment prompt. A provider refusal is reported through
	// Success=false with a caller-facing message; err is reserved for bad input, rate limiting and
	// token minting failures.
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
}

type InitiateRequest struct {
	OwnerID       string
	CorrelationID string
	PlanID        string
	Purpose       model.Purpose
	Amount        int64
	Destination   string
}

type InitiateResult struct {
	Success           bool
	Message           string
	Token             string
	ProviderRequestID string
	ExpiresAt         time.Time
}

// PaymentOptions carries the initiation settings from config.
type PaymentOptions struct {
	CallbackBaseURL  string // public origin, without trailing slash
	TokenTTL         time.Duration
	ProviderTimeout  time.Duration
	AccountReference string
	RateLimit        int
	RateWindow       time.Duration
}

type paymentUC struct {
	payments repository.PaymentRepository
	gateway  adapter.PushPaymentGateway
	codec    TokenCodec
	limiter  adapter.RateLimiter
	alerter  adapter.Alerter
	tr       Translator
	opts     PaymentOptions
	log      *zerolog.Logger
}

func NewPaymentUseCase(
	payments repository.PaymentRepository,
	gateway adapter.PushPaymentGateway,
	codec TokenCodec,
	limiter adapter.RateLimiter,
	alerter adapter.Alerter,
	tr Translator,
	opts PaymentOptions,
	logger *zerolog.Logger,
) *paymentUC {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 15 * time.Minute
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = 30 * time.Second
	}
	return &paymentUC{
		payments: payments,
		gateway:  gateway,
		codec:    codec,
		limiter:  limiter,
		alerter:  alerter,
		tr:       tr,
		opts:     opts,
		log:      logger,
	}
}

// CallbackURL is where the provider will deliver the outcome for token.
func CallbackURL(base, token string) string {
	return base + "/api/v1/callbacks/mpesa/" + token
}

func (u *paymentUC) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	ctx = logging.WithOwnerID(ctx, req.OwnerID)
	ctx = logging.WithCorrelationID(ctx, req.CorrelationID)
	log := logging.With(ctx, u.log)

	msisdn, err := model.NormalizeMSISDN(req.Destination)
	if err != nil || req.Amount <= 0 {
		return &InitiateResult{Message: u.tr.T("payment_invalid_request")}, domain.ErrInvalidArgument
	}

	if u.limiter != nil && u.opts.RateLimit > 0 {
		ok, err := u.limiter.Allow(ctx, initiateRateKey(req.OwnerID), u.opts.RateLimit, u.opts.RateWindow)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("rate limiter unavailable; allowing initiation")
		case !ok:
			return &InitiateResult{Message: u.tr.T("payment_rate_limited")}, domain.ErrRateLimited
		}
	}

	token, claims, err := u.codec.Mint(model.ContinuationClaims{
		CorrelationID: req.CorrelationID,
		OwnerID:       req.OwnerID,
		Amount:        req.Amount,
		Destination:   msisdn,
		PlanID:        req.PlanID,
		Purpose:       req.Purpose,
	}, u.opts.TokenTTL)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			return &InitiateResult{Message: u.tr.T("payment_invalid_request")}, err
		}
		return nil, fmt.Errorf("mint continuation token: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, u.opts.ProviderTimeout)
	defer cancel()
	resp, err := u.gateway.RequestPush(pctx, adapter.PushRequest{
		Amount:           req.Amount,
		Destination:      msisdn,
		AccountReference: u.opts.AccountReference,
		Description:      description(req.Purpose),
		CallbackURL:      CallbackURL(u.opts.CallbackBaseURL, token),
	})
	if err != nil {
		msg := u.providerMessage(err)
		log.Warn().Err(err).Str("attempt_id", claims.AttemptID).Msg("push request not accepted")
		return &InitiateResult{Message: msg}, nil
	}

	ctx = logging.WithProviderRequestID(ctx, resp.ProviderRequestID)
	log = logging.With(ctx, u.log)

	rec, err := model.NewPendingPayment(uuid.NewString(), resp.ProviderRequestID, claims)
	if err == nil {
		rec.MerchantRequestID = resp.MerchantRequestID
		err = u.payments.Upsert(ctx, repository.NoTX, rec)
	}
	if err != nil {
		// The callback path inserts the row itself, so the prompt already on the payer's phone stays valid.
		log.Error().Err(err).Msg("failed to persist pending payment")
		u.alert(ctx, adapter.Alert{
			Severity: adapter.AlertWarning,
			Title:    "pending payment not persisted",
			Fields: map[string]string{
				"provider_request_id": resp.ProviderRequestID,
				"correlation_id":      req.CorrelationID,
				"error":               err.Error(),
			},
		})
	}

	log.Info().Int64("amount", req.Amount).Str("purpose", string(req.Purpose)).Msg("push payment accepted")
	return &InitiateResult{
		Success:           true,
		Message:           u.tr.T("payment_prompt_sent", req.Amount),
		Token:             token,
		ProviderRequestID: resp.ProviderRequestID,
		ExpiresAt:         claims.ExpiresAt,
	}, nil
}

// Provider response codes that carry a dedicated message.
const (
	providerCodeInsufficientFunds = "1"
	providerCodeUnavailable       = "2"
)

func (u *paymentUC) providerMessage(err error) string {
	var rej *adapter.RejectionError
	switch {
	case errors.As(err, &rej) && rej.Code == providerCodeInsufficientFunds:
		return u.tr.T("payment_insufficient_funds")
	case errors.As(err, &rej) && rej.Code == providerCodeUnavailable:
		return u.tr.T("payment_service_unavailable")
	case errors.As(err, &rej):
		return u.tr.T("payment_rejected", rej.Description)
	default:
		return u.tr.T("payment_service_unavailable")
	}
}

func (u *paymentUC) alert(ctx context.Context, a adapter.Alert) {
	if u.alerter == nil {
		return
	}
	if err := u.alerter.Alert(ctx, a); err != nil {
		u.log.Warn().Err(err).Str("title", a.Title).Msg("alert delivery failed")
	}
}

func description(p model.Purpose) string {
	if p == model.PurposeWalletTopUp {
		return "Wallet top-up"
	}
	return "Subscription"
}
