package apiv1

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"mpesa-settlement/internal/domain"
	"mpesa-settlement/internal/domain/model"
	"mpesa-settlement/internal/infra/logging"
	"mpesa-settlement/internal/infra/metrics"
	"mpesa-settlement/internal/usecase"
)

type subscriptionRequest struct {
	AccountID string `json:"account_id"`
	PlanID    string `json:"plan_id"`
	Phone     string `json:"phone"`
}

type topUpRequest struct {
	OwnerID string `json:"owner_id"`
	Amount  int64  `json:"amount"`
	Phone   string `json:"phone"`
}

type initiateResponse struct {
	Success           bool       `json:"success"`
	Message           string     `json:"message"`
	Amount            int64      `json:"amount"`
	Token             string     `json:"token,omitempty"`
	StatusURL         string     `json:"status_url,omitempty"`
	ProviderRequestID string     `json:"provider_request_id,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
}

func (s *Server) paySubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req subscriptionRequest
	if err := decodeBody(w, r, &req); err != nil || req.AccountID == "" || req.PlanID == "" {
		metrics.IncPaymentInitiated(string(model.PurposeSubscription), "invalid")
		writeError(w, http.StatusBadRequest, "account_id, plan_id and phone are required")
		return
	}
	if _, err := model.NormalizeMSISDN(req.Phone); err != nil {
		metrics.IncPaymentInitiated(string(model.PurposeSubscription), "invalid")
		writeError(w, http.StatusBadRequest, "phone is not a valid MSISDN")
		return
	}

	sub, err := s.subscriptions.EnsureSubscription(ctx, req.AccountID, req.PlanID, req.Phone)
	if err != nil {
		s.initiateFailed(w, r, model.PurposeSubscription, err, nil)
		return
	}
	_, total, err := s.subscriptions.Quote(ctx, req.PlanID)
	if err != nil {
		s.initiateFailed(w, r, model.PurposeSubscription, err, nil)
		return
	}

	res, err := s.payments.Initiate(ctx, usecase.InitiateRequest{
		OwnerID:       req.AccountID,
		CorrelationID: sub.ID,
		PlanID:        req.PlanID,
		Purpose:       model.PurposeSubscription,
		Amount:        total,
		Destination:   req.Phone,
	})
	s.respondInitiate(w, r, model.PurposeSubscription, total, res, err)
}

func (s *Server) topUpWallet(w http.ResponseWriter, r *http.Request) {
	var req topUpRequest
	if err := decodeBody(w, r, &req); err != nil || req.OwnerID == "" {
		metrics.IncPaymentInitiated(string(model.PurposeWalletTopUp), "invalid")
		writeError(w, http.StatusBadRequest, "owner_id, amount and phone are required")
		return
	}
	res, err := s.payments.Initiate(r.Context(), usecase.InitiateRequest{
		OwnerID:       req.OwnerID,
		CorrelationID: req.OwnerID,
		Purpose:       model.PurposeWalletTopUp,
		Amount:        req.Amount,
		Destination:   req.Phone,
	})
	s.respondInitiate(w, r, model.PurposeWalletTopUp, req.Amount, res, err)
}

// respondInitiate answers 200 for both acceptance and provider refusal; the body's success flag
// tells them apart.
func (s *Server) respondInitiate(w http.ResponseWriter, r *http.Request, purpose model.Purpose, amount int64, res *usecase.InitiateResult, err error) {
	if err != nil {
		s.initiateFailed(w, r, purpose, err, res)
		return
	}
	out := initiateResponse{Success: res.Success, Message: res.Message, Amount: amount}
	if !res.Success {
		metrics.IncPaymentInitiated(string(purpose), "rejected")
		writeJSON(w, http.StatusOK, out)
		return
	}
	metrics.IncPaymentInitiated(string(purpose), "accepted")
	exp := res.ExpiresAt
	out.Token = res.Token
	out.StatusURL = "/api/v1/payments/status/" + res.Token
	out.ProviderRequestID = res.ProviderRequestID
	out.ExpiresAt = &exp
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) initiateFailed(w http.ResponseWriter, r *http.Request, purpose model.Purpose, err error, res *usecase.InitiateResult) {
	msg := ""
	if res != nil {
		msg = res.Message
	}
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		metrics.IncPaymentInitiated(string(purpose), "invalid")
		if msg == "" {
			msg = err.Error()
		}
		writeError(w, http.StatusBadRequest, msg)
	case errors.Is(err, domain.ErrRateLimited):
		metrics.IncPaymentInitiated(string(purpose), "rate_limited")
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, msg)
	case errors.Is(err, domain.ErrNotFound):
		metrics.IncPaymentInitiated(string(purpose), "invalid")
		writeError(w, http.StatusNotFound, "plan or subscription not found")
	default:
		metrics.IncPaymentInitiated(string(purpose), "error")
		l := logging.With(r.Context(), s.log)
		l.Error().Err(err).Str("purpose", string(purpose)).Msg("payment initiation failed")
		writeError(w, http.StatusInternalServerError, "")
	}
}

func (s *Server) paymentStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.status.Status(r.Context(), chi.URLParam(r, "token"))
	switch {
	case err == nil:
		metrics.IncStatusPoll(string(view.Status))
		writeJSON(w, http.StatusOK, view)
	case errors.Is(err, domain.ErrTokenExpired):
		metrics.IncStatusPoll("expired")
		writeError(w, http.StatusGone, "payment session expired; start a new payment")
	case domain.IsTokenError(err):
		metrics.IncStatusPoll("invalid")
		writeError(w, http.StatusUnauthorized, "invalid payment token")
	default:
		metrics.IncStatusPoll("error")
		l := logging.With(r.Context(), s.log)
		l.Error().Err(err).Msg("status poll failed")
		writeError(w, http.StatusInternalServerError, "")
	}
}
