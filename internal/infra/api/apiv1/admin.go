package apiv1

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"mpesa-settlement/internal/domain"
	"mpesa-settlement/internal/domain/model"
	"mpesa-settlement/internal/infra/logging"
	"mpesa-settlement/internal/usecase"
)

type paymentDTO struct {
	ID                string              `json:"id"`
	ProviderRequestID string              `json:"provider_request_id"`
	MerchantRequestID string              `json:"merchant_request_id,omitempty"`
	CorrelationID     string              `json:"correlation_id"`
	AttemptID         string              `json:"attempt_id,omitempty"`
	OwnerID           string              `json:"owner_id"`
	Purpose           model.Purpose       `json:"purpose"`
	PlanID            string              `json:"plan_id,omitempty"`
	Amount            int64               `json:"amount"`
	PaidAmount        int64               `json:"paid_amount"`
	Status            model.PaymentStatus `json:"status"`
	ResultCode        *int                `json:"result_code,omitempty"`
	ResultDesc        string              `json:"result_desc,omitempty"`
	ReceiptNumber     string              `json:"receipt_number,omitempty"`
	ProviderTimestamp *time.Time          `json:"provider_timestamp,omitempty"`
	PossibleDuplicate bool                `json:"possible_duplicate"`
	DeliveryCount     int                 `json:"delivery_count"`
	SubjectApplied    bool                `json:"subject_applied"`
	SubjectAppliedAt  *time.Time          `json:"subject_applied_at,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// toPaymentDTO leaves the payer MSISDN out of admin responses.
func toPaymentDTO(p *model.PaymentRecord) paymentDTO {
	return paymentDTO{
		ID:                p.ID,
		ProviderRequestID: p.ProviderRequestID,
		MerchantRequestID: p.MerchantRequestID,
		CorrelationID:     p.CorrelationID,
		AttemptID:         p.AttemptID,
		OwnerID:           p.OwnerID,
		Purpose:           p.Purpose,
		PlanID:            p.PlanID,
		Amount:            p.Amount,
		PaidAmount:        p.PaidAmount,
		Status:            p.Status,
		ResultCode:        p.ResultCode,
		ResultDesc:        p.ResultDesc,
		ReceiptNumber:     p.ReceiptNumber,
		ProviderTimestamp: p.ProviderTimestamp,
		PossibleDuplicate: p.PossibleDuplicate,
		DeliveryCount:     p.DeliveryCount,
		SubjectApplied:    p.SubjectApplied,
		SubjectAppliedAt:  p.SubjectAppliedAt,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

func (s *Server) adminGetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := s.admin.GetPayment(r.Context(), chi.URLParam(r, "providerRequestID"))
	if err != nil {
		s.adminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}

func (s *Server) adminRepairPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "providerRequestID")
	if err := s.admin.RepairPayment(r.Context(), id); err != nil {
		s.adminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"provider_request_id": id, "subject_applied": true})
}

func (s *Server) adminListAudits(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	items, err := s.admin.ListAudits(r.Context(), limit)
	if err != nil {
		s.adminError(w, r, err)
		return
	}
	if items == nil {
		items = []usecase.AuditView{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

type replayResponse struct {
	AuditID           string                 `json:"audit_id"`
	ProviderRequestID string                 `json:"provider_request_id"`
	Outcome           model.ReconcileOutcome `json:"outcome"`
	Accepted          bool                   `json:"accepted"`
	SubjectResult     string                 `json:"subject_result,omitempty"`
}

func (s *Server) adminReplayAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "auditID")
	ack, err := s.admin.ReplayAudit(r.Context(), id)
	if err != nil {
		s.adminError(w, r, err)
		return
	}
	recordAck(ack)
	writeJSON(w, http.StatusOK, replayResponse{
		AuditID:           id,
		ProviderRequestID: ack.ProviderRequestID,
		Outcome:           ack.Outcome,
		Accepted:          ack.Accepted,
		SubjectResult:     ack.SubjectResult,
	})
}

func (s *Server) adminError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "")
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrLockBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrSubjectMutationFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		l := logging.With(r.Context(), s.log)
		l.Error().Err(err).Msg("admin request failed")
		writeError(w, http.StatusInternalServerError, "")
	}
}
