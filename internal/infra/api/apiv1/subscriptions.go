package apiv1

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mpesa-settlement/internal/domain"
	"mpesa-settlement/internal/infra/logging"
)

func (s *Server) startTrial(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req subscriptionRequest
	if err := decodeBody(w, r, &req); err != nil || req.AccountID == "" || req.PlanID == "" {
		writeError(w, http.StatusBadRequest, "account_id and plan_id are required")
		return
	}
	if _, err := s.subscriptions.StartTrial(ctx, req.AccountID, req.PlanID, req.Phone); err != nil {
		s.subscriptionError(w, r, err)
		return
	}
	view, err := s.subscriptions.View(ctx, req.AccountID, req.PlanID)
	if err != nil {
		s.subscriptionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) getSubscription(w http.ResponseWriter, r *http.Request) {
	planID := r.URL.Query().Get("plan_id")
	if planID == "" {
		writeError(w, http.StatusBadRequest, "plan_id is required")
		return
	}
	view, err := s.subscriptions.View(r.Context(), chi.URLParam(r, "accountID"), planID)
	if err != nil {
		s.subscriptionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) subscriptionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "")
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		l := logging.With(r.Context(), s.log)
		l.Error().Err(err).Msg("subscription request failed")
		writeError(w, http.StatusInternalServerError, "")
	}
}
