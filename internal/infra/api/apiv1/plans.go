package apiv1

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"mpesa-settlement/internal/domain"
	"mpesa-settlement/internal/domain/model"
	"mpesa-settlement/internal/usecase"
)

type taxDTO struct {
	Name string `json:"name"`
	Rate string `json:"rate"`
}

type planDTO struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	PeriodName string    `json:"period_name,omitempty"`
	Price      int64     `json:"price"`
	TaxAmount  int64     `json:"tax_amount"`
	Total      int64     `json:"total"`
	Currency   string    `json:"currency"`
	TrialDays  int       `json:"trial_days"`
	PeriodDays int       `json:"period_days"`
	GraceDays  int       `json:"grace_days"`
	Taxes      []taxDTO  `json:"taxes"`
	CreatedAt  time.Time `json:"created_at"`
}

func days(d time.Duration) int { return int(d / (24 * time.Hour)) }

func toPlanDTO(p *model.SubscriptionPlan) planDTO {
	taxes := make([]taxDTO, 0, len(p.Taxes))
	for _, t := range p.Taxes {
		taxes = append(taxes, taxDTO{Name: t.Name, Rate: t.Rate.String()})
	}
	return planDTO{
		ID:         p.ID,
		Name:       p.Name,
		PeriodName: p.PeriodName,
		Price:      p.Price,
		TaxAmount:  p.TaxAmount(),
		Total:      p.TotalAmount(),
		Currency:   p.Currency,
		TrialDays:  days(p.TrialDuration),
		PeriodDays: days(p.Period),
		GraceDays:  days(p.GracePeriod),
		Taxes:      taxes,
		CreatedAt:  p.CreatedAt,
	}
}

type upsertPlanRequest struct {
	Name       string   `json:"name"`
	PeriodName string   `json:"period_name"`
	Price      int64    `json:"price"`
	TrialDays  int      `json:"trial_days"`
	PeriodDays int      `json:"period_days"`
	GraceDays  int      `json:"grace_days"`
	Taxes      []taxDTO `json:"taxes"`
}

func (s *Server) adminListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.plans.List(r.Context())
	if err != nil {
		s.adminError(w, r, err)
		return
	}
	items := make([]planDTO, 0, len(plans))
	for _, p := range plans {
		items = append(items, toPlanDTO(p))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) adminGetPlan(w http.ResponseWriter, r *http.Request) {
	p, err := s.plans.Get(r.Context(), chi.URLParam(r, "planID"))
	if err != nil {
		s.adminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanDTO(p))
}

func (s *Server) adminUpsertPlan(w http.ResponseWriter, r *http.Request) {
	var req upsertPlanRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	in := usecase.PlanInput{
		ID:         chi.URLParam(r, "planID"),
		Name:       req.Name,
		PeriodName: req.PeriodName,
		Price:      req.Price,
		TrialDays:  req.TrialDays,
		PeriodDays: req.PeriodDays,
		GraceDays:  req.GraceDays,
	}
	for _, t := range req.Taxes {
		in.Taxes = append(in.Taxes, usecase.TaxInput{Name: t.Name, Rate: t.Rate})
	}
	p, created, err := s.plans.Upsert(r.Context(), in)
	if errors.Is(err, domain.ErrInvalidArgument) {
		writeError(w, http.StatusBadRequest, "name, positive price and tax rates in [0, 1) are required")
		return
	}
	if err != nil {
		s.adminError(w, r, err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, toPlanDTO(p))
}

type ledgerStatsDTO struct {
	Since              time.Time                   `json:"since"`
	Total              int                         `json:"total"`
	ByStatus           map[model.PaymentStatus]int `json:"by_status"`
	PossibleDuplicates int                         `json:"possible_duplicates"`
	UnappliedSuccess   int                         `json:"unapplied_success"`
	SettledByPurpose   map[model.Purpose]int64     `json:"settled_by_purpose"`
	Revenue            revenueDTO                  `json:"revenue"`
}

type revenueDTO struct {
	Week  int64 `json:"week"`
	Month int64 `json:"month"`
	Year  int64 `json:"year"`
}

const defaultStatsWindow = 30 * 24 * time.Hour

func (s *Server) adminStats(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-defaultStatsWindow)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = t
	}
	stats, err := s.stats.Ledger(r.Context(), since)
	if err != nil {
		s.adminError(w, r, err)
		return
	}
	week, month, year, err := s.stats.Revenue(r.Context())
	if err != nil {
		s.adminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ledgerStatsDTO{
		Since:              stats.Since,
		Total:              stats.Total(),
		ByStatus:           stats.ByStatus,
		PossibleDuplicates: stats.PossibleDuplicates,
		UnappliedSuccess:   stats.UnappliedSuccess,
		SettledByPurpose:   stats.SettledByPurpose,
		Revenue:            revenueDTO{Week: week, Month: month, Year: year},
	})
}
