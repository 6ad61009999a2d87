package apiv1

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"mpesa-settlement/internal/usecase"
)

// Server holds the use cases behind the v1 API.
type Server struct {
	payments      usecase.PaymentUseCase
	callbacks     usecase.CallbackUseCase
	status        usecase.StatusUseCase
	subscriptions usecase.SubscriptionUseCase
	admin         usecase.AdminUseCase
	plans         usecase.PlanUseCase
	stats         usecase.StatsUseCase
	adminKey      string
	log           *zerolog.Logger
}

type Deps struct {
	Payments      usecase.PaymentUseCase
	Callbacks     usecase.CallbackUseCase
	Status        usecase.StatusUseCase
	Subscriptions usecase.SubscriptionUseCase
	Admin         usecase.AdminUseCase
	Plans         usecase.PlanUseCase
	Stats         usecase.StatsUseCase
	AdminAPIKey   string
}

func NewServer(d Deps, logger *zerolog.Logger) *Server {
	return &Server{
		payments:      d.Payments,
		callbacks:     d.Callbacks,
		status:        d.Status,
		subscriptions: d.Subscriptions,
		admin:         d.Admin,
		plans:         d.Plans,
		stats:         d.Stats,
		adminKey:      d.AdminAPIKey,
		log:           logger,
	}
}

// RegisterAPIV1 mounts every v1 route on r.
func RegisterAPIV1(r chi.Router, s *Server) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/subscriptions/trial", s.startTrial)
		r.Post("/subscriptions/pay", s.paySubscription)
		r.Get("/subscriptions/{accountID}", s.getSubscription)
		r.Post("/wallets/topup", s.topUpWallet)

		r.Get("/payments/status/{token}", s.paymentStatus)
		r.Post("/callbacks/mpesa/{token}", s.mpesaCallback)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/payments/{providerRequestID}", s.adminGetPayment)
			r.Post("/payments/{providerRequestID}/repair", s.adminRepairPayment)
			r.Get("/callback-audits", s.adminListAudits)
			r.Post("/callback-audits/{auditID}/replay", s.adminReplayAudit)
			r.Get("/plans", s.adminListPlans)
			r.Get("/plans/{planID}", s.adminGetPlan)
			r.Put("/plans/{planID}", s.adminUpsertPlan)
			r.Get("/stats", s.adminStats)
		})
	})
}

// authMiddleware provides simple Bearer token authentication for the admin API.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminKey == "" {
			s.log.Error().Msg("Admin API key is not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.adminKey)) != 1 {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: http.StatusText(code), Message: msg})
}

// decodeBody reads a bounded JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
