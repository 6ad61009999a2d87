package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		paymentsInitiatedTotal,
		providerRequestDuration,
		statusPollsTotal,
	)
}

var (
	paymentsInitiatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_initiated_total",
			Help: "Push payment initiations by result (accepted/rejected/unavailable/invalid/rate_limited).",
		},
		[]string{"purpose", "result"},
	)

	providerRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_request_duration_seconds",
			Help:    "Latency of outbound provider calls.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider", "result"},
	)

	statusPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "status_polls_total",
			Help: "Status polls by reported state (pending/success/failed/invalid).",
		},
		[]string{"state"},
	)
)

func IncPaymentInitiated(purpose, result string) {
	paymentsInitiatedTotal.WithLabelValues(norm(purpose), norm(result)).Inc()
}

func ObserveProviderRequest(provider, result string, d time.Duration) {
	providerRequestDuration.WithLabelValues(norm(provider), norm(result)).Observe(d.Seconds())
}

func IncStatusPoll(state string) {
	statusPollsTotal.WithLabelValues(norm(state)).Inc()
}
