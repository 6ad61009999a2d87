package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		callbacksTotal,
		settlementsAppliedTotal,
		settledRevenueTotal,
	)
}

var (
	callbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callbacks_total",
			Help: "Provider callback deliveries by reconcile outcome.",
		},
		[]string{"outcome"},
	)

	settlementsAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlements_applied_total",
			Help: "Settlement subject mutations by purpose and result (applied/already_applied/error).",
		},
		[]string{"purpose", "result"},
	)

	settledRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settled_revenue_total",
			Help: "Sum of successfully settled amounts in whole shillings.",
		},
		[]string{"purpose"},
	)
)

func IncCallback(outcome string) {
	callbacksTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncSettlementApplied(purpose, result string) {
	settlementsAppliedTotal.WithLabelValues(norm(purpose), norm(result)).Inc()
}

func AddSettledRevenue(purpose string, amount int64) {
	settledRevenueTotal.WithLabelValues(norm(purpose)).Add(float64(amount))
}
