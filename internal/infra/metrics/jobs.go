package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		repairRunsTotal,
		stalePendingGauge,
		remindersSentTotal,
		notificationsDroppedTotal,
		alertsDroppedTotal,
		replayedDeliveriesTotal,
	)
}

var (
	repairRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repair_runs_total",
			Help: "Settlement repair attempts by result (repaired/failed).",
		},
		[]string{"result"},
	)

	stalePendingGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stale_pending_payments",
			Help: "Pending ledger rows older than the continuation token lifetime at the last sweep.",
		},
	)

	remindersSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscription_reminders_total",
			Help: "Renewal reminders dispatched.",
		},
	)

	notificationsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notifications_dropped_total",
			Help: "Notifications dropped because the dispatch queue was full.",
		},
	)

	replayedDeliveriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "callback_replays_total",
			Help: "Audited deliveries whose ledger step failed and that were later reconciled.",
		},
	)

	alertsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "alerts_dropped_total",
			Help: "Operator alerts that could not be queued and were only logged.",
		},
	)
)

func IncRepair(result string) { repairRunsTotal.WithLabelValues(norm(result)).Inc() }

func SetStalePending(n int) { stalePendingGauge.Set(float64(n)) }

func AddRemindersSent(n int) { remindersSentTotal.Add(float64(n)) }

func IncNotificationDropped() { notificationsDroppedTotal.Inc() }

func IncAlertDropped() { alertsDroppedTotal.Inc() }

func AddReplayed(n int) { replayedDeliveriesTotal.Add(float64(n)) }
