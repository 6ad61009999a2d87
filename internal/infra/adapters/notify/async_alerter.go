package notify

import (
	"context"

	"github.com/rs/zerolog"

	"mpesa-settlement/internal/domain/ports/adapter"
	"mpesa-settlement/internal/infra/metrics"
	"mpesa-settlement/internal/infra/worker"
)

var _ adapter.Alerter = (*AsyncAlerter)(nil)

// AsyncAlerter hands alerts to the worker pool so Alert returns without waiting on the
// chat service. An alert that cannot be queued is written to the log instead.
type AsyncAlerter struct {
	inner adapter.Alerter
	pool  *worker.Pool
	log   zerolog.Logger
}

func NewAsyncAlerter(inner adapter.Alerter, pool *worker.Pool, logger *zerolog.Logger) *AsyncAlerter {
	return &AsyncAlerter{inner: inner, pool: pool, log: logger.With().Str("component", "async_alerter").Logger()}
}

func (a *AsyncAlerter) Alert(_ context.Context, al adapter.Alert) error {
	err := a.pool.Submit(func(ctx context.Context) error {
		return a.inner.Alert(ctx, al)
	})
	if err != nil {
		metrics.IncAlertDropped()
		ev := a.log.Error().Err(err).Str("severity", string(al.Severity)).Str("title", al.Title)
		for k, v := range al.Fields {
			ev = ev.Str(k, v)
		}
		ev.Msg("alert not queued")
	}
	return nil
}
