package notify

import (
	"context"

	"mpesa-settlement/internal/domain/ports/adapter"
	"mpesa-settlement/internal/infra/metrics"
	"mpesa-settlement/internal/infra/worker"
)

var _ adapter.Notifier = (*AsyncNotifier)(nil)

// AsyncNotifier queues deliveries on a worker pool so a slow notification service never
// holds up a callback response. A full queue drops the message.
type AsyncNotifier struct {
	inner adapter.Notifier
	pool  *worker.Pool
}

func NewAsyncNotifier(inner adapter.Notifier, pool *worker.Pool) *AsyncNotifier {
	return &AsyncNotifier{inner: inner, pool: pool}
}

func (a *AsyncNotifier) Notify(_ context.Context, n adapter.Notification) error {
	err := a.pool.Submit(func(ctx context.Context) error {
		return a.inner.Notify(ctx, n)
	})
	if err != nil {
		metrics.IncNotificationDropped()
	}
	return err
}
