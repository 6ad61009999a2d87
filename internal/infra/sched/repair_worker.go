package sched

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"mpesa-settlement/internal/domain/ports/adapter"
	"mpesa-settlement/internal/domain/ports/repository"
	"mpesa-settlement/internal/infra/metrics"
)

// Repairer re-applies the settlement subject of a successful ledger row and replays
// deliveries whose ledger step failed.
type Repairer interface {
	Repair(ctx context.Context, providerRequestID string) error
	ReplayFailed(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

// RepairWorker periodically finishes settlements whose subject mutation did not complete
// and reports pending rows that outlived their continuation token.
type RepairWorker struct {
	repairer   Repairer
	payments   repository.PaymentRepository
	alerter    adapter.Alerter
	interval   time.Duration
	staleAfter time.Duration // how long a success row may stay unapplied before a retry
	tokenTTL   time.Duration // pending rows older than this can no longer be polled
	batch      int
	lastStale  int
	log        zerolog.Logger
	now        func() time.Time
}

func NewRepairWorker(repairer Repairer, payments repository.PaymentRepository, alerter adapter.Alerter, interval, staleAfter, tokenTTL time.Duration, logger *zerolog.Logger) *RepairWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 2 * time.Minute
	}
	if tokenTTL <= 0 {
		tokenTTL = 15 * time.Minute
	}
	return &RepairWorker{
		repairer:   repairer,
		payments:   payments,
		alerter:    alerter,
		interval:   interval,
		staleAfter: staleAfter,
		tokenTTL:   tokenTTL,
		batch:      200,
		log:        logger.With().Str("component", "RepairWorker").Logger(),
		now:        time.Now,
	}
}

func (w *RepairWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting repair worker")
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping repair worker")
			return ctx.Err()
		case <-t.C:
			w.Tick(ctx)
		}
	}
}

// Tick replays failed deliveries, then repairs unapplied settlements, then counts stale pending rows.
func (w *RepairWorker) Tick(ctx context.Context) {
	w.replayFailed(ctx)
	w.repairUnapplied(ctx)
	w.countStalePending(ctx)
}

func (w *RepairWorker) replayFailed(ctx context.Context) {
	n, err := w.repairer.ReplayFailed(ctx, w.now().Add(-w.staleAfter), w.batch)
	if n > 0 {
		metrics.AddReplayed(n)
		w.log.Info().Int("count", n).Msg("failed deliveries replayed")
	}
	if err != nil {
		metrics.IncRepair("replay_failed")
		w.log.Error().Err(err).Msg("replay of failed deliveries incomplete")
	}
}

func (w *RepairWorker) repairUnapplied(ctx context.Context) {
	rows, err := w.payments.ListUnappliedSuccess(ctx, repository.NoTX, w.now().Add(-w.staleAfter), w.batch)
	if err != nil {
		w.log.Error().Err(err).Msg("list unapplied settlements")
		metrics.IncRepair("list_error")
		return
	}
	for _, p := range rows {
		if err := w.repairer.Repair(ctx, p.ProviderRequestID); err != nil {
			metrics.IncRepair("failed")
			w.log.Error().Err(err).Str("provider_request_id", p.ProviderRequestID).Str("correlation_id", p.CorrelationID).Msg("repair failed")
			continue
		}
		metrics.IncRepair("repaired")
		w.log.Info().Str("provider_request_id", p.ProviderRequestID).Msg("settlement repaired")
	}
}

func (w *RepairWorker) countStalePending(ctx context.Context) {
	rows, err := w.payments.ListPendingOlderThan(ctx, repository.NoTX, w.now().Add(-w.tokenTTL), w.batch)
	if err != nil {
		w.log.Error().Err(err).Msg("list stale pending")
		return
	}
	metrics.SetStalePending(len(rows))
	// Alert only when the backlog grows so a steady count does not page every tick.
	grew := len(rows) > w.lastStale
	w.lastStale = len(rows)
	if !grew || w.alerter == nil {
		return
	}
	oldest := rows[0]
	err = w.alerter.Alert(ctx, adapter.Alert{
		Severity: adapter.AlertWarning,
		Title:    "pending payments without a callback",
		Fields: map[string]string{
			"count":              strconv.Itoa(len(rows)),
			"oldest_provider_id": oldest.ProviderRequestID,
			"oldest_created_at":  oldest.CreatedAt.UTC().Format(time.RFC3339),
			"token_ttl":          w.tokenTTL.String(),
			"oldest_correlation": oldest.CorrelationID,
			"oldest_amount":      fmt.Sprint(oldest.Amount),
		},
	})
	if err != nil {
		w.log.Warn().Err(err).Msg("stale pending alert failed")
	}
}
