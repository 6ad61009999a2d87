package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"mpesa-settlement/internal/domain/model"
	"mpesa-settlement/internal/domain/ports/repository"
)

// Compile-time check
var _ StatsUseCase = (*statsUC)(nil)

type StatsUseCase interface {
	// Ledger summarises rows created since `since`.
	Ledger(ctx context.Context, since time.Time) (*model.LedgerStats, error)
	// Revenue is the settled amount over the last 7, 30 and 365 days.
	Revenue(ctx context.Context) (week int64, month int64, year int64, err error)
}

type statsUC struct {
	payments repository.PaymentRepository
	now      func() time.Time
	log      *zerolog.Logger
}

func NewStatsUseCase(payments repository.PaymentRepository, logger *zerolog.Logger) *statsUC {
	return &statsUC{payments: payments, now: time.Now, log: logger}
}

func (s *statsUC) Ledger(ctx context.Context, since time.Time) (*model.LedgerStats, error) {
	return s.payments.Summarize(ctx, repository.NoTX, since)
}

func (s *statsUC) Revenue(ctx context.Context) (int64, int64, int64, error) {
	now := s.now()
	w, err := s.payments.SumSettledSince(ctx, repository.NoTX, now.Add(-7*day))
	if err != nil {
		return 0, 0, 0, err
	}
	m, err := s.payments.SumSettledSince(ctx, repository.NoTX, now.Add(-30*day))
	if err != nil {
		return 0, 0, 0, err
	}
	y, err := s.payments.SumSettledSince(ctx, repository.NoTX, now.Add(-365*day))
	if err != nil {
		return 0, 0, 0, err
	}
	return w, m, y, nil
}
