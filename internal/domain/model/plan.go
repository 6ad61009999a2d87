package model

import (
	"time"

	"github.com/shopspring/decimal"

	"mpesa-settlement/internal/domain"
)

const (
	DefaultTrialDuration = 14 * 24 * time.Hour
	DefaultPeriod        = 365 * 24 * time.Hour
	DefaultGracePeriod   = 2 * 24 * time.Hour
)

// Tax is a percentage levied on a plan price, e.g. Rate 0.16 for VAT.
type Tax struct {
	Name string
	Rate decimal.Decimal
}

// SubscriptionPlan is a renewable plan priced in whole shillings.
type SubscriptionPlan struct {
	ID            string
	Name          string
	PeriodName    string
	Price         int64
	Currency      string
	TrialDuration time.Duration
	Period        time.Duration
	GracePeriod   time.Duration
	Taxes         []Tax
	CreatedAt     time.Time
}

func (p *SubscriptionPlan) IsZero() bool { return p == nil || p.ID == "" }

// NewSubscriptionPlan validates and constructs a plan, filling the default windows.
func NewSubscriptionPlan(id, name, periodName string, price int64, taxes ...Tax) (*SubscriptionPlan, error) {
	if id == "" || name == "" || price <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	for _, t := range taxes {
		if t.Name == "" || t.Rate.IsNegative() {
			return nil, domain.ErrInvalidArgument
		}
	}
	return &SubscriptionPlan{
		ID:            id,
		Name:          name,
		PeriodName:    periodName,
		Price:         price,
		Currency:      "KES",
		TrialDuration: DefaultTrialDuration,
		Period:        DefaultPeriod,
		GracePeriod:   DefaultGracePeriod,
		Taxes:         taxes,
		CreatedAt:     time.Now(),
	}, nil
}

// TaxAmount is the sum of all taxes on the price, rounded to whole shillings.
func (p *SubscriptionPlan) TaxAmount() int64 {
	price := decimal.NewFromInt(p.Price)
	total := decimal.Zero
	for _, t := range p.Taxes {
		total = total.Add(price.Mul(t.Rate))
	}
	return total.Round(0).IntPart()
}

// TotalAmount is what the payer is asked for.
func (p *SubscriptionPlan) TotalAmount() int64 {
	return p.Price + p.TaxAmount()
}
