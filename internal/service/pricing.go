package service

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Freeeeeet/tutorbook/internal/model"
)

// Pricing quotes lessons and splits the paid amount between tutor and platform.
type Pricing interface {
	Quote(tutorID int64, durationMinutes int) (amountMinor int64, currency string)
	TutorShare(lesson *model.Lesson) int64
}

// FlatRatePricing charges one hourly rate for every tutor and keeps a commission.
type FlatRatePricing struct {
	hourlyRate decimal.Decimal
	currency   string
	commission decimal.Decimal
}

func NewFlatRatePricing(hourlyRateMinor int64, currency string, commissionRate string) (*FlatRatePricing, error) {
	if hourlyRateMinor < 0 {
		return nil, fmt.Errorf("hourly rate must not be negative")
	}
	commission, err := decimal.NewFromString(commissionRate)
	if err != nil {
		return nil, fmt.Errorf("parse commission rate: %w", err)
	}
	if commission.IsNegative() || commission.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("commission rate must be within [0, 1], got %s", commissionRate)
	}
	return &FlatRatePricing{
		hourlyRate: decimal.NewFromInt(hourlyRateMinor),
		currency:   currency,
		commission: commission,
	}, nil
}

// Quote prices durationMinutes pro rata, rounded half up to the minor unit.
func (p *FlatRatePricing) Quote(_ int64, durationMinutes int) (int64, string) {
	amount := p.hourlyRate.
		Mul(decimal.NewFromInt(int64(durationMinutes))).
		Div(decimal.NewFromInt(60)).
		Round(0)
	return amount.IntPart(), p.currency
}

// TutorShare is the price minus commission; the platform keeps the rounding remainder.
func (p *FlatRatePricing) TutorShare(lesson *model.Lesson) int64 {
	share := decimal.NewFromInt(lesson.PriceMinor).
		Mul(decimal.NewFromInt(1).Sub(p.commission)).
		Floor()
	return share.IntPart()
}
