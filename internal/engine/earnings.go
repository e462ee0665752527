package engine

import (
	"github.com/shopspring/decimal"

	"quiz-rewards-service/internal/domain"
)

// EarningRates are the fixed per-event payouts shown on the dashboard.
type EarningRates struct {
	Share    decimal.Decimal
	Click    decimal.Decimal
	Referral decimal.Decimal
}

// Earnings breaks referral-funnel earnings down by source. Display only.
type Earnings struct {
	Shares    decimal.Decimal `json:"shares"`
	Clicks    decimal.Decimal `json:"clicks"`
	Referrals decimal.Decimal `json:"referrals"`
	Total     decimal.Decimal `json:"total"`
}

func ComputeEarnings(account domain.Account, rates EarningRates) Earnings {
	e := Earnings{
		Shares:    rates.Share.Mul(decimal.NewFromInt(int64(account.ShareCount))),
		Clicks:    rates.Click.Mul(decimal.NewFromInt(int64(account.ClickCount))),
		Referrals: rates.Referral.Mul(decimal.NewFromInt(int64(account.ReferralCount))),
	}
	e.Total = e.Shares.Add(e.Clicks).Add(e.Referrals)
	return e
}
