package engine

import (
	"strings"

	"github.com/shopspring/decimal"

	"quiz-rewards-service/internal/domain"
)

// WithdrawalReason names one unmet withdrawal precondition.
type WithdrawalReason string

const (
	ReasonBalance      WithdrawalReason = "balance"
	ReasonVerification WithdrawalReason = "verification"
	ReasonPayoutID     WithdrawalReason = "payout_id"
)

// DefaultWithdrawalThreshold is the minimum balance for a withdrawal.
var DefaultWithdrawalThreshold = decimal.NewFromInt(100)

// WithdrawalVerdict explains whether a withdrawal may proceed and, if not, why.
type WithdrawalVerdict struct {
	Eligible     bool               `json:"eligible"`
	Reasons      []WithdrawalReason `json:"reasons"`
	AmountNeeded decimal.Decimal    `json:"amountNeeded"`
	Threshold    decimal.Decimal    `json:"threshold"`
}

// Missing reports whether reason is among the unmet conditions.
func (v WithdrawalVerdict) Missing(reason WithdrawalReason) bool {
	for _, r := range v.Reasons {
		if r == reason {
			return true
		}
	}
	return false
}

// EvaluateWithdrawal checks balance, verification and payout id together.
func EvaluateWithdrawal(balance decimal.Decimal, verified bool, payoutID string, threshold decimal.Decimal) WithdrawalVerdict {
	verdict := WithdrawalVerdict{
		Reasons:      []WithdrawalReason{},
		AmountNeeded: decimal.Max(decimal.Zero, threshold.Sub(balance)),
		Threshold:    threshold,
	}
	if balance.LessThan(threshold) {
		verdict.Reasons = append(verdict.Reasons, ReasonBalance)
	}
	if !verified {
		verdict.Reasons = append(verdict.Reasons, ReasonVerification)
	}
	if strings.TrimSpace(payoutID) == "" {
		verdict.Reasons = append(verdict.Reasons, ReasonPayoutID)
	}
	verdict.Eligible = len(verdict.Reasons) == 0
	return verdict
}

// EvaluateAccountWithdrawal is EvaluateWithdrawal over an account record.
func EvaluateAccountWithdrawal(account domain.Account, threshold decimal.Decimal) WithdrawalVerdict {
	return EvaluateWithdrawal(account.Balance, account.Verified, account.PayoutID, threshold)
}
