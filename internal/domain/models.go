package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is the remote record for one participant, already normalized at the
// gateway boundary.
type Account struct {
	ID            string          `json:"id"`
	Balance       decimal.Decimal `json:"balance"`
	Verified      bool            `json:"verified"`
	PayoutID      string          `json:"payoutId,omitempty"`
	QuizClaimed   bool            `json:"quizClaimed"`
	ReferralCode  string          `json:"referralCode,omitempty"`
	ShareCount    int             `json:"shareCount"`
	ClickCount    int             `json:"clickCount"`
	ReferralCount int             `json:"referralCount"`
	// TaskLastPerformed is sparse; an absent key means the task was never performed.
	TaskLastPerformed map[string]time.Time `json:"taskLastPerformed,omitempty"`
}

// LastPerformed returns when the task was last completed, if ever.
func (a Account) LastPerformed(taskID string) (time.Time, bool) {
	if a.TaskLastPerformed == nil {
		return time.Time{}, false
	}
	at, ok := a.TaskLastPerformed[taskID]
	return at, ok
}

// Direction says whether a transaction adds to or removes from the balance.
type Direction string

const (
	Credit Direction = "credit"
	Debit  Direction = "debit"
)

// Transaction is an immutable ledger entry.
type Transaction struct {
	ID        string          `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Direction Direction       `json:"direction"`
	Note      string          `json:"note"`
	CreatedAt time.Time       `json:"createdAt"`
}

// TaskDefinition is a static catalog entry for a rewarded action.
type TaskDefinition struct {
	ID            string          `json:"id"`
	Label         string          `json:"label"`
	Reward        decimal.Decimal `json:"reward"`
	CooldownHours float64         `json:"cooldownHours,omitempty"` // zero means one-time
	ProofRequired bool            `json:"proofRequired"`
}

// Repeatable reports whether the task comes back after a cooldown.
func (t TaskDefinition) Repeatable() bool {
	return t.CooldownHours > 0
}

// Question models an MCQ question with exactly one correct option.
type Question struct {
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
	Correct int      `json:"correct"`
}

// Quiz is a fixed, ordered list of questions.
type Quiz struct {
	ID        string     `json:"id"`
	Questions []Question `json:"questions"`
}
