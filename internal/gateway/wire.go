package gateway

import (
	"bytes"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"quiz-rewards-service/internal/domain"
)

const statusSuccess = "success"

// envelope is the uniform response shape of every gateway call.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// The remote store is loosely typed: flags arrive as "1"/"true"/1/true,
// amounts and counters as numbers or strings. These types absorb that so the
// rest of the service only sees real Go types.

type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	raw := strings.ToLower(strings.Trim(string(bytes.TrimSpace(data)), `"`))
	switch raw {
	case "1", "true", "yes", "y", "on":
		*b = true
	default:
		*b = false
	}
	return nil
}

type flexDecimal decimal.Decimal

func (d *flexDecimal) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(strings.Trim(string(bytes.TrimSpace(data)), `"`))
	if raw == "" || raw == "null" {
		*d = flexDecimal(decimal.Zero)
		return nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		*d = flexDecimal(decimal.Zero)
		return nil
	}
	*d = flexDecimal(v)
	return nil
}

func (d flexDecimal) Decimal() decimal.Decimal { return decimal.Decimal(d) }

// flexInt is a non-negative counter capped at math.MaxInt32. Non-finite or
// unparseable values read as zero.
type flexInt int

func (i *flexInt) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(strings.Trim(string(bytes.TrimSpace(data)), `"`))
	n, err := strconv.ParseFloat(raw, 64)
	switch {
	case err != nil && !errors.Is(err, strconv.ErrRange), math.IsNaN(n), n <= 0:
		*i = 0
	case math.IsInf(n, 1), n >= math.MaxInt32:
		*i = math.MaxInt32
	default:
		*i = flexInt(n)
	}
	return nil
}

type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	*s = flexString(data)
	return nil
}

type wireAccount struct {
	ID            flexString            `json:"id"`
	Balance       flexDecimal           `json:"balance"`
	Verified      flexBool              `json:"terabox_verified"`
	PayoutID      flexString            `json:"upi_id"`
	QuizClaimed   flexBool              `json:"quiz_claimed"`
	ReferralCode  flexString            `json:"referral_code"`
	ShareCount    flexInt               `json:"share_count"`
	ClickCount    flexInt               `json:"click_count"`
	ReferralCount flexInt               `json:"referral_count"`
	Tasks         map[string]flexString `json:"tasks"`
}

type wireTransaction struct {
	ID        flexString  `json:"id"`
	Amount    flexDecimal `json:"amount"`
	Type      flexString  `json:"type"`
	Note      flexString  `json:"description"`
	CreatedAt flexString  `json:"created_at"`
}

type wireSnapshot struct {
	User         wireAccount       `json:"user"`
	Transactions []wireTransaction `json:"transactions"`
}

// toDomain converts the wire account; zone-less timestamps are read in loc.
func (w wireAccount) toDomain(loc *time.Location) domain.Account {
	account := domain.Account{
		ID:            string(w.ID),
		Balance:       w.Balance.Decimal(),
		Verified:      bool(w.Verified),
		PayoutID:      strings.TrimSpace(string(w.PayoutID)),
		QuizClaimed:   bool(w.QuizClaimed),
		ReferralCode:  string(w.ReferralCode),
		ShareCount:    int(w.ShareCount),
		ClickCount:    int(w.ClickCount),
		ReferralCount: int(w.ReferralCount),
	}
	if account.Balance.IsNegative() {
		account.Balance = decimal.Zero
	}
	if len(w.Tasks) > 0 {
		account.TaskLastPerformed = make(map[string]time.Time, len(w.Tasks))
		for taskID, raw := range w.Tasks {
			// Unparseable timestamps are dropped: the task reads as never performed.
			if at, ok := ParseTimestampIn(string(raw), loc); ok {
				account.TaskLastPerformed[taskID] = at
			}
		}
	}
	return account
}

func (w wireTransaction) toDomain(loc *time.Location) domain.Transaction {
	tx := domain.Transaction{
		ID:        string(w.ID),
		Amount:    w.Amount.Decimal().Abs(),
		Direction: domain.Credit,
		Note:      string(w.Note),
	}
	if strings.EqualFold(string(w.Type), string(domain.Debit)) || w.Amount.Decimal().IsNegative() {
		tx.Direction = domain.Debit
	}
	if at, ok := ParseTimestampIn(string(w.CreatedAt), loc); ok {
		tx.CreatedAt = at
	}
	return tx
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp is ParseTimestampIn with UTC as the default zone.
func ParseTimestamp(raw string) (time.Time, bool) {
	return ParseTimestampIn(raw, time.UTC)
}

// ParseTimestampIn accepts the formats the gateway has been seen to emit:
// ISO-8601, MySQL datetime, and unix seconds or milliseconds. Values without
// a zone are read in loc, the gateway server's local zone.
func ParseTimestampIn(raw string, loc *time.Location) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range timestampLayouts {
		if at, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return at.UTC(), true
		}
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), true
		}
		return time.Unix(n, 0).UTC(), true
	}
	return time.Time{}, false
}
