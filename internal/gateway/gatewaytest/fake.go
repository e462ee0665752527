// Package gatewaytest provides an in-memory remote account API for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"quiz-rewards-service/internal/domain"
	"quiz-rewards-service/internal/gateway"
)

// Fake implements the gateway operations against in-memory accounts. Hooks
// let a test fail or block specific calls.
type Fake struct {
	mu       sync.Mutex
	now      func() time.Time
	seq      int
	accounts map[string]*gateway.Snapshot
	proofs   map[string][]string
	clicks   map[string]int
	calls    map[string]int

	// FailNext, keyed by operation name, makes the next call of that
	// operation return the error.
	FailNext map[string]error
	// Block, keyed by operation name, is received from before the call
	// proceeds.
	Block map[string]chan struct{}
}

func New(now func() time.Time) *Fake {
	if now == nil {
		now = time.Now
	}
	return &Fake{
		now:      now,
		accounts: make(map[string]*gateway.Snapshot),
		proofs:   make(map[string][]string),
		clicks:   make(map[string]int),
		calls:    make(map[string]int),
		FailNext: make(map[string]error),
		Block:    make(map[string]chan struct{}),
	}
}

// Seed stores account as-is and returns its id.
func (f *Fake) Seed(account domain.Account) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if account.ID == "" {
		f.seq++
		account.ID = fmt.Sprintf("acc-%d", f.seq)
	}
	f.accounts[account.ID] = &gateway.Snapshot{Account: account}
	return account.ID
}

// Account returns the stored account state.
func (f *Fake) Account(id string) (gateway.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.accounts[id]
	if !ok {
		return gateway.Snapshot{}, false
	}
	return *snap, true
}

// Calls reports how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Clicks reports how many referral clicks code received.
func (f *Fake) Clicks(code string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clicks[code]
}

// Proofs lists the uploaded proof file names for an account.
func (f *Fake) Proofs(accountID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.proofs[accountID]...)
}

func (f *Fake) enter(ctx context.Context, op string) error {
	f.mu.Lock()
	f.calls[op]++
	block := f.Block[op]
	err := f.FailNext[op]
	delete(f.FailNext, op)
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return &gateway.TransportError{Op: op, Err: ctx.Err()}
		}
	}
	return err
}

func (f *Fake) CreateAccount(ctx context.Context, referralCode string) (gateway.Credentials, error) {
	if err := f.enter(ctx, "create"); err != nil {
		return gateway.Credentials{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("acc-%d", f.seq)
	f.accounts[id] = &gateway.Snapshot{Account: domain.Account{
		ID:           id,
		Balance:      decimal.Zero,
		ReferralCode: fmt.Sprintf("REF%d", f.seq),
	}}
	if referralCode != "" {
		for _, snap := range f.accounts {
			if snap.Account.ReferralCode == referralCode {
				snap.Account.ReferralCount++
			}
		}
	}
	return gateway.Credentials{AccountID: id, AuthToken: "token-" + id}, nil
}

func (f *Fake) GetAccount(ctx context.Context, accountID string) (gateway.Snapshot, error) {
	if err := f.enter(ctx, "get"); err != nil {
		return gateway.Snapshot{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.accounts[accountID]
	if !ok {
		return gateway.Snapshot{}, &gateway.RemoteError{Op: "get account", Message: "User not found"}
	}
	out := *snap
	out.Account.TaskLastPerformed = make(map[string]time.Time, len(snap.Account.TaskLastPerformed))
	for k, v := range snap.Account.TaskLastPerformed {
		out.Account.TaskLastPerformed[k] = v
	}
	out.Transactions = append([]domain.Transaction(nil), snap.Transactions...)
	return out, nil
}

func (f *Fake) UpdateAccount(ctx context.Context, accountID string, update gateway.AccountUpdate) (gateway.Ack, error) {
	if err := f.enter(ctx, "update"); err != nil {
		return gateway.Ack{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.accounts[accountID]
	if !ok {
		return gateway.Ack{}, &gateway.RemoteError{Op: "update account", Message: "User not found"}
	}
	acc := &snap.Account
	if update.Credit != nil {
		acc.Balance = acc.Balance.Add(*update.Credit)
		f.seq++
		snap.Transactions = append(snap.Transactions, domain.Transaction{
			ID:        fmt.Sprintf("tx-%d", f.seq),
			Amount:    *update.Credit,
			Direction: domain.Credit,
			Note:      update.CreditNote,
			CreatedAt: f.now(),
		})
	}
	if update.QuizClaimed != nil {
		acc.QuizClaimed = *update.QuizClaimed
	}
	if update.Verified != nil {
		acc.Verified = *update.Verified
	}
	if update.PayoutID != nil {
		acc.PayoutID = *update.PayoutID
	}
	if update.TaskID != "" && update.TaskPerformedAt != nil {
		if acc.TaskLastPerformed == nil {
			acc.TaskLastPerformed = make(map[string]time.Time)
		}
		acc.TaskLastPerformed[update.TaskID] = *update.TaskPerformedAt
	}
	acc.ShareCount += update.ShareIncrement
	return gateway.Ack{Status: "success"}, nil
}

func (f *Fake) IncrementReferralClick(ctx context.Context, code string) (gateway.Ack, error) {
	if err := f.enter(ctx, "click"); err != nil {
		return gateway.Ack{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicks[code]++
	for _, snap := range f.accounts {
		if snap.Account.ReferralCode == code {
			snap.Account.ClickCount++
		}
	}
	return gateway.Ack{Status: "success"}, nil
}

func (f *Fake) RequestWithdrawal(ctx context.Context, accountID string, amount decimal.Decimal) (gateway.Withdrawal, error) {
	if err := f.enter(ctx, "withdraw"); err != nil {
		return gateway.Withdrawal{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.accounts[accountID]
	if !ok {
		return gateway.Withdrawal{}, &gateway.RemoteError{Op: "withdraw", Message: "User not found"}
	}
	if snap.Account.Balance.LessThan(amount) {
		return gateway.Withdrawal{}, &gateway.RemoteError{Op: "withdraw", Message: "Insufficient balance"}
	}
	f.seq++
	txID := fmt.Sprintf("tx-%d", f.seq)
	snap.Account.Balance = snap.Account.Balance.Sub(amount)
	snap.Transactions = append(snap.Transactions, domain.Transaction{
		ID:        txID,
		Amount:    amount,
		Direction: domain.Debit,
		Note:      "Withdrawal",
		CreatedAt: f.now(),
	})
	return gateway.Withdrawal{Status: "success", TransactionID: txID}, nil
}

func (f *Fake) SubmitTaskProof(ctx context.Context, accountID, taskID, filename string, file io.Reader) (gateway.Ack, error) {
	if err := f.enter(ctx, "proof"); err != nil {
		return gateway.Ack{}, err
	}
	if _, err := io.Copy(io.Discard, file); err != nil {
		return gateway.Ack{}, &gateway.TransportError{Op: "submit proof", Err: err}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proofs[accountID] = append(f.proofs[accountID], taskID+"/"+filename)
	return gateway.Ack{Status: "success"}, nil
}
