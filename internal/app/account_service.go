package app

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"quiz-rewards-service/internal/domain"
	"quiz-rewards-service/internal/engine"
	"quiz-rewards-service/internal/gateway"
)

// Keys of the per-client-session preferences that survive a page reload.
const (
	PrefHasPlayedQuiz         = "hasPlayedQuiz"
	PrefCurrentUser           = "currentUser"
	PrefTeraboxVerified       = "teraboxVerified"
	PrefPaymentProofsExpanded = "paymentProofsExpanded"
)

// Gateway is the remote account API.
type Gateway interface {
	gateway.AccountReader
	CreateAccount(ctx context.Context, referralCode string) (gateway.Credentials, error)
	UpdateAccount(ctx context.Context, accountID string, update gateway.AccountUpdate) (gateway.Ack, error)
	IncrementReferralClick(ctx context.Context, code string) (gateway.Ack, error)
	RequestWithdrawal(ctx context.Context, accountID string, amount decimal.Decimal) (gateway.Withdrawal, error)
	SubmitTaskProof(ctx context.Context, accountID, taskID, filename string, file io.Reader) (gateway.Ack, error)
}

// PreferenceStore persists small per-client-session values (memory, Redis).
type PreferenceStore interface {
	Get(ctx context.Context, sessionID, key string) (string, bool, error)
	Set(ctx context.Context, sessionID, key, value string) error
	All(ctx context.Context, sessionID string) (map[string]string, error)
	Clear(ctx context.Context, sessionID string) error
}

// TaskCatalog lists the rewarded tasks.
type TaskCatalog interface {
	Tasks(ctx context.Context) ([]domain.TaskDefinition, error)
}

// RewardPolicy holds the fixed amounts of the promotion.
type RewardPolicy struct {
	WithdrawalThreshold decimal.Decimal
	QuizReward          decimal.Decimal
	Rates               engine.EarningRates
	// ProcessingTimeout caps multi-step flows such as proof upload + credit.
	ProcessingTimeout time.Duration
}

// Dashboard is everything the account/wallet view renders.
type Dashboard struct {
	Account           domain.Account           `json:"account"`
	Transactions      []domain.Transaction     `json:"transactions"`
	Tasks             []engine.TaskVerdict     `json:"tasks"`
	Withdrawal        engine.WithdrawalVerdict `json:"withdrawal"`
	Earnings          engine.Earnings          `json:"earnings"`
	Preferences       map[string]string        `json:"preferences"`
	Pending           bool                     `json:"pending"`
	WithdrawalPending bool                     `json:"withdrawalPending"`
}

// WithdrawalResult acknowledges an accepted withdrawal.
type WithdrawalResult struct {
	TransactionID string          `json:"transactionId"`
	Amount        decimal.Decimal `json:"amount"`
	Dashboard     Dashboard       `json:"dashboard"`
}

// WithdrawalRejectedError carries the verdict so callers can prompt for the
// missing precondition.
type WithdrawalRejectedError struct {
	Verdict engine.WithdrawalVerdict
}

func (e *WithdrawalRejectedError) Error() string {
	reasons := make([]string, 0, len(e.Verdict.Reasons))
	for _, r := range e.Verdict.Reasons {
		reasons = append(reasons, string(r))
	}
	return domain.ErrWithdrawalNotEligible.Error() + ": " + strings.Join(reasons, ", ")
}

func (e *WithdrawalRejectedError) Is(target error) bool {
	return target == domain.ErrWithdrawalNotEligible
}

// TaskRejectedError carries the verdict of a task that cannot be completed now.
type TaskRejectedError struct {
	Verdict engine.TaskVerdict
}

func (e *TaskRejectedError) Error() string {
	return domain.ErrTaskNotEligible.Error() + ": " + string(e.Verdict.Status)
}

func (e *TaskRejectedError) Is(target error) bool {
	return target == domain.ErrTaskNotEligible
}

// AccountService runs the reward actions against the remote gateway.
type AccountService struct {
	gateway     Gateway
	reads       *gateway.Coalescer
	readTimeout time.Duration
	prefs       PreferenceStore
	tasks       TaskCatalog
	policy      RewardPolicy
	evaluator   *engine.Evaluator
	now         func() time.Time
	logger      *zap.Logger

	guard   *inflightGuard
	pending *projections

	refMu     sync.Mutex
	referrals map[string]*engine.ReferralDeduplicator
}

// AccountOption customizes an AccountService.
type AccountOption func(*AccountService)

// WithClock is used by tests for deterministic cooldowns.
func WithClock(now func() time.Time) AccountOption {
	return func(s *AccountService) { s.now = now }
}

// WithReadTimeout caps one shared account read.
func WithReadTimeout(d time.Duration) AccountOption {
	return func(s *AccountService) { s.readTimeout = d }
}

func WithAccountLogger(logger *zap.Logger) AccountOption {
	return func(s *AccountService) { s.logger = logger }
}

func NewAccountService(gw Gateway, prefs PreferenceStore, tasks TaskCatalog, policy RewardPolicy, opts ...AccountOption) *AccountService {
	s := &AccountService{
		gateway:   gw,
		prefs:     prefs,
		tasks:     tasks,
		policy:    policy,
		now:       time.Now,
		logger:    zap.NewNop(),
		guard:     newInflightGuard(),
		pending:   newProjections(),
		referrals: make(map[string]*engine.ReferralDeduplicator),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.policy.WithdrawalThreshold.IsZero() {
		s.policy.WithdrawalThreshold = engine.DefaultWithdrawalThreshold
	}
	if s.policy.ProcessingTimeout <= 0 {
		s.policy.ProcessingTimeout = 45 * time.Second
	}
	s.reads = gateway.NewCoalescer(gw, s.readTimeout)
	s.evaluator = engine.NewEvaluator(func() time.Time { return s.now() })
	return s
}

// CurrentAccountID returns the account bound to the client session.
func (s *AccountService) CurrentAccountID(ctx context.Context, sessionID string) (string, error) {
	id, ok, err := s.prefs.Get(ctx, sessionID, PrefCurrentUser)
	if err != nil {
		return "", errors.Wrap(err, "read current user")
	}
	if !ok || id == "" {
		return "", domain.ErrNoAccount
	}
	return id, nil
}

// EnsureAccount returns the session's account, creating it on first use.
func (s *AccountService) EnsureAccount(ctx context.Context, sessionID, referralCode string) (gateway.Credentials, bool, error) {
	if id, err := s.CurrentAccountID(ctx, sessionID); err == nil {
		return gateway.Credentials{AccountID: id}, false, nil
	} else if !errors.Is(err, domain.ErrNoAccount) {
		return gateway.Credentials{}, false, err
	}

	release, err := s.guard.acquire("create", sessionID)
	if err != nil {
		return gateway.Credentials{}, false, err
	}
	defer release()

	creds, err := s.gateway.CreateAccount(ctx, strings.TrimSpace(referralCode))
	if err != nil {
		return gateway.Credentials{}, false, err
	}
	if err := s.prefs.Set(ctx, sessionID, PrefCurrentUser, creds.AccountID); err != nil {
		return gateway.Credentials{}, false, errors.Wrap(err, "store current user")
	}
	s.logger.Info("account created", zap.String("session", sessionID), zap.String("account", creds.AccountID))
	return creds, true, nil
}

// Dashboard assembles the wallet view. While a write is outstanding it
// serves the pending projection instead of a possibly stale read.
func (s *AccountService) Dashboard(ctx context.Context, sessionID string) (Dashboard, error) {
	accountID, err := s.CurrentAccountID(ctx, sessionID)
	if err != nil {
		return Dashboard{}, err
	}
	if snap, ok := s.pending.get(accountID); ok {
		return s.buildDashboard(ctx, sessionID, snap, true)
	}

	snap, err := s.reads.GetAccount(ctx, accountID)
	if err != nil {
		return Dashboard{}, err
	}
	if !snap.Account.QuizClaimed && s.playedLocally(ctx, sessionID) {
		// A previous mark-played call never landed; retry it now.
		if claimed, err := s.ClaimQuizReward(ctx, accountID); err == nil {
			snap = claimed
		} else if !errors.Is(err, domain.ErrQuizAlreadyPlayed) {
			s.logger.Warn("lazy quiz claim failed", zap.String("account", accountID), zap.Error(err))
		}
	}
	return s.buildDashboard(ctx, sessionID, snap, false)
}

// QuizClaimed reports whether the session's account already received the
// quiz reward. Sessions without an account have not.
func (s *AccountService) QuizClaimed(ctx context.Context, sessionID string) (bool, error) {
	accountID, err := s.CurrentAccountID(ctx, sessionID)
	if errors.Is(err, domain.ErrNoAccount) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	snap, err := s.reads.GetAccount(ctx, accountID)
	if err != nil {
		return false, err
	}
	return snap.Account.QuizClaimed, nil
}

// ClaimQuizForSession is the quiz "mark played" side effect: it creates the
// account if needed and credits the one-time quiz reward.
func (s *AccountService) ClaimQuizForSession(ctx context.Context, sessionID string) error {
	creds, _, err := s.EnsureAccount(ctx, sessionID, "")
	if err != nil {
		return err
	}
	_, err = s.ClaimQuizReward(ctx, creds.AccountID)
	return err
}

// ClaimQuizReward credits the quiz reward once. The QuizClaimed flag on the
// fresh read makes repeated calls harmless.
func (s *AccountService) ClaimQuizReward(ctx context.Context, accountID string) (gateway.Snapshot, error) {
	reward := s.policy.QuizReward
	claimed := true
	return s.mutate(ctx, "quiz", accountID,
		func(base gateway.Snapshot) error {
			if base.Account.QuizClaimed {
				return domain.ErrQuizAlreadyPlayed
			}
			return nil
		},
		func(p *gateway.Snapshot) {
			p.Account.QuizClaimed = true
			s.projectCredit(p, reward, "Quiz reward")
		},
		func(ctx context.Context, _ gateway.Snapshot) error {
			_, err := s.gateway.UpdateAccount(ctx, accountID, gateway.AccountUpdate{
				QuizClaimed: &claimed,
				Credit:      &reward,
				CreditNote:  "Quiz reward",
			})
			return err
		},
	)
}

// CompleteTask credits a task that needs no proof.
func (s *AccountService) CompleteTask(ctx context.Context, sessionID, taskID string) (Dashboard, error) {
	accountID, task, err := s.accountAndTask(ctx, sessionID, taskID)
	if err != nil {
		return Dashboard{}, err
	}
	if task.ProofRequired {
		return Dashboard{}, domain.ErrProofRequired
	}
	snap, err := s.creditTask(ctx, accountID, task, nil)
	if err != nil {
		return Dashboard{}, err
	}
	return s.buildDashboard(ctx, sessionID, snap, false)
}

// SubmitTaskProof uploads proof and credits the task in one bounded flow.
func (s *AccountService) SubmitTaskProof(ctx context.Context, sessionID, taskID, filename string, file io.Reader) (Dashboard, error) {
	accountID, task, err := s.accountAndTask(ctx, sessionID, taskID)
	if err != nil {
		return Dashboard{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.policy.ProcessingTimeout)
	defer cancel()

	snap, err := s.creditTask(ctx, accountID, task, func(ctx context.Context) error {
		_, err := s.gateway.SubmitTaskProof(ctx, accountID, task.ID, filename, file)
		return err
	})
	if err != nil {
		return Dashboard{}, err
	}
	return s.buildDashboard(ctx, sessionID, snap, false)
}

func (s *AccountService) creditTask(ctx context.Context, accountID string, task domain.TaskDefinition, before func(context.Context) error) (gateway.Snapshot, error) {
	var performedAt time.Time
	return s.mutate(ctx, "task:"+task.ID, accountID,
		func(base gateway.Snapshot) error {
			verdict := s.evaluator.Evaluate(task, base.Account)
			if !verdict.Available() {
				return &TaskRejectedError{Verdict: verdict}
			}
			performedAt = s.now()
			return nil
		},
		func(p *gateway.Snapshot) {
			if p.Account.TaskLastPerformed == nil {
				p.Account.TaskLastPerformed = make(map[string]time.Time)
			}
			p.Account.TaskLastPerformed[task.ID] = performedAt
			s.projectCredit(p, task.Reward, task.Label)
		},
		func(ctx context.Context, _ gateway.Snapshot) error {
			if before != nil {
				if err := before(ctx); err != nil {
					return err
				}
			}
			reward := task.Reward
			_, err := s.gateway.UpdateAccount(ctx, accountID, gateway.AccountUpdate{
				Credit:          &reward,
				CreditNote:      task.Label,
				TaskID:          task.ID,
				TaskPerformedAt: &performedAt,
			})
			return err
		},
	)
}

// UpdatePayoutID stores the UPI handle used for withdrawals.
func (s *AccountService) UpdatePayoutID(ctx context.Context, sessionID, payoutID string) (Dashboard, error) {
	payoutID = strings.TrimSpace(payoutID)
	accountID, err := s.CurrentAccountID(ctx, sessionID)
	if err != nil {
		return Dashboard{}, err
	}
	snap, err := s.mutate(ctx, "payout", accountID, nil,
		func(p *gateway.Snapshot) { p.Account.PayoutID = payoutID },
		func(ctx context.Context, _ gateway.Snapshot) error {
			_, err := s.gateway.UpdateAccount(ctx, accountID, gateway.AccountUpdate{PayoutID: &payoutID})
			return err
		},
	)
	if err != nil {
		return Dashboard{}, err
	}
	return s.buildDashboard(ctx, sessionID, snap, false)
}

// MarkVerified records that the one-time app install check passed.
func (s *AccountService) MarkVerified(ctx context.Context, sessionID string) (Dashboard, error) {
	accountID, err := s.CurrentAccountID(ctx, sessionID)
	if err != nil {
		return Dashboard{}, err
	}
	verified := true
	snap, err := s.mutate(ctx, "verify", accountID, nil,
		func(p *gateway.Snapshot) { p.Account.Verified = true },
		func(ctx context.Context, _ gateway.Snapshot) error {
			_, err := s.gateway.UpdateAccount(ctx, accountID, gateway.AccountUpdate{Verified: &verified})
			return err
		},
	)
	if err != nil {
		return Dashboard{}, err
	}
	if err := s.prefs.Set(ctx, sessionID, PrefTeraboxVerified, "true"); err != nil {
		s.logger.Warn("store verified preference", zap.String("session", sessionID), zap.Error(err))
	}
	return s.buildDashboard(ctx, sessionID, snap, false)
}

// RecordShare counts one share of the referral link.
func (s *AccountService) RecordShare(ctx context.Context, sessionID string) (Dashboard, error) {
	accountID, err := s.CurrentAccountID(ctx, sessionID)
	if err != nil {
		return Dashboard{}, err
	}
	snap, err := s.mutate(ctx, "share", accountID, nil,
		func(p *gateway.Snapshot) { p.Account.ShareCount++ },
		func(ctx context.Context, _ gateway.Snapshot) error {
			_, err := s.gateway.UpdateAccount(ctx, accountID, gateway.AccountUpdate{ShareIncrement: 1})
			return err
		},
	)
	if err != nil {
		return Dashboard{}, err
	}
	return s.buildDashboard(ctx, sessionID, snap, false)
}

// Withdraw debits the whole balance (to the paisa) once every precondition
// holds. Only one withdrawal per account may be outstanding.
func (s *AccountService) Withdraw(ctx context.Context, sessionID string) (WithdrawalResult, error) {
	accountID, err := s.CurrentAccountID(ctx, sessionID)
	if err != nil {
		return WithdrawalResult{}, err
	}

	var amount decimal.Decimal
	var txID string
	snap, err := s.mutate(ctx, "withdraw", accountID,
		func(base gateway.Snapshot) error {
			verdict := engine.EvaluateAccountWithdrawal(base.Account, s.policy.WithdrawalThreshold)
			if !verdict.Eligible {
				return &WithdrawalRejectedError{Verdict: verdict}
			}
			amount = base.Account.Balance.RoundFloor(2)
			return nil
		},
		func(p *gateway.Snapshot) {
			p.Account.Balance = p.Account.Balance.Sub(amount)
			p.Transactions = append(p.Transactions, domain.Transaction{
				ID:        "pending",
				Amount:    amount,
				Direction: domain.Debit,
				Note:      "Withdrawal",
				CreatedAt: s.now(),
			})
		},
		func(ctx context.Context, _ gateway.Snapshot) error {
			res, err := s.gateway.RequestWithdrawal(ctx, accountID, amount)
			txID = res.TransactionID
			return err
		},
	)
	if err != nil {
		return WithdrawalResult{}, err
	}
	s.logger.Info("withdrawal requested",
		zap.String("account", accountID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("transaction", txID),
	)
	dash, err := s.buildDashboard(ctx, sessionID, snap, false)
	if err != nil {
		return WithdrawalResult{}, err
	}
	return WithdrawalResult{TransactionID: txID, Amount: amount, Dashboard: dash}, nil
}

// TrackReferral sends at most one click increment per code per client session.
func (s *AccountService) TrackReferral(ctx context.Context, sessionID, code string) bool {
	return s.referralsFor(sessionID).Observe(ctx, code)
}

// SetProofsExpanded remembers whether the payment proofs panel is open.
func (s *AccountService) SetProofsExpanded(ctx context.Context, sessionID string, expanded bool) error {
	value := "false"
	if expanded {
		value = "true"
	}
	return s.prefs.Set(ctx, sessionID, PrefPaymentProofsExpanded, value)
}

// Logout forgets everything held for the client session.
func (s *AccountService) Logout(ctx context.Context, sessionID string) error {
	s.refMu.Lock()
	delete(s.referrals, sessionID)
	s.refMu.Unlock()
	return s.prefs.Clear(ctx, sessionID)
}

// mutate is the two-phase write used by every action: fresh read, check,
// publish the projection, call the gateway, then replace the projection with
// an authoritative read (or drop it on failure).
func (s *AccountService) mutate(
	ctx context.Context,
	action, accountID string,
	check func(gateway.Snapshot) error,
	project func(*gateway.Snapshot),
	call func(context.Context, gateway.Snapshot) error,
) (gateway.Snapshot, error) {
	release, err := s.guard.acquire(action, accountID)
	if err != nil {
		return gateway.Snapshot{}, err
	}
	defer release()

	s.reads.Invalidate(accountID)
	base, err := s.reads.GetAccount(ctx, accountID)
	if err != nil {
		return gateway.Snapshot{}, err
	}
	if check != nil {
		if err := check(base); err != nil {
			return gateway.Snapshot{}, err
		}
	}

	s.pending.add(accountID, action, base, project)

	if err := call(ctx, base); err != nil {
		s.pending.discard(accountID, action)
		s.logger.Warn("account action failed", zap.String("action", action), zap.String("account", accountID), zap.Error(err))
		return gateway.Snapshot{}, err
	}

	s.reads.Invalidate(accountID)
	fresh, err := s.reads.GetAccount(ctx, accountID)
	if err != nil {
		// The write landed; the projection is the best view until the next read.
		s.pending.discard(accountID, action)
		s.logger.Warn("read after write failed", zap.String("action", action), zap.String("account", accountID), zap.Error(err))
		projected := cloneSnapshot(base)
		project(&projected)
		return projected, nil
	}
	s.pending.settle(accountID, action, fresh)
	return fresh, nil
}

func (s *AccountService) projectCredit(p *gateway.Snapshot, amount decimal.Decimal, note string) {
	p.Account.Balance = p.Account.Balance.Add(amount)
	p.Transactions = append(p.Transactions, domain.Transaction{
		ID:        "pending",
		Amount:    amount,
		Direction: domain.Credit,
		Note:      note,
		CreatedAt: s.now(),
	})
}

func (s *AccountService) accountAndTask(ctx context.Context, sessionID, taskID string) (string, domain.TaskDefinition, error) {
	accountID, err := s.CurrentAccountID(ctx, sessionID)
	if err != nil {
		return "", domain.TaskDefinition{}, err
	}
	tasks, err := s.tasks.Tasks(ctx)
	if err != nil {
		return "", domain.TaskDefinition{}, errors.Wrap(err, "load tasks")
	}
	for _, task := range tasks {
		if task.ID == taskID {
			return accountID, task, nil
		}
	}
	return "", domain.TaskDefinition{}, domain.ErrTaskNotFound
}

func (s *AccountService) buildDashboard(ctx context.Context, sessionID string, snap gateway.Snapshot, pending bool) (Dashboard, error) {
	tasks, err := s.tasks.Tasks(ctx)
	if err != nil {
		return Dashboard{}, errors.Wrap(err, "load tasks")
	}
	prefs, err := s.prefs.All(ctx, sessionID)
	if err != nil {
		return Dashboard{}, errors.Wrap(err, "load preferences")
	}
	return Dashboard{
		Account:           snap.Account,
		Transactions:      snap.Transactions,
		Tasks:             s.evaluator.EvaluateCatalog(tasks, snap.Account),
		Withdrawal:        engine.EvaluateAccountWithdrawal(snap.Account, s.policy.WithdrawalThreshold),
		Earnings:          engine.ComputeEarnings(snap.Account, s.policy.Rates),
		Preferences:       prefs,
		Pending:           pending,
		WithdrawalPending: s.guard.busy("withdraw", snap.Account.ID),
	}, nil
}

func (s *AccountService) playedLocally(ctx context.Context, sessionID string) bool {
	v, ok, err := s.prefs.Get(ctx, sessionID, PrefHasPlayedQuiz)
	return err == nil && ok && v == "true"
}

func (s *AccountService) referralsFor(sessionID string) *engine.ReferralDeduplicator {
	s.refMu.Lock()
	defer s.refMu.Unlock()
	d, ok := s.referrals[sessionID]
	if !ok {
		d = engine.NewReferralDeduplicator(func(ctx context.Context, code string) error {
			_, err := s.gateway.IncrementReferralClick(ctx, code)
			return err
		}, s.logger.With(zap.String("session", sessionID)))
		s.referrals[sessionID] = d
	}
	return d
}
