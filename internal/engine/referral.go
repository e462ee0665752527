package engine

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ClickDispatcher sends the "increment click count" call for a referral code.
type ClickDispatcher func(ctx context.Context, code string) error

// ReferralDeduplicator lets each referral code trigger at most one successful
// click increment for the lifetime of a client session.
type ReferralDeduplicator struct {
	dispatch ClickDispatcher
	logger   *zap.Logger

	mu         sync.Mutex
	dispatched map[string]struct{}
}

func NewReferralDeduplicator(dispatch ClickDispatcher, logger *zap.Logger) *ReferralDeduplicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReferralDeduplicator{
		dispatch:   dispatch,
		logger:     logger,
		dispatched: make(map[string]struct{}),
	}
}

// Observe dispatches the click for code unless it was already dispatched in
// this session. It never fails; a failed dispatch forgets the code so a later
// observation retries. The return value reports whether a call was made.
func (d *ReferralDeduplicator) Observe(ctx context.Context, code string) bool {
	code = strings.TrimSpace(code)
	if code == "" {
		return false
	}

	d.mu.Lock()
	if _, ok := d.dispatched[code]; ok {
		d.mu.Unlock()
		return false
	}
	d.dispatched[code] = struct{}{}
	d.mu.Unlock()

	if err := d.dispatch(ctx, code); err != nil {
		d.mu.Lock()
		delete(d.dispatched, code)
		d.mu.Unlock()
		d.logger.Warn("referral click failed", zap.String("code", code), zap.Error(err))
		return true
	}
	d.logger.Info("referral click recorded", zap.String("code", code))
	return true
}

// Seen reports whether code is currently marked as dispatched.
func (d *ReferralDeduplicator) Seen(code string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.dispatched[strings.TrimSpace(code)]
	return ok
}

// Reset clears the set, as a full page reload would.
func (d *ReferralDeduplicator) Reset() {
	d.mu.Lock()
	d.dispatched = make(map[string]struct{})
	d.mu.Unlock()
}
