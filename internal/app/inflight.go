package app

import (
	"sync"

	"quiz-rewards-service/internal/domain"
)

// inflightGuard allows one outstanding request per (action, account).
type inflightGuard struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newInflightGuard() *inflightGuard {
	return &inflightGuard{keys: make(map[string]struct{})}
}

// acquire returns a release func, or ErrRequestInFlight if the same action is
// already running for the account.
func (g *inflightGuard) acquire(action, accountID string) (func(), error) {
	key := action + ":" + accountID
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.keys[key]; busy {
		return nil, domain.ErrRequestInFlight
	}
	g.keys[key] = struct{}{}
	return func() {
		g.mu.Lock()
		delete(g.keys, key)
		g.mu.Unlock()
	}, nil
}

// busy reports whether the action is outstanding for the account.
func (g *inflightGuard) busy(action, accountID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.keys[action+":"+accountID]
	return ok
}
