package app

import (
	"sort"
	"sync"
	"time"

	"quiz-rewards-service/internal/domain"
	"quiz-rewards-service/internal/gateway"
)

// projections holds optimistic account states for writes that have not been
// acknowledged yet. Every outstanding action keeps its own delta; the view of
// an account is the latest authoritative read with all pending deltas applied
// in the order the actions started.
type projections struct {
	mu       sync.RWMutex
	seq      uint64
	accounts map[string]*accountProjection
}

type accountProjection struct {
	base   gateway.Snapshot
	writes map[string]pendingWrite
}

type pendingWrite struct {
	seq   uint64
	apply func(*gateway.Snapshot)
}

func newProjections() *projections {
	return &projections{accounts: make(map[string]*accountProjection)}
}

// add registers action's delta on top of base, the read it was checked against.
func (p *projections) add(accountID, action string, base gateway.Snapshot, apply func(*gateway.Snapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	ap, ok := p.accounts[accountID]
	if !ok {
		ap = &accountProjection{writes: make(map[string]pendingWrite)}
		p.accounts[accountID] = ap
	}
	ap.base = base
	ap.writes[action] = pendingWrite{seq: p.seq, apply: apply}
}

// settle removes action's delta after its write was acknowledged. fresh, the
// read taken after the write, becomes the base for the remaining deltas.
func (p *projections) settle(accountID, action string, fresh gateway.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ap, ok := p.accounts[accountID]
	if !ok {
		return
	}
	delete(ap.writes, action)
	if len(ap.writes) == 0 {
		delete(p.accounts, accountID)
		return
	}
	ap.base = fresh
}

// discard removes action's delta without touching the base.
func (p *projections) discard(accountID, action string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ap, ok := p.accounts[accountID]
	if !ok {
		return
	}
	delete(ap.writes, action)
	if len(ap.writes) == 0 {
		delete(p.accounts, accountID)
	}
}

// get returns the projected account while any write is outstanding.
func (p *projections) get(accountID string) (gateway.Snapshot, bool) {
	p.mu.RLock()
	ap, ok := p.accounts[accountID]
	if !ok {
		p.mu.RUnlock()
		return gateway.Snapshot{}, false
	}
	base := ap.base
	writes := make([]pendingWrite, 0, len(ap.writes))
	for _, w := range ap.writes {
		writes = append(writes, w)
	}
	p.mu.RUnlock()

	sort.Slice(writes, func(i, j int) bool { return writes[i].seq < writes[j].seq })
	out := cloneSnapshot(base)
	for _, w := range writes {
		w.apply(&out)
	}
	return out, true
}

// cloneSnapshot deep-copies the mutable parts so a projection never aliases
// a snapshot shared by coalesced readers.
func cloneSnapshot(snap gateway.Snapshot) gateway.Snapshot {
	out := snap
	if snap.Account.TaskLastPerformed != nil {
		out.Account.TaskLastPerformed = make(map[string]time.Time, len(snap.Account.TaskLastPerformed))
		for k, v := range snap.Account.TaskLastPerformed {
			out.Account.TaskLastPerformed[k] = v
		}
	}
	out.Transactions = append([]domain.Transaction(nil), snap.Transactions...)
	return out
}
