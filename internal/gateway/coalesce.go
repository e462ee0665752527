package gateway

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"quiz-rewards-service/internal/flight"
)

// AccountReader is the read side of the gateway.
type AccountReader interface {
	GetAccount(ctx context.Context, accountID string) (Snapshot, error)
}

// Coalescer merges concurrent reads of the same account into one request.
// Callers share the returned Snapshot and must treat it as read-only.
type Coalescer struct {
	reader  AccountReader
	timeout time.Duration
	sf      singleflight.Group
}

// NewCoalescer wraps reader. timeout caps one shared read; zero means
// flight.DefaultTimeout.
func NewCoalescer(reader AccountReader, timeout time.Duration) *Coalescer {
	return &Coalescer{reader: reader, timeout: timeout}
}

// GetAccount joins an in-flight read for accountID or starts one. The flight
// is dropped once it settles, successfully or not. A caller whose ctx ends
// returns early without failing the others sharing the read.
func (c *Coalescer) GetAccount(ctx context.Context, accountID string) (Snapshot, error) {
	return flight.Do(ctx, &c.sf, accountID, c.timeout, func(ctx context.Context) (Snapshot, error) {
		return c.reader.GetAccount(ctx, accountID)
	})
}

// Invalidate detaches any in-flight read for accountID so the next GetAccount
// issues a fresh request. Call it once a write has been acknowledged.
func (c *Coalescer) Invalidate(accountID string) {
	c.sf.Forget(accountID)
}
