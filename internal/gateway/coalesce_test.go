package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-rewards-service/internal/domain"
)

type blockingReader struct {
	calls   int32
	started chan struct{}
	release chan struct{}
	err     error
}

func newBlockingReader() *blockingReader {
	return &blockingReader{started: make(chan struct{}, 8), release: make(chan struct{})}
}

func (r *blockingReader) GetAccount(ctx context.Context, accountID string) (Snapshot, error) {
	n := atomic.AddInt32(&r.calls, 1)
	r.started <- struct{}{}
	select {
	case <-r.release:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	if r.err != nil {
		return Snapshot{}, r.err
	}
	return Snapshot{Account: domain.Account{ID: accountID, Balance: decimal.NewFromInt(int64(n))}}, nil
}

func TestCoalescerSharesInFlightRead(t *testing.T) {
	reader := newBlockingReader()
	coalescer := NewCoalescer(reader, time.Second)

	results := make([]Snapshot, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := coalescer.GetAccount(context.Background(), "42")
			assert.NoError(t, err)
			results[i] = snap
		}(i)
	}

	<-reader.started
	// Give the second caller time to join the flight before it settles.
	time.Sleep(50 * time.Millisecond)
	close(reader.release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&reader.calls))
	assert.Equal(t, results[0], results[1])
}

func TestCoalescerJoinedReaderOutlivesCancelledStarter(t *testing.T) {
	reader := newBlockingReader()
	coalescer := NewCoalescer(reader, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := coalescer.GetAccount(ctx, "42")
		firstErr <- err
	}()
	<-reader.started

	second := make(chan Snapshot, 1)
	go func() {
		snap, err := coalescer.GetAccount(context.Background(), "42")
		assert.NoError(t, err)
		second <- snap
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(reader.release)
	snap := <-second
	assert.Equal(t, "42", snap.Account.ID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&reader.calls))
}

func TestCoalescerDropsSettledFlights(t *testing.T) {
	reader := newBlockingReader()
	reader.err = errors.New("boom")
	close(reader.release)
	coalescer := NewCoalescer(reader, time.Second)

	_, err := coalescer.GetAccount(context.Background(), "42")
	require.Error(t, err)
	reader.err = nil
	snap, err := coalescer.GetAccount(context.Background(), "42")
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&reader.calls))
	assert.Equal(t, "2", snap.Account.Balance.String())
}

func TestCoalescerInvalidateStartsFreshRead(t *testing.T) {
	reader := newBlockingReader()
	coalescer := NewCoalescer(reader, time.Second)

	first := make(chan Snapshot, 1)
	go func() {
		snap, _ := coalescer.GetAccount(context.Background(), "42")
		first <- snap
	}()
	<-reader.started

	coalescer.Invalidate("42")
	second := make(chan Snapshot, 1)
	go func() {
		snap, _ := coalescer.GetAccount(context.Background(), "42")
		second <- snap
	}()
	<-reader.started
	close(reader.release)

	assert.Equal(t, int32(2), atomic.LoadInt32(&reader.calls))
	a, b := <-first, <-second
	assert.False(t, a.Account.Balance.Equal(b.Account.Balance))
}
