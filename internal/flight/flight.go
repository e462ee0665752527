// Package flight runs one load per key for all concurrent callers.
package flight

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTimeout bounds a shared load when the caller passes no timeout.
const DefaultTimeout = 30 * time.Second

// Do joins the in-flight load for key or starts one. The load runs on a
// context detached from the caller that started it, capped by timeout, so one
// caller giving up never fails the others. Each caller still returns as soon
// as its own ctx is done.
func Do[T any](ctx context.Context, g *singleflight.Group, key string, timeout time.Duration, load func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ch := g.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		return load(loadCtx)
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}
