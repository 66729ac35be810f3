package oauth2client

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// RequestSynchronizer collapses concurrent token acquisitions for the same
// key into one call. Results, including failures, are shared only with the
// callers attached to that call; the next caller starts a fresh one.
type RequestSynchronizer struct {
	group   singleflight.Group
	timeout time.Duration
}

// NewRequestSynchronizer creates a synchronizer. A positive timeout bounds
// the shared work; zero leaves it unbounded.
func NewRequestSynchronizer(timeout time.Duration) *RequestSynchronizer {
	return &RequestSynchronizer{timeout: timeout}
}

// Synchronize runs work for key unless a call for key is already in flight,
// in which case it waits for that call's result.
//
// work receives a context that keeps ctx's values but not its cancellation:
// the first caller giving up must not fail the others. If ctx is done before
// the result arrives, Synchronize returns ctx.Err() and the shared call keeps
// running for the remaining waiters.
func (s *RequestSynchronizer) Synchronize(
	ctx context.Context,
	key string,
	work func(context.Context) (*AccessToken, error),
) (*AccessToken, error) {
	ch := s.group.DoChan(key, func() (any, error) {
		workCtx := context.WithoutCancel(ctx)
		if s.timeout > 0 {
			var cancel context.CancelFunc
			workCtx, cancel = context.WithTimeout(workCtx, s.timeout)
			defer cancel()
		}
		return work(workCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*AccessToken), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
