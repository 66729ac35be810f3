package oauth2client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestSynchronizer_SharesOneCall(t *testing.T) {
	s := NewRequestSynchronizer(0)

	var calls atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{})

	work := func(context.Context) (*AccessToken, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return &AccessToken{Value: "shared"}, nil
	}

	const n = 20
	results := make([]*AccessToken, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = s.Synchronize(context.Background(), "c1", work)
	}()
	<-started

	for i := 1; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.Synchronize(context.Background(), "c1", work)
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
}

func TestRequestSynchronizer_FailureIsNotCached(t *testing.T) {
	s := NewRequestSynchronizer(0)
	boom := errors.New("boom")

	var calls atomic.Int32
	work := func(context.Context) (*AccessToken, error) {
		if calls.Add(1) == 1 {
			return nil, boom
		}
		return &AccessToken{Value: "ok"}, nil
	}

	_, err := s.Synchronize(context.Background(), "c1", work)
	assert.ErrorIs(t, err, boom)

	token, err := s.Synchronize(context.Background(), "c1", work)
	require.NoError(t, err)
	assert.Equal(t, "ok", token.Value)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRequestSynchronizer_DifferentKeysRunIndependently(t *testing.T) {
	s := NewRequestSynchronizer(0)

	block := make(chan struct{})
	defer close(block)

	go func() {
		_, _ = s.Synchronize(context.Background(), "slow", func(context.Context) (*AccessToken, error) {
			<-block
			return &AccessToken{Value: "slow"}, nil
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	token, err := s.Synchronize(ctx, "fast", func(context.Context) (*AccessToken, error) {
		return &AccessToken{Value: "fast"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fast", token.Value)
}

func TestRequestSynchronizer_CallerCancellationDoesNotAbortSharedWork(t *testing.T) {
	s := NewRequestSynchronizer(0)

	release := make(chan struct{})
	started := make(chan struct{})
	var workErr atomic.Value

	work := func(ctx context.Context) (*AccessToken, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			workErr.Store(err)
			return nil, err
		}
		return &AccessToken{Value: "shared"}, nil
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderDone := make(chan error, 1)
	go func() {
		_, err := s.Synchronize(leaderCtx, "c1", work)
		leaderDone <- err
	}()
	<-started

	followerDone := make(chan *AccessToken, 1)
	go func() {
		token, _ := s.Synchronize(context.Background(), "c1", work)
		followerDone <- token
	}()
	time.Sleep(50 * time.Millisecond)

	cancelLeader()
	assert.ErrorIs(t, <-leaderDone, context.Canceled)

	close(release)
	token := <-followerDone
	require.NotNil(t, token)
	assert.Equal(t, "shared", token.Value)
	assert.Nil(t, workErr.Load(), "shared work must not see the leader's cancellation")
}

func TestRequestSynchronizer_TimeoutPropagatesToFollowers(t *testing.T) {
	s := NewRequestSynchronizer(20 * time.Millisecond)

	work := func(ctx context.Context) (*AccessToken, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Synchronize(context.Background(), "c1", work)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}
}
