package oauth2client

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AmmannChristian/go-tokenflow/internal/testutil"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testClient(tokenURL string) ClientConfig {
	return ClientConfig{
		Name:         "c1",
		ClientID:     "client-1",
		ClientSecret: "s3cr3t",
		TokenURL:     tokenURL,
		Scope:        "api:read",
	}
}

func newTestManager(t *testing.T, server *testutil.TokenServer, opts ...Option) *TokenManager {
	t.Helper()

	registry, err := NewStaticRegistry(testClient(server.TokenURL()))
	require.NoError(t, err)
	return NewTokenManager(registry, opts...)
}
