package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AmmannChristian/go-tokenflow/internal/testutil"
	"github.com/AmmannChristian/go-tokenflow/oauth2client"
)

func newTestBackend(t *testing.T) (*Backend, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewWithClient(client, "test:"), mr
}

func TestNew(t *testing.T) {
	mr := miniredis.RunT(t)

	backend, err := New(context.Background(), Options{Addrs: []string{mr.Addr()}})
	require.NoError(t, err)
	defer backend.Close()

	assert.Equal(t, DefaultKeyPrefix, backend.keyPrefix)
	assert.NoError(t, backend.Ping(context.Background()))
}

func TestNew_Errors(t *testing.T) {
	_, err := New(context.Background(), Options{})
	assert.ErrorContains(t, err, "at least one address is required")

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err = New(context.Background(), Options{Addrs: []string{addr}, DialTimeout: 200 * time.Millisecond})
	assert.ErrorContains(t, err, "failed to connect to redis")
}

func TestBackend_SetGetRemove(t *testing.T) {
	backend, mr := newTestBackend(t)
	ctx := context.Background()

	_, ok, err := backend.Get(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, backend.Set(ctx, "c1", []byte(`{"v":"a"}`), time.Time{}))
	assert.True(t, mr.Exists("test:c1"))
	assert.Zero(t, mr.TTL("test:c1"), "entries without expiry have no TTL")

	data, ok, err := backend.Get(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"v":"a"}`, string(data))

	require.NoError(t, backend.Remove(ctx, "c1"))
	assert.False(t, mr.Exists("test:c1"))
	assert.NoError(t, backend.Remove(ctx, "c1"), "removing a missing key succeeds")
}

func TestBackend_SetTTL(t *testing.T) {
	backend, mr := newTestBackend(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	backend.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "c1", []byte("x"), now.Add(90*time.Second)))
	assert.Equal(t, 90*time.Second, mr.TTL("test:c1"))

	mr.FastForward(91 * time.Second)
	_, ok, err := backend.Get(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, ok, "redis expires the key at the effective expiry")
}

func TestBackend_SetPastExpiryDeletes(t *testing.T) {
	backend, mr := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "c1", []byte("x"), time.Time{}))
	require.NoError(t, backend.Set(ctx, "c1", []byte("y"), time.Now().Add(-time.Second)))

	assert.False(t, mr.Exists("test:c1"))
}

func TestBackend_CompareAndRemove(t *testing.T) {
	backend, mr := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "c1", []byte("stale"), time.Time{}))
	require.NoError(t, backend.Set(ctx, "c1", []byte("fresh"), time.Time{}))

	require.NoError(t, backend.CompareAndRemove(ctx, "c1", []byte("stale")))
	value, err := mr.Get("test:c1")
	require.NoError(t, err)
	assert.Equal(t, "fresh", value, "a newer value is kept")

	require.NoError(t, backend.CompareAndRemove(ctx, "c1", []byte("fresh")))
	assert.False(t, mr.Exists("test:c1"))

	assert.NoError(t, backend.CompareAndRemove(ctx, "missing", []byte("x")))
}

func TestBackend_StaleEntryKeepsConcurrentWrite(t *testing.T) {
	backend, mr := newTestBackend(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	cache := oauth2client.NewTokenCache(backend, 0, oauth2client.WithCacheClock(clock))
	key := oauth2client.ClientKey("c1")

	// A stale entry as another process left it, without a TTL.
	const stale = `{"access_token":"old","token_type":"Bearer","expiry":"2026-01-01T11:00:00Z"}`
	require.NoError(t, mr.Set("test:c1", stale))

	_, ok := cache.Get(ctx, key)
	assert.False(t, ok)
	assert.False(t, mr.Exists("test:c1"), "stale entry is removed")

	require.NoError(t, cache.Set(ctx, key, &oauth2client.AccessToken{Value: "new", Type: "Bearer", Expiry: now.Add(time.Hour)}))
	require.NoError(t, backend.CompareAndRemove(ctx, "c1", []byte(stale)))

	got, ok := cache.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, "new", got.Value)
}

func TestBackend_Errors(t *testing.T) {
	backend, mr := newTestBackend(t)
	ctx := context.Background()
	mr.SetError("LOADING dataset in memory")

	_, _, err := backend.Get(ctx, "c1")
	assert.ErrorContains(t, err, `redisstore: get "c1"`)
	assert.ErrorContains(t, backend.Set(ctx, "c1", []byte("x"), time.Time{}), `redisstore: set "c1"`)
	assert.ErrorContains(t, backend.Remove(ctx, "c1"), `redisstore: delete "c1"`)
	assert.ErrorContains(t, backend.CompareAndRemove(ctx, "c1", []byte("x")), `redisstore: compare and delete "c1"`)
}

func TestBackend_SharedBetweenManagers(t *testing.T) {
	tokens := testutil.NewTokenServer(t)
	backend, mr := newTestBackend(t)

	registry, err := oauth2client.NewStaticRegistry(oauth2client.ClientConfig{
		Name:         "c1",
		ClientID:     "client-1",
		ClientSecret: "s3cr3t",
		TokenURL:     tokens.TokenURL(),
		Scope:        "api:read",
	})
	require.NoError(t, err)

	first := oauth2client.NewTokenManager(registry, oauth2client.WithBackend(backend))
	second := oauth2client.NewTokenManager(registry, oauth2client.WithBackend(backend))
	key := oauth2client.ClientKey("c1")
	ctx := context.Background()

	a, err := first.GetToken(ctx, key, false)
	require.NoError(t, err)
	b, err := second.GetToken(ctx, key, false)
	require.NoError(t, err)

	assert.Equal(t, "access_token_1", a.Value)
	assert.Equal(t, a.Value, b.Value)
	assert.Equal(t, "api:read", b.Scope)
	assert.Equal(t, 1, tokens.Calls())

	ttl := mr.TTL("test:c1")
	assert.Greater(t, ttl, 3400*time.Second, "TTL is the expiry minus the default buffer")
	assert.LessOrEqual(t, ttl, 3540*time.Second)

	require.NoError(t, second.DeleteToken(ctx, key))
	c, err := first.GetToken(ctx, key, false)
	require.NoError(t, err)
	assert.Equal(t, "access_token_2", c.Value)
}

func TestBackend_UnavailableReadsAsMiss(t *testing.T) {
	tokens := testutil.NewTokenServer(t)
	backend, mr := newTestBackend(t)

	registry, err := oauth2client.NewStaticRegistry(oauth2client.ClientConfig{
		Name: "c1", ClientID: "client-1", ClientSecret: "s3cr3t", TokenURL: tokens.TokenURL(),
	})
	require.NoError(t, err)
	tm := oauth2client.NewTokenManager(registry, oauth2client.WithBackend(backend))

	mr.SetError("READONLY")
	for i := 1; i <= 2; i++ {
		token, err := tm.GetToken(context.Background(), oauth2client.ClientKey("c1"), false)
		require.NoError(t, err, "cache failures never fail GetToken")
		assert.NotEmpty(t, token.Value)
		assert.Equal(t, i, tokens.Calls(), "without a working cache every call exchanges")
	}
}
