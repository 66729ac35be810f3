package oauth2client

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Backend stores serialised cache entries. Implementations must be safe for
// concurrent use; writes to different keys must not block each other.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, expiry time.Time) error
	Remove(ctx context.Context, key string) error
}

// CompareAndRemover is implemented by backends that can delete a key only
// while it still holds a given value. TokenCache uses it to drop stale
// entries without racing a concurrent Set; on other backends stale entries
// are left for the next Set to overwrite.
type CompareAndRemover interface {
	CompareAndRemove(ctx context.Context, key string, old []byte) error
}

// MemoryBackend is the default in-process Backend. Expiry is enforced by
// TokenCache, not here.
type MemoryBackend struct {
	entries sync.Map // string -> string
}

var _ CompareAndRemover = (*MemoryBackend)(nil)

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.entries.Load(key)
	if !ok {
		return nil, false, nil
	}
	return []byte(v.(string)), true, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, _ time.Time) error {
	m.entries.Store(key, string(value))
	return nil
}

func (m *MemoryBackend) Remove(_ context.Context, key string) error {
	m.entries.Delete(key)
	return nil
}

// CompareAndRemove deletes key only if it still holds old.
func (m *MemoryBackend) CompareAndRemove(_ context.Context, key string, old []byte) error {
	m.entries.CompareAndDelete(key, string(old))
	return nil
}

// cachedToken is the stored form of an AccessToken.
type cachedToken struct {
	Value  string    `json:"access_token"`
	Type   string    `json:"token_type"`
	Expiry time.Time `json:"expiry,omitzero"`
	Scope  string    `json:"scope,omitempty"`
}

func encodeToken(t *AccessToken) ([]byte, error) {
	return json.Marshal(cachedToken{Value: t.Value, Type: t.Type, Expiry: t.Expiry, Scope: t.Scope})
}

func decodeToken(data []byte) (*AccessToken, error) {
	var c cachedToken
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &AccessToken{Value: c.Value, Type: c.Type, Expiry: c.Expiry, Scope: c.Scope}, nil
}

// TokenCache holds the last known token per TokenKey and evaluates expiry
// with a safety buffer.
type TokenCache struct {
	backend Backend
	buffer  time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// CacheOption configures a TokenCache.
type CacheOption func(*TokenCache)

// WithCacheClock replaces time.Now.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *TokenCache) {
		c.now = now
	}
}

// WithCacheLogger sets the logger for backend failures.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *TokenCache) {
		c.logger = logger
	}
}

// NewTokenCache creates a cache over backend (memory when nil). A token is
// served only while now < expiry - buffer; negative buffers count as zero.
func NewTokenCache(backend Backend, buffer time.Duration, opts ...CacheOption) *TokenCache {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	if buffer < 0 {
		buffer = 0
	}
	c := &TokenCache{
		backend: backend,
		buffer:  buffer,
		now:     time.Now,
		logger:  discardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Buffer returns the configured expiry buffer.
func (c *TokenCache) Buffer() time.Duration {
	return c.buffer
}

// Get returns the token for key if it is still valid. Stale and undecodable
// entries are removed when the backend is a CompareAndRemover, so a token
// stored concurrently is never lost. Backend and decoding failures are
// logged and read as a miss.
func (c *TokenCache) Get(ctx context.Context, key TokenKey) (*AccessToken, bool) {
	k := key.CacheKey()

	data, ok, err := c.backend.Get(ctx, k)
	if err != nil {
		c.logger.WarnContext(ctx, "token cache read failed", "key", k, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	token, err := decodeToken(data)
	if err != nil {
		c.logger.WarnContext(ctx, "discarding undecodable cache entry", "key", k, "error", err)
		c.removeStale(ctx, k, data)
		return nil, false
	}

	if token.Expired(c.now(), c.buffer) {
		c.removeStale(ctx, k, data)
		return nil, false
	}
	return token, true
}

// Set stores token under key, replacing any previous entry. A token that is
// already past its effective expiry removes the entry instead.
func (c *TokenCache) Set(ctx context.Context, key TokenKey, token *AccessToken) error {
	k := key.CacheKey()

	if token.Expired(c.now(), c.buffer) {
		return c.backend.Remove(ctx, k)
	}

	data, err := encodeToken(token)
	if err != nil {
		return err
	}
	return c.backend.Set(ctx, k, data, token.EffectiveExpiry(c.buffer))
}

// Delete invalidates the entry for key.
func (c *TokenCache) Delete(ctx context.Context, key TokenKey) error {
	return c.backend.Remove(ctx, key.CacheKey())
}

func (c *TokenCache) removeStale(ctx context.Context, key string, data []byte) {
	remover, ok := c.backend.(CompareAndRemover)
	if !ok {
		return
	}
	if err := remover.CompareAndRemove(ctx, key, data); err != nil {
		c.logger.WarnContext(ctx, "token cache remove failed", "key", key, "error", err)
	}
}
