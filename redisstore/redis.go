package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AmmannChristian/go-tokenflow/oauth2client"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// DefaultKeyPrefix namespaces cache keys when Options.KeyPrefix is empty.
const DefaultKeyPrefix = "tokenflow:token:"

// Options holds the Redis connection settings. A single address connects to
// a standalone server, several addresses to a cluster, and MasterName to a
// Sentinel deployment.
type Options struct {
	Addrs      []string
	MasterName string
	Username   string
	Password   string
	DB         int
	KeyPrefix  string

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Backend implements oauth2client.Backend on Redis.
type Backend struct {
	client    redis.UniversalClient
	keyPrefix string
	now       func() time.Time
}

var (
	_ oauth2client.Backend           = (*Backend)(nil)
	_ oauth2client.CompareAndRemover = (*Backend)(nil)
)

// compareAndDeleteScript deletes KEYS[1] only while it holds ARGV[1].
// Returns 1 when the key was deleted, 0 otherwise.
var compareAndDeleteScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, opts Options) (*Backend, error) {
	if len(opts.Addrs) == 0 {
		return nil, errors.New("redisstore: at least one address is required")
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        opts.Addrs,
		MasterName:   opts.MasterName,
		Username:     opts.Username,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisstore: failed to connect to redis: %w", err)
	}

	return NewWithClient(client, opts.KeyPrefix), nil
}

// NewWithClient wraps a pre-configured client. An empty prefix selects
// DefaultKeyPrefix.
func NewWithClient(client redis.UniversalClient, keyPrefix string) *Backend {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &Backend{
		client:    client,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}
}

// Close closes the Redis client connection.
func (b *Backend) Close() error {
	return b.client.Close()
}

// Ping checks Redis connectivity.
func (b *Backend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Get returns the stored entry for key.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := b.client.Get(ctx, b.keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redisstore: get %q: %w", key, err)
	}
	return data, true, nil
}

// Set stores value until expiry. A zero expiry stores without TTL; an expiry
// in the past deletes the key.
func (b *Backend) Set(ctx context.Context, key string, value []byte, expiry time.Time) error {
	var ttl time.Duration
	if !expiry.IsZero() {
		ttl = expiry.Sub(b.now())
		if ttl <= 0 {
			return b.Remove(ctx, key)
		}
	}

	if err := b.client.Set(ctx, b.keyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redisstore: set %q: %w", key, err)
	}
	return nil
}

// Remove deletes key. Deleting a missing key is not an error.
func (b *Backend) Remove(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, b.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redisstore: delete %q: %w", key, err)
	}
	return nil
}

// CompareAndRemove deletes key only if it still holds old, so an entry
// written by another process in the meantime survives.
func (b *Backend) CompareAndRemove(ctx context.Context, key string, old []byte) error {
	if err := compareAndDeleteScript.Run(ctx, b.client, []string{b.keyPrefix + key}, old).Err(); err != nil {
		return fmt.Errorf("redisstore: compare and delete %q: %w", key, err)
	}
	return nil
}
