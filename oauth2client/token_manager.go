package oauth2client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/oauth2"

	"github.com/AmmannChristian/go-tokenflow/dpop"
)

// DefaultExpiryBuffer is how long before expiry a cached token stops being
// served. It is kept below the shortest lifetimes common for
// client-credentials tokens (60s) so those are still cached; a buffer at or
// above a token's lifetime makes every lookup miss.
const DefaultExpiryBuffer = 30 * time.Second

// TokenManager issues, caches and refreshes client-credentials tokens for
// the clients of a Registry. It is safe for concurrent use; concurrent
// acquisitions of an uncached key share a single token request.
type TokenManager struct {
	registry  Registry
	cache     *TokenCache
	flights   *RequestSynchronizer
	exchanger Exchanger
	nonces    *dpop.NonceStore
	logger    *slog.Logger
	metrics   *managerMetrics

	backend         Backend
	buffer          time.Duration
	httpClient      *http.Client
	exchangeTimeout time.Duration
	meterProvider   metric.MeterProvider
	now             func() time.Time
}

// Option is a functional option for configuring TokenManager.
type Option func(*TokenManager)

// WithLogger sets a structured logger for token events. If not set, nothing
// is logged. Token values and secrets are never logged. Loggers with other
// backends can be adapted with slog.New(handler).
func WithLogger(logger *slog.Logger) Option {
	return func(tm *TokenManager) {
		tm.logger = logger
	}
}

// WithLoggingEnabled logs through slog.Default().
func WithLoggingEnabled() Option {
	return func(tm *TokenManager) {
		tm.logger = slog.Default()
	}
}

// WithExpiryBuffer sets how long before expiry tokens are refreshed
// (default 30 seconds).
func WithExpiryBuffer(buffer time.Duration) Option {
	return func(tm *TokenManager) {
		tm.buffer = buffer
	}
}

// WithBackend stores tokens in backend instead of process memory.
func WithBackend(backend Backend) Option {
	return func(tm *TokenManager) {
		tm.backend = backend
	}
}

// WithExchanger replaces the HTTP token endpoint client.
func WithExchanger(exchanger Exchanger) Option {
	return func(tm *TokenManager) {
		tm.exchanger = exchanger
	}
}

// WithHTTPClient sets the HTTP client used for token requests.
func WithHTTPClient(client *http.Client) Option {
	return func(tm *TokenManager) {
		tm.httpClient = client
	}
}

// WithNonceStore shares a DPoP nonce store between the token endpoint client
// and outbound requests.
func WithNonceStore(nonces *dpop.NonceStore) Option {
	return func(tm *TokenManager) {
		tm.nonces = nonces
	}
}

// WithExchangeTimeout bounds each shared token request. Callers with shorter
// deadlines stop waiting earlier without aborting it.
func WithExchangeTimeout(timeout time.Duration) Option {
	return func(tm *TokenManager) {
		tm.exchangeTimeout = timeout
	}
}

// WithMeterProvider records metrics with provider instead of the global one.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(tm *TokenManager) {
		tm.meterProvider = provider
	}
}

// WithClock replaces time.Now for cache expiry and token lifetimes.
func WithClock(now func() time.Time) Option {
	return func(tm *TokenManager) {
		tm.now = now
	}
}

// NewTokenManager creates a token manager for the clients in registry.
//
// Usage:
//
//	registry, err := oauth2client.NewStaticRegistry(oauth2client.ClientConfig{
//	    Name:         "billing",
//	    ClientID:     "billing-svc",
//	    ClientSecret: secret,
//	    TokenURL:     "https://auth.example.com/oauth/v2/token",
//	    Scope:        "invoices:read",
//	})
//	tm := oauth2client.NewTokenManager(registry, oauth2client.WithLoggingEnabled())
func NewTokenManager(registry Registry, opts ...Option) *TokenManager {
	tm := &TokenManager{
		registry: registry,
		buffer:   DefaultExpiryBuffer,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(tm)
	}

	if tm.logger == nil {
		tm.logger = discardLogger()
	}
	if tm.nonces == nil {
		tm.nonces = dpop.NewNonceStore()
	}
	if tm.exchanger == nil {
		tm.exchanger = NewEndpointClient(
			WithEndpointHTTPClient(tm.httpClient),
			WithEndpointNonceStore(tm.nonces),
			WithEndpointLogger(tm.logger),
			WithEndpointClock(tm.now),
		)
	}

	tm.cache = NewTokenCache(tm.backend, tm.buffer,
		WithCacheClock(tm.now),
		WithCacheLogger(tm.logger),
	)
	tm.flights = NewRequestSynchronizer(tm.exchangeTimeout)

	metrics, err := newManagerMetrics(tm.meterProvider)
	if err != nil {
		tm.logger.Warn("token metrics disabled", "error", err)
	}
	tm.metrics = metrics

	return tm
}

// GetToken returns a valid token for key. A cached token is returned while it
// is outside the expiry buffer; otherwise one token request is made and
// shared by all concurrent callers for key. forceRefresh skips the cache.
//
// ctx bounds only this caller's wait. Failures are not cached.
func (tm *TokenManager) GetToken(ctx context.Context, key TokenKey, forceRefresh bool) (*AccessToken, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	client, err := tm.registry.Resolve(ctx, key.Client)
	if err != nil {
		return nil, err
	}

	if !forceRefresh {
		token, ok := tm.cache.Get(ctx, key)
		tm.metrics.recordLookup(ctx, ok)
		if ok {
			return token, nil
		}
	}

	return tm.flights.Synchronize(ctx, key.CacheKey(), func(ctx context.Context) (*AccessToken, error) {
		// Another flight may have stored a token since the lookup above.
		if !forceRefresh {
			if token, ok := tm.cache.Get(ctx, key); ok {
				return token, nil
			}
		}

		token, err := tm.exchange(ctx, client, key)
		if err != nil {
			return nil, err
		}

		if err := tm.cache.Set(ctx, key, token); err != nil {
			tm.logger.WarnContext(ctx, "failed to cache token", "client", key.Client, "error", err)
		}
		return token, nil
	})
}

// exchange performs the token request. A DPoP client told to use a fresh
// nonce retries once with the nonce the endpoint just handed out.
func (tm *TokenManager) exchange(ctx context.Context, client *ClientConfig, key TokenKey) (*AccessToken, error) {
	started := tm.now()

	token, err := tm.exchanger.RequestToken(ctx, client, key.Parameters)
	if err != nil && client.DPoPEnabled() && errors.Is(err, dpop.ErrNonceRequired) {
		tm.logger.DebugContext(ctx, "token endpoint requires DPoP nonce, retrying", "client", client.Name)
		token, err = tm.exchanger.RequestToken(ctx, client, key.Parameters)
	}
	tm.metrics.recordExchange(ctx, client.Name, started, err)

	if err != nil {
		tm.logger.WarnContext(ctx, "token request failed", "client", client.Name, "error", err)
		return nil, err
	}

	tm.logger.InfoContext(ctx, "obtained new access token",
		"client", client.Name,
		"token_type", token.Type,
		"expires", token.Expiry.Format(time.RFC3339),
	)
	return token, nil
}

// DeleteToken invalidates the cached token for key.
func (tm *TokenManager) DeleteToken(ctx context.Context, key TokenKey) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := tm.cache.Delete(ctx, key); err != nil {
		return fmt.Errorf("oauth2client: delete token: %w", err)
	}
	return nil
}

// ClientConfig resolves the registration of a client.
func (tm *TokenManager) ClientConfig(ctx context.Context, name string) (*ClientConfig, error) {
	return tm.registry.Resolve(ctx, name)
}

// NonceStore returns the DPoP nonce store shared with the token endpoint
// client.
func (tm *TokenManager) NonceStore() *dpop.NonceStore {
	return tm.nonces
}

// TokenSource adapts the manager to oauth2.TokenSource for key. Tokens come
// from the manager's cache, so wrapping it in oauth2.ReuseTokenSource is not
// needed.
func (tm *TokenManager) TokenSource(ctx context.Context, key TokenKey) oauth2.TokenSource {
	if ctx == nil {
		ctx = context.Background()
	}
	return &tokenSource{ctx: ctx, tm: tm, key: key}
}

type tokenSource struct {
	ctx context.Context
	tm  *TokenManager
	key TokenKey
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	token, err := s.tm.GetToken(s.ctx, s.key, false)
	if err != nil {
		return nil, err
	}
	return token.OAuth2Token(), nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
