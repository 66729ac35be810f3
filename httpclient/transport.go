package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/AmmannChristian/go-tokenflow/dpop"
	"github.com/AmmannChristian/go-tokenflow/oauth2client"
)

// maxDrainBytes bounds how much of a discarded response is read so the
// connection can be reused.
const maxDrainBytes = 64 << 10

// TokenProvider supplies and invalidates access tokens.
// *oauth2client.TokenManager implements it.
type TokenProvider interface {
	GetToken(ctx context.Context, key oauth2client.TokenKey, forceRefresh bool) (*oauth2client.AccessToken, error)
	DeleteToken(ctx context.Context, key oauth2client.TokenKey) error
}

// dpopResolver is implemented by providers that know client registrations.
type dpopResolver interface {
	ClientConfig(ctx context.Context, name string) (*oauth2client.ClientConfig, error)
	NonceStore() *dpop.NonceStore
}

// OAuth2Transport is an http.RoundTripper and pipeline Stage that adds the
// access token for Key, plus a DPoP proof when Proofs is set, to outgoing
// requests.
//
// Per logical request it retries at most once for a DPoP nonce challenge
// (same token, new proof) and at most once for a 401 (cached token dropped,
// new token forced). Any other outcome, including a 401 after the refresh,
// is returned unchanged.
type OAuth2Transport struct {
	// Base is the underlying HTTP transport. If nil, http.DefaultTransport is used.
	Base http.RoundTripper

	// TokenManager provides OAuth2 access tokens.
	TokenManager TokenProvider

	// Key selects the client (and parameter variant) whose token is used.
	Key oauth2client.TokenKey

	// Proofs signs DPoP proofs. Nil disables DPoP.
	Proofs *dpop.ProofGenerator

	// Logger receives retry decisions. Nil disables logging.
	Logger *slog.Logger
}

// TransportOption configures an OAuth2Transport.
type TransportOption func(*OAuth2Transport)

// WithProofGenerator sets the DPoP proof generator explicitly.
func WithProofGenerator(proofs *dpop.ProofGenerator) TransportOption {
	return func(t *OAuth2Transport) {
		t.Proofs = proofs
	}
}

// WithTransportLogger sets the logger.
func WithTransportLogger(logger *slog.Logger) TransportOption {
	return func(t *OAuth2Transport) {
		t.Logger = logger
	}
}

// NewOAuth2Transport creates a transport adding key's tokens to requests.
// The base transport defaults to http.DefaultTransport if not specified.
//
// When tm is an *oauth2client.TokenManager and key's client has a DPoP key,
// a proof generator sharing the manager's nonce store is installed unless
// WithProofGenerator is given.
func NewOAuth2Transport(tm TokenProvider, key oauth2client.TokenKey, base http.RoundTripper, opts ...TransportOption) *OAuth2Transport {
	if base == nil {
		base = http.DefaultTransport
	}

	t := &OAuth2Transport{
		Base:         base,
		TokenManager: tm,
		Key:          key,
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.Proofs == nil {
		if resolver, ok := tm.(dpopResolver); ok {
			if cfg, err := resolver.ClientConfig(context.Background(), key.Client); err == nil && cfg.DPoPEnabled() {
				t.Proofs = dpop.NewProofGenerator(cfg.DPoPKey, resolver.NonceStore())
			}
		}
	}

	return t
}

// RoundTrip implements http.RoundTripper.
func (t *OAuth2Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return t.Handle(req, base.RoundTrip)
}

// Handle implements Stage. The request is never modified; each send uses a
// clone. Bodies without GetBody are buffered so they can be replayed.
func (t *OAuth2Transport) Handle(req *http.Request, next Next) (*http.Response, error) {
	if t.TokenManager == nil {
		closeBody(req)
		return nil, errors.New("httpclient: TokenManager is nil")
	}

	ctx := req.Context()

	getBody, err := replayableBody(req)
	if err != nil {
		return nil, err
	}

	token, err := t.TokenManager.GetToken(ctx, t.Key, false)
	if err != nil {
		closeBody(req)
		return nil, fmt.Errorf("httpclient: failed to get token: %w", err)
	}

	var nonceRetryUsed, tokenRefreshUsed bool
	first := true

	for {
		out, err := t.authorize(req, token, getBody, first)
		if err != nil {
			return nil, err
		}
		first = false

		resp, err := next(out)
		if err != nil {
			return nil, err
		}

		if t.Proofs != nil {
			t.Proofs.Nonces().Observe(req.Method, req.URL.String(), resp.Header)
		}

		switch {
		case t.Proofs != nil && !nonceRetryUsed && dpop.IsNonceChallenge(resp):
			nonceRetryUsed = true
			t.log(ctx, "resource server requires DPoP nonce, resending", req)
			drain(resp)

		case !tokenRefreshUsed && resp.StatusCode == http.StatusUnauthorized:
			tokenRefreshUsed = true
			t.log(ctx, "access token rejected, refreshing", req)
			drain(resp)

			if err := t.TokenManager.DeleteToken(ctx, t.Key); err != nil {
				t.logger().WarnContext(ctx, "failed to drop rejected token", "client", t.Key.Client, "error", err)
			}
			token, err = t.TokenManager.GetToken(ctx, t.Key, true)
			if err != nil {
				return nil, fmt.Errorf("httpclient: failed to refresh token: %w", err)
			}

		default:
			return resp, nil
		}
	}
}

// authorize clones req for one send and attaches the token and proof.
func (t *OAuth2Transport) authorize(
	req *http.Request,
	token *oauth2client.AccessToken,
	getBody func() (io.ReadCloser, error),
	first bool,
) (*http.Request, error) {
	out := req.Clone(req.Context())
	if getBody != nil && (!first || req.GetBody == nil) {
		body, err := getBody()
		if err != nil {
			return nil, fmt.Errorf("httpclient: rewind request body: %w", err)
		}
		out.Body = body
		out.GetBody = getBody
	}

	out.Header.Set("Authorization", token.AuthorizationHeader())

	if t.Proofs != nil {
		if err := t.Proofs.SignRequest(out, token.Value); err != nil {
			closeBody(out)
			return nil, err
		}
	}
	return out, nil
}

func (t *OAuth2Transport) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return t.Logger
}

func (t *OAuth2Transport) log(ctx context.Context, msg string, req *http.Request) {
	t.logger().DebugContext(ctx, msg,
		"client", t.Key.Client,
		"method", req.Method,
		"host", req.URL.Host,
		"path", req.URL.Path,
	)
}

// replayableBody returns a function producing fresh copies of req's body, or
// nil when the request has none.
func replayableBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		return req.GetBody, nil
	}

	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("httpclient: buffer request body: %w", err)
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
	_ = resp.Body.Close()
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}
