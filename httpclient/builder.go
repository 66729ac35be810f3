package httpclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/AmmannChristian/go-tokenflow/dpop"
	"github.com/AmmannChristian/go-tokenflow/oauth2client"
)

// DefaultClientName is the registration name used by WithOAuth2.
const DefaultClientName = "default"

// Builder provides a fluent interface for constructing HTTP clients
// with optional OAuth2/DPoP authentication, pipeline stages and TLS/mTLS support.
type Builder struct {
	// OAuth2 configuration
	tokenManager *oauth2client.TokenManager
	tokenKey     oauth2client.TokenKey
	oauth2Ctx    context.Context
	oauth2Client *oauth2client.ClientConfig
	dpopKey      *dpop.Key
	logger       *slog.Logger

	// Pipeline stages run before the OAuth2 stage, first stage outermost.
	stages []Stage

	// TLS configuration
	tlsEnabled    bool
	tlsCAFile     string
	tlsCertFile   string
	tlsKeyFile    string
	tlsSkipVerify bool

	// HTTP client configuration
	timeout         time.Duration
	baseTransport   http.RoundTripper
	followRedirects bool
}

// NewBuilder creates a new HTTP client builder.
func NewBuilder() *Builder {
	return &Builder{
		timeout:         30 * time.Second, // Default 30s timeout
		followRedirects: true,
	}
}

// WithTokenManager authenticates requests with the tokens tm issues for the
// registered client.
func (b *Builder) WithTokenManager(tm *oauth2client.TokenManager, client string) *Builder {
	b.tokenManager = tm
	b.tokenKey = oauth2client.ClientKey(client)
	b.oauth2Client = nil
	return b
}

// WithTokenKey selects a parameter variant of the client's token.
func (b *Builder) WithTokenKey(key oauth2client.TokenKey) *Builder {
	b.tokenKey = key
	return b
}

// WithOAuth2 enables OAuth2 client credentials authentication by creating a
// new TokenManager with a single client when Build is called.
//
// Parameters:
//   - ctx: Context whose oauth2.HTTPClient value, if any, is used for token requests
//   - tokenURL: OAuth2 token endpoint (e.g., "https://auth.example.com/oauth/v2/token")
//   - clientID: OAuth2 client identifier
//   - clientSecret: OAuth2 client secret
//   - scopes: Space-separated list of OAuth2 scopes (e.g., "openid profile email")
func (b *Builder) WithOAuth2(ctx context.Context, tokenURL, clientID, clientSecret, scopes string) *Builder {
	b.oauth2Ctx = ctx
	b.oauth2Client = &oauth2client.ClientConfig{
		Name:         DefaultClientName,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scope:        strings.Join(strings.Fields(scopes), " "),
	}
	b.tokenManager = nil
	b.tokenKey = oauth2client.ClientKey(DefaultClientName)
	return b
}

// WithDPoP binds requests to key with DPoP proofs. With WithOAuth2 the key is
// also used at the token endpoint; with WithTokenManager the client's own
// registration decides how tokens are requested.
func (b *Builder) WithDPoP(key *dpop.Key) *Builder {
	b.dpopKey = key
	return b
}

// WithStages adds pipeline stages. They run in order, before the OAuth2
// stage attaches credentials.
func (b *Builder) WithStages(stages ...Stage) *Builder {
	b.stages = append(b.stages, stages...)
	return b
}

// WithLogger sets the logger for the token manager created by WithOAuth2
// and for retry decisions.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithTLS enables TLS for the connection.
//
// Parameters:
//   - caFile: Path to CA certificate for server verification (optional, uses system roots if empty)
//   - certFile: Path to client certificate for mTLS (optional, must be paired with keyFile)
//   - keyFile: Path to client private key for mTLS (optional, must be paired with certFile)
func (b *Builder) WithTLS(caFile, certFile, keyFile string) *Builder {
	b.tlsEnabled = true
	b.tlsCAFile = caFile
	b.tlsCertFile = certFile
	b.tlsKeyFile = keyFile
	return b
}

// WithInsecureSkipVerify disables TLS certificate verification (NOT RECOMMENDED for production).
// This should only be used for testing or development purposes.
func (b *Builder) WithInsecureSkipVerify() *Builder {
	b.tlsSkipVerify = true
	return b
}

// WithTimeout sets the request timeout for the HTTP client.
// Default is 30 seconds if not specified.
func (b *Builder) WithTimeout(timeout time.Duration) *Builder {
	b.timeout = timeout
	return b
}

// WithBaseTransport sets a custom base transport.
// This is useful for adding custom middleware or using a custom connection pool.
func (b *Builder) WithBaseTransport(transport http.RoundTripper) *Builder {
	b.baseTransport = transport
	return b
}

// WithoutRedirects disables automatic redirect following.
// By default, the client follows up to 10 redirects.
func (b *Builder) WithoutRedirects() *Builder {
	b.followRedirects = false
	return b
}

// Build constructs the HTTP client with the configured options.
//
// Returns:
//   - *http.Client: Configured HTTP client
//   - error: Error if configuration is invalid
func (b *Builder) Build() (*http.Client, error) {
	// Build base transport
	transport := b.baseTransport
	if transport == nil {
		if httpTransport, ok := http.DefaultTransport.(*http.Transport); ok {
			httpTransport = httpTransport.Clone()

			if b.tlsEnabled || b.tlsSkipVerify {
				tlsConfig, err := b.buildTLSConfig()
				if err != nil {
					return nil, fmt.Errorf("httpclient: TLS config failed: %w", err)
				}
				httpTransport.TLSClientConfig = tlsConfig
			} else {
				// Set secure TLS defaults even when TLS is not explicitly configured
				httpTransport.TLSClientConfig = &tls.Config{
					MinVersion: tls.VersionTLS12,
				}
			}

			transport = httpTransport
		} else {
			// Fallback to whatever default transport is configured (e.g., a test stub)
			transport = http.DefaultTransport
			if b.tlsEnabled || b.tlsSkipVerify {
				if base, ok := transport.(*http.Transport); ok {
					tlsConfig, err := b.buildTLSConfig()
					if err != nil {
						return nil, fmt.Errorf("httpclient: TLS config failed: %w", err)
					}
					cloned := base.Clone()
					cloned.TLSClientConfig = tlsConfig
					transport = cloned
				}
			}
		}
	}

	tm, err := b.buildTokenManager()
	if err != nil {
		return nil, err
	}

	// Wrap with OAuth2 transport if token manager is set
	if tm != nil {
		var opts []TransportOption
		if b.dpopKey != nil {
			opts = append(opts, WithProofGenerator(dpop.NewProofGenerator(b.dpopKey, tm.NonceStore())))
		}
		if b.logger != nil {
			opts = append(opts, WithTransportLogger(b.logger))
		}
		auth := NewOAuth2Transport(tm, b.tokenKey, transport, opts...)

		if len(b.stages) == 0 {
			transport = auth
		} else {
			transport = Chain(transport, append(append([]Stage(nil), b.stages...), auth)...)
		}
	} else if len(b.stages) > 0 {
		transport = Chain(transport, b.stages...)
	}

	// Build HTTP client
	client := &http.Client{
		Transport: transport,
		Timeout:   b.timeout,
	}

	// Configure redirect policy
	if !b.followRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return client, nil
}

// buildTokenManager returns the configured manager, creating the single-client
// manager requested by WithOAuth2.
func (b *Builder) buildTokenManager() (*oauth2client.TokenManager, error) {
	if b.oauth2Client == nil {
		return b.tokenManager, nil
	}

	client := *b.oauth2Client
	client.DPoPKey = b.dpopKey

	registry, err := oauth2client.NewStaticRegistry(client)
	if err != nil {
		return nil, fmt.Errorf("httpclient: OAuth2 config failed: %w", err)
	}

	var opts []oauth2client.Option
	if b.oauth2Ctx != nil {
		if hc, ok := b.oauth2Ctx.Value(oauth2.HTTPClient).(*http.Client); ok {
			opts = append(opts, oauth2client.WithHTTPClient(hc))
		}
	}
	if b.logger != nil {
		opts = append(opts, oauth2client.WithLogger(b.logger))
	}
	return oauth2client.NewTokenManager(registry, opts...), nil
}

// buildTLSConfig constructs the TLS configuration for the HTTP client.
func (b *Builder) buildTLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: b.tlsSkipVerify, // #nosec G402
	}

	// Load CA certificate for server verification
	if b.tlsCAFile != "" {
		caCert, err := os.ReadFile(b.tlsCAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}

		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = certPool
	}

	// Load client certificate for mTLS (if both cert and key are provided)
	if b.tlsCertFile != "" && b.tlsKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(b.tlsCertFile, b.tlsKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	} else if b.tlsCertFile != "" || b.tlsKeyFile != "" {
		return nil, errors.New("both TLS cert and key files must be provided for mTLS")
	}

	return tlsConfig, nil
}

// NewHTTPClient is a convenience function that creates a simple HTTP client
// authenticated as client. For more configuration options, use Builder instead.
//
// Example:
//
//	tm := oauth2client.NewTokenManager(registry)
//	client := httpclient.NewHTTPClient(tm, "billing")
//	resp, err := client.Get("https://api.example.com/data")
func NewHTTPClient(tm *oauth2client.TokenManager, client string) *http.Client {
	transport := NewOAuth2Transport(tm, oauth2client.ClientKey(client), nil)
	return &http.Client{
		Transport: transport,
		Timeout:   30 * time.Second,
	}
}
