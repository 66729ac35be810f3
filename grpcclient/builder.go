package grpcclient

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

	"golang.org/x/oauth2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/AmmannChristian/go-tokenflow/oauth2client"
)

// DefaultClientName is the registration name used by WithOAuth2.
const DefaultClientName = "default"

// Builder provides a fluent interface for constructing gRPC client connections
// with optional OAuth2 authentication and TLS/mTLS support.
type Builder struct {
	address string

	// OAuth2 configuration
	tokenManager *oauth2client.TokenManager
	tokenKey     oauth2client.TokenKey
	oauth2Client *oauth2client.ClientConfig
	logger       *slog.Logger

	// TLS configuration
	tlsEnabled    bool
	tlsCAFile     string
	tlsCertFile   string
	tlsKeyFile    string
	tlsServerName string

	// Additional dial options
	dialOpts []grpc.DialOption
}

// NewBuilder creates a new gRPC client builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithAddress sets the server address (e.g., "server.example.com:9090").
func (b *Builder) WithAddress(address string) *Builder {
	b.address = address
	return b
}

// WithTokenManager authenticates calls with the tokens tm issues for the
// registered client. tm is shared, so several connections reuse one cache.
func (b *Builder) WithTokenManager(tm *oauth2client.TokenManager, client string) *Builder {
	b.tokenManager = tm
	b.tokenKey = oauth2client.ClientKey(client)
	b.oauth2Client = nil
	return b
}

// WithOAuth2 enables OAuth2 client credentials authentication through a
// single-client TokenManager created by Build.
//
// Parameters:
//   - tokenURL: OAuth2 token endpoint (e.g., "https://auth.example.com/oauth/v2/token")
//   - clientID: OAuth2 client identifier
//   - clientSecret: OAuth2 client secret
//   - scopes: Space-separated list of OAuth2 scopes (e.g., "openid profile email")
func (b *Builder) WithOAuth2(tokenURL, clientID, clientSecret, scopes string) *Builder {
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

// WithLogger sets the logger of the TokenManager created by WithOAuth2.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithTLS enables TLS for the connection.
//
// Parameters:
//   - caFile: Path to CA certificate for server verification (required)
//   - certFile: Path to client certificate for mTLS (optional, must be paired with keyFile)
//   - keyFile: Path to client private key for mTLS (optional, must be paired with certFile)
//   - serverName: Expected server name for TLS verification (optional, overrides SNI)
func (b *Builder) WithTLS(caFile, certFile, keyFile, serverName string) *Builder {
	b.tlsEnabled = true
	b.tlsCAFile = caFile
	b.tlsCertFile = certFile
	b.tlsKeyFile = keyFile
	b.tlsServerName = serverName
	return b
}

// WithDialOptions adds custom gRPC dial options.
// These options are applied after OAuth2 and TLS options.
func (b *Builder) WithDialOptions(opts ...grpc.DialOption) *Builder {
	b.dialOpts = append(b.dialOpts, opts...)
	return b
}

// Build constructs the gRPC client connection with the configured options.
// The oauth2.HTTPClient value of ctx, if any, is used for token requests.
//
// Returns:
//   - *grpc.ClientConn: Established gRPC connection
//   - error: Error if connection fails
func (b *Builder) Build(ctx context.Context) (*grpc.ClientConn, error) {
	if b.address == "" {
		return nil, errors.New("grpcclient: server address is required")
	}

	var opts []grpc.DialOption

	tm, err := b.buildTokenManager(ctx)
	if err != nil {
		return nil, err
	}
	if tm != nil {
		opts = append(opts,
			grpc.WithUnaryInterceptor(tm.UnaryClientInterceptor(b.tokenKey)),
			grpc.WithStreamInterceptor(tm.StreamClientInterceptor(b.tokenKey)),
		)
	}

	// Add TLS credentials if enabled
	if b.tlsEnabled {
		tlsConfig, err := b.buildTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("grpcclient: TLS config failed: %w", err)
		}
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	} else {
		// Default to TLS with system roots to avoid accidental plaintext connections.
		// Set MinVersion to TLS 1.2 for secure defaults.
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})))
	}

	// Add custom dial options
	opts = append(opts, b.dialOpts...)

	// Create connection
	conn, err := grpc.NewClient(b.address, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpcclient: dial failed: %w", err)
	}

	return conn, nil
}

// buildTokenManager returns the configured manager, creating the single-client
// manager requested by WithOAuth2.
func (b *Builder) buildTokenManager(ctx context.Context) (*oauth2client.TokenManager, error) {
	if b.oauth2Client == nil {
		return b.tokenManager, nil
	}

	registry, err := oauth2client.NewStaticRegistry(*b.oauth2Client)
	if err != nil {
		return nil, fmt.Errorf("grpcclient: OAuth2 config failed: %w", err)
	}

	var opts []oauth2client.Option
	if hc, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok {
		opts = append(opts, oauth2client.WithHTTPClient(hc))
	}
	if b.logger != nil {
		opts = append(opts, oauth2client.WithLogger(b.logger))
	}
	return oauth2client.NewTokenManager(registry, opts...), nil
}

// buildTLSConfig constructs the TLS configuration for the gRPC connection.
func (b *Builder) buildTLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
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

	// Set server name override if provided
	if b.tlsServerName != "" {
		tlsConfig.ServerName = b.tlsServerName
	}

	return tlsConfig, nil
}
