package grpcclient

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/AmmannChristian/go-tokenflow/internal/testutil"
	"github.com/AmmannChristian/go-tokenflow/oauth2client"
)

func newMockOAuth2Server(tb testing.TB) *testutil.MockOAuth2Server {
	tb.Helper()

	return testutil.NewMockOAuth2Server(tb, nil)
}

// healthServer serves the gRPC health service over an in-memory listener and
// records the authorization metadata of every call. Calls carrying a token in
// reject get Unauthenticated.
type healthServer struct {
	listener *bufconn.Listener

	mu     sync.Mutex
	auth   []string
	reject map[string]bool
}

func newHealthServer(t *testing.T, reject ...string) *healthServer {
	t.Helper()

	s := &healthServer{listener: bufconn.Listen(1 << 20), reject: make(map[string]bool)}
	for _, token := range reject {
		s.reject[token] = true
	}

	srv := grpc.NewServer(grpc.UnaryInterceptor(s.intercept))
	healthpb.RegisterHealthServer(srv, health.NewServer())
	go func() { _ = srv.Serve(s.listener) }()
	t.Cleanup(srv.Stop)

	return s
}

func (s *healthServer) intercept(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get("authorization")
	auth := strings.Join(values, ",")

	s.mu.Lock()
	s.auth = append(s.auth, auth)
	rejected := s.reject[strings.TrimPrefix(auth, "Bearer ")]
	s.mu.Unlock()

	if rejected {
		return nil, status.Error(codes.Unauthenticated, "token revoked")
	}
	return handler(ctx, req)
}

func (s *healthServer) dialer() grpc.DialOption {
	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return s.listener.DialContext(ctx)
	})
}

func (s *healthServer) authorizations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.auth...)
}

func TestNewBuilder(t *testing.T) {
	builder := NewBuilder()

	if builder == nil {
		t.Fatal("builder should not be nil")
	}
}

func TestBuilder_Setters(t *testing.T) {
	builder := NewBuilder().
		WithAddress("localhost:9090").
		WithTLS("/path/to/ca.crt", "/path/to/cert.crt", "/path/to/key.pem", "server.example.com").
		WithDialOptions(grpc.WithDisableRetry(), grpc.WithDisableHealthCheck())

	assert.Equal(t, "localhost:9090", builder.address)
	assert.True(t, builder.tlsEnabled)
	assert.Equal(t, "/path/to/ca.crt", builder.tlsCAFile)
	assert.Equal(t, "/path/to/cert.crt", builder.tlsCertFile)
	assert.Equal(t, "/path/to/key.pem", builder.tlsKeyFile)
	assert.Equal(t, "server.example.com", builder.tlsServerName)
	assert.Len(t, builder.dialOpts, 2)
}

func TestBuilder_WithOAuth2(t *testing.T) {
	builder := NewBuilder().
		WithOAuth2("https://auth.example.com/token", "client-id", "secret", " openid   profile ")

	require.NotNil(t, builder.oauth2Client)
	assert.Equal(t, DefaultClientName, builder.oauth2Client.Name)
	assert.Equal(t, "https://auth.example.com/token", builder.oauth2Client.TokenURL)
	assert.Equal(t, "client-id", builder.oauth2Client.ClientID)
	assert.Equal(t, "openid profile", builder.oauth2Client.Scope)
	assert.Equal(t, oauth2client.ClientKey(DefaultClientName), builder.tokenKey)
}

func TestBuilder_WithTokenManagerReplacesOAuth2(t *testing.T) {
	tm := oauth2client.NewTokenManager(mustRegistry(t, "https://auth.example.com/token"))

	builder := NewBuilder().
		WithOAuth2("https://auth.example.com/token", "client-id", "secret", "openid").
		WithTokenManager(tm, "inventory")

	assert.Nil(t, builder.oauth2Client)
	assert.Same(t, tm, builder.tokenManager)
	assert.Equal(t, oauth2client.ClientKey("inventory"), builder.tokenKey)
}

func TestBuilder_Build_NoAddress(t *testing.T) {
	_, err := NewBuilder().Build(context.Background())
	if err == nil {
		t.Fatal("expected error when building without address")
	}

	if err.Error() != "grpcclient: server address is required" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestBuilder_Build_WithAddress(t *testing.T) {
	conn, err := NewBuilder().WithAddress("localhost:9090").Build(context.Background())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer conn.Close()
}

func TestBuilder_Build_WithOAuth2ValidationError(t *testing.T) {
	tests := []struct {
		name                       string
		tokenURL, clientID, secret string
	}{
		{name: "missing token url", clientID: "client-id", secret: "secret"},
		{name: "relative token url", tokenURL: "/token", clientID: "client-id", secret: "secret"},
		{name: "missing client id", tokenURL: "https://auth.example.com/token", secret: "secret"},
		{name: "missing secret", tokenURL: "https://auth.example.com/token", clientID: "client-id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBuilder().
				WithAddress("localhost:9090").
				WithOAuth2(tt.tokenURL, tt.clientID, tt.secret, "openid").
				Build(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, oauth2client.ErrConfiguration)
			assert.Contains(t, err.Error(), "grpcclient: OAuth2 config failed")
		})
	}
}

func TestBuilder_Build_WithOAuth2_AttachesToken(t *testing.T) {
	authServer := newMockOAuth2Server(t)
	backend := newHealthServer(t)

	conn, err := NewBuilder().
		WithAddress("passthrough:///bufnet").
		WithOAuth2(authServer.URL+"/token", "client-id", "secret", "openid").
		WithDialOptions(backend.dialer(), grpc.WithTransportCredentials(insecure.NewCredentials())).
		Build(authServer.Ctx)
	require.NoError(t, err)
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)
	for i := 0; i < 2; i++ {
		_, err = client.Check(context.Background(), &healthpb.HealthCheckRequest{})
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"Bearer mock-access-token", "Bearer mock-access-token"}, backend.authorizations())
	assert.Len(t, authServer.Requests(), 1, "token is cached across calls")
}

func TestBuilder_Build_WithTokenManager_RefreshesOnUnauthenticated(t *testing.T) {
	tokens := testutil.NewTokenServer(t)
	backend := newHealthServer(t, "access_token_1")
	tm := oauth2client.NewTokenManager(mustRegistry(t, tokens.TokenURL()))

	conn, err := NewBuilder().
		WithAddress("passthrough:///bufnet").
		WithTokenManager(tm, "inventory").
		WithDialOptions(backend.dialer(), grpc.WithTransportCredentials(insecure.NewCredentials())).
		Build(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	_, err = healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)

	assert.Equal(t, []string{"Bearer access_token_1", "Bearer access_token_2"}, backend.authorizations())
	assert.Equal(t, 2, tokens.Calls())
}

func mustRegistry(t *testing.T, tokenURL string) *oauth2client.StaticRegistry {
	t.Helper()

	registry, err := oauth2client.NewStaticRegistry(oauth2client.ClientConfig{
		Name:         "inventory",
		ClientID:     "inventory-svc",
		ClientSecret: "secret",
		TokenURL:     tokenURL,
	})
	require.NoError(t, err)
	return registry
}

func TestBuilder_BuildTLSConfig(t *testing.T) {
	tmpDir := t.TempDir()
	caFile := filepath.Join(tmpDir, "ca.crt")
	testutil.WriteTestCACert(t, caFile)

	badCA := filepath.Join(tmpDir, "bad.crt")
	require.NoError(t, os.WriteFile(badCA, []byte("not a cert"), 0o600))

	certFile := filepath.Join(tmpDir, "client.crt")
	keyFile := filepath.Join(tmpDir, "client.key")
	testutil.WriteTestCertAndKey(t, certFile, keyFile)

	tests := []struct {
		name                              string
		caFile, certFile, keyFile, server string
		wantErr                           bool
	}{
		{name: "defaults"},
		{name: "ca file", caFile: caFile},
		{name: "server name", server: "server.example.com"},
		{name: "client certificate", caFile: caFile, certFile: certFile, keyFile: keyFile},
		{name: "missing ca file", caFile: "/nonexistent/ca.crt", wantErr: true},
		{name: "invalid ca content", caFile: badCA, wantErr: true},
		{name: "invalid cert pair", certFile: "/nonexistent/cert.crt", keyFile: "/nonexistent/key.pem", wantErr: true},
		{name: "cert without key", certFile: certFile, wantErr: true},
		{name: "key without cert", keyFile: keyFile, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			builder := NewBuilder().WithTLS(tt.caFile, tt.certFile, tt.keyFile, tt.server)

			cfg, err := builder.buildTLSConfig()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.EqualValues(t, 0x0303, cfg.MinVersion)
			assert.Equal(t, tt.server, cfg.ServerName)
			assert.Equal(t, tt.caFile != "", cfg.RootCAs != nil)
			assert.Equal(t, tt.certFile != "", len(cfg.Certificates) == 1)
		})
	}
}

func TestBuilder_Build_WithTLS_InvalidCA(t *testing.T) {
	_, err := NewBuilder().
		WithAddress("localhost:9090").
		WithTLS("/nonexistent/ca.crt", "", "", "").
		Build(context.Background())
	if err == nil || !strings.Contains(err.Error(), "grpcclient: TLS config failed") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func BenchmarkBuilder_Build_WithOAuth2(b *testing.B) {
	server := newMockOAuth2Server(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		conn, err := NewBuilder().
			WithAddress("localhost:9090").
			WithOAuth2(server.URL+"/token", "client-id", "secret", "openid").
			Build(server.Ctx)
		if err != nil {
			b.Fatalf("Build failed: %v", err)
		}
		_ = conn.Close()
	}
}
