// Package oauth2client issues, caches and refreshes OAuth2 client-credentials tokens.
//
// A TokenManager resolves clients by name from a Registry, serves tokens from a TokenCache
// until they come within the expiry buffer, and collapses concurrent acquisitions of the same
// key into one token request through a RequestSynchronizer. Token requests are made by an
// Exchanger; EndpointClient is the HTTP implementation with client secret (body or Basic),
// private_key_jwt assertions and DPoP proofs.
//
// # Features
//
//   - Per-client token cache with buffered expiry and optional per-request parameter variants
//   - Single-flight token requests; a caller's cancellation never aborts a shared request
//   - Forced refresh and explicit invalidation for 401-driven recovery
//   - DPoP-bound tokens, including the token endpoint's use_dpop_nonce challenge
//   - Pluggable cache Backend (in memory by default, see package redisstore)
//   - gRPC unary and stream client interceptors and an oauth2.TokenSource adapter
//   - Structured logging (log/slog) and OpenTelemetry metrics
//
// # Quick Start
//
//	registry, err := oauth2client.NewStaticRegistry(oauth2client.ClientConfig{
//	    Name:         "billing",
//	    ClientID:     "billing-svc",
//	    ClientSecret: os.Getenv("BILLING_SECRET"),
//	    TokenURL:     "https://auth.example.com/oauth/v2/token",
//	    Scope:        "invoices:read",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	tm := oauth2client.NewTokenManager(registry, oauth2client.WithLoggingEnabled())
//	key := oauth2client.ClientKey("billing")
//
//	conn, err := grpc.NewClient(
//	    "server:9090",
//	    grpc.WithUnaryInterceptor(tm.UnaryClientInterceptor(key)),
//	    grpc.WithStreamInterceptor(tm.StreamClientInterceptor(key)),
//	)
//
//	client := http.Client{Transport: httpclient.NewOAuth2Transport(tm, key, nil)}
//
// # Errors
//
// Failures are reported as *ConfigurationError (ErrConfiguration), *EndpointError (ErrEndpoint,
// plus ErrInvalidClient, ErrInvalidGrant or dpop.ErrNonceRequired by code) and *TransportError
// (ErrTransport). None of them is cached: the next GetToken starts a new request.
package oauth2client
