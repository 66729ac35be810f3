// Package testutil provides test helpers for go-tokenflow packages.
//
// It includes utilities to spin up IPv4-only local HTTP servers (avoiding IPv6 in sandboxes),
// mock OAuth2 endpoints without real sockets, stateful fake token endpoints and protected
// resources, DPoP proof decoding, and self-signed certificates for TLS/mTLS tests.
//
// # Utilities
//
//   - NewLocalHTTPServer: start httptest server bound to 127.0.0.1
//   - MockOAuth2Server, StaticJSONResponse, JSONResponse: stub endpoints and capture requests
//   - TokenServer: counting client-credentials endpoint with nonce and failure injection
//   - ResourceServer: protected API with token revocation and nonce challenges
//   - DecodeProof: verify a DPoP proof against its embedded JWK
//   - RoundTripFunc: inline http.RoundTripper implementations
//   - WriteTestCACert / WriteTestCertAndKey: generate temporary CA and leaf certificates for tests
package testutil
