package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
)

// OAuthError is an error answer of the fake token endpoint.
type OAuthError struct {
	Status      int
	Code        string
	Description string
}

// TokenServer is a stateful fake client-credentials token endpoint. It issues
// "access_token_1", "access_token_2", ... in call order.
//
// Configuration fields must be set before the first request.
type TokenServer struct {
	*httptest.Server

	// ExpiresIn is returned as expires_in (default 3600).
	ExpiresIn int
	// TokenType is returned as token_type (default "Bearer").
	TokenType string
	// Nonce, when set, is required in the DPoP proof of every token request.
	// Requests without it get 400 use_dpop_nonce and a DPoP-Nonce header.
	Nonce string
	// Failure, when set, can turn call n (1-based) into an OAuth error.
	Failure func(call int, form url.Values) *OAuthError
	// Gate, when set, blocks every request until it is closed.
	Gate chan struct{}

	started chan struct{}

	mu      sync.Mutex
	calls   int
	forms   []url.Values
	proofs  []string
	headers []http.Header
}

// NewTokenServer starts a fake token endpoint on 127.0.0.1. It is closed on
// test cleanup.
func NewTokenServer(tb testing.TB) *TokenServer {
	tb.Helper()

	s := &TokenServer{
		ExpiresIn: 3600,
		TokenType: "Bearer",
		started:   make(chan struct{}, 128),
	}
	s.Server = NewLocalHTTPServer(tb, http.HandlerFunc(s.serveToken))
	return s
}

// TokenURL returns the endpoint URL.
func (s *TokenServer) TokenURL() string {
	return s.URL + "/token"
}

// Started receives one value each time a request enters the handler.
func (s *TokenServer) Started() <-chan struct{} {
	return s.started
}

// Calls returns the number of token requests served.
func (s *TokenServer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Forms returns the decoded request bodies in call order.
func (s *TokenServer) Forms() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.forms...)
}

// Proofs returns the DPoP headers received, in call order ("" when absent).
func (s *TokenServer) Proofs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.proofs...)
}

// Headers returns the request headers received, in call order.
func (s *TokenServer) Headers() []http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]http.Header(nil), s.headers...)
}

func (s *TokenServer) serveToken(w http.ResponseWriter, r *http.Request) {
	select {
	case s.started <- struct{}{}:
	default:
	}
	if s.Gate != nil {
		<-s.Gate
	}

	if r.URL.Path != "/token" || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, &OAuthError{Status: http.StatusBadRequest, Code: "invalid_request"})
		return
	}

	proof := r.Header.Get("DPoP")

	s.mu.Lock()
	s.calls++
	call := s.calls
	s.forms = append(s.forms, r.PostForm)
	s.proofs = append(s.proofs, proof)
	s.headers = append(s.headers, r.Header.Clone())
	s.mu.Unlock()

	if s.Nonce != "" {
		w.Header().Set("DPoP-Nonce", s.Nonce)
		if proofNonce(proof) != s.Nonce {
			writeOAuthError(w, &OAuthError{
				Status:      http.StatusBadRequest,
				Code:        "use_dpop_nonce",
				Description: "Authorization server requires nonce in DPoP proof",
			})
			return
		}
	}

	if s.Failure != nil {
		if oauthErr := s.Failure(call, r.PostForm); oauthErr != nil {
			writeOAuthError(w, oauthErr)
			return
		}
	}

	body := map[string]any{
		"access_token": fmt.Sprintf("access_token_%d", call),
		"token_type":   s.TokenType,
		"expires_in":   s.ExpiresIn,
	}
	if scope := r.PostForm.Get("scope"); scope != "" {
		body["scope"] = scope
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(body)
}

func writeOAuthError(w http.ResponseWriter, e *OAuthError) {
	body := map[string]string{"error": e.Code}
	if e.Description != "" {
		body["error_description"] = e.Description
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(body)
}

// ResourceRequest is one request received by ResourceServer.
type ResourceRequest struct {
	Method        string
	Path          string
	Authorization string
	Proof         string
}

// ResourceServer is a fake protected API. Requests carrying an allowed
// access token get 200 with body "ok"; anything else gets 401.
type ResourceServer struct {
	*httptest.Server

	mu       sync.Mutex
	valid    map[string]bool
	nonce    string
	requests []ResourceRequest
}

// NewResourceServer starts a fake protected resource accepting tokens.
func NewResourceServer(tb testing.TB, tokens ...string) *ResourceServer {
	tb.Helper()

	s := &ResourceServer{valid: make(map[string]bool)}
	for _, token := range tokens {
		s.valid[token] = true
	}
	s.Server = NewLocalHTTPServer(tb, http.HandlerFunc(s.serve))
	return s
}

// Allow marks token as valid.
func (s *ResourceServer) Allow(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valid[token] = true
}

// Revoke marks token as invalid.
func (s *ResourceServer) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.valid, token)
}

// RequireNonce makes the server demand nonce in DPoP proofs.
func (s *ResourceServer) RequireNonce(nonce string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonce = nonce
}

// Requests returns the received requests in order.
func (s *ResourceServer) Requests() []ResourceRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ResourceRequest(nil), s.requests...)
}

func (s *ResourceServer) serve(w http.ResponseWriter, r *http.Request) {
	rec := ResourceRequest{
		Method:        r.Method,
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
		Proof:         r.Header.Get("DPoP"),
	}

	s.mu.Lock()
	s.requests = append(s.requests, rec)
	nonce := s.nonce
	_, token, _ := strings.Cut(rec.Authorization, " ")
	valid := s.valid[token]
	s.mu.Unlock()

	if nonce != "" {
		w.Header().Set("DPoP-Nonce", nonce)
		if proofNonce(rec.Proof) != nonce {
			w.Header().Set("WWW-Authenticate", `DPoP error="use_dpop_nonce", error_description="Resource server requires nonce in DPoP proof"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}

	if !valid {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	_, _ = w.Write([]byte("ok"))
}

func proofNonce(proof string) string {
	if proof == "" {
		return ""
	}
	_, claims, err := decodeProof(proof)
	if err != nil {
		return ""
	}
	nonce, _ := claims["nonce"].(string)
	return nonce
}
