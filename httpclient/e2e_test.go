package httpclient

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AmmannChristian/go-tokenflow/dpop"
	"github.com/AmmannChristian/go-tokenflow/internal/testutil"
	"github.com/AmmannChristian/go-tokenflow/oauth2client"
)

func newManager(t *testing.T, tokens *testutil.TokenServer, dpopKey *dpop.Key) *oauth2client.TokenManager {
	t.Helper()

	registry, err := oauth2client.NewStaticRegistry(oauth2client.ClientConfig{
		Name:         "c1",
		ClientID:     "client-1",
		ClientSecret: "secret",
		TokenURL:     tokens.TokenURL(),
		Scope:        "api",
		DPoPKey:      dpopKey,
	})
	require.NoError(t, err)
	return oauth2client.NewTokenManager(registry)
}

func get(t *testing.T, client *http.Client, url string) (int, string) {
	t.Helper()

	resp, err := client.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestEndToEnd_CachedTokenThenRefresh(t *testing.T) {
	tokens := testutil.NewTokenServer(t)
	api := testutil.NewResourceServer(t, "access_token_1")
	tm := newManager(t, tokens, nil)

	client := &http.Client{Transport: NewOAuth2Transport(tm, oauth2client.ClientKey("c1"), nil)}

	status, body := get(t, client, api.URL+"/")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body)

	status, _ = get(t, client, api.URL+"/")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, tokens.Calls(), "second request is served from cache")

	api.Revoke("access_token_1")
	api.Allow("access_token_2")

	status, _ = get(t, client, api.URL+"/")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, tokens.Calls(), "exactly one refresh")

	requests := api.Requests()
	require.Len(t, requests, 4)
	assert.Equal(t, "Bearer access_token_1", requests[0].Authorization)
	assert.Equal(t, "Bearer access_token_1", requests[1].Authorization)
	assert.Equal(t, "Bearer access_token_1", requests[2].Authorization)
	assert.Equal(t, "Bearer access_token_2", requests[3].Authorization)
}

func TestEndToEnd_SixtySecondTokensWithDefaults(t *testing.T) {
	tokens := testutil.NewTokenServer(t)
	tokens.ExpiresIn = 60
	api := testutil.NewResourceServer(t, "access_token_1")
	tm := newManager(t, tokens, nil)

	client := &http.Client{Transport: NewOAuth2Transport(tm, oauth2client.ClientKey("c1"), nil)}

	status, _ := get(t, client, api.URL+"/")
	assert.Equal(t, http.StatusOK, status)
	status, _ = get(t, client, api.URL+"/")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, tokens.Calls(), "both requests use the cached token")

	api.Revoke("access_token_1")
	api.Allow("access_token_2")

	status, body := get(t, client, api.URL+"/")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body)
	assert.Equal(t, 2, tokens.Calls(), "exactly one refresh")

	requests := api.Requests()
	require.Len(t, requests, 4)
	assert.Equal(t, "Bearer access_token_1", requests[0].Authorization)
	assert.Equal(t, "Bearer access_token_1", requests[1].Authorization)
	assert.Equal(t, "Bearer access_token_1", requests[2].Authorization)
	assert.Equal(t, "Bearer access_token_2", requests[3].Authorization)
}

func TestEndToEnd_PersistentRejection(t *testing.T) {
	tokens := testutil.NewTokenServer(t)
	api := testutil.NewResourceServer(t)
	tm := newManager(t, tokens, nil)

	client := &http.Client{Transport: NewOAuth2Transport(tm, oauth2client.ClientKey("c1"), nil)}

	status, _ := get(t, client, api.URL+"/")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Len(t, api.Requests(), 2)
	assert.Equal(t, 2, tokens.Calls())
}

func TestEndToEnd_DPoPNonceRotation(t *testing.T) {
	tokens := testutil.NewTokenServer(t)
	tokens.TokenType = "dpoP"
	api := testutil.NewResourceServer(t, "access_token_1")
	api.RequireNonce("n1")

	key, err := dpop.GenerateKey()
	require.NoError(t, err)
	tm := newManager(t, tokens, key)

	transport := NewOAuth2Transport(tm, oauth2client.ClientKey("c1"), nil)
	require.NotNil(t, transport.Proofs, "DPoP is picked up from the client registration")
	client := &http.Client{Transport: transport}

	// Call 1: no nonce yet, challenged once, resent with n1.
	status, _ := get(t, client, api.URL+"/data")
	assert.Equal(t, http.StatusOK, status)

	// Call 2: n1 is reused straight away.
	status, _ = get(t, client, api.URL+"/data")
	assert.Equal(t, http.StatusOK, status)

	// Call 3: the server rotates to n2.
	api.RequireNonce("n2")
	status, _ = get(t, client, api.URL+"/data")
	assert.Equal(t, http.StatusOK, status)

	requests := api.Requests()
	require.Len(t, requests, 5)

	nonces := make([]any, len(requests))
	for i, r := range requests {
		assert.Equal(t, "DPoP access_token_1", r.Authorization)
		_, claims := testutil.DecodeProof(t, r.Proof)
		nonces[i] = claims["nonce"]
		assert.Equal(t, dpop.AccessTokenHash("access_token_1"), claims["ath"])
	}
	assert.Equal(t, []any{nil, "n1", "n1", "n1", "n2"}, nonces)
	assert.Equal(t, 1, tokens.Calls(), "nonce retries never refresh the token")
}

func TestEndToEnd_NonceThenRefresh(t *testing.T) {
	tokens := testutil.NewTokenServer(t)
	tokens.TokenType = "DPoP"
	api := testutil.NewResourceServer(t, "access_token_2")
	api.RequireNonce("n1")

	key, err := dpop.GenerateKey()
	require.NoError(t, err)
	tm := newManager(t, tokens, key)
	client := &http.Client{Transport: NewOAuth2Transport(tm, oauth2client.ClientKey("c1"), nil)}

	status, _ := get(t, client, api.URL+"/")
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, api.Requests(), 3, "initial, nonce retry, refresh retry")
	assert.Equal(t, 2, tokens.Calls())
}

func TestEndToEnd_ConcurrentRequestsShareOneToken(t *testing.T) {
	tokens := testutil.NewTokenServer(t)
	tokens.Gate = make(chan struct{})
	api := testutil.NewResourceServer(t, "access_token_1")
	tm := newManager(t, tokens, nil)
	client := &http.Client{Transport: NewOAuth2Transport(tm, oauth2client.ClientKey("c1"), nil)}

	const n = 10
	statuses := make(chan int, n)
	for i := 0; i < n; i++ {
		go func() {
			req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, api.URL+"/", nil)
			resp, err := client.Do(req)
			if err != nil {
				statuses <- 0
				return
			}
			resp.Body.Close()
			statuses <- resp.StatusCode
		}()
	}

	<-tokens.Started()
	close(tokens.Gate)

	for i := 0; i < n; i++ {
		assert.Equal(t, http.StatusOK, <-statuses)
	}
	assert.Equal(t, 1, tokens.Calls())
}
