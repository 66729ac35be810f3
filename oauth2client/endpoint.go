package oauth2client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/AmmannChristian/go-tokenflow/dpop"
)

const (
	grantTypeClientCredentials = "client_credentials"

	// defaultHTTPTimeout bounds token requests made with the default client.
	defaultHTTPTimeout = 30 * time.Second

	// maxResponseBodySize caps how much of a token response is read (1 MiB).
	maxResponseBodySize = 1 << 20
)

var defaultHTTPClient = &http.Client{Timeout: defaultHTTPTimeout}

//go:generate mockgen -destination=mocks/mock_exchanger.go -package=mocks -source=endpoint.go Exchanger

// Exchanger performs one client-credentials exchange. It never retries.
type Exchanger interface {
	RequestToken(ctx context.Context, client *ClientConfig, params Parameters) (*AccessToken, error)
}

// EndpointClient is the Exchanger talking to a token endpoint over HTTP.
type EndpointClient struct {
	httpClient *http.Client
	nonces     *dpop.NonceStore
	logger     *slog.Logger
	now        func() time.Time
}

// EndpointOption configures an EndpointClient.
type EndpointOption func(*EndpointClient)

// WithEndpointHTTPClient sets the client used for token requests. Without it,
// the client stored under oauth2.HTTPClient in the request context is used,
// and failing that a default client with a 30s timeout.
func WithEndpointHTTPClient(client *http.Client) EndpointOption {
	return func(e *EndpointClient) {
		e.httpClient = client
	}
}

// WithEndpointNonceStore shares a nonce store with other DPoP users.
func WithEndpointNonceStore(nonces *dpop.NonceStore) EndpointOption {
	return func(e *EndpointClient) {
		e.nonces = nonces
	}
}

// WithEndpointLogger sets the logger.
func WithEndpointLogger(logger *slog.Logger) EndpointOption {
	return func(e *EndpointClient) {
		e.logger = logger
	}
}

// WithEndpointClock replaces time.Now for expiry computation.
func WithEndpointClock(now func() time.Time) EndpointOption {
	return func(e *EndpointClient) {
		e.now = now
	}
}

// NewEndpointClient creates a token endpoint client.
func NewEndpointClient(opts ...EndpointOption) *EndpointClient {
	e := &EndpointClient{
		logger: discardLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.nonces == nil {
		e.nonces = dpop.NewNonceStore()
	}
	return e
}

// NonceStore returns the store token endpoint nonces are recorded in.
func (e *EndpointClient) NonceStore() *dpop.NonceStore {
	return e.nonces
}

// tokenResponse is the success body of RFC 6749 Section 5.1.
type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   json.Number `json:"expires_in"`
	Scope       string      `json:"scope"`
}

// errorResponse is the error body of RFC 6749 Section 5.2.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorURI         string `json:"error_uri"`
}

// RequestToken exchanges client credentials for an access token. params may
// override the scope and add form fields for this request only.
func (e *EndpointClient) RequestToken(ctx context.Context, client *ClientConfig, params Parameters) (*AccessToken, error) {
	if err := client.Validate(); err != nil {
		return nil, err
	}

	form, err := e.buildForm(ctx, client, params)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, client.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &ConfigurationError{Client: client.Name, Reason: fmt.Sprintf("build token request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if client.AuthStyle == oauth2.AuthStyleInHeader && client.Assertion == nil {
		req.SetBasicAuth(url.QueryEscape(client.ClientID), url.QueryEscape(client.ClientSecret))
	}

	if client.DPoPEnabled() {
		proofs := dpop.NewProofGenerator(client.DPoPKey, e.nonces)
		if err := proofs.SignRequest(req, ""); err != nil {
			return nil, err
		}
	}

	resp, err := e.client(ctx).Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	e.nonces.Observe(http.MethodPost, client.TokenURL, resp.Header)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseEndpointError(resp.StatusCode, body)
	}

	token, err := e.parseToken(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, err
	}

	e.logger.DebugContext(ctx, "token endpoint issued token",
		"client", client.Name,
		"token_type", token.Type,
		"expiry", token.Expiry,
	)
	return token, nil
}

func (e *EndpointClient) client(ctx context.Context) *http.Client {
	if e.httpClient != nil {
		return e.httpClient
	}
	if c, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok && c != nil {
		return c
	}
	return defaultHTTPClient
}

func (e *EndpointClient) buildForm(ctx context.Context, client *ClientConfig, params Parameters) (url.Values, error) {
	form := url.Values{}
	form.Set("grant_type", grantTypeClientCredentials)

	switch {
	case client.Assertion != nil:
		assertion, err := client.Assertion.ClientAssertion(ctx, client)
		if err != nil {
			return nil, &ConfigurationError{Client: client.Name, Reason: fmt.Sprintf("client assertion: %v", err)}
		}
		form.Set("client_id", client.ClientID)
		form.Set("client_assertion_type", ClientAssertionType)
		form.Set("client_assertion", assertion)
	case client.AuthStyle == oauth2.AuthStyleInHeader:
		// Credentials travel in the Authorization header.
	default:
		form.Set("client_id", client.ClientID)
		form.Set("client_secret", client.ClientSecret)
	}

	if client.Scope != "" {
		form.Set("scope", client.Scope)
	}
	for k, v := range client.Parameters {
		form.Set(k, v)
	}
	for k, v := range params {
		form.Set(k, v)
	}
	return form, nil
}

func (e *EndpointClient) parseToken(contentType string, body []byte) (*AccessToken, error) {
	var tr tokenResponse

	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch mediaType {
	case "application/x-www-form-urlencoded", "text/plain":
		vals, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
		tr = tokenResponse{
			AccessToken: vals.Get("access_token"),
			TokenType:   vals.Get("token_type"),
			ExpiresIn:   json.Number(vals.Get("expires_in")),
			Scope:       vals.Get("scope"),
		}
	default:
		if err := json.Unmarshal(body, &tr); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
	}

	if tr.AccessToken == "" {
		return nil, fmt.Errorf("%w: server returned empty access_token", ErrInvalidResponse)
	}

	token := &AccessToken{
		Value: tr.AccessToken,
		Type:  NormalizeTokenType(tr.TokenType),
		Scope: tr.Scope,
	}
	if tr.ExpiresIn != "" {
		secs, err := tr.ExpiresIn.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: expires_in %q", ErrInvalidResponse, tr.ExpiresIn)
		}
		if secs > 0 {
			token.Expiry = e.now().Add(time.Duration(secs) * time.Second)
		}
	}
	return token, nil
}

func parseEndpointError(status int, body []byte) error {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.Error == "" {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return &EndpointError{StatusCode: status, Code: "server_error", Description: snippet}
	}
	return &EndpointError{
		StatusCode:  status,
		Code:        er.Error,
		Description: er.ErrorDescription,
		URI:         er.ErrorURI,
	}
}
