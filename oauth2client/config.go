package oauth2client

import (
	"context"
	"fmt"
	"maps"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/AmmannChristian/go-tokenflow/dpop"
)

// ClientConfig is a client registration. It is treated as immutable once
// registered.
type ClientConfig struct {
	// Name is the key other components use to refer to this client.
	Name string

	// ClientID is the OAuth2 client identifier.
	ClientID string

	// ClientSecret authenticates the client unless Assertion is set.
	ClientSecret string

	// Assertion, when set, authenticates the client with a signed assertion
	// (client_assertion) instead of ClientSecret.
	Assertion AssertionProvider

	// AuthStyle selects how ClientSecret is sent. AuthStyleAutoDetect and
	// AuthStyleInParams both send it in the form body; AuthStyleInHeader
	// uses HTTP Basic.
	AuthStyle oauth2.AuthStyle

	// TokenURL is the token endpoint.
	TokenURL string

	// Scope is the space-separated scope requested by default.
	Scope string

	// Parameters are extra form fields sent with every token request.
	Parameters map[string]string

	// DPoPKey enables DPoP for this client when set.
	DPoPKey *dpop.Key
}

// Validate checks that the registration is usable.
func (c *ClientConfig) Validate() error {
	if c.Name == "" {
		return &ConfigurationError{Reason: "client name is required"}
	}
	if c.ClientID == "" {
		return &ConfigurationError{Client: c.Name, Reason: "client id is required"}
	}
	if c.TokenURL == "" {
		return &ConfigurationError{Client: c.Name, Reason: "token endpoint is required"}
	}
	u, err := url.Parse(c.TokenURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &ConfigurationError{Client: c.Name, Reason: fmt.Sprintf("token endpoint %q is not an absolute URL", c.TokenURL)}
	}
	if c.ClientSecret == "" && c.Assertion == nil {
		return &ConfigurationError{Client: c.Name, Reason: "a client secret or assertion provider is required"}
	}
	return nil
}

// DPoPEnabled reports whether requests for this client carry DPoP proofs.
func (c *ClientConfig) DPoPEnabled() bool {
	return c.DPoPKey != nil
}

func (c ClientConfig) clone() *ClientConfig {
	c.Parameters = maps.Clone(c.Parameters)
	return &c
}

// Registry resolves client names to registrations. Unknown names should be
// reported as *ConfigurationError.
type Registry interface {
	Resolve(ctx context.Context, name string) (*ClientConfig, error)
}

// StaticRegistry is a fixed, in-memory Registry.
type StaticRegistry struct {
	clients map[string]*ClientConfig
}

// NewStaticRegistry validates and registers clients. Names must be unique.
func NewStaticRegistry(clients ...ClientConfig) (*StaticRegistry, error) {
	r := &StaticRegistry{clients: make(map[string]*ClientConfig, len(clients))}
	for _, c := range clients {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.clients[c.Name]; dup {
			return nil, &ConfigurationError{Client: c.Name, Reason: "registered twice"}
		}
		r.clients[c.Name] = c.clone()
	}
	return r, nil
}

// Resolve returns a copy of the named registration.
func (r *StaticRegistry) Resolve(_ context.Context, name string) (*ClientConfig, error) {
	c, ok := r.clients[name]
	if !ok {
		return nil, &ConfigurationError{Client: name, Reason: "not registered"}
	}
	return c.clone(), nil
}

// Names returns the registered client names in no particular order.
func (r *StaticRegistry) Names() []string {
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	return names
}
