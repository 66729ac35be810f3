package oauth2client

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	// TokenTypeBearer is the canonical scheme for bearer tokens.
	TokenTypeBearer = "Bearer"

	// TokenTypeDPoP is the canonical scheme for DPoP-bound tokens.
	TokenTypeDPoP = "DPoP"
)

// AccessToken is an issued access token. It is immutable once created.
type AccessToken struct {
	Value  string
	Type   string
	Expiry time.Time // zero means the token does not expire
	Scope  string
}

// NormalizeTokenType maps a token_type value from the wire to its canonical
// Authorization scheme. Servers are free to answer "bearer" or "dpoP";
// unknown types are returned unchanged. An empty type means Bearer.
func NormalizeTokenType(tokenType string) string {
	switch {
	case tokenType == "", strings.EqualFold(tokenType, TokenTypeBearer):
		return TokenTypeBearer
	case strings.EqualFold(tokenType, TokenTypeDPoP):
		return TokenTypeDPoP
	default:
		return tokenType
	}
}

// AuthorizationHeader renders the value for the Authorization header.
func (t *AccessToken) AuthorizationHeader() string {
	return NormalizeTokenType(t.Type) + " " + t.Value
}

// IsDPoP reports whether the token must be presented with a DPoP proof.
func (t *AccessToken) IsDPoP() bool {
	return NormalizeTokenType(t.Type) == TokenTypeDPoP
}

// EffectiveExpiry returns the expiry minus buffer. A zero expiry stays zero.
func (t *AccessToken) EffectiveExpiry(buffer time.Duration) time.Time {
	if t.Expiry.IsZero() {
		return time.Time{}
	}
	return t.Expiry.Add(-buffer)
}

// Expired reports whether the token's effective expiry is at or before now.
// A token without expiry never expires.
func (t *AccessToken) Expired(now time.Time, buffer time.Duration) bool {
	if t == nil || t.Value == "" {
		return true
	}
	if t.Expiry.IsZero() {
		return false
	}
	return !now.Before(t.EffectiveExpiry(buffer))
}

// OAuth2Token converts the token for use with golang.org/x/oauth2.
func (t *AccessToken) OAuth2Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken: t.Value,
		TokenType:   NormalizeTokenType(t.Type),
		Expiry:      t.Expiry,
	}
	if t.Scope != "" {
		tok = tok.WithExtra(map[string]any{"scope": t.Scope})
	}
	return tok
}

// Parameters are per-request token parameters. Each distinct set is cached
// separately from the client's default token.
type Parameters map[string]string

// Hash returns a stable digest of the parameters, or "" when there are none.
func (p Parameters) Hash() string {
	if len(p) == 0 {
		return ""
	}

	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(p[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// TokenKey identifies a cached token: a registered client and an optional
// parameter variant.
type TokenKey struct {
	Client     string
	Parameters Parameters
}

// ClientKey returns the key for client's default token.
func ClientKey(client string) TokenKey {
	return TokenKey{Client: client}
}

// CacheKey returns the string form used by the cache and the synchronizer.
func (k TokenKey) CacheKey() string {
	if hash := k.Parameters.Hash(); hash != "" {
		return k.Client + "::" + hash
	}
	return k.Client
}

func (k TokenKey) String() string {
	return k.CacheKey()
}
