package oauth2client

import (
	"context"
	"crypto"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ClientAssertionType is the client_assertion_type for JWT assertions
// (RFC 7523).
const ClientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// AssertionProvider produces a client_assertion for one token request.
type AssertionProvider interface {
	ClientAssertion(ctx context.Context, client *ClientConfig) (string, error)
}

// AssertionFunc adapts a function to AssertionProvider.
type AssertionFunc func(ctx context.Context, client *ClientConfig) (string, error)

func (f AssertionFunc) ClientAssertion(ctx context.Context, client *ClientConfig) (string, error) {
	return f(ctx, client)
}

// JWTAssertion signs private_key_jwt client assertions: iss and sub are the
// client id, aud is the token endpoint.
type JWTAssertion struct {
	key      crypto.Signer
	method   jwt.SigningMethod
	keyID    string
	lifetime time.Duration
	now      func() time.Time
}

// NewJWTAssertion creates an assertion signer. method must match key, e.g.
// jwt.SigningMethodRS256 for an RSA key or jwt.SigningMethodES256 for P-256.
func NewJWTAssertion(key crypto.Signer, method jwt.SigningMethod, keyID string) (*JWTAssertion, error) {
	if key == nil {
		return nil, &ConfigurationError{Reason: "assertion signing key is required"}
	}
	if method == nil {
		return nil, &ConfigurationError{Reason: "assertion signing method is required"}
	}
	return &JWTAssertion{
		key:      key,
		method:   method,
		keyID:    keyID,
		lifetime: time.Minute,
		now:      time.Now,
	}, nil
}

func (a *JWTAssertion) ClientAssertion(_ context.Context, client *ClientConfig) (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Issuer:    client.ClientID,
		Subject:   client.ClientID,
		Audience:  jwt.ClaimStrings{client.TokenURL},
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.lifetime)),
	}

	token := jwt.NewWithClaims(a.method, claims)
	if a.keyID != "" {
		token.Header["kid"] = a.keyID
	}

	signed, err := token.SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("oauth2client: sign client assertion: %w", err)
	}
	return signed, nil
}
