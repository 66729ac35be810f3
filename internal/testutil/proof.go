package testutil

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/go-jose/go-jose/v4"
)

var proofAlgorithms = []jose.SignatureAlgorithm{
	jose.ES256, jose.ES384, jose.ES512, jose.EdDSA, jose.PS256, jose.RS256,
}

// DecodeProof verifies a DPoP proof against the JWK embedded in its own
// header and returns the decoded header and claims.
func DecodeProof(tb testing.TB, proof string) (header, claims map[string]any) {
	tb.Helper()

	header, claims, err := decodeProof(proof)
	if err != nil {
		tb.Fatalf("invalid DPoP proof: %v", err)
	}
	return header, claims
}

func decodeProof(proof string) (map[string]any, map[string]any, error) {
	jws, err := jose.ParseSigned(proof, proofAlgorithms)
	if err != nil {
		return nil, nil, fmt.Errorf("parse: %w", err)
	}
	if len(jws.Signatures) != 1 {
		return nil, nil, errors.New("expected exactly one signature")
	}

	jwk := jws.Signatures[0].Protected.JSONWebKey
	if jwk == nil {
		return nil, nil, errors.New("missing jwk header")
	}
	if !jwk.IsPublic() {
		return nil, nil, errors.New("embedded jwk is not a public key")
	}

	payload, err := jws.Verify(jwk)
	if err != nil {
		return nil, nil, fmt.Errorf("verify: %w", err)
	}

	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, nil, fmt.Errorf("claims: %w", err)
	}

	rawHeader, _, _ := strings.Cut(proof, ".")
	headerBytes, err := base64.RawURLEncoding.DecodeString(rawHeader)
	if err != nil {
		return nil, nil, fmt.Errorf("header: %w", err)
	}
	var header map[string]any
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, nil, fmt.Errorf("header: %w", err)
	}

	return header, claims, nil
}
