package dpop

import (
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// SigningProvider signs on behalf of a key that is not held in process.
//
// payload is the JWS signing input (base64url header "." base64url claims).
// The returned signature must already be in JWS encoding for the key's
// algorithm, e.g. the 64-byte R||S form for ES256.
type SigningProvider interface {
	Sign(payload []byte, keyRef string) ([]byte, error)
}

// opaqueSigner adapts a SigningProvider to go-jose's OpaqueSigner.
type opaqueSigner struct {
	provider SigningProvider
	keyRef   string
	public   jose.JSONWebKey
	alg      jose.SignatureAlgorithm
}

func (s *opaqueSigner) Public() *jose.JSONWebKey {
	jwk := s.public
	return &jwk
}

func (s *opaqueSigner) Algs() []jose.SignatureAlgorithm {
	return []jose.SignatureAlgorithm{s.alg}
}

func (s *opaqueSigner) SignPayload(payload []byte, alg jose.SignatureAlgorithm) ([]byte, error) {
	if alg != s.alg {
		return nil, fmt.Errorf("dpop: key %q does not support %s", s.keyRef, alg)
	}
	return s.provider.Sign(payload, s.keyRef)
}

var _ jose.OpaqueSigner = (*opaqueSigner)(nil)
