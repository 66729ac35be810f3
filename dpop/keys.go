package dpop

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// Key is the client's DPoP key pair: a signing key and the public JWK that is
// embedded into every proof header.
type Key struct {
	signing jose.SigningKey
	public  jose.JSONWebKey
}

// NewKey wraps an in-process private key. The algorithm is inferred from the
// key type: P-256/P-384/P-521 map to ES256/ES384/ES512, Ed25519 to EdDSA and
// RSA to PS256.
func NewKey(private crypto.Signer) (*Key, error) {
	if private == nil {
		return nil, ErrMissingKey
	}
	alg, err := inferAlgorithm(private)
	if err != nil {
		return nil, err
	}
	return NewKeyWithAlgorithm(private, alg)
}

// NewKeyWithAlgorithm wraps an in-process private key with an explicit
// signature algorithm.
func NewKeyWithAlgorithm(private crypto.Signer, alg jose.SignatureAlgorithm) (*Key, error) {
	if private == nil {
		return nil, ErrMissingKey
	}
	if alg == "" {
		return nil, errors.New("dpop: signature algorithm is required")
	}

	return &Key{
		signing: jose.SigningKey{Algorithm: alg, Key: private},
		public:  jose.JSONWebKey{Key: private.Public(), Algorithm: string(alg)},
	}, nil
}

// NewProviderKey builds a key whose private half lives behind a
// SigningProvider. public must be the matching public key.
func NewProviderKey(provider SigningProvider, keyRef string, public crypto.PublicKey, alg jose.SignatureAlgorithm) (*Key, error) {
	if provider == nil || public == nil {
		return nil, ErrMissingKey
	}
	if alg == "" {
		return nil, errors.New("dpop: signature algorithm is required")
	}

	jwk := jose.JSONWebKey{Key: public, Algorithm: string(alg)}
	return &Key{
		signing: jose.SigningKey{
			Algorithm: alg,
			Key: &opaqueSigner{
				provider: provider,
				keyRef:   keyRef,
				public:   jwk,
				alg:      alg,
			},
		},
		public: jwk,
	}, nil
}

// GenerateKey creates a fresh ECDSA P-256 key for ES256 proofs.
func GenerateKey() (*Key, error) {
	private, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("dpop: generate key: %w", err)
	}
	return NewKeyWithAlgorithm(private, jose.ES256)
}

// Algorithm returns the JWS algorithm used for proofs.
func (k *Key) Algorithm() string {
	return string(k.signing.Algorithm)
}

// PublicJWK returns the public key as embedded in proof headers.
func (k *Key) PublicJWK() jose.JSONWebKey {
	return k.public
}

// Thumbprint returns the RFC 7638 SHA-256 JWK thumbprint, base64url encoded.
// Authorization servers bind DPoP tokens to this value (cnf.jkt).
func (k *Key) Thumbprint() (string, error) {
	sum, err := k.public.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("dpop: thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(sum), nil
}

func inferAlgorithm(private crypto.Signer) (jose.SignatureAlgorithm, error) {
	switch key := private.(type) {
	case *ecdsa.PrivateKey:
		switch key.Curve {
		case elliptic.P256():
			return jose.ES256, nil
		case elliptic.P384():
			return jose.ES384, nil
		case elliptic.P521():
			return jose.ES512, nil
		default:
			return "", fmt.Errorf("dpop: unsupported curve %s", key.Curve.Params().Name)
		}
	case ed25519.PrivateKey:
		return jose.EdDSA, nil
	case *rsa.PrivateKey:
		return jose.PS256, nil
	default:
		return "", fmt.Errorf("dpop: unsupported key type %T", private)
	}
}

// LoadPrivateKeyPEM parses a PEM encoded private key. PKCS#8 ("PRIVATE KEY"),
// SEC 1 ("EC PRIVATE KEY") and PKCS#1 ("RSA PRIVATE KEY") blocks are accepted.
// Error messages never contain key material.
func LoadPrivateKeyPEM(data []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("dpop: no PEM data found")
	}

	var (
		key any
		err error
	)
	switch block.Type {
	case "PRIVATE KEY":
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("dpop: unexpected PEM block type %q", block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("dpop: parse private key: %w", err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("dpop: key type %T cannot sign", key)
	}
	return signer, nil
}
