package dpop

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
)

// ProofGenerator creates one fresh proof per outgoing request. It is safe for
// concurrent use.
type ProofGenerator struct {
	key    *Key
	nonces *NonceStore
	now    func() time.Time
}

// NewProofGenerator creates a generator for key. A nil nonce store gets a
// private one.
func NewProofGenerator(key *Key, nonces *NonceStore) *ProofGenerator {
	if nonces == nil {
		nonces = NewNonceStore()
	}
	return &ProofGenerator{key: key, nonces: nonces, now: time.Now}
}

// Nonces returns the store the generator reads nonces from.
func (g *ProofGenerator) Nonces() *NonceStore {
	return g.nonces
}

// Key returns the signing key.
func (g *ProofGenerator) Key() *Key {
	return g.key
}

// CreateProof builds and signs a proof for method and rawURL. The current
// nonce for the pair is included when one is known; accessToken, when not
// empty, is bound through the ath claim.
func (g *ProofGenerator) CreateProof(method, rawURL, accessToken string) (string, error) {
	if g == nil || g.key == nil {
		return "", &ProofError{Op: "create proof", Err: ErrMissingKey}
	}

	htu, err := NormalizeURI(rawURL)
	if err != nil {
		return "", &ProofError{Op: "normalize htu", Err: err}
	}

	opts := (&jose.SignerOptions{}).
		WithType(TypeDPoP).
		WithHeader("jwk", g.key.public)

	signer, err := jose.NewSigner(g.key.signing, opts)
	if err != nil {
		return "", &ProofError{Op: "create signer", Err: err}
	}

	claims := Claims{
		JTI:   uuid.NewString(),
		HTM:   method,
		HTU:   htu,
		IAT:   g.now().Unix(),
		Nonce: g.nonces.Nonce(method, rawURL),
	}
	if accessToken != "" {
		claims.ATH = AccessTokenHash(accessToken)
	}

	proof, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", &ProofError{Op: "sign proof", Err: err}
	}
	return proof, nil
}

// SignRequest attaches a proof for req to its DPoP header. The htu is derived
// from req.URL, never from the Host header.
func (g *ProofGenerator) SignRequest(req *http.Request, accessToken string) error {
	proof, err := g.CreateProof(req.Method, req.URL.String(), accessToken)
	if err != nil {
		return err
	}
	req.Header.Set(HeaderProof, proof)
	return nil
}

// AccessTokenHash returns the ath value for token: base64url(SHA-256(token)).
func AccessTokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// NormalizeURI normalizes a URI per RFC 9449 Section 4.2:
//   - Lowercase scheme and host
//   - Keep path exactly as-is
//   - Remove query string and fragment
//   - Remove default port (443 for https, 80 for http)
func NormalizeURI(rawURI string) (string, error) {
	if rawURI == "" {
		return "", errors.New("URL cannot be empty")
	}

	parsed, err := url.Parse(rawURI)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("URL %q must have scheme and host", rawURI)
	}

	scheme := strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	if port := parsed.Port(); port != "" {
		isDefault := (scheme == "https" && port == "443") || (scheme == "http" && port == "80")
		if !isDefault {
			host += ":" + port
		}
	}

	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}

	return scheme + "://" + host + path, nil
}
