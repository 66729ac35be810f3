package dpop

const (
	// HeaderProof is the request header that carries the proof JWT.
	HeaderProof = "DPoP"

	// HeaderNonce is the response header servers use to hand out nonces.
	HeaderNonce = "DPoP-Nonce"

	// TypeDPoP is the required typ header value for DPoP proofs.
	TypeDPoP = "dpop+jwt"

	// Scheme is the Authorization scheme for DPoP-bound access tokens.
	Scheme = "DPoP"

	// ErrorUseNonce is the OAuth error code signalling a missing or stale nonce.
	ErrorUseNonce = "use_dpop_nonce"
)

// Claims is the payload of a DPoP proof JWT.
type Claims struct {
	// JTI is a unique identifier for this proof (UUID).
	JTI string `json:"jti"`

	// HTM is the HTTP method of the request, as sent.
	HTM string `json:"htm"`

	// HTU is the request URI without query and fragment.
	HTU string `json:"htu"`

	// IAT is the issue time in Unix seconds.
	IAT int64 `json:"iat"`

	// Nonce echoes the most recent server-provided nonce.
	Nonce string `json:"nonce,omitempty"`

	// ATH is the base64url SHA-256 hash of the bound access token.
	ATH string `json:"ath,omitempty"`
}
