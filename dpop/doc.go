// Package dpop implements the client side of DPoP (Demonstrating Proof of
// Possession, RFC 9449).
//
// A DPoP proof is a short-lived JWT bound to a single HTTP request. It is
// signed with the client's key and carries:
//   - jti: unique identifier (never reused)
//   - htm: HTTP method
//   - htu: HTTP URI without query or fragment
//   - iat: issue time
//   - nonce: the last server-provided nonce for this URL and method, if any
//   - ath: base64url SHA-256 of the access token, when the proof is token-bound
//
// The JOSE header carries typ "dpop+jwt", the signing algorithm and the public
// key as an embedded JWK.
//
// # Nonces
//
// Servers rotate nonces through the DPoP-Nonce response header and demand a
// fresh one with a use_dpop_nonce error. NonceStore remembers the latest nonce
// per (method, URL); ProofGenerator reads it when building each proof.
//
// # Usage
//
//	key, _ := dpop.GenerateKey()
//	gen := dpop.NewProofGenerator(key, dpop.NewNonceStore())
//	if err := gen.SignRequest(req, accessToken); err != nil {
//	    return err
//	}
//
// Keys held outside the process (HSM, KMS) are plugged in with
// NewProviderKey and a SigningProvider.
package dpop
