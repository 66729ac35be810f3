package dpop

import (
	"errors"
	"fmt"
)

var (
	// ErrProof is matched by every *ProofError.
	ErrProof = errors.New("dpop: proof error")

	// ErrMissingKey indicates a DPoP proof was requested without key material.
	ErrMissingKey = errors.New("dpop: signing key is not configured")

	// ErrNonceRequired indicates the server rejected a proof because it lacked
	// a current nonce (error code use_dpop_nonce).
	ErrNonceRequired = errors.New("dpop: server requires a fresh nonce")
)

// ProofError reports a failure to build or sign a proof. It is fatal for the
// request that needed the proof.
type ProofError struct {
	Op  string
	Err error
}

func (e *ProofError) Error() string {
	return fmt.Sprintf("dpop: %s: %v", e.Op, e.Err)
}

func (e *ProofError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrProof) true for any ProofError.
func (e *ProofError) Is(target error) bool {
	return target == ErrProof
}
