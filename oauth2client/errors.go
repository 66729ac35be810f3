package oauth2client

import (
	"errors"
	"fmt"

	"github.com/AmmannChristian/go-tokenflow/dpop"
)

var (
	// ErrConfiguration is matched by every *ConfigurationError.
	ErrConfiguration = errors.New("oauth2client: invalid configuration")

	// ErrEndpoint is matched by every *EndpointError.
	ErrEndpoint = errors.New("oauth2client: token endpoint error")

	// ErrInvalidClient is matched by endpoint errors with code invalid_client.
	// It indicates broken credentials and is not worth retrying.
	ErrInvalidClient = errors.New("oauth2client: invalid client")

	// ErrInvalidGrant is matched by endpoint errors with code invalid_grant.
	ErrInvalidGrant = errors.New("oauth2client: invalid grant")

	// ErrTransport is matched by every *TransportError.
	ErrTransport = errors.New("oauth2client: transport error")

	// ErrInvalidResponse indicates a success response that could not be used.
	ErrInvalidResponse = errors.New("oauth2client: invalid token response")
)

// ConfigurationError reports a client registration that cannot be used.
type ConfigurationError struct {
	Client string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Client == "" {
		return "oauth2client: configuration: " + e.Reason
	}
	return fmt.Sprintf("oauth2client: client %q: %s", e.Client, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// EndpointError is an OAuth error answer of the token endpoint
// (RFC 6749 Section 5.2).
type EndpointError struct {
	StatusCode  int
	Code        string
	Description string
	URI         string
}

func (e *EndpointError) Error() string {
	msg := fmt.Sprintf("oauth2client: token endpoint returned %q (status %d)", e.Code, e.StatusCode)
	if e.Description != "" {
		msg += ": " + e.Description
	}
	return msg
}

func (e *EndpointError) Is(target error) bool {
	switch target {
	case ErrEndpoint:
		return true
	case ErrInvalidClient:
		return e.Code == "invalid_client" || e.Code == "unauthorized_client"
	case ErrInvalidGrant:
		return e.Code == "invalid_grant"
	case dpop.ErrNonceRequired:
		return e.Code == dpop.ErrorUseNonce
	}
	return false
}

// TransportError reports a failure to reach the token endpoint or read its
// answer.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "oauth2client: token request failed: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}
