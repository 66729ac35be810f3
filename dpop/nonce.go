package dpop

import (
	"net/http"
	"strings"
	"sync"
)

// NonceStore keeps the most recent nonce observed for each (method, URL).
// Entries never expire; the next observation replaces them. Different keys
// are fully independent and concurrent writes to one key are last-write-wins.
type NonceStore struct {
	nonces sync.Map // nonceKey -> string
}

type nonceKey struct {
	method string
	uri    string
}

// NewNonceStore creates an empty store.
func NewNonceStore() *NonceStore {
	return &NonceStore{}
}

// Nonce returns the current nonce for method and URL, or "" when none has
// been observed.
func (s *NonceStore) Nonce(method, rawURL string) string {
	if v, ok := s.nonces.Load(newNonceKey(method, rawURL)); ok {
		return v.(string)
	}
	return ""
}

// Store records nonce for method and URL. Empty nonces are ignored.
func (s *NonceStore) Store(method, rawURL, nonce string) {
	if nonce == "" {
		return
	}
	s.nonces.Store(newNonceKey(method, rawURL), nonce)
}

// Observe records the DPoP-Nonce header of a response, whatever its status.
// It reports whether a nonce was present.
func (s *NonceStore) Observe(method, rawURL string, header http.Header) bool {
	nonce := strings.TrimSpace(header.Get(HeaderNonce))
	if nonce == "" {
		return false
	}
	s.Store(method, rawURL, nonce)
	return true
}

func newNonceKey(method, rawURL string) nonceKey {
	uri, err := NormalizeURI(rawURL)
	if err != nil {
		uri = rawURL
	}
	return nonceKey{method: strings.ToUpper(method), uri: uri}
}
