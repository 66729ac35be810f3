package dpop

import (
	"net/http"
	"strings"
)

// IsNonceChallenge reports whether resp is a resource server's demand for a
// fresh nonce: 401 with a WWW-Authenticate DPoP challenge whose error is
// use_dpop_nonce. An ordinary 401 (invalid or expired token) is not a nonce
// challenge.
func IsNonceChallenge(resp *http.Response) bool {
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		return false
	}
	return ChallengeError(resp.Header, Scheme) == ErrorUseNonce
}

// ChallengeError returns the error parameter of the first WWW-Authenticate
// challenge using scheme (case-insensitive), or "" when there is none.
func ChallengeError(header http.Header, scheme string) string {
	for _, value := range header.Values("WWW-Authenticate") {
		for _, c := range parseChallenges(value) {
			if strings.EqualFold(c.scheme, scheme) {
				return c.params["error"]
			}
		}
	}
	return ""
}

type challenge struct {
	scheme string
	params map[string]string
}

// parseChallenges splits a WWW-Authenticate value into challenges, e.g.
//
//	DPoP error="use_dpop_nonce", error_description="x", Bearer realm="api"
func parseChallenges(value string) []challenge {
	var out []challenge
	for _, part := range splitUnquoted(value, ',') {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		// A new challenge starts with a scheme token not followed by '='.
		if sp := strings.IndexByte(part, ' '); sp > 0 && !strings.Contains(part[:sp], "=") {
			out = append(out, challenge{scheme: part[:sp], params: map[string]string{}})
			part = strings.TrimSpace(part[sp+1:])
		} else if !strings.Contains(part, "=") {
			out = append(out, challenge{scheme: part, params: map[string]string{}})
			continue
		}

		if len(out) == 0 {
			continue
		}
		name, val, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		val = strings.TrimSpace(val)
		if len(val) >= 2 && val[0] == '"' && val[len(val)-1] == '"' {
			val = strings.ReplaceAll(val[1:len(val)-1], `\"`, `"`)
		}
		out[len(out)-1].params[strings.ToLower(strings.TrimSpace(name))] = val
	}
	return out
}

// splitUnquoted splits s on sep, ignoring separators inside double quotes.
func splitUnquoted(s string, sep byte) []string {
	var (
		parts    []string
		start    int
		inQuotes bool
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if inQuotes {
				i++
			}
		case '"':
			inQuotes = !inQuotes
		case sep:
			if !inQuotes {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}
