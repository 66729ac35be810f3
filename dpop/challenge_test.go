package dpop

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNonceChallenge(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header []string
		want   bool
	}{
		{
			name:   "dpop nonce challenge",
			status: http.StatusUnauthorized,
			header: []string{`DPoP error="use_dpop_nonce", error_description="Resource server requires nonce in DPoP proof"`},
			want:   true,
		},
		{
			name:   "scheme is case-insensitive",
			status: http.StatusUnauthorized,
			header: []string{`dpop error="use_dpop_nonce"`},
			want:   true,
		},
		{
			name:   "second challenge in one value",
			status: http.StatusUnauthorized,
			header: []string{`Bearer realm="api", DPoP algs="ES256 PS256", error="use_dpop_nonce"`},
			want:   true,
		},
		{
			name:   "second header value",
			status: http.StatusUnauthorized,
			header: []string{`Bearer realm="api"`, `DPoP error="use_dpop_nonce"`},
			want:   true,
		},
		{
			name:   "invalid token",
			status: http.StatusUnauthorized,
			header: []string{`DPoP error="invalid_token"`},
		},
		{
			name:   "bearer scheme",
			status: http.StatusUnauthorized,
			header: []string{`Bearer error="use_dpop_nonce"`},
		},
		{
			name:   "wrong status",
			status: http.StatusBadRequest,
			header: []string{`DPoP error="use_dpop_nonce"`},
		},
		{
			name:   "no header",
			status: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: tt.status, Header: http.Header{}}
			for _, v := range tt.header {
				resp.Header.Add("WWW-Authenticate", v)
			}
			assert.Equal(t, tt.want, IsNonceChallenge(resp))
		})
	}

	assert.False(t, IsNonceChallenge(nil))
}

func TestChallengeError_QuotedSeparators(t *testing.T) {
	header := http.Header{}
	header.Set("WWW-Authenticate", `DPoP error_description="a, b=c", error="invalid_dpop_proof"`)

	assert.Equal(t, "invalid_dpop_proof", ChallengeError(header, "DPoP"))
	assert.Empty(t, ChallengeError(header, "Bearer"))
}

func TestParseChallenges(t *testing.T) {
	got := parseChallenges(`Basic, DPoP error="use_dpop_nonce", Bearer realm="x \"y\""`)

	if assert.Len(t, got, 3) {
		assert.Equal(t, "Basic", got[0].scheme)
		assert.Equal(t, "DPoP", got[1].scheme)
		assert.Equal(t, "use_dpop_nonce", got[1].params["error"])
		assert.Equal(t, "Bearer", got[2].scheme)
		assert.Equal(t, `x "y"`, got[2].params["realm"])
	}
}
