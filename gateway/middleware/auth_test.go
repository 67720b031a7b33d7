package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

const testSecret = "vault-test-secret"

func callerEcho(t *testing.T, seen *common.Address, ok *bool) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen, *ok = CallerFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticatorResolvesTokenSubject(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "vaultctl", Audience: "vaultd"}, nil)
	caller := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	token, err := IssueToken(testSecret, caller, "vaultctl", "vaultd", time.Hour, time.Now())
	require.NoError(t, err)

	var seen common.Address
	var ok bool
	handler := auth.Middleware(callerEcho(t, &seen, &ok))

	req := httptest.NewRequest(http.MethodPost, "/v1/vault/deposit", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	require.True(t, ok)
	require.Equal(t, caller, seen)
}

func TestAuthenticatorRejectsBadTokens(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Audience: "vaultd"}, nil)
	caller := common.HexToAddress("0xc1")
	now := time.Now()

	wrongSecret, err := IssueToken("other", caller, "", "vaultd", time.Hour, now)
	require.NoError(t, err)
	wrongAudience, err := IssueToken(testSecret, caller, "", "elsewhere", time.Hour, now)
	require.NoError(t, err)
	expired, err := IssueToken(testSecret, caller, "", "vaultd", time.Minute, now.Add(-time.Hour))
	require.NoError(t, err)

	cases := map[string]string{
		"wrong secret":   "Bearer " + wrongSecret,
		"wrong audience": "Bearer " + wrongAudience,
		"expired":        "Bearer " + expired,
		"not bearer":     "Basic abc",
	}
	for name, header := range cases {
		var seen common.Address
		var ok bool
		handler := auth.Middleware(callerEcho(t, &seen, &ok))
		req := httptest.NewRequest(http.MethodGet, "/v1/vault", nil)
		req.Header.Set("Authorization", header)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		require.Equal(t, http.StatusUnauthorized, res.Code, name)
		require.False(t, ok, name)
	}
}

func TestAuthenticatorAnonymousAndHeaderMode(t *testing.T) {
	var seen common.Address
	var ok bool

	enabled := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret}, nil)
	res := httptest.NewRecorder()
	enabled.Middleware(callerEcho(t, &seen, &ok)).ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/vault", nil))
	require.Equal(t, http.StatusOK, res.Code)
	require.False(t, ok)

	disabled := NewAuthenticator(AuthConfig{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/vault", nil)
	req.Header.Set(CallerHeader, "0x00000000000000000000000000000000000000c2")
	res = httptest.NewRecorder()
	disabled.Middleware(callerEcho(t, &seen, &ok)).ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	require.True(t, ok)
	require.Equal(t, common.HexToAddress("0xc2"), seen)

	req = httptest.NewRequest(http.MethodGet, "/v1/vault", nil)
	req.Header.Set(CallerHeader, "alice")
	res = httptest.NewRecorder()
	disabled.Middleware(callerEcho(t, &seen, &ok)).ServeHTTP(res, req)
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestRequireCaller(t *testing.T) {
	handler := RequireCaller(okHandler())

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/vault/deposit", nil))
	require.Equal(t, http.StatusUnauthorized, res.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/vault/deposit", nil)
	req = req.WithContext(WithCaller(req.Context(), common.HexToAddress("0xc3")))
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
}

func TestIssueTokenRequiresSecret(t *testing.T) {
	_, err := IssueToken("  ", common.HexToAddress("0xc1"), "", "", 0, time.Now())
	require.Error(t, err)
}
