package diagapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/liqcore/liqbot/internal/domain"
	"github.com/liqcore/liqbot/internal/telemetry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func newTestServer(enabled bool, secret string) *http.Server {
	borrowers := func(user common.Address) (domain.Borrower, bool) {
		if user == common.HexToAddress("0x1") {
			return domain.Borrower{Address: user, LiquidationThreshold: 8500}, true
		}
		return domain.Borrower{}, false
	}
	hotlist := func() []HotlistEntry { return []HotlistEntry{{User: "0x1", TotalDebtUsd: 500}} }
	return NewServer(Config{Addr: ":0", Enabled: enabled, HMACSecret: secret}, telemetry.New(), borrowers, hotlist, zerolog.Nop())
}

func TestHealthzAndMetricsBypassAuth(t *testing.T) {
	srv := newTestServer(true, "secret")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBorrowerLookupRejectsMissingToken(t *testing.T) {
	srv := newTestServer(true, "secret")

	req := httptest.NewRequest(http.MethodGet, "/borrowers/0x1", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBorrowerLookupAcceptsValidToken(t *testing.T) {
	srv := newTestServer(true, "secret")
	token := signToken(t, "secret", time.Now().Add(time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/borrowers/0x0000000000000000000000000000000000000001", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBorrowerLookupRejectsWrongSecret(t *testing.T) {
	srv := newTestServer(true, "secret")
	token := signToken(t, "wrong-secret", time.Now().Add(time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/borrowers/0x1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthDisabledBypassesVerification(t *testing.T) {
	srv := newTestServer(false, "")

	req := httptest.NewRequest(http.MethodGet, "/hotlist", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBorrowerLookupRejectsInvalidAddress(t *testing.T) {
	srv := newTestServer(false, "")

	req := httptest.NewRequest(http.MethodGet, "/borrowers/not-an-address", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
