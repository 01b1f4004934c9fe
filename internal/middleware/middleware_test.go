package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/rail-seat-booking/internal/config"
	"github.com/iliyamo/rail-seat-booking/internal/utils"
)

func serve(e *echo.Echo, path, tok string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if tok != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuthAndRole(t *testing.T) {
	e := echo.New()
	e.GET("/who", func(c echo.Context) error {
		return c.String(http.StatusOK, RiderID(c))
	}, JWTAuth("k"), RequireRole(RoleCustomer))

	tok, err := utils.NewAccessToken("k", "rider-42", RoleCustomer, time.Minute)
	require.NoError(t, err)
	rec := serve(e, "/who", tok.Token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rider-42", rec.Body.String())

	op, err := utils.NewAccessToken("k", "ops-1", RoleOperator, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, serve(e, "/who", op.Token).Code)

	other, err := utils.NewAccessToken("other-key", "rider-42", RoleCustomer, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, serve(e, "/who", other.Token).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(e, "/who", "").Code)
}

func TestJWTAuthRejectsTokenWithoutExpiry(t *testing.T) {
	e := echo.New()
	e.GET("/who", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, JWTAuth("k"))

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "r", "role": RoleCustomer}).SignedString([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, serve(e, "/who", raw).Code)
}

func TestRiderIDAnonymous(t *testing.T) {
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	assert.Equal(t, "", RiderID(c))
}

func TestCacheKeyUsesConcretePath(t *testing.T) {
	e := echo.New()
	cfg := config.CacheConfig{Prefix: "cache", KeyStrategy: "path_query"}
	key := func(target string) string {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
		c.SetPath("/v1/trains/:train/availability")
		return cacheKeyFrom(cfg, c)
	}

	a := key("/v1/trains/G1/availability?date=2026-10-20&from=A&to=C")
	assert.NotEqual(t, a, key("/v1/trains/G2/availability?date=2026-10-20&from=A&to=C"))
	assert.Equal(t, a, key("/v1/trains/G1/availability?to=C&from=A&date=2026-10-20"))
	assert.Contains(t, a, "cache:")
}

func TestPayloadRoundTrip(t *testing.T) {
	hdr := http.Header{"Content-Type": {"application/json"}}
	bs, err := encodePayload(http.StatusOK, hdr, []byte(`{"ok":true}`))
	require.NoError(t, err)

	status, got, body, ok := decodePayload(bs)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "application/json", got.Get("Content-Type"))
	assert.Equal(t, `{"ok":true}`, string(body))

	_, _, _, ok = decodePayload(bs[:5])
	assert.False(t, ok)
}

func TestCaptureWriterLimit(t *testing.T) {
	rec := httptest.NewRecorder()
	cw := &captureWriter{ResponseWriter: rec, status: http.StatusOK, limit: 4}
	_, _ = cw.Write([]byte("abc"))
	_, _ = cw.Write([]byte("def"))
	assert.Equal(t, "abcd", cw.buf.String())
	assert.EqualValues(t, 6, cw.size)
	assert.Equal(t, "abcdef", rec.Body.String())
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/orders", nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.9")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/orders")

	cfg := config.RateLimitConfig{Prefix: "rl", KeyStrategy: "ip_user_route"}
	assert.Equal(t, "rl:ip:10.0.0.9:user:anon:route:POST /v1/orders", buildRateKey(cfg, c))

	c.Set(ctxRiderID, "rider-1")
	cfg.KeyStrategy = "user"
	assert.Equal(t, "rl:user:rider-1", buildRateKey(cfg, c))
}

func TestDisabledMiddlewaresPassThrough(t *testing.T) {
	e := echo.New()
	e.GET("/x", func(c echo.Context) error { return c.String(http.StatusOK, "x") },
		NewRedisCache(config.CacheConfig{Enabled: true}, nil),
		NewTokenBucket(config.RateLimitConfig{Enabled: true}, nil))

	rec := serve(e, "/x", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Cache"))
}
