package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/tour-booking/internal/config"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return tok
}

func whoami(c echo.Context) error {
	return c.String(http.StatusOK, UserID(c)+"|"+Role(c))
}

func doGet(e *echo.Echo, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuth(t *testing.T) {
	e := echo.New()
	e.GET("/me", whoami, JWTAuth(testSecret))
	exp := time.Now().Add(time.Hour).Unix()

	t.Run("valid token sets identity", func(t *testing.T) {
		tok := signToken(t, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "cust-1", "role": "customer", "exp": exp})
		rec := doGet(e, "/me", tok)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "cust-1|CUSTOMER", rec.Body.String())
	})

	wrongSecret, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x", "exp": exp}).SignedString([]byte("other"))
	require.NoError(t, err)

	cases := map[string]string{
		"missing header": "",
		"wrong secret":   wrongSecret,
		"expired":        signToken(t, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x", "exp": time.Now().Add(-time.Minute).Unix()}),
		"no expiry":      signToken(t, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"}),
		"wrong method":   signToken(t, jwt.SigningMethodHS512, jwt.MapClaims{"sub": "x", "exp": exp}),
		"numeric sub":    signToken(t, jwt.SigningMethodHS256, jwt.MapClaims{"sub": 42, "exp": exp}),
		"garbage":        "abc.def",
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			rec := doGet(e, "/me", tok)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestRequireRole(t *testing.T) {
	e := echo.New()
	e.GET("/admin", whoami, JWTAuth(testSecret), RequireRole(RoleAdmin))
	exp := time.Now().Add(time.Hour).Unix()

	admin := signToken(t, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "op-1", "role": "ADMIN", "exp": exp})
	assert.Equal(t, http.StatusOK, doGet(e, "/admin", admin).Code)

	customer := signToken(t, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "cust-1", "role": "CUSTOMER", "exp": exp})
	rec := doGet(e, "/admin", customer)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "forbidden")

	noRole := signToken(t, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "cust-1", "exp": exp})
	assert.Equal(t, http.StatusForbidden, doGet(e, "/admin", noRole).Code)
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestTokenBucket_BlocksAfterCapacity(t *testing.T) {
	rdb := newRedis(t)
	cfg := config.RateLimitConfig{
		Enabled:        true,
		Capacity:       2,
		RefillTokens:   1,
		RefillInterval: time.Minute,
		TTL:            10 * time.Minute,
		KeyStrategy:    "ip",
		Prefix:         "rl",
	}
	e := echo.New()
	e.POST("/v1/checkout", func(c echo.Context) error { return c.NoContent(http.StatusCreated) }, NewTokenBucket(cfg, rdb))

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/checkout", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	first := post()
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, http.StatusCreated, post().Code)

	blocked := post()
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.NotEmpty(t, blocked.Header().Get("Retry-After"))
	assert.Contains(t, blocked.Body.String(), "RATE_LIMITED")
}

func TestTokenBucket_DisabledPassesThrough(t *testing.T) {
	e := echo.New()
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) },
		NewTokenBucket(config.RateLimitConfig{Enabled: false, Capacity: 1}, nil))
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusNoContent, doGet(e, "/x", "").Code)
	}
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/checkout", nil)
	req.RemoteAddr = "10.0.0.9:5000"
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/checkout")

	cfg := config.RateLimitConfig{Prefix: "rl", KeyStrategy: "user"}
	assert.Equal(t, "rl:user:anon", buildRateKey(cfg, c))

	c.Set(ctxUserID, "cust-7")
	assert.Equal(t, "rl:user:cust-7", buildRateKey(cfg, c))

	cfg.KeyStrategy = "ip_user"
	assert.Equal(t, "rl:ip:10.0.0.9:user:cust-7", buildRateKey(cfg, c))

	cfg.KeyStrategy = ""
	assert.Equal(t, "rl:ip:10.0.0.9:user:cust-7:route:POST /v1/checkout", buildRateKey(cfg, c))
}

func TestRedisCache(t *testing.T) {
	rdb := newRedis(t)
	cfg := config.CacheConfig{
		Enabled:      true,
		Methods:      map[string]bool{http.MethodGet: true},
		TTL:          time.Minute,
		KeyStrategy:  "route_query",
		Prefix:       "cache",
		MaxBodyBytes: 1 << 20,
	}
	calls := 0
	e := echo.New()
	e.GET("/v1/tours/:id", func(c echo.Context) error {
		calls++
		if c.Param("id") == "missing" {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "tour not found"})
		}
		return c.JSON(http.StatusOK, echo.Map{"id": c.Param("id"), "title": "City Walk"})
	}, NewRedisCache(cfg, rdb))

	miss := doGet(e, "/v1/tours/t1", "")
	require.Equal(t, http.StatusOK, miss.Code)
	assert.Equal(t, "MISS", miss.Header().Get("X-Cache"))

	hit := doGet(e, "/v1/tours/t1", "")
	require.Equal(t, http.StatusOK, hit.Code)
	assert.Equal(t, "HIT", hit.Header().Get("X-Cache"))
	assert.JSONEq(t, miss.Body.String(), hit.Body.String())
	assert.True(t, strings.HasPrefix(hit.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON))
	assert.Equal(t, 1, calls)

	// other path params get their own entry
	doGet(e, "/v1/tours/t2", "")
	assert.Equal(t, 2, calls)

	// errors are not cached
	doGet(e, "/v1/tours/missing", "")
	doGet(e, "/v1/tours/missing", "")
	assert.Equal(t, 4, calls)
}

func TestRequestLogger_PassesThrough(t *testing.T) {
	e := echo.New()
	e.Use(RequestLogger())
	e.GET("/ok", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	rec := doGet(e, "/ok", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
