package server

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-jwt-secret"

func jwtApp(t *testing.T) *fiber.App {
	t.Helper()
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(NewAuthMiddleware(AuthConfig{Mode: "jwt", JWTSecret: testJWTSecret}, zerolog.Nop()))
	app.Get("/api/v1/templates", func(c *fiber.Ctx) error { return c.SendStatus(http.StatusOK) })
	app.Post("/api/v1/grants/elevated", requireRole(RoleAdmin), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusCreated)
	})
	return app
}

func mintJWT(t *testing.T, role, secret string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "tester",
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAuth_NoneMode(t *testing.T) {
	app := testApp(t, "none", "")

	req, _ := http.NewRequest("GET", "/api/v1/templates", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth_APIKey_Valid(t *testing.T) {
	app := testApp(t, "api-key", "test-secret-key")

	req, _ := http.NewRequest("GET", "/api/v1/templates", nil)
	req.Header.Set("Authorization", "Bearer test-secret-key")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth_APIKey_Missing(t *testing.T) {
	app := testApp(t, "api-key", "test-secret-key")

	req, _ := http.NewRequest("GET", "/api/v1/templates", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var problem ProblemDetail
	json.NewDecoder(resp.Body).Decode(&problem)
	assert.Equal(t, "missing_auth", problem.Type)
}

func TestAuth_APIKey_Invalid(t *testing.T) {
	app := testApp(t, "api-key", "test-secret-key")

	req, _ := http.NewRequest("GET", "/api/v1/templates", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var problem ProblemDetail
	json.NewDecoder(resp.Body).Decode(&problem)
	assert.Equal(t, "invalid_api_key", problem.Type)
}

func TestAuth_APIKey_InvalidScheme(t *testing.T) {
	app := testApp(t, "api-key", "test-secret-key")

	req, _ := http.NewRequest("GET", "/api/v1/templates", nil)
	req.Header.Set("Authorization", "Basic dGVzdDp0ZXN0")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuth_JWT_Valid(t *testing.T) {
	app := jwtApp(t)

	req, _ := http.NewRequest("GET", "/api/v1/templates", nil)
	req.Header.Set("Authorization", "Bearer "+mintJWT(t, "admin", testJWTSecret))

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth_JWT_WrongSecret(t *testing.T) {
	app := jwtApp(t)

	req, _ := http.NewRequest("GET", "/api/v1/templates", nil)
	req.Header.Set("Authorization", "Bearer "+mintJWT(t, "admin", "other-secret"))

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var problem ProblemDetail
	json.NewDecoder(resp.Body).Decode(&problem)
	assert.Equal(t, "invalid_token", problem.Type)
}

func TestAuth_JWT_RoleEnforced(t *testing.T) {
	app := jwtApp(t)

	// A readonly token cannot hit an admin route.
	req, _ := http.NewRequest("POST", "/api/v1/grants/elevated", nil)
	req.Header.Set("Authorization", "Bearer "+mintJWT(t, "readonly", testJWTSecret))

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// An admin token can.
	req, _ = http.NewRequest("POST", "/api/v1/grants/elevated", nil)
	req.Header.Set("Authorization", "Bearer "+mintJWT(t, "admin", testJWTSecret))

	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestAuth_ProbeEndpoints_NoAuth(t *testing.T) {
	app := testApp(t, "api-key", "test-secret-key")

	// Probe endpoints should NOT require auth
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		req, _ := http.NewRequest("GET", path, nil)
		resp, err := app.Test(req, -1)
		require.NoError(t, err, "path: %s", path)
		assert.Equal(t, http.StatusOK, resp.StatusCode, "path: %s", path)
	}
}

func TestRateLimit_Exceeded(t *testing.T) {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(NewRateLimitMiddleware(RateLimitConfig{RPS: 1, Burst: 2}))
	app.Get("/api/v1/templates", func(c *fiber.Ctx) error { return c.SendStatus(http.StatusOK) })

	var limited bool
	for i := 0; i < 5; i++ {
		req, _ := http.NewRequest("GET", "/api/v1/templates", nil)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
		}
	}
	assert.True(t, limited)
}
