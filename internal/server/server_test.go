package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/access-engine/internal/engine"
	"github.com/p-blackswan/access-engine/internal/health"
	"github.com/p-blackswan/access-engine/internal/metrics"
	"github.com/p-blackswan/access-engine/internal/models"
	"github.com/p-blackswan/access-engine/internal/persist"
)

func testApp(t *testing.T, authMode, apiKey string) *fiber.App {
	t.Helper()

	store, err := persist.NewFileStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	eng := engine.New(store, metrics.New(), zerolog.Nop())

	checker := health.NewChecker(zerolog.Nop())
	checker.Register("store", func(ctx context.Context) health.Status {
		if err := eng.Ping(); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})

	srv := NewServer(Config{
		ListenAddr: ":0",
		AuthConfig: AuthConfig{Mode: authMode, APIKey: apiKey},
	}, eng, checker, metrics.New(), zerolog.Nop())

	return srv.App()
}

func jsonRequest(method, path string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestServer_TemplateLifecycle(t *testing.T) {
	app := testApp(t, "none", "")

	resp, err := app.Test(jsonRequest("POST", "/api/v1/templates", CreateTemplateRequest{
		Name:              "ops",
		Description:       "deploy operators",
		Permissions:       models.PermissionSet{"deploy": {models.LevelWrite}},
		RequiredApprovals: 1,
	}), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	// Duplicate name conflicts.
	resp, err = app.Test(jsonRequest("POST", "/api/v1/templates", CreateTemplateRequest{
		Name:        "ops",
		Permissions: models.PermissionSet{"deploy": {models.LevelWrite}},
	}), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	problem := decode[ProblemDetail](t, resp)
	assert.Equal(t, "duplicate_template", problem.Type)

	resp, err = app.Test(jsonRequest("GET", "/api/v1/templates/ops", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[TemplateResponse](t, resp)
	assert.Equal(t, "ops", got.Template.Name)

	resp, err = app.Test(jsonRequest("GET", "/api/v1/templates/ghost", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_RequestApprovalFlow(t *testing.T) {
	app := testApp(t, "none", "")

	resp, err := app.Test(jsonRequest("POST", "/api/v1/templates", CreateTemplateRequest{
		Name:              "ops",
		Permissions:       models.PermissionSet{"deploy": {models.LevelWrite}},
		RequiredApprovals: 1,
	}), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = app.Test(jsonRequest("POST", "/api/v1/requests", CreateRequestRequest{
		RequesterID:  "alice",
		TemplateName: "ops",
		Reason:       "need deploy",
	}), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[RequestResponse](t, resp)

	resp, err = app.Test(jsonRequest("POST", "/api/v1/requests/"+created.Request.ID+"/approve", ApproveRequest{
		ApproverID: "bob",
	}), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	approved := decode[RequestResponse](t, resp)
	assert.Equal(t, models.StatusApproved, approved.Request.Status)

	// Decision point sees the granted permission.
	resp, err = app.Test(jsonRequest("GET", "/api/v1/check?user_id=alice&component=deploy&level=write", nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	check := decode[CheckResponse](t, resp)
	assert.True(t, check.Granted)

	// Approving again conflicts: the request is no longer pending.
	resp, err = app.Test(jsonRequest("POST", "/api/v1/requests/"+created.Request.ID+"/approve", ApproveRequest{
		ApproverID: "carol",
	}), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServer_ElevatedGrantAndRevoke(t *testing.T) {
	app := testApp(t, "none", "")

	resp, err := app.Test(jsonRequest("POST", "/api/v1/grants/elevated", ElevatedGrantRequest{
		UserID:      "alice",
		Permissions: models.PermissionSet{"billing": {models.LevelAdmin}},
		GrantedBy:   "root",
		Reason:      "incident",
	}), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = app.Test(jsonRequest("GET", "/api/v1/users/alice/elevated", nil), -1)
	require.NoError(t, err)
	grants := decode[ElevatedListResponse](t, resp)
	require.Len(t, grants.Grants, 1)

	resp, err = app.Test(jsonRequest("DELETE", "/api/v1/users/alice/access/billing", nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(jsonRequest("GET", "/api/v1/users/alice/elevated", nil), -1)
	require.NoError(t, err)
	grants = decode[ElevatedListResponse](t, resp)
	assert.Empty(t, grants.Grants)
}

func TestServer_Tokens(t *testing.T) {
	app := testApp(t, "none", "")

	resp, err := app.Test(jsonRequest("POST", "/api/v1/tokens", GenerateTokenRequest{
		UserID: "alice",
	}), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	tok := decode[TokenResponse](t, resp)
	require.NotEmpty(t, tok.Token.Token)

	resp, err = app.Test(jsonRequest("GET", "/api/v1/tokens/"+tok.Token.Token, nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(jsonRequest("DELETE", "/api/v1/tokens/"+tok.Token.Token, nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(jsonRequest("GET", "/api/v1/tokens/"+tok.Token.Token, nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Tokens_ConfiguredDefaultTTL(t *testing.T) {
	store, err := persist.NewFileStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	eng := engine.New(store, metrics.New(), zerolog.Nop())

	srv := NewServer(Config{
		AuthConfig:   AuthConfig{Mode: "none"},
		TokenTTL:     30 * time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}, eng, health.NewChecker(zerolog.Nop()), metrics.New(), zerolog.Nop())
	app := srv.App()

	assert.Equal(t, 5*time.Second, app.Config().ReadTimeout)
	assert.Equal(t, 5*time.Second, app.Config().WriteTimeout)

	// No ttl_seconds in the request: the configured default applies.
	resp, err := app.Test(jsonRequest("POST", "/api/v1/tokens", GenerateTokenRequest{
		UserID: "alice",
	}), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	tok := decode[TokenResponse](t, resp)
	assert.WithinDuration(t, tok.Token.CreatedAt.Add(30*time.Minute), tok.Token.ExpiresAt, time.Second)

	// An explicit ttl_seconds still wins.
	resp, err = app.Test(jsonRequest("POST", "/api/v1/tokens", GenerateTokenRequest{
		UserID:     "alice",
		TTLSeconds: 60,
	}), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	tok = decode[TokenResponse](t, resp)
	assert.WithinDuration(t, tok.Token.CreatedAt.Add(time.Minute), tok.Token.ExpiresAt, time.Second)
}

func TestServer_ValidationRules(t *testing.T) {
	app := testApp(t, "none", "")

	resp, err := app.Test(jsonRequest("POST", "/api/v1/templates", CreateTemplateRequest{
		Name:        "ops",
		Permissions: models.PermissionSet{"deploy": {models.LevelWrite}},
	}), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = app.Test(jsonRequest("POST", "/api/v1/templates/ops/rules", models.ValidationRule{
		Type:         models.RuleRequired,
		Parameters:   map[string]any{"fields": []any{"description"}},
		ErrorMessage: "missing description",
	}), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = app.Test(jsonRequest("POST", "/api/v1/templates/ops/validate", nil), -1)
	require.NoError(t, err)
	result := decode[ValidationResponse](t, resp)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "missing description")
}

func TestServer_Inheritance(t *testing.T) {
	app := testApp(t, "none", "")

	for _, name := range []string{"base", "ops"} {
		perms := models.PermissionSet{"audit": {models.LevelRead}}
		if name == "ops" {
			perms = models.PermissionSet{"deploy": {models.LevelWrite}}
		}
		resp, err := app.Test(jsonRequest("POST", "/api/v1/templates", CreateTemplateRequest{
			Name:        name,
			Permissions: perms,
		}), -1)
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp, err := app.Test(jsonRequest("POST", "/api/v1/templates/ops/inheritance", SetInheritanceRequest{
		Parent: "base",
	}), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = app.Test(jsonRequest("GET", "/api/v1/templates/ops/effective", nil), -1)
	require.NoError(t, err)
	effective := decode[PermissionsResponse](t, resp)
	assert.True(t, effective.Permissions.Contains("deploy", models.LevelWrite))
	assert.True(t, effective.Permissions.Contains("audit", models.LevelRead))

	// The reverse edge would close a cycle.
	resp, err = app.Test(jsonRequest("POST", "/api/v1/templates/base/inheritance", SetInheritanceRequest{
		Parent: "ops",
	}), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Probes(t *testing.T) {
	app := testApp(t, "none", "")

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		req, _ := http.NewRequest("GET", path, nil)
		resp, err := app.Test(req, -1)
		require.NoError(t, err, "path: %s", path)
		assert.Equal(t, http.StatusOK, resp.StatusCode, "path: %s", path)
	}
}
