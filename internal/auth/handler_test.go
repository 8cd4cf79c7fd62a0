package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-rms/meridian-rms/internal/auth"
	"github.com/meridian-rms/meridian-rms/internal/shared"
	_ "github.com/meridian-rms/meridian-rms/testing"
)

type stubRepo struct {
	user *auth.User
	role string
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	if s.user == nil || !strings.EqualFold(s.user.Email, email) {
		return nil, shared.ErrNotFound
	}
	return s.user, nil
}

func (s *stubRepo) FindByID(ctx context.Context, id int64) (*auth.User, error) {
	if s.user == nil || s.user.ID != id {
		return nil, shared.ErrNotFound
	}
	return s.user, nil
}

func (s *stubRepo) PrimaryRole(ctx context.Context, userID int64) (string, error) {
	return s.role, nil
}

type stubPerms struct{ perms []string }

func (s *stubPerms) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	return s.perms, nil
}

func testUser(t *testing.T, password string) *auth.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &auth.User{
		ID:           7,
		Email:        "ops@meridian.test",
		Name:         "Ops Manager",
		PasswordHash: string(hash),
		IsActive:     true,
	}
}

func buildRouter(t *testing.T, repo auth.Repository, perms auth.PermissionSource) (chi.Router, *auth.TokenIssuer) {
	t.Helper()
	issuer, err := auth.NewTokenIssuer("handler-test-secret", time.Hour)
	require.NoError(t, err)
	handler := auth.NewHandler(nil, auth.NewService(repo, issuer), perms)

	r := chi.NewRouter()
	r.Route("/auth", handler.MountPublicRoutes)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireBearer(issuer, nil))
		r.Route("/auth-protected", handler.MountProtectedRoutes)
	})
	return r, issuer
}

func TestLoginSuccess(t *testing.T) {
	repo := &stubRepo{user: testUser(t, "secret-password"), role: "manager"}
	router, issuer := buildRouter(t, repo, nil)

	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"ops@meridian.test","password":"secret-password"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
		User        struct {
			ID   int64  `json:"id"`
			Role string `json:"role"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "Bearer", body.TokenType)
	require.Equal(t, int64(7), body.User.ID)
	require.Equal(t, "manager", body.User.Role)
	require.Greater(t, body.ExpiresIn, int64(3500))

	claims, err := issuer.Parse(body.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "manager", claims.Role)
}

func TestLoginDoesNotDistinguishFailures(t *testing.T) {
	repo := &stubRepo{user: testUser(t, "secret-password")}
	router, _ := buildRouter(t, repo, nil)

	for _, payload := range []string{
		`{"email":"ops@meridian.test","password":"wrong-password"}`,
		`{"email":"nobody@meridian.test","password":"secret-password"}`,
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(payload)))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Contains(t, rec.Body.String(), "AUTHENTICATION_REQUIRED")
		require.NotContains(t, rec.Body.String(), "email")
	}
}

func TestLoginRejectsInactive(t *testing.T) {
	user := testUser(t, "secret-password")
	user.IsActive = false
	router, _ := buildRouter(t, &stubRepo{user: user}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"ops@meridian.test","password":"secret-password"}`)))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMeReturnsPermissions(t *testing.T) {
	repo := &stubRepo{user: testUser(t, "secret-password"), role: "manager"}
	router, issuer := buildRouter(t, repo, &stubPerms{perms: []string{"inventory.view", "sales.edit"}})

	token, _, err := issuer.Issue(7, "ops@meridian.test", "manager")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/auth-protected/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Email       string   `json:"email"`
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ops@meridian.test", body.Email)
	require.Contains(t, body.Permissions, "inventory.view")
}

func TestBearerMiddlewareRejectsGarbage(t *testing.T) {
	router, _ := buildRouter(t, &stubRepo{}, nil)

	for _, header := range []string{"", "Bearer not-a-token", "Basic abc"} {
		req := httptest.NewRequest(http.MethodGet, "/auth-protected/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
		require.Contains(t, rec.Body.String(), "AUTHENTICATION_REQUIRED")
	}
}

func TestRefreshIssuesNewToken(t *testing.T) {
	repo := &stubRepo{user: testUser(t, "secret-password"), role: "manager"}
	router, issuer := buildRouter(t, repo, nil)

	token, _, err := issuer.Issue(7, "ops@meridian.test", "manager")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/auth-protected/refresh", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	_, err = issuer.Parse(body.AccessToken)
	require.NoError(t, err)
}
