package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/meridian-rms/meridian-rms/internal/shared"
	_ "github.com/meridian-rms/meridian-rms/testing"
)

type memoryRBACRepo struct {
	perms map[int64][]string
	calls int
}

func (m *memoryRBACRepo) ListRoles(ctx context.Context) ([]Role, error)       { return nil, nil }
func (m *memoryRBACRepo) GetRole(ctx context.Context, id int64) (Role, error) { return Role{}, nil }
func (m *memoryRBACRepo) CreateRole(ctx context.Context, name, description string, permissions []string) (int64, error) {
	return 1, nil
}
func (m *memoryRBACRepo) UpdateRole(ctx context.Context, id int64, name, description string, permissions []string) error {
	return nil
}
func (m *memoryRBACRepo) DeleteRole(ctx context.Context, id int64) error { return nil }
func (m *memoryRBACRepo) ListPermissions(ctx context.Context) ([]Permission, error) {
	return nil, nil
}
func (m *memoryRBACRepo) UserPermissions(ctx context.Context, userID int64) ([]string, error) {
	m.calls++
	return m.perms[userID], nil
}
func (m *memoryRBACRepo) UserRoles(ctx context.Context, userID int64) ([]string, error) {
	return nil, nil
}
func (m *memoryRBACRepo) ReplaceUserRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	m.perms[userID] = nil
	return nil
}

func newCachedService(t *testing.T, repo *memoryRBACRepo) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewService(repo, client)
}

func TestEffectivePermissionsCached(t *testing.T) {
	repo := &memoryRBACRepo{perms: map[int64][]string{9: {"inventory.view", "sales.edit"}}}
	svc := newCachedService(t, repo)
	ctx := context.Background()

	perms, err := svc.EffectivePermissions(ctx, 9)
	require.NoError(t, err)
	require.Equal(t, []string{"inventory.view", "sales.edit"}, perms)
	require.Equal(t, 1, repo.calls)

	// Second lookup served from redis.
	perms, err = svc.EffectivePermissions(ctx, 9)
	require.NoError(t, err)
	require.Equal(t, []string{"inventory.view", "sales.edit"}, perms)
	require.Equal(t, 1, repo.calls)
}

func TestReplaceUserRolesInvalidatesCache(t *testing.T) {
	repo := &memoryRBACRepo{perms: map[int64][]string{9: {"inventory.view"}}}
	svc := newCachedService(t, repo)
	ctx := context.Background()

	_, err := svc.EffectivePermissions(ctx, 9)
	require.NoError(t, err)
	require.Equal(t, 1, repo.calls)

	require.NoError(t, svc.ReplaceUserRoles(ctx, 9, nil))

	perms, err := svc.EffectivePermissions(ctx, 9)
	require.NoError(t, err)
	require.Empty(t, perms)
	require.Equal(t, 2, repo.calls)
}

func TestMiddlewareDeniesWithoutPermission(t *testing.T) {
	repo := &memoryRBACRepo{perms: map[int64][]string{5: {"sales.view"}}}
	svc := NewService(repo, nil)
	mw := Middleware{Service: svc}

	var reached bool
	handler := mw.RequireAny("inventory.edit")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	// No principal at all.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Principal without the permission.
	req := httptest.NewRequest("GET", "/", nil)
	req = req.WithContext(shared.ContextWithPrincipal(req.Context(), &shared.Principal{UserID: 5}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, rec.Body.String(), "INSUFFICIENT_PERMISSIONS")
	require.False(t, reached)
}

func TestMiddlewareAllowsGranted(t *testing.T) {
	repo := &memoryRBACRepo{perms: map[int64][]string{5: {"inventory.edit", "inventory.view"}}}
	mw := Middleware{Service: NewService(repo, nil)}

	var reached bool
	handler := mw.RequireAll("inventory.edit", "inventory.view")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req = req.WithContext(shared.ContextWithPrincipal(req.Context(), &shared.Principal{UserID: 5}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, reached)
}
