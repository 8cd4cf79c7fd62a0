package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-rms/meridian-rms/internal/platform/httpx"
	"github.com/meridian-rms/meridian-rms/internal/shared"
	_ "github.com/meridian-rms/meridian-rms/testing"
)

type memoryUserRepo struct {
	users  map[int64]User
	nextID int64
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{users: make(map[int64]User)}
}

func (m *memoryUserRepo) List(ctx context.Context, req shared.PageRequest, search string, includeInactive bool) ([]User, int, error) {
	var out []User
	for _, u := range m.users {
		if !includeInactive && !u.IsActive {
			continue
		}
		out = append(out, u)
	}
	return out, len(out), nil
}

func (m *memoryUserRepo) Get(ctx context.Context, id int64) (User, error) {
	u, ok := m.users[id]
	if !ok {
		return User{}, httpx.ErrNotFound
	}
	return u, nil
}

func (m *memoryUserRepo) Create(ctx context.Context, user User) (int64, error) {
	for _, u := range m.users {
		if u.Email == user.Email {
			return 0, httpx.ErrConflict
		}
	}
	m.nextID++
	user.ID = m.nextID
	m.users[user.ID] = user
	return user.ID, nil
}

func (m *memoryUserRepo) Update(ctx context.Context, user User) error {
	existing, ok := m.users[user.ID]
	if !ok {
		return httpx.ErrNotFound
	}
	existing.Email = user.Email
	existing.Name = user.Name
	existing.IsActive = user.IsActive
	m.users[user.ID] = existing
	return nil
}

func (m *memoryUserRepo) UpdatePassword(ctx context.Context, id int64, hash string) error {
	u, ok := m.users[id]
	if !ok {
		return httpx.ErrNotFound
	}
	u.PasswordHash = hash
	m.users[id] = u
	return nil
}

func (m *memoryUserRepo) Deactivate(ctx context.Context, id int64) error {
	u, ok := m.users[id]
	if !ok {
		return httpx.ErrNotFound
	}
	u.IsActive = false
	m.users[id] = u
	return nil
}

type memoryRoles struct {
	assignments map[int64][]int64
}

func (m *memoryRoles) UserRoles(ctx context.Context, userID int64) ([]string, error) {
	var names []string
	for range m.assignments[userID] {
		names = append(names, "role")
	}
	return names, nil
}

func (m *memoryRoles) ReplaceUserRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	if m.assignments == nil {
		m.assignments = make(map[int64][]int64)
	}
	m.assignments[userID] = roleIDs
	return nil
}

func TestCreateHashesPassword(t *testing.T) {
	repo := newMemoryUserRepo()
	svc := NewService(repo, &memoryRoles{}, nil)

	user, err := svc.Create(context.Background(), CreateInput{
		Email:    "new@meridian.test",
		Name:     "New User",
		Password: "super-secret-1",
	}, 1)
	require.NoError(t, err)
	require.True(t, user.IsActive)

	stored := repo.users[user.ID]
	require.NotEqual(t, "super-secret-1", stored.PasswordHash)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("super-secret-1")))
}

func TestCreateDuplicateEmailConflicts(t *testing.T) {
	repo := newMemoryUserRepo()
	svc := NewService(repo, &memoryRoles{}, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Email: "dup@meridian.test", Name: "A", Password: "password-123"}, 1)
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateInput{Email: "dup@meridian.test", Name: "B", Password: "password-123"}, 1)
	require.ErrorIs(t, err, httpx.ErrConflict)
}

func TestDeactivateIsSoftDelete(t *testing.T) {
	repo := newMemoryUserRepo()
	svc := NewService(repo, &memoryRoles{}, nil)
	ctx := context.Background()

	user, err := svc.Create(ctx, CreateInput{Email: "x@meridian.test", Name: "X", Password: "password-123"}, 1)
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(ctx, user.ID, 1))

	// Still readable by id, just inactive.
	got, err := svc.Get(ctx, user.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)
}

func TestReplaceRolesUnknownUser(t *testing.T) {
	svc := NewService(newMemoryUserRepo(), &memoryRoles{}, nil)
	_, err := svc.ReplaceRoles(context.Background(), 99, []int64{1}, 1)
	require.ErrorIs(t, err, httpx.ErrNotFound)
}
