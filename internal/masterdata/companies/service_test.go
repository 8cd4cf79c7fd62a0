package companies

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	mdshared "github.com/meridian-rms/meridian-rms/internal/masterdata/shared"
	"github.com/meridian-rms/meridian-rms/internal/platform/httpx"
	_ "github.com/meridian-rms/meridian-rms/testing"
)

type memoryRepo struct {
	rows   map[int64]Company
	keys   map[int64]Keys
	nextID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{rows: make(map[int64]Company), keys: make(map[int64]Keys)}
}

func (m *memoryRepo) conflicts(id int64, keys Keys) bool {
	for otherID, other := range m.keys {
		if otherID == id {
			continue
		}
		if other.Name == keys.Name {
			return true
		}
		if keys.GSTNumber != nil && other.GSTNumber != nil && *other.GSTNumber == *keys.GSTNumber {
			return true
		}
		if keys.Registration != nil && other.Registration != nil && *other.Registration == *keys.Registration {
			return true
		}
	}
	return false
}

func (m *memoryRepo) List(ctx context.Context, filters mdshared.ListFilters) ([]Company, int, error) {
	var out []Company
	for _, c := range m.rows {
		if !filters.IncludeInactive && !c.IsActive {
			continue
		}
		out = append(out, c)
	}
	return out, len(out), nil
}

func (m *memoryRepo) Get(ctx context.Context, id int64) (Company, error) {
	c, ok := m.rows[id]
	if !ok {
		return Company{}, httpx.ErrNotFound
	}
	return c, nil
}

func (m *memoryRepo) Create(ctx context.Context, company Company, keys Keys) (Company, error) {
	if m.conflicts(0, keys) {
		return Company{}, httpx.ErrConflict
	}
	m.nextID++
	company.ID = m.nextID
	company.IsActive = true
	m.rows[company.ID] = company
	m.keys[company.ID] = keys
	return company, nil
}

func (m *memoryRepo) Update(ctx context.Context, id int64, company Company, keys Keys) error {
	if _, ok := m.rows[id]; !ok {
		return httpx.ErrNotFound
	}
	if m.conflicts(id, keys) {
		return httpx.ErrConflict
	}
	company.ID = id
	m.rows[id] = company
	m.keys[id] = keys
	return nil
}

func (m *memoryRepo) Delete(ctx context.Context, id int64) error {
	c, ok := m.rows[id]
	if !ok {
		return httpx.ErrNotFound
	}
	c.IsActive = false
	m.rows[id] = c
	return nil
}

func TestCreateNormalizedNameConflict(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, Company{Name: "Acme Rentals"}, 1)
	require.NoError(t, err)

	// Same name up to case and spacing must collide.
	_, err = svc.Create(ctx, Company{Name: "ACME   rentals"}, 1)
	require.ErrorIs(t, err, httpx.ErrConflict)
}

func TestCreateGSTConflictIgnoresEmpty(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, Company{Name: "First"}, 1)
	require.NoError(t, err)
	_, err = svc.Create(ctx, Company{Name: "Second"}, 1)
	require.NoError(t, err, "companies without a GST number must not collide")

	_, err = svc.Create(ctx, Company{Name: "Third", GSTNumber: "29ABCDE1234F1Z5"}, 1)
	require.NoError(t, err)
	_, err = svc.Create(ctx, Company{Name: "Fourth", GSTNumber: "29abcde1234f1z5"}, 1)
	require.ErrorIs(t, err, httpx.ErrConflict)
}

func TestDeleteIsSoft(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, Company{Name: "Ephemeral"}, 1)
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, created.ID, 1))

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)

	listed, _, err := svc.List(ctx, mdshared.ListFilters{})
	require.NoError(t, err)
	require.Empty(t, listed)
}
