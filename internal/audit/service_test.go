package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-rms/meridian-rms/internal/platform/httpx"
	_ "github.com/meridian-rms/meridian-rms/testing"
)

type captureRepo struct {
	filter  ListFilter
	entries []Entry
	total   int
}

func (r *captureRepo) List(ctx context.Context, filter ListFilter) ([]Entry, int, error) {
	r.filter = filter
	return r.entries, r.total, nil
}

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return d
}

func TestListRejectsInvertedWindow(t *testing.T) {
	svc := NewService(&captureRepo{})

	_, _, err := svc.List(context.Background(), ListFilter{
		From: day(t, "2026-03-10"),
		To:   day(t, "2026-03-01"),
	})
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestListTreatsToAsInclusiveDate(t *testing.T) {
	repo := &captureRepo{}
	svc := NewService(repo)

	_, _, err := svc.List(context.Background(), ListFilter{
		From: day(t, "2026-03-01"),
		To:   day(t, "2026-03-05"),
	})
	require.NoError(t, err)
	require.Equal(t, day(t, "2026-03-01"), repo.filter.From)
	require.Equal(t, day(t, "2026-03-06"), repo.filter.To, "upper bound covers the whole To day")
}

func TestListPassesFiltersThrough(t *testing.T) {
	repo := &captureRepo{
		entries: []Entry{{ID: 1, Action: "rentals:create", Entity: "rental", EntityID: "7"}},
		total:   1,
	}
	svc := NewService(repo)

	entries, total, err := svc.List(context.Background(), ListFilter{
		ActorID:  42,
		Entity:   "rental",
		EntityID: "7",
		Action:   "rentals:create",
	})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, entries, 1)
	require.Equal(t, int64(42), repo.filter.ActorID)
	require.Equal(t, "rental", repo.filter.Entity)
}

func TestListNeverReturnsNilSlice(t *testing.T) {
	svc := NewService(&captureRepo{})

	entries, total, err := svc.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	require.Zero(t, total)
	require.NotNil(t, entries)
	require.Empty(t, entries)
}
