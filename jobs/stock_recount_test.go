package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeRecounter struct {
	drift int
	err   error
	calls int
}

func (f *fakeRecounter) Recount(ctx context.Context) (int, error) {
	f.calls++
	return f.drift, f.err
}

type fakeInvalidator struct {
	calls int
}

func (f *fakeInvalidator) Invalidate(ctx context.Context) error {
	f.calls++
	return nil
}

func TestStockRecountInvalidatesReportsOnDrift(t *testing.T) {
	recounter := &fakeRecounter{drift: 2}
	reports := &fakeInvalidator{}
	job := NewStockRecountJob(recounter, reports, quietLogger(), testMetrics())

	task, err := NewStockRecountTask(time.Now())
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 1, recounter.calls)
	require.Equal(t, 1, reports.calls)
}

func TestStockRecountLeavesCacheWhenClean(t *testing.T) {
	recounter := &fakeRecounter{drift: 0}
	reports := &fakeInvalidator{}
	job := NewStockRecountJob(recounter, reports, quietLogger(), testMetrics())

	task, err := NewStockRecountTask(time.Now())
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Zero(t, reports.calls)
}
