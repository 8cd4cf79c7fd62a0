package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type fakeMarker struct {
	asOf   time.Time
	marked int
	err    error
}

func (f *fakeMarker) MarkOverdue(ctx context.Context, asOf time.Time) (int, error) {
	f.asOf = asOf
	return f.marked, f.err
}

func TestOverdueScanMarksAsOfNow(t *testing.T) {
	marker := &fakeMarker{marked: 3}
	job := NewOverdueScanJob(marker, quietLogger(), testMetrics())
	fixed := time.Date(2026, 4, 1, 6, 30, 0, 0, time.UTC)
	job.clock = func() time.Time { return fixed }

	task, err := NewOverdueScanTask(fixed)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, fixed, marker.asOf)
}

func TestOverdueScanPropagatesError(t *testing.T) {
	marker := &fakeMarker{err: errors.New("db down")}
	job := NewOverdueScanJob(marker, quietLogger(), testMetrics())

	task, err := NewOverdueScanTask(time.Now())
	require.NoError(t, err)

	require.Error(t, job.Handle(context.Background(), task))
}

func TestOverdueScanSkipsBadPayload(t *testing.T) {
	job := NewOverdueScanJob(&fakeMarker{}, quietLogger(), testMetrics())

	err := job.Handle(context.Background(), asynq.NewTask(TaskOverdueScan, []byte("not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
