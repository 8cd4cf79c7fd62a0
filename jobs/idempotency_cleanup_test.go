package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type fakeCleaner struct {
	olderThan time.Duration
	removed   int64
}

func (f *fakeCleaner) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return f.removed, nil
}

func TestIdempotencyCleanupUsesPayloadTTL(t *testing.T) {
	cleaner := &fakeCleaner{removed: 5}
	job := NewIdempotencyCleanupJob(cleaner, quietLogger(), testMetrics())

	task, err := NewIdempotencyCleanupTask(72 * time.Hour)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 72*time.Hour, cleaner.olderThan)
}

func TestIdempotencyCleanupDefaultsTTL(t *testing.T) {
	cleaner := &fakeCleaner{}
	job := NewIdempotencyCleanupJob(cleaner, quietLogger(), testMetrics())

	err := job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, []byte(`{"ttl_hours":0}`)))
	require.NoError(t, err)
	require.Equal(t, 48*time.Hour, cleaner.olderThan)
}
