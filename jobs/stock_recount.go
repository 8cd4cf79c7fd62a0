package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-rms/meridian-rms/internal/jobs"
)

// StockRecounter rebuilds stock_levels counters from the units table and
// reports how many rows had drifted.
type StockRecounter interface {
	Recount(ctx context.Context) (int, error)
}

// ReportInvalidator drops cached report results after a rebuild.
type ReportInvalidator interface {
	Invalidate(ctx context.Context) error
}

// StockRecountJob runs the nightly inventory counter rebuild. Drift here
// means a bug in the movement transaction, so it is logged loudly.
type StockRecountJob struct {
	Recounter StockRecounter
	Reports   ReportInvalidator
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewStockRecountJob initialises the recount handler.
func NewStockRecountJob(recounter StockRecounter, reports ReportInvalidator, logger *slog.Logger, metrics *jobmetrics.Metrics) *StockRecountJob {
	return &StockRecountJob{Recounter: recounter, Reports: reports, Logger: logger, Metrics: metrics}
}

// Handle executes the recount and invalidates report caches when counters
// moved.
func (j *StockRecountJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Recounter == nil {
		return errors.New("stock recount: handler not configured")
	}
	var payload ScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskStockRecount)
	drifted, err := j.Recounter.Recount(ctx)
	if err = tracker.End(err); err != nil {
		j.logger().Error("stock recount failed", slog.Any("error", err))
		return err
	}

	if drifted == 0 {
		j.logger().Info("stock recount clean")
		return nil
	}
	j.logger().Warn("stock recount corrected drifted counters", slog.Int("rows", drifted))
	if j.Reports != nil {
		if err := j.Reports.Invalidate(ctx); err != nil {
			j.logger().Error("invalidate report cache", slog.Any("error", err))
		}
	}
	return nil
}

func (j *StockRecountJob) logger() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *StockRecountJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
