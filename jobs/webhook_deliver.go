package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-rms/meridian-rms/internal/jobs"
)

// WebhookDispatcher attempts one delivery. When final is set a failure
// parks the delivery in FAILED instead of leaving it for another retry.
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, deliveryID uuid.UUID, final bool) error
}

// WebhookDeliverJob executes webhook:deliver tasks. Retry pacing belongs to
// asynq; the job only translates retry state into the delivery row.
type WebhookDeliverJob struct {
	Dispatcher WebhookDispatcher
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewWebhookDeliverJob initialises the delivery handler.
func NewWebhookDeliverJob(dispatcher WebhookDispatcher, logger *slog.Logger, metrics *jobmetrics.Metrics) *WebhookDeliverJob {
	return &WebhookDeliverJob{Dispatcher: dispatcher, Logger: logger, Metrics: metrics}
}

// Handle processes a single delivery attempt.
func (j *WebhookDeliverJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Dispatcher == nil {
		return errors.New("webhook deliver: handler not configured")
	}
	var payload WebhookDeliverPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.DeliveryID == uuid.Nil {
		return asynq.SkipRetry
	}

	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	final := retried >= maxRetry

	tracker := j.metrics().Track(TaskWebhookDeliver)
	err := j.Dispatcher.Dispatch(ctx, payload.DeliveryID, final)
	_ = tracker.End(err)

	switch {
	case err == nil:
		j.metrics().AddWebhookDelivery("delivered")
	case final:
		j.metrics().AddWebhookDelivery("failed")
		j.logger().Error("webhook delivery exhausted retries",
			slog.String("delivery_id", payload.DeliveryID.String()),
			slog.Any("error", err))
	default:
		j.metrics().AddWebhookDelivery("retried")
		j.logger().Warn("webhook delivery failed, will retry",
			slog.String("delivery_id", payload.DeliveryID.String()),
			slog.Int("attempt", retried+1),
			slog.Any("error", err))
	}
	return err
}

func (j *WebhookDeliverJob) logger() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *WebhookDeliverJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
