package perf

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	jobmetrics "github.com/meridian-rms/meridian-rms/internal/jobs"
	"github.com/meridian-rms/meridian-rms/jobs"
)

// Drives a realistic mix of task executions through the metrics pipeline and
// checks the recorded series stay inside the envelopes the alert rules assume.
func TestTaskMetricsThroughputAndReliability(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)

	// Webhook deliveries are short and mostly succeed.
	for i := 0; i < 60; i++ {
		tracker := metrics.Track(jobs.TaskWebhookDeliver)
		time.Sleep(8 * time.Millisecond)
		if err := tracker.End(nil); err != nil {
			t.Fatalf("unexpected error ending delivery tracker: %v", err)
		}
		metrics.AddWebhookDelivery("delivered")
	}

	// Nightly recounts take longer but stay well under the queue timeout.
	for i := 0; i < 10; i++ {
		tracker := metrics.Track(jobs.TaskStockRecount)
		time.Sleep(35 * time.Millisecond)
		if err := tracker.End(nil); err != nil {
			t.Fatalf("unexpected error ending recount tracker: %v", err)
		}
	}

	// A few endpoints time out so the failure counters must move too.
	for i := 0; i < 3; i++ {
		tracker := metrics.Track(jobs.TaskWebhookDeliver)
		time.Sleep(10 * time.Millisecond)
		if err := tracker.End(errors.New("endpoint timeout")); err == nil {
			t.Fatal("expected error to propagate through End")
		}
		metrics.AddWebhookDelivery("retried")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	success := metricValue(t, families, "meridian_tasks_total", map[string]string{"task": jobs.TaskWebhookDeliver, "status": "success"})
	failure := metricValue(t, families, "meridian_tasks_total", map[string]string{"task": jobs.TaskWebhookDeliver, "status": "failure"})
	if success+failure == 0 {
		t.Fatal("no webhook delivery executions recorded")
	}
	if ratio := success / (success + failure); ratio < 0.9 {
		t.Fatalf("delivery success ratio too low: %f", ratio)
	}
	if failures := metricValue(t, families, "meridian_tasks_failures_total", map[string]string{"task": jobs.TaskWebhookDeliver}); failures != failure {
		t.Fatalf("failure counters disagree: %f vs %f", failures, failure)
	}

	recountMean := histogramMean(t, families, "meridian_task_duration_seconds", map[string]string{"task": jobs.TaskStockRecount})
	if recountMean > 2.0 {
		t.Fatalf("recount duration above budget: %f", recountMean)
	}
	deliverMean := histogramMean(t, families, "meridian_task_duration_seconds", map[string]string{"task": jobs.TaskWebhookDeliver})
	if deliverMean > 0.5 {
		t.Fatalf("delivery duration above budget: %f", deliverMean)
	}

	delivered := metricValue(t, families, "meridian_webhook_deliveries_total", map[string]string{"status": "delivered"})
	retried := metricValue(t, families, "meridian_webhook_deliveries_total", map[string]string{"status": "retried"})
	if delivered != 60 || retried != 3 {
		t.Fatalf("unexpected delivery outcome counts: delivered=%f retried=%f", delivered, retried)
	}
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				if fam.GetType() == dto.MetricType_COUNTER {
					return metric.GetCounter().GetValue()
				}
				if fam.GetType() == dto.MetricType_GAUGE {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				hist := metric.GetHistogram()
				if hist == nil || hist.GetSampleCount() == 0 {
					t.Fatalf("histogram %s missing samples", name)
				}
				return hist.GetSampleSum() / float64(hist.GetSampleCount())
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	for _, lp := range metric.GetLabel() {
		if val, ok := labels[lp.GetName()]; ok {
			if lp.GetValue() != val {
				return false
			}
		}
	}
	for key := range labels {
		found := false
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == key {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
