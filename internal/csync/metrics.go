package csync

import "context"

// MetricType is the Prometheus type announced for a pushed metric.
type MetricType string

const (
	Counter MetricType = "counter"
	Gauge   MetricType = "gauge"
)

// MetricsSink delivers one metric value for a job. Delivery is best effort;
// failures are reported as *SinkError and never abort a sync.
type MetricsSink interface {
	Push(ctx context.Context, job, metric string, value float64, typ MetricType) error
}

// NopSink discards all metrics.
type NopSink struct{}

func (NopSink) Push(context.Context, string, string, float64, MetricType) error { return nil }
