package testutil

import (
	"context"
	"sync"

	"csync/internal/csync"
)

// PushedMetric is one call recorded by RecordingSink.
type PushedMetric struct {
	Job    string
	Metric string
	Value  float64
	Type   csync.MetricType
}

// RecordingSink records every pushed metric. When Err is set, Push records the
// call and then returns a SinkError.
type RecordingSink struct {
	mu     sync.Mutex
	pushes []PushedMetric
	Err    error
}

func NewRecordingSink() *RecordingSink { return &RecordingSink{} }

func (s *RecordingSink) Push(_ context.Context, job, metric string, value float64, typ csync.MetricType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushes = append(s.pushes, PushedMetric{Job: job, Metric: metric, Value: value, Type: typ})
	if s.Err != nil {
		return &csync.SinkError{Job: job, Metric: metric, Err: s.Err}
	}
	return nil
}

// ForJob returns the metrics pushed for job keyed by metric name.
func (s *RecordingSink) ForJob(job string) map[string]PushedMetric {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]PushedMetric{}
	for _, p := range s.pushes {
		if p.Job == job {
			out[p.Metric] = p
		}
	}
	return out
}

// All returns every recorded push in order.
func (s *RecordingSink) All() []PushedMetric {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PushedMetric{}, s.pushes...)
}

var _ csync.MetricsSink = (*RecordingSink)(nil)
