// Package metrics pushes per-task sync metrics to a Prometheus Pushgateway.
package metrics

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/imroc/req/v3"

	"csync/internal/csync"
)

// Prefix is prepended to every metric name.
const Prefix = "csync_"

// PushgatewaySink POSTs one metric per request in the text exposition format.
type PushgatewaySink struct {
	client  *req.Client
	baseURL string
}

// NewPushgatewaySink creates a sink for the gateway at baseURL.
func NewPushgatewaySink(baseURL string, timeout time.Duration) *PushgatewaySink {
	client := req.C().
		SetTimeout(timeout).
		SetCommonRetryCount(2).
		SetCommonRetryFixedInterval(250 * time.Millisecond).
		SetUserAgent("csync")
	return &PushgatewaySink{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Push sends a single metric under job. Transport failures and non-2xx
// responses are returned as *csync.SinkError.
func (s *PushgatewaySink) Push(ctx context.Context, job, metric string, value float64, typ csync.MetricType) error {
	name := MetricName(metric)
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "text/plain").
		SetBodyString(Format(name, value, typ)).
		Post(s.baseURL + "/metrics/job/" + url.PathEscape(job))
	if err != nil {
		return &csync.SinkError{Job: job, Metric: name, Err: err}
	}
	if !resp.IsSuccessState() {
		return &csync.SinkError{Job: job, Metric: name, Err: fmt.Errorf("unexpected status %d", resp.GetStatusCode())}
	}
	return nil
}

// Format renders one metric in the exposition format:
//
//	# TYPE <name> <type>
//	<name> <value>
func Format(name string, value float64, typ csync.MetricType) string {
	return fmt.Sprintf("# TYPE %s %s\n%s %s\n", name, typ, name, strconv.FormatFloat(value, 'g', -1, 64))
}

// MetricName prefixes metric and replaces characters Prometheus rejects.
func MetricName(metric string) string {
	var b strings.Builder
	b.WriteString(Prefix)
	for _, r := range strings.TrimPrefix(metric, Prefix) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == ':':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

var _ csync.MetricsSink = (*PushgatewaySink)(nil)
