package metrics

import (
	"fmt"

	"csync/internal/config"
	"csync/internal/csync"
)

// NewSinkFromConfig creates the MetricsSink selected by the metrics config type.
func NewSinkFromConfig(cfg config.MetricsConfig) (csync.MetricsSink, error) {
	switch cfg.Type {
	case "", "nop":
		return csync.NopSink{}, nil
	case "pushgateway":
		if cfg.URL == "" {
			return nil, fmt.Errorf("url required for pushgateway metrics")
		}
		timeout, err := cfg.TimeoutDuration()
		if err != nil {
			return nil, err
		}
		return NewPushgatewaySink(cfg.URL, timeout), nil
	default:
		return nil, fmt.Errorf("unknown metrics type: %s", cfg.Type)
	}
}
