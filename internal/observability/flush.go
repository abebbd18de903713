package observability

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

// DefaultPushJob is the Pushgateway job label used when none is configured.
const DefaultPushJob = "weather_collector"

// PushMetrics pushes the process's metrics to a Pushgateway under job and,
// when set, instance. The grouping key must stay the same from run to run so
// each push replaces the previous one. Empty url is a no-op.
func PushMetrics(ctx context.Context, url, job, instance string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil
	}
	if job == "" {
		job = DefaultPushJob
	}
	pusher := push.New(url, job).Gatherer(registry)
	if instance != "" {
		pusher = pusher.Grouping("instance", instance)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

// DefaultInstance is the host name, used as the Pushgateway instance label.
// It returns "" when the host name is unavailable.
func DefaultInstance() string {
	host, err := os.Hostname()
	if err != nil {
		return ""
	}
	return host
}

// FlushTelemetry pushes metrics (when a Pushgateway is configured) and flushes
// logs. Call once before process exit.
func FlushTelemetry(ctx context.Context, logger *zap.Logger, pushURL, job, instance string) error {
	if err := PushMetrics(ctx, pushURL, job, instance); err != nil {
		if logger != nil {
			logger.Warn("metrics push failed", zap.String("pushgateway", pushURL), zap.Error(err))
		}
	}
	if logger != nil {
		if err := logger.Sync(); err != nil {
			return fmt.Errorf("flush logs: %w", err)
		}
	}
	return nil
}
