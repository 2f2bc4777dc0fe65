package telemetry

import (
	"context"

	"github.com/robalyx/arbiter/internal/setup/config"
	"github.com/uptrace/uptrace-go/uptrace"
)

// SetupTracing configures the OpenTelemetry exporter. Tracing stays on the
// global no-op provider when no DSN is configured. The returned function
// flushes pending spans.
func SetupTracing(cfg *config.Telemetry, serviceName, version string) func(context.Context) error {
	if cfg.UptraceDSN == "" {
		return func(context.Context) error { return nil }
	}

	uptrace.ConfigureOpentelemetry(
		uptrace.WithDSN(cfg.UptraceDSN),
		uptrace.WithServiceName(serviceName),
		uptrace.WithServiceVersion(version),
	)

	return uptrace.Shutdown
}
