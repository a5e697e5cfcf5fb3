package observability

import (
	"github.com/smallbiznis/expertly/internal/config"
	"github.com/smallbiznis/expertly/internal/observability/logger"
	"github.com/smallbiznis/expertly/internal/observability/metrics"
	"github.com/smallbiznis/expertly/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		loggerConfig,
		logger.New,
		tracingConfig,
		tracing.NewProvider,
		metricsConfig,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
	),
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
	fx.Invoke(func(cfg metrics.Config) { metrics.SchedulerWithConfig(cfg) }),
)

func loggerConfig(cfg config.Config) logger.Config {
	return logger.Config{
		ServiceName: cfg.AppName,
		Environment: cfg.Environment,
		Version:     cfg.AppVersion,
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		Debug:       cfg.Debug(),
	}
}

func tracingConfig(cfg config.Config) tracing.Config {
	return tracing.Config{
		Enabled:          cfg.OTLPEndpoint != "",
		ServiceName:      cfg.AppName,
		ServiceVersion:   cfg.AppVersion,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.OTLPEndpoint,
		ExporterProtocol: cfg.OTLPProtocol,
	}
}

func metricsConfig(cfg config.Config) metrics.Config {
	return metrics.Config{
		Enabled:          cfg.OTLPEndpoint != "",
		ExporterEndpoint: cfg.OTLPEndpoint,
		ExporterProtocol: cfg.OTLPProtocol,
		ServiceName:      cfg.AppName,
		Environment:      cfg.Environment,
	}
}
