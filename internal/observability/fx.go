package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/reachforge/reachforge/internal/config"
	"github.com/reachforge/reachforge/internal/observability/metrics"
	"go.uber.org/fx"
)

// Module wires the otel meter provider, the domain instruments, and the
// prometheus pipeline metrics against a dedicated registry.
var Module = fx.Module("observability",
	fx.Provide(
		provideMetricsConfig,
		metrics.NewProvider,
		metrics.New,
		provideRegistry,
		providePipelineMetrics,
	),
)

func provideMetricsConfig(cfg config.Config) metrics.Config {
	return metrics.Config{
		Enabled:          cfg.OTLPEnabled,
		ExporterEndpoint: cfg.OTLPEndpoint,
		ExporterProtocol: cfg.OTLPProtocol,
		ServiceName:      cfg.AppName,
		Environment:      cfg.Environment,
	}
}

func provideRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	return registry
}

func providePipelineMetrics(registry *prometheus.Registry) *metrics.PipelineMetrics {
	return metrics.NewPipelineMetrics(registry)
}
