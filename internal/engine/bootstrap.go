package engine

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"scriptfilter/internal/config"
	"scriptfilter/internal/interp"
	"scriptfilter/internal/logging"
	"scriptfilter/internal/pipeline"
	"scriptfilter/internal/telemetry"
	"scriptfilter/internal/transport"
)

// Bootstrap builds the shared interpreter, compiles and starts the pipeline
// (when one is configured) and opens the control and metrics endpoints.
func Bootstrap(ctx context.Context, cfg config.Engine) (*Engine, error) {
	return bootstrap(ctx, cfg, prometheus.DefaultRegisterer)
}

func bootstrap(ctx context.Context, cfg config.Engine, reg prometheus.Registerer) (*Engine, error) {
	log := logging.L()
	host := interp.NewHost(interp.Options{ScriptDir: cfg.ScriptDir()})
	m := telemetry.NewMetrics(reg)
	tp, err := telemetry.InitTracing(ctx, cfg.OTEL.ServiceName, cfg.OTEL.Endpoint(), cfg.OTEL.Attributes()...)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	// 1. pipeline runner
	var (
		runner *pipeline.Runner
		ctl    pipeline.Registry
	)
	if cfg.PipelineYml != "" {
		runner, err = pipeline.Compile(cfg.PipelineYml, host, m)
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		if err := runner.Start(ctx); err != nil {
			_ = runner.Close()
			return nil, err
		}
		ctl = runner
		log.Info("pipeline started", "path", cfg.PipelineYml, "filters", runner.Filters())
	}

	// 2. transport server
	srv, err := transport.StartServer(cfg.GRPCPort, ctl)
	if err != nil {
		if runner != nil {
			_ = runner.Close()
		}
		return nil, fmt.Errorf("transport: %w", err)
	}

	// 3. metrics
	if cfg.MetricsPort > 0 {
		telemetry.Expose(cfg.MetricsPort)
	}

	return &Engine{
		transport: srv,
		runner:    runner,
		tp:        tp,
	}, nil
}
