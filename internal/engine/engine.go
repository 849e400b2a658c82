// Package engine runs one pipeline process: the script filter chain, its
// control plane and its metrics endpoint.
package engine

import (
	"context"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"scriptfilter/internal/logging"
	"scriptfilter/internal/pipeline"
	"scriptfilter/internal/telemetry"
	"scriptfilter/internal/transport"
)

type Engine struct {
	transport *transport.Server
	runner    *pipeline.Runner
	tp        *sdktrace.TracerProvider
}

// Run serves the control plane until ctx is cancelled, then stops the
// pipeline and returns once everything is closed. A source that finishes on
// its own (a file source at EOF) does not stop the process.
func (e *Engine) Run(ctx context.Context) error {
	served := make(chan error, 1)
	go func() { served <- e.transport.Serve() }()

	var done <-chan struct{}
	if e.runner != nil {
		done = e.runner.Done()
	}
	for stop := false; !stop; {
		select {
		case <-done:
			if err := e.runner.Err(); err != nil {
				logging.L().Error("pipeline source failed", "err", err)
			} else {
				logging.L().Info("pipeline source finished")
			}
			done = nil
		case err := <-served:
			e.shutdown()
			return err
		case <-ctx.Done():
			stop = true
		}
	}
	e.transport.Stop()
	e.shutdown()
	return <-served
}

func (e *Engine) shutdown() {
	if e.runner != nil {
		if err := e.runner.Close(); err != nil {
			logging.L().Warn("pipeline close", "err", err)
		}
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := telemetry.ShutdownTracing(sctx, e.tp); err != nil {
		logging.L().Warn("tracing shutdown", "err", err)
	}
}
