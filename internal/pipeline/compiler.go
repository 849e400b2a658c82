package pipeline

import (
	"errors"
	"fmt"
	"time"

	"scriptfilter/internal/config"
	"scriptfilter/internal/filter"
	"scriptfilter/internal/interp"
	"scriptfilter/internal/logging"
	"scriptfilter/internal/spec"
	"scriptfilter/internal/telemetry"
	"scriptfilter/sink"
	"scriptfilter/sink/stdout"
	"scriptfilter/source"
	"scriptfilter/source/lines"
)

// Compile builds a Runner from a pipeline YAML. Every declared filter is
// attached to host. A filter whose script fails to bind is kept: it drops
// batches until a reconfiguration succeeds.
func Compile(path string, host *interp.Host, m *telemetry.Metrics) (*Runner, error) {
	cfg, confPath, err := config.LoadPipelineSpec(path)
	if err != nil {
		return nil, err
	}
	r := NewRunner(m, BatchConfig{
		MaxReadings: cfg.Batch.MaxReadings,
		Flush:       time.Duration(cfg.Batch.FlushMS) * time.Millisecond,
	})
	r.logBatches = cfg.Debug.LogBatches

	if err := compile(r, cfg, confPath, host, m); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

func compile(r *Runner, cfg spec.File, confPath string, host *interp.Host, m *telemetry.Metrics) error {
	/*──────── source ───────*/
	kind := cfg.Source.Kind
	var srcCfg any
	switch kind {
	case "kafka":
		kc, err := config.LoadKafkaConfig(confPath)
		if err != nil {
			return err
		}
		srcCfg = kc
	case "file":
		srcCfg = lines.Config{Path: confPath}
	default:
		return fmt.Errorf("unsupported source %q", kind)
	}
	src, err := source.NewAdapter(kind, cfg.Source.Driver)
	if err != nil {
		return err
	}
	if err := src.Configure(srcCfg); err != nil {
		return err
	}
	r.SetSource(src)
	if aw, ok := src.(source.AckAware); ok {
		r.SubscribeAck(aw.OnAck)
	}

	/*──────── filters ───────*/
	for _, fs := range cfg.Filters {
		cat, err := config.LoadFilterCategory(fs)
		if err != nil {
			return err
		}
		f, err := filter.Init(fs.Name, cat, host, filter.WithMetrics(m))
		if f == nil {
			return err
		}
		if err != nil {
			logging.L().Warn("filter starts uninitialized", "filter", fs.Name, "err", err)
		}
		if err := r.AddFilter(f); err != nil {
			f.Shutdown()
			return err
		}
	}

	/*──────── sinks ───────*/
	for _, name := range cfg.Sinks {
		sDrv, err := sink.NewAdapter(name)
		if err != nil {
			return err
		}
		switch name {
		case "stdout":
			err = sDrv.Configure(stdout.Config{
				Pretty:       cfg.SinkConfigs.Stdout.Pretty,
				PrintCounter: cfg.Debug.PrintCounter,
			})
		case "kafka":
			kc, lerr := config.LoadKafkaSinkConfig(cfg.SinkConfigs.Kafka)
			if err = lerr; err == nil {
				err = sDrv.Configure(kc)
			}
		default:
			err = errors.New("no config block")
		}
		if err != nil {
			return fmt.Errorf("sink %q: %w", name, err)
		}
		r.AddSink(name, sDrv)
	}
	return nil
}
