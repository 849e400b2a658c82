package config

import (
	"fmt"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// Engine is the process-level configuration, read from the environment.
type Engine struct {
	GRPCPort    int    `env:"SCRIPTFILTER_GRPC_PORT" envDefault:"7070"`
	MetricsPort int    `env:"SCRIPTFILTER_METRICS_PORT" envDefault:"9100"`
	PipelineYml string `env:"SCRIPTFILTER_PIPELINE" envDefault:"pipeline.yml"`
	// DataDir holds the scripts/ directory searched for filter scripts.
	DataDir string `env:"SCRIPTFILTER_DATA" envDefault:"data"`

	OTEL OTEL
}

// ScriptDir is where filter scripts are discovered.
func (e Engine) ScriptDir() string { return filepath.Join(e.DataDir, "scripts") }

func LoadEngine() (Engine, error) {
	var cfg Engine
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("engine config: %w", err)
	}
	if cfg.GRPCPort < 0 || cfg.MetricsPort < 0 {
		return cfg, fmt.Errorf("engine config: negative port")
	}
	return cfg, nil
}
