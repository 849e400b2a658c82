package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"scriptfilter/internal/spec"
)

const SupportedSchema = "v1"

// LoadPipelineSpec parses a pipeline YAML, validates schema_version and the
// filter list, and returns the parsed spec and an absolute path to the source
// config (if set). Filter category files and the kafka sink config are
// resolved against the YAML's directory in place.
func LoadPipelineSpec(path string) (spec.File, string, error) {
	var cfg spec.File
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, "", err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, "", err
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SupportedSchema
	}
	if cfg.SchemaVersion != SupportedSchema {
		return cfg, "", fmt.Errorf("pipeline schema_version %q not supported (want %q)", cfg.SchemaVersion, SupportedSchema)
	}
	base := filepath.Dir(path)
	seen := make(map[string]bool, len(cfg.Filters))
	for i := range cfg.Filters {
		f := &cfg.Filters[i]
		if f.Name == "" {
			return cfg, "", fmt.Errorf("filters[%d]: name is required", i)
		}
		if seen[f.Name] {
			return cfg, "", fmt.Errorf("filters[%d]: duplicate filter name %q", i, f.Name)
		}
		seen[f.Name] = true
		if f.Category != "" && len(f.Settings) > 0 {
			return cfg, "", fmt.Errorf("filter %q: category and settings are mutually exclusive", f.Name)
		}
		f.Category = resolve(base, f.Category)
	}
	cfg.SinkConfigs.Kafka = resolve(base, cfg.SinkConfigs.Kafka)
	return cfg, resolve(base, cfg.Source.Config), nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// LoadFilterCategory builds the configuration category of one declared
// filter, reading the category file when one is named.
func LoadFilterCategory(f spec.FilterSpec) (*Category, error) {
	if f.Category == "" {
		return NewCategory(f.Name, f.Settings), nil
	}
	raw, err := os.ReadFile(f.Category)
	if err != nil {
		return nil, fmt.Errorf("filter %q: %w", f.Name, err)
	}
	return ParseCategory(f.Name, string(raw))
}
