package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPipelineSpec_ResolvesRelativePathsAndSchema(t *testing.T) {
	dir := t.TempDir()
	pipe := []byte(`schema_version: v1
source:
  kind: kafka
  driver: sarama
  config: kafka_source.yml
filters:
  - name: scale
    category: scale.json
  - name: inline
    settings:
      script: scale_script_addsum.star
      enable: true
sinks: [stdout, kafka]
sink_configs:
  kafka: kafka_sink.yml
`)
	if err := os.WriteFile(filepath.Join(dir, "pipeline.yml"), pipe, 0o644); err != nil {
		t.Fatalf("write pipeline: %v", err)
	}

	cfg, abs, err := LoadPipelineSpec(filepath.Join(dir, "pipeline.yml"))
	if err != nil {
		t.Fatalf("LoadPipelineSpec: %v", err)
	}
	if cfg.SchemaVersion != SupportedSchema {
		t.Fatalf("want schema %s, got %s", SupportedSchema, cfg.SchemaVersion)
	}
	if abs != filepath.Join(dir, "kafka_source.yml") {
		t.Fatalf("want absolute kafka config path, got %q", abs)
	}
	if got := cfg.Filters[0].Category; got != filepath.Join(dir, "scale.json") {
		t.Fatalf("category path not resolved: %q", got)
	}
	if got := cfg.SinkConfigs.Kafka; got != filepath.Join(dir, "kafka_sink.yml") {
		t.Fatalf("sink config path not resolved: %q", got)
	}
	if got := cfg.Filters[1].Settings["enable"]; got != "true" {
		t.Fatalf("want unquoted yaml bool kept as text, got %q", got)
	}
}

func TestLoadPipelineSpec_InvalidSchema(t *testing.T) {
	dir := t.TempDir()
	pipe := []byte(`schema_version: v999
source: { kind: kafka, driver: sarama, config: cf.yml }
filters: []
sinks: [stdout]
`)
	if err := os.WriteFile(filepath.Join(dir, "pipeline.yml"), pipe, 0o644); err != nil {
		t.Fatalf("write pipeline: %v", err)
	}
	_, _, err := LoadPipelineSpec(filepath.Join(dir, "pipeline.yml"))
	if err == nil {
		t.Fatal("expected error for invalid schema_version")
	}
}

func TestLoadPipelineSpec_RejectsBadFilters(t *testing.T) {
	cases := map[string]string{
		"unnamed":   "filters: [{category: a.json}]",
		"duplicate": "filters: [{name: a}, {name: a}]",
		"both":      "filters: [{name: a, category: a.json, settings: {script: x}}]",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), "pipeline.yml")
			if err := os.WriteFile(p, []byte(body+"\n"), 0o644); err != nil {
				t.Fatalf("write pipeline: %v", err)
			}
			if _, _, err := LoadPipelineSpec(p); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadEngine_Defaults(t *testing.T) {
	t.Setenv("SCRIPTFILTER_GRPC_PORT", "7171")
	t.Setenv("SCRIPTFILTER_DATA", "/var/lib/sf")
	cfg, err := LoadEngine()
	if err != nil {
		t.Fatalf("LoadEngine: %v", err)
	}
	if cfg.GRPCPort != 7171 || cfg.MetricsPort != 9100 {
		t.Fatalf("unexpected ports: %+v", cfg)
	}
	if cfg.ScriptDir() != filepath.Join("/var/lib/sf", "scripts") {
		t.Fatalf("unexpected script dir %q", cfg.ScriptDir())
	}
}
