package config

import (
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// OTEL holds the standard OpenTelemetry exporter variables. Tracing stays off
// unless an endpoint is set.
type OTEL struct {
	ServiceName        string `env:"OTEL_SERVICE_NAME" envDefault:"scriptfilter"`
	ResourceAttributes string `env:"OTEL_RESOURCE_ATTRIBUTES"`
	ExporterEndpoint   string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	TracesEndpoint     string `env:"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"`
}

// Endpoint prefers the traces-specific endpoint.
func (c OTEL) Endpoint() string {
	if c.TracesEndpoint != "" {
		return c.TracesEndpoint
	}
	return c.ExporterEndpoint
}

// Attributes parses OTEL_RESOURCE_ATTRIBUTES (key1=value1,key2=value2).
func (c OTEL) Attributes() []attribute.KeyValue {
	if c.ResourceAttributes == "" {
		return nil
	}
	var attrs []attribute.KeyValue
	for _, pair := range strings.Split(c.ResourceAttributes, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || strings.TrimSpace(k) == "" {
			continue
		}
		attrs = append(attrs, attribute.String(strings.TrimSpace(k), strings.TrimSpace(v)))
	}
	return attrs
}
