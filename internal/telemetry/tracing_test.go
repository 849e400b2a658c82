package telemetry

import (
	"context"
	"testing"
)

func TestInitTracing_DisabledWithoutEndpoint(t *testing.T) {
	tp, err := InitTracing(context.Background(), "svc", "")
	if err != nil || tp != nil {
		t.Fatalf("want disabled tracing, got tp=%v err=%v", tp, err)
	}
	if err := ShutdownTracing(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	_, span := Tracer().Start(context.Background(), "noop")
	span.End()
}
