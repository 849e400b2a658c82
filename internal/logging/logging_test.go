package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"fatal":   LevelFatal,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFatal_RendersLevelName(t *testing.T) {
	orig := L()
	t.Cleanup(func() { def.Store(orig) })

	var buf bytes.Buffer
	Configure(Options{Level: "error", Writer: &buf})
	Fatal(nil, "script fault", "filter", "f1")
	L().Warn("filtered out")

	out := buf.String()
	if !strings.Contains(out, "level=FATAL") {
		t.Fatalf("expected FATAL level in %q", out)
	}
	if strings.Contains(out, "filtered out") {
		t.Fatalf("warn record should be below configured level: %q", out)
	}
}
