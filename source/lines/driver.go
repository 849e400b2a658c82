// Package lines is a file source: each non-blank line of a file is one frame
// holding a JSON reading (or array of readings).
package lines

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"scriptfilter/source"
)

func init() {
	source.Register("file", "lines", func() source.Adapter { return &driver{} })
}

type Config struct {
	Path string `yaml:"path"`
	// MaxLineBytes bounds a single line; 0 means 1 MiB.
	MaxLineBytes int `yaml:"max_line_bytes"`
}

type driver struct {
	cfg Config
	f   *os.File
}

func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("file source: expected lines.Config, got %T", raw)
	}
	if c.Path == "" {
		return fmt.Errorf("file source: path is required")
	}
	if c.MaxLineBytes <= 0 {
		c.MaxLineBytes = 1 << 20
	}
	f, err := os.Open(c.Path)
	if err != nil {
		return fmt.Errorf("file source: %w", err)
	}
	d.cfg, d.f = c, f
	return nil
}

// Run emits every line and returns nil at end of file.
func (d *driver) Run(ctx context.Context, emit source.EmitFunc) error {
	sc := bufio.NewScanner(d.f)
	sc.Buffer(make([]byte, 0, 64*1024), d.cfg.MaxLineBytes)
	var line int64
	for sc.Scan() {
		line++
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		fr := &source.Frame{
			Value:      append([]byte(nil), b...),
			Ts:         time.Now(),
			Checkpoint: source.Checkpoint{Topic: d.cfg.Path, Offset: line},
		}
		if err := emit(fr); err != nil {
			return err
		}
	}
	return sc.Err()
}

func (d *driver) Close() error {
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}
