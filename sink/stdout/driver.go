package stdout

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"scriptfilter/internal/reading"
	"scriptfilter/sink"
)

/* ────────── config ────────── */
type Config struct {
	Pretty       bool `yaml:"pretty"`
	PrintCounter bool `yaml:"print_counter"` // prefix every line with a sequence number
	// Writer defaults to os.Stdout.
	Writer io.Writer `yaml:"-"`
}

/* ────────── driver ────────── */
type driver struct {
	cfg Config

	mu  sync.Mutex // serializes writes and seq
	seq uint64
}

func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("stdout-sink: expected Config, got %T", raw)
	}
	if c.Writer == nil {
		c.Writer = os.Stdout
	}
	d.cfg = c
	return nil
}

func (d *driver) Push(batch []*reading.Reading) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range batch {
		var (
			b   []byte
			err error
		)
		if d.cfg.Pretty {
			b, err = json.MarshalIndent(r, "", "  ")
		} else {
			b, err = json.Marshal(r)
		}
		if err != nil {
			return fmt.Errorf("stdout-sink: %w", err)
		}
		if d.cfg.PrintCounter {
			d.seq++
			_, err = fmt.Fprintf(d.cfg.Writer, "[sink %06d] %s\n", d.seq, b)
		} else {
			_, err = fmt.Fprintf(d.cfg.Writer, "%s\n", b)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *driver) Close() error { return nil }

/* ────────── auto-register ────────── */
func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
