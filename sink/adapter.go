// Package sink defines the output side of a pipeline. Every sink receives the
// readings left after the filter chain, one batch at a time.
package sink

import (
	"fmt"
	"sort"

	"scriptfilter/internal/reading"
)

// Adapter is the common behaviour every sink exposes.
type Adapter interface {
	Configure(any) error // driver-specific config struct
	// Push delivers one batch. The batch may be empty.
	Push([]*reading.Reading) error
	Close() error // idempotent
}

/*──────── registry ───────*/

type factory = func() Adapter

var reg = map[string]factory{}

func Register(name string, f factory) { reg[name] = f }

func NewAdapter(name string) (Adapter, error) {
	if f, ok := reg[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown sink %q (have %v)", name, Names())
}

func Names() []string {
	out := make([]string, 0, len(reg))
	for k := range reg {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
