// Package source defines the input side of a pipeline: drivers that emit
// frames of encoded readings and, optionally, accept acknowledgements once
// the frames' readings have reached every sink.
package source

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Checkpoint locates a frame in its source. Kafka fills all fields; file
// sources use Topic for the path and Offset for the line number.
type Checkpoint struct {
	Topic     string
	Partition int32
	Offset    int64
}

func (c Checkpoint) String() string {
	return fmt.Sprintf("%s[%d]@%d", c.Topic, c.Partition, c.Offset)
}

// Frame is one raw record from a source. Value holds a JSON reading or an
// array of readings.
type Frame struct {
	Key        []byte
	Value      []byte
	Headers    map[string][]byte
	Ts         time.Time
	Checkpoint Checkpoint
}

type EmitFunc func(*Frame) error

type Adapter interface {
	Configure(any) error
	Run(context.Context, EmitFunc) error
	Close() error
}

// AckAware sources are told when a frame has been fully processed.
type AckAware interface {
	OnAck(Checkpoint)
}

/*──────── registry ───────*/

// Factory builds an Adapter.
type Factory func() Adapter

var registry = map[string]Factory{}

func key(kind, driver string) string { return kind + "/" + driver }

// Register is called from each driver's init().
func Register(kind, driver string, f Factory) {
	registry[key(kind, driver)] = f
}

// NewAdapter returns a driver by kind and name ("kafka", "sarama").
func NewAdapter(kind, driver string) (Adapter, error) {
	if f, ok := registry[key(kind, driver)]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("source: unsupported %s driver %q (have %v)", kind, driver, Drivers())
}

func Drivers() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
