// Package pipeline wires a source, an ordered chain of script filters and a
// set of sinks, and batches readings between them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"scriptfilter/internal/filter"
	"scriptfilter/internal/logging"
	"scriptfilter/internal/reading"
	"scriptfilter/internal/telemetry"
	"scriptfilter/sink"
	"scriptfilter/source"
)

var ErrUnknownFilter = errors.New("pipeline: unknown filter")

// Registry is the control-plane view of a running pipeline.
type Registry interface {
	Filters() []string
	Reconfigure(name, blob string) (bool, error)
	Status(name string) (filter.Status, error)
}

type BatchConfig struct {
	MaxReadings int
	Flush       time.Duration
}

type namedSink struct {
	name string
	sink.Adapter
}

type Runner struct {
	source  source.Adapter
	filters []*filter.Filter
	byName  map[string]*filter.Filter
	sinks   []namedSink
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	batch   BatchConfig
	// logBatches logs every flushed batch at debug level.
	logBatches bool

	mu      sync.Mutex
	subs    []func(source.Checkpoint)
	pending []*reading.Reading
	cps     []source.Checkpoint

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	done      chan struct{}
	runErr    error
	closeOnce sync.Once
}

func NewRunner(m *telemetry.Metrics, bc BatchConfig) *Runner {
	if bc.MaxReadings <= 0 {
		bc.MaxReadings = 500
	}
	if bc.Flush <= 0 {
		bc.Flush = time.Second
	}
	return &Runner{
		byName:  map[string]*filter.Filter{},
		metrics: m,
		tracer:  telemetry.Tracer(),
		batch:   bc,
		done:    make(chan struct{}),
	}
}

func (r *Runner) SetSource(s source.Adapter) { r.source = s }

func (r *Runner) SetTracer(t trace.Tracer) { r.tracer = t }

func (r *Runner) AddSink(name string, s sink.Adapter) {
	r.sinks = append(r.sinks, namedSink{name: name, Adapter: s})
}

// AddFilter appends f to the chain. Names must be unique.
func (r *Runner) AddFilter(f *filter.Filter) error {
	if _, dup := r.byName[f.Name()]; dup {
		return fmt.Errorf("pipeline: duplicate filter %q", f.Name())
	}
	r.filters = append(r.filters, f)
	r.byName[f.Name()] = f
	return nil
}

func (r *Runner) SubscribeAck(fn func(source.Checkpoint)) {
	r.mu.Lock()
	r.subs = append(r.subs, fn)
	r.mu.Unlock()
}

/*──────── Registry ───────*/

func (r *Runner) Filters() []string {
	out := make([]string, 0, len(r.byName))
	for n := range r.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (r *Runner) Reconfigure(name, blob string) (bool, error) {
	f, ok := r.byName[name]
	if !ok {
		return false, fmt.Errorf("%w %q", ErrUnknownFilter, name)
	}
	return f.Reconfigure(blob), nil
}

func (r *Runner) Status(name string) (filter.Status, error) {
	f, ok := r.byName[name]
	if !ok {
		return filter.Status{}, fmt.Errorf("%w %q", ErrUnknownFilter, name)
	}
	return f.Status(), nil
}

/*──────── frame routing ───────*/

// pushFrame decodes one frame into the pending batch, flushing when full.
// Undecodable frames are acked and dropped.
func (r *Runner) pushFrame(fr *source.Frame) error {
	rs, err := reading.DecodeJSON(fr.Value)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		logging.L().Warn("dropping undecodable frame", "checkpoint", fr.Checkpoint.String(), "err", err)
		r.ackLocked([]source.Checkpoint{fr.Checkpoint})
		return nil
	}
	r.pending = append(r.pending, rs...)
	r.cps = append(r.cps, fr.Checkpoint)
	if len(r.pending) >= r.batch.MaxReadings {
		r.flushLocked()
	}
	return nil
}

func (r *Runner) Flush() {
	r.mu.Lock()
	r.flushLocked()
	r.mu.Unlock()
}

func (r *Runner) flushLocked() {
	if len(r.cps) == 0 {
		return
	}
	batch, cps := r.pending, r.cps
	r.pending, r.cps = nil, nil

	ctx, span := r.tracer.Start(context.Background(), "pipeline.flush",
		trace.WithAttributes(attribute.Int("frames", len(cps)), attribute.Int("readings.in", len(batch))))
	defer span.End()

	in := len(batch)
	for _, f := range r.filters {
		batch = r.runFilter(ctx, f, batch)
	}
	span.SetAttributes(attribute.Int("readings.out", len(batch)))
	if r.logBatches {
		logging.L().Debug("batch flushed", "in", in, "out", len(batch), "frames", len(cps))
	}
	for _, s := range r.sinks {
		if len(batch) == 0 {
			break
		}
		if err := s.Push(batch); err != nil {
			span.RecordError(err, trace.WithAttributes(attribute.String("sink", s.name)))
			r.metrics.SinkError(s.name)
			logging.L().Error("sink push failed", "sink", s.name, "err", err)
		}
	}
	r.ackLocked(cps)
}

func (r *Runner) runFilter(ctx context.Context, f *filter.Filter, batch []*reading.Reading) []*reading.Reading {
	_, span := r.tracer.Start(ctx, "filter.ingest", trace.WithAttributes(attribute.String("filter", f.Name())))
	defer span.End()
	out := f.Execute(batch)
	span.SetAttributes(attribute.String("outcome", out.Kind.String()), attribute.Int("readings.out", len(out.Readings)))
	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Kind.String())
	}
	return out.Readings
}

func (r *Runner) ackLocked(cps []source.Checkpoint) {
	for _, cp := range cps {
		for _, fn := range r.subs {
			fn(cp)
		}
	}
}

/*──────── lifecycle ───────*/

// Start runs the source and the flush ticker until ctx is cancelled or the
// source returns. Done is closed once the source has stopped.
func (r *Runner) Start(ctx context.Context) error {
	if r.source == nil {
		return errors.New("runner: no source configured")
	}
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		t := time.NewTicker(r.batch.Flush)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				r.Flush()
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		err := r.source.Run(ctx, r.pushFrame)
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.L().Error("source stopped", "err", err)
			r.runErr = err
		}
		r.Flush()
		close(r.done)
	}()
	return nil
}

func (r *Runner) Done() <-chan struct{} { return r.done }

// Err is the source's terminal error; valid after Done is closed.
func (r *Runner) Err() error { return r.runErr }

// Close stops the source, flushes what is buffered and releases filters,
// sinks and source. Safe to call more than once.
func (r *Runner) Close() error {
	var errs []error
	r.closeOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
			<-r.done
			r.wg.Wait()
		}
		r.Flush()
		for _, f := range r.filters {
			f.Shutdown()
		}
		for _, s := range r.sinks {
			if err := s.Close(); err != nil {
				errs = append(errs, fmt.Errorf("sink %s: %w", s.name, err))
			}
		}
		if r.source != nil {
			if err := r.source.Close(); err != nil {
				errs = append(errs, fmt.Errorf("source: %w", err))
			}
		}
	})
	return errors.Join(errs...)
}
