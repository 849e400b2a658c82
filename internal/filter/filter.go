// Package filter is the script filter stage: it owns one binding and runs
// batches of readings through the bound script under the shared
// interpreter's exclusive token.
package filter

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"scriptfilter/internal/binding"
	"scriptfilter/internal/codec"
	"scriptfilter/internal/config"
	"scriptfilter/internal/interp"
	"scriptfilter/internal/logging"
	"scriptfilter/internal/reading"
	"scriptfilter/internal/telemetry"
)

// warnEvery rate-limits the "not ready" warning to one per this many batches.
const warnEvery = 100

type OutcomeKind uint8

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeScriptError
	OutcomeMarshalError
	// OutcomePassthrough: the filter is disabled and forwards its input.
	OutcomePassthrough
	// OutcomeSkipped: the binding is not ready; nothing is forwarded.
	OutcomeSkipped
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeScriptError:
		return "script_error"
	case OutcomeMarshalError:
		return "marshal_error"
	case OutcomePassthrough:
		return "passthrough"
	case OutcomeSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(k))
	}
}

// Outcome is the result of one batch. Readings is never nil.
type Outcome struct {
	Kind     OutcomeKind
	Readings []*reading.Reading
	Err      error
}

type Option func(*Filter)

func WithMetrics(m *telemetry.Metrics) Option { return func(f *Filter) { f.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(f *Filter) { f.log = l } }

type Filter struct {
	name    string
	host    *interp.Host
	b       *binding.Binding
	ctl     *binding.Controller
	log     *slog.Logger
	metrics *telemetry.Metrics

	mu          sync.Mutex
	initialized bool

	// skipped counts batches dropped while not ready; guarded by the
	// binding's configuration lock.
	skipped uint64

	closeOnce sync.Once
}

// Init attaches to host and binds the category's script. An attach failure
// returns a nil Filter. A failed bind returns the Filter together with the
// error; Initialized reports false and Ingest forwards nothing. A missing
// script is not an error: the filter comes up disabled.
func Init(name string, cat *config.Category, host *interp.Host, opts ...Option) (*Filter, error) {
	f := &Filter{name: name, host: host, log: logging.L()}
	for _, o := range opts {
		o(f)
	}
	base := f.log
	f.log = base.With("filter", name)
	if err := host.Attach(); err != nil {
		return nil, fmt.Errorf("filter %q: %w", name, err)
	}
	f.metrics.SetAttached(host.Refs())
	f.b = binding.New(name, base)
	f.ctl = binding.NewController(f.b, host)

	err := f.ctl.Bind(cat.FilterConfig())
	if err != nil && !errors.Is(err, binding.ErrScriptMissing) {
		f.log.Error("filter not initialized", "err", err)
		return f, err
	}
	f.setInitialized(true)
	return f, nil
}

func (f *Filter) Name() string { return f.name }

// Initialized reports whether the last bind or reconfiguration succeeded.
func (f *Filter) Initialized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initialized
}

func (f *Filter) setInitialized(v bool) {
	f.mu.Lock()
	f.initialized = v
	f.mu.Unlock()
}

// Ingest runs batch through the filter and returns the readings to forward.
func (f *Filter) Ingest(batch []*reading.Reading) []*reading.Reading {
	return f.Execute(batch).Readings
}

// Execute is Ingest with the outcome kind exposed.
func (f *Filter) Execute(batch []*reading.Reading) Outcome {
	f.b.Lock()
	defer f.b.Unlock()

	switch f.b.State() {
	case binding.StateReady:
	case binding.StateDisabled:
		f.metrics.ObserveIngest(f.name, OutcomePassthrough.String(), len(batch), len(batch), 0)
		return Outcome{Kind: OutcomePassthrough, Readings: batch}
	default:
		if f.skipped%warnEvery == 0 {
			f.log.Warn("script filter not ready, dropping batches",
				"state", f.b.State(), "dropped_batches", f.skipped+1)
		}
		f.skipped++
		f.metrics.ObserveIngest(f.name, OutcomeSkipped.String(), len(batch), 0, 0)
		return Outcome{Kind: OutcomeSkipped, Readings: []*reading.Reading{}}
	}

	var out Outcome
	start := time.Now()
	err := f.host.WithExclusive(func(s *interp.Session) error {
		out = f.run(s, batch)
		return nil
	})
	if err != nil {
		f.b.Reporter().ReportError(f.b.Identity().Module(), err)
		out = Outcome{Kind: OutcomeScriptError, Readings: []*reading.Reading{}, Err: err}
	}
	f.metrics.ObserveIngest(f.name, out.Kind.String(), len(batch), len(out.Readings), time.Since(start))
	return out
}

func (f *Filter) run(s *interp.Session, batch []*reading.Reading) Outcome {
	script := f.b.Identity().Module()
	rep := f.b.Reporter()

	arg, err := codec.Encode(batch, f.b.Mode())
	if err != nil {
		rep.ReportError(script, err)
		return Outcome{Kind: OutcomeMarshalError, Readings: []*reading.Reading{}, Err: err}
	}
	v, err := f.b.Invoke(s, arg)
	if err != nil {
		if rep.Report(s, script) == nil {
			rep.ReportError(script, err)
		}
		return Outcome{Kind: OutcomeScriptError, Readings: []*reading.Reading{}, Err: err}
	}
	out, err := codec.Decode(v)
	if err != nil {
		rep.ReportError(script, err)
		return Outcome{Kind: OutcomeMarshalError, Readings: []*reading.Reading{}, Err: err}
	}
	return Outcome{Kind: OutcomeSuccess, Readings: out}
}

// Reconfigure applies a new category blob. A blob without a script disables
// the filter and still counts as success.
func (f *Filter) Reconfigure(blob string) bool {
	err := f.ctl.Reconfigure(blob)
	ok := err == nil || errors.Is(err, binding.ErrScriptMissing)
	f.metrics.ObserveReconfigure(f.name, ok)
	if !ok {
		f.log.Error("reconfigure failed", "err", err)
		if errors.Is(err, config.ErrBadCategory) {
			return false
		}
	}
	f.setInitialized(ok)
	return ok
}

// Shutdown releases the binding and detaches from the interpreter. Only the
// first call has an effect.
func (f *Filter) Shutdown() {
	f.closeOnce.Do(func() {
		f.b.Lock()
		f.b.Shutdown()
		f.b.Unlock()
		f.host.Detach()
		f.metrics.SetAttached(f.host.Refs())
		f.log.Info("script filter shut down")
	})
}

// Status is a point-in-time view of the filter.
type Status struct {
	binding.Status
	Initialized bool
}

func (f *Filter) Status() Status {
	return Status{Status: f.b.Status(), Initialized: f.Initialized()}
}
