// Package binding ties one filter instance to a script module and its entry
// point, and drives the bind/reload/disable state machine.
//
// Every method that touches interpreter state takes an *interp.Session and
// must run inside Host.WithExclusive. Callers hold the binding's
// configuration lock (Lock/Unlock) first, then the host token.
package binding

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.starlark.net/starlark"

	"scriptfilter/internal/codec"
	"scriptfilter/internal/config"
	"scriptfilter/internal/fault"
	"scriptfilter/internal/interp"
	"scriptfilter/internal/logging"
)

// ConfigHook is the optional module function receiving {"config": <json>}.
const ConfigHook = "set_filter_config"

var (
	ErrImportFailure  = errors.New("binding: script import failed")
	ErrLookupFailure  = errors.New("binding: entry point lookup failed")
	ErrConfigRejected = errors.New("binding: script rejected configuration")
	ErrNotReady       = errors.New("binding: not ready")
	ErrShutdown       = errors.New("binding: shut down")
)

type State uint8

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateReloading
	StateFailed
	StateDisabled
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateReloading:
		return "reloading"
	case StateFailed:
		return "failed"
	case StateDisabled:
		return "disabled"
	case StateShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

type Health uint8

const (
	HealthFailed Health = iota
	HealthReady
	HealthDisabled
)

func (h Health) String() string {
	switch h {
	case HealthReady:
		return "ready"
	case HealthDisabled:
		return "disabled"
	default:
		return "failed"
	}
}

// Binding is the per-filter script association. Invariants: a non-nil entry
// implies a non-nil module; StateFailed implies both are nil.
type Binding struct {
	name string
	log  *slog.Logger
	rep  *fault.Reporter

	mu sync.Mutex

	state       State
	id          Identity
	mod         *interp.Module
	entry       *interp.Entry
	// failedMod names a module that stayed resident after a failed bind.
	failedMod   string
	enabled     bool
	encodeNames bool
	jsonConfig  string
}

func New(name string, log *slog.Logger) *Binding {
	if log == nil {
		log = logging.L()
	}
	log = log.With("filter", name)
	return &Binding{
		name:       name,
		log:        log,
		rep:        fault.NewReporter(log),
		jsonConfig: "{}",
	}
}

// Lock takes the configuration lock. It must be taken before the host's
// exclusive token, never after.
func (b *Binding) Lock()   { b.mu.Lock() }
func (b *Binding) Unlock() { b.mu.Unlock() }

func (b *Binding) Name() string { return b.name }

// The accessors below expect the configuration lock to be held.

func (b *Binding) State() State              { return b.state }
func (b *Binding) Identity() Identity        { return b.id }
func (b *Binding) Module() *interp.Module    { return b.mod }
func (b *Binding) Entry() *interp.Entry      { return b.entry }
func (b *Binding) Enabled() bool             { return b.enabled }
func (b *Binding) EncodeNames() bool         { return b.encodeNames }
func (b *Binding) Mode() codec.Mode          { return codec.ModeFor(b.encodeNames) }
func (b *Binding) Reporter() *fault.Reporter { return b.rep }

func (b *Binding) Health() Health {
	switch b.state {
	case StateReady:
		return HealthReady
	case StateDisabled, StateShutdown:
		return HealthDisabled
	default:
		return HealthFailed
	}
}

// Status is a consistent snapshot of a binding.
type Status struct {
	State       State
	Health      Health
	Identity    string
	Enabled     bool
	EncodeNames bool
}

// Status takes the configuration lock; it waits for an in-flight batch.
func (b *Binding) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		State:       b.state,
		Health:      b.Health(),
		Identity:    b.id.String(),
		Enabled:     b.enabled,
		EncodeNames: b.encodeNames,
	}
}

// ApplyFlags copies the enable, name-encoding and JSON config settings.
func (b *Binding) ApplyFlags(fc config.FilterConfig) {
	if fc.EnableSet {
		b.enabled = fc.Enabled
	}
	b.encodeNames = fc.EncodeNames
	b.jsonConfig = fc.JSONConfig
	if b.jsonConfig == "" {
		b.jsonConfig = "{}"
	}
}

// SetScriptName parses ref into the binding's identity. A missing or
// malformed reference disables the binding and returns ErrScriptMissing.
func (b *Binding) SetScriptName(ref string) error {
	id, err := ParseIdentity(ref)
	if err != nil {
		b.id = Identity{}
		b.clear(StateDisabled)
		return err
	}
	b.id = id
	b.log.Debug("script identity set", "script", id.Module(), "method", id.Entrypoint)
	return nil
}

// Load imports the identity's module (reusing it when already resident),
// resolves the entry point and runs the configuration hook.
func (b *Binding) Load(s *interp.Session) error {
	if b.id.IsZero() {
		b.clear(StateDisabled)
		return ErrScriptMissing
	}
	b.clear(StateLoading)
	m, err := s.Import(b.id.Module())
	if err != nil {
		return b.fail(s, fmt.Errorf("%w: %w", ErrImportFailure, err))
	}
	b.mod = m
	return b.resolve(s)
}

// Reload re-executes the bound module in place when the identity is
// unchanged and the module is still resident; the module object is kept and
// the entry point is resolved again. That includes a module left resident by
// a failed bind of the same identity, so a script fixed on disk is read
// again. Any other case falls back to Load.
func (b *Binding) Reload(s *interp.Session) error {
	name := b.id.Module()
	switch {
	case b.id.IsZero():
		return b.Load(s)
	case b.mod == nil && b.failedMod == name:
		m, ok := s.Resident(name)
		if !ok {
			return b.Load(s)
		}
		b.mod = m
	case b.mod == nil || b.mod.Name() != name:
		return b.Load(s)
	}
	if m, ok := s.Resident(name); !ok || m != b.mod {
		return b.Load(s)
	}
	b.failedMod = ""
	b.state, b.entry = StateReloading, nil
	if err := s.Reload(b.mod); err != nil {
		return b.fail(s, fmt.Errorf("%w: %w", ErrImportFailure, err))
	}
	return b.resolve(s)
}

// Release drops the module and entry handles. The module stays resident in
// the host for other bindings.
func (b *Binding) Release() {
	if b.state == StateShutdown {
		return
	}
	b.clear(StateUnloaded)
}

// Shutdown releases the handles for good.
func (b *Binding) Shutdown() { b.clear(StateShutdown) }

// Invoke calls the entry point with arg. An entry invalidated by another
// binding reloading the shared module is resolved again once.
func (b *Binding) Invoke(s *interp.Session, arg starlark.Value) (starlark.Value, error) {
	if b.state != StateReady || b.entry == nil {
		return nil, ErrNotReady
	}
	v, err := s.Call(b.entry, arg)
	if errors.Is(err, interp.ErrStaleEntry) {
		s.ClearFault()
		e, lerr := s.Lookup(b.mod, b.id.Entrypoint)
		if lerr != nil {
			return nil, lerr
		}
		b.entry = e
		v, err = s.Call(e, arg)
	}
	return v, err
}

func (b *Binding) resolve(s *interp.Session) error {
	e, err := s.Lookup(b.mod, b.id.Entrypoint)
	if err != nil {
		return b.fail(s, fmt.Errorf("%w: %w", ErrLookupFailure, err))
	}
	b.entry = e
	if err := b.configure(s); err != nil {
		return b.fail(s, err)
	}
	if b.enabled {
		b.state = StateReady
	} else {
		b.state = StateDisabled
	}
	b.log.Debug("script bound", "script", b.id.Module(), "method", b.id.Entrypoint, "state", b.state)
	return nil
}

func (b *Binding) configure(s *interp.Session) error {
	v, ok := s.Global(b.mod, ConfigHook)
	if !ok {
		return nil
	}
	if _, ok := v.(starlark.Callable); !ok {
		return nil
	}
	hook, err := s.Lookup(b.mod, ConfigHook)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigRejected, err)
	}
	arg := starlark.NewDict(1)
	if err := arg.SetKey(starlark.String("config"), starlark.String(b.jsonConfig)); err != nil {
		return fmt.Errorf("%w: %w", ErrConfigRejected, err)
	}
	res, err := s.Call(hook, arg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigRejected, err)
	}
	if ok, isBool := res.(starlark.Bool); !isBool || !bool(ok) {
		return fmt.Errorf("%w: %s returned %s", ErrConfigRejected, ConfigHook, res.String())
	}
	return nil
}

func (b *Binding) fail(s *interp.Session, err error) error {
	if b.rep.Report(s, b.id.Module()) == nil {
		b.rep.ReportError(b.id.Module(), err)
	}
	var resident string
	if b.mod != nil {
		resident = b.mod.Name()
	}
	b.clear(StateFailed)
	b.failedMod = resident
	return err
}

func (b *Binding) clear(st State) {
	b.mod, b.entry = nil, nil
	b.failedMod = ""
	b.state = st
}
