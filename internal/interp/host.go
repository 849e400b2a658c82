package interp

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	starlarkjson "go.starlark.net/lib/json"
	starlarkmath "go.starlark.net/lib/math"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"

	"scriptfilter/internal/logging"
)

var (
	ErrStartup    = errors.New("interp: runtime startup failed")
	ErrNotRunning = errors.New("interp: runtime not attached")
	ErrPanic      = errors.New("interp: panic inside exclusive region")
)

type Options struct {
	// ScriptDir is searched for <identity>.star files.
	ScriptDir string
	// Predeclared is merged over the default json/math/time modules.
	Predeclared starlark.StringDict
	Logger      *slog.Logger
}

// Host is the process-wide interpreter service. The zero value is not usable;
// build one with NewHost and share it between filters.
type Host struct {
	opts Options
	log  *slog.Logger

	// lifeMu serializes Attach/Detach. It is always taken before token.
	lifeMu sync.Mutex
	refs   int

	// token is the exclusive-execution right; rt is only touched under it.
	token sync.Mutex
	rt    *runtime
}

type runtime struct {
	predeclared starlark.StringDict
	modules     map[string]*Module
	loading     map[string]bool
	fault       *Fault
}

func NewHost(opts Options) *Host {
	l := opts.Logger
	if l == nil {
		l = logging.L()
	}
	return &Host{opts: opts, log: l.With("component", "interp")}
}

func (h *Host) ScriptDir() string { return h.opts.ScriptDir }

// Refs reports how many bindings are currently attached.
func (h *Host) Refs() int {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()
	return h.refs
}

// Attach registers one more user of the runtime and starts it on the 0→1
// transition. A startup failure leaves the count untouched.
func (h *Host) Attach() error {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()
	if h.refs == 0 {
		rt, err := h.start()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStartup, err)
		}
		h.token.Lock()
		h.rt = rt
		h.token.Unlock()
		h.log.Info("interpreter started", "script_dir", h.opts.ScriptDir)
	}
	h.refs++
	return nil
}

// Detach drops one user; the last one tears the runtime down.
func (h *Host) Detach() {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()
	if h.refs == 0 {
		h.log.Warn("detach without matching attach")
		return
	}
	h.refs--
	if h.refs > 0 {
		return
	}
	h.token.Lock()
	n := len(h.rt.modules)
	h.rt = nil
	h.token.Unlock()
	h.log.Info("interpreter stopped", "modules_dropped", n)
}

func (h *Host) start() (*runtime, error) {
	fi, err := os.Stat(h.opts.ScriptDir)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("script dir %q is not a directory", h.opts.ScriptDir)
	}
	pre := starlark.StringDict{
		"json": starlarkjson.Module,
		"math": starlarkmath.Module,
		"time": starlarktime.Module,
	}
	for k, v := range h.opts.Predeclared {
		pre[k] = v
	}
	return &runtime{
		predeclared: pre,
		modules:     make(map[string]*Module),
		loading:     make(map[string]bool),
	}, nil
}

// WithExclusive runs fn while holding the exclusive token. The token is
// released on every exit path; a panic in fn is recovered and returned as
// ErrPanic. Calling WithExclusive again from inside fn deadlocks.
func (h *Host) WithExclusive(fn func(*Session) error) (err error) {
	h.token.Lock()
	defer h.token.Unlock()
	if h.rt == nil {
		return ErrNotRunning
	}
	if f := h.rt.fault; f != nil {
		h.log.Debug("discarding unreported fault", "script", f.Identity, "err", f.Err)
		h.rt.fault = nil
	}
	s := &Session{h: h, rt: h.rt}
	defer func() {
		s.rt = nil
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
			h.log.Error("recovered panic in interpreter", "panic", r)
		}
	}()
	return fn(s)
}
