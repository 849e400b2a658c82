package interp

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Ext is the canonical script file extension.
const Ext = ".star"

var (
	ErrImport       = errors.New("interp: import failed")
	ErrLookup       = errors.New("interp: lookup failed")
	ErrCall         = errors.New("interp: call failed")
	ErrStaleEntry   = errors.New("interp: entry point invalidated by reload")
	ErrSessionEnded = errors.New("interp: session used outside its exclusive region")
)

// Scripts get Python-like freedoms: top-level loops and ifs, reassignable
// globals, while loops and set literals. Recursion stays off: a runaway
// recursive call would overflow the goroutine stack, which cannot be
// recovered, instead of failing the call.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// Fault is the raw interpreter fault left behind by a failed Session
// operation. It stays pending until fetched with TakeFault or cleared.
type Fault struct {
	Err      error
	Identity string
	Path     string
	// Source is the module text when the fault came from executing it.
	Source []byte
}

// Module is a resident script module. Its identity is stable across reloads:
// Reload swaps the globals inside the same *Module.
type Module struct {
	name    string
	path    string
	globals starlark.StringDict
	source  []byte
	gen     uint64
}

func (m *Module) Name() string { return m.name }
func (m *Module) Path() string { return m.path }

// Entry is a resolved callable. It is only valid for the module generation
// it was resolved against.
type Entry struct {
	mod  *Module
	name string
	fn   starlark.Callable
	gen  uint64
}

func (e *Entry) Name() string    { return e.name }
func (e *Entry) Module() *Module { return e.mod }

// Session is the capability to touch interpreter state. It is only valid
// inside the WithExclusive call that created it.
type Session struct {
	h  *Host
	rt *runtime
}

func (s *Session) live() error {
	if s == nil || s.rt == nil {
		return ErrSessionEnded
	}
	return nil
}

// Resident returns the module already imported under identity, if any.
func (s *Session) Resident(identity string) (*Module, bool) {
	if s.live() != nil {
		return nil, false
	}
	m, ok := s.rt.modules[identity]
	return m, ok
}

// Import returns the resident module for identity, executing its script file
// first if it is not resident yet.
func (s *Session) Import(identity string) (*Module, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	if m, ok := s.rt.modules[identity]; ok {
		return m, nil
	}
	path, err := s.scriptPath(identity)
	if err != nil {
		return nil, s.fail(identity, "", nil, err)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, s.fail(identity, path, nil, fmt.Errorf("%w: %s: %v", ErrImport, identity, err))
	}
	globals, err := s.exec(identity, path, src)
	if err != nil {
		return nil, s.fail(identity, path, src, fmt.Errorf("%w: %s: %w", ErrImport, identity, err))
	}
	m := &Module{name: identity, path: path, globals: globals, source: src, gen: 1}
	s.rt.modules[identity] = m
	s.h.log.Debug("module imported", "script", identity, "path", path)
	return m, nil
}

// Reload re-executes m's script file and replaces its globals in place. On
// failure m keeps its previous globals and generation.
func (s *Session) Reload(m *Module) error {
	if err := s.live(); err != nil {
		return err
	}
	src, err := os.ReadFile(m.path)
	if err != nil {
		return s.fail(m.name, m.path, nil, fmt.Errorf("%w: %s: %v", ErrImport, m.name, err))
	}
	globals, err := s.exec(m.name, m.path, src)
	if err != nil {
		return s.fail(m.name, m.path, src, fmt.Errorf("%w: %s: %w", ErrImport, m.name, err))
	}
	m.globals, m.source = globals, src
	m.gen++
	s.rt.modules[m.name] = m
	s.h.log.Debug("module reloaded", "script", m.name, "generation", m.gen)
	return nil
}

// Drop forgets a resident module. Entries resolved from it become stale.
func (s *Session) Drop(identity string) {
	if s.live() != nil {
		return
	}
	if m, ok := s.rt.modules[identity]; ok {
		m.gen++
		delete(s.rt.modules, identity)
	}
}

// Generation reports how many times m has been (re)executed.
func (s *Session) Generation(m *Module) uint64 {
	if s.live() != nil {
		return 0
	}
	return m.gen
}

// Global returns a module global without recording a fault when it is
// missing.
func (s *Session) Global(m *Module, name string) (starlark.Value, bool) {
	if s.live() != nil {
		return nil, false
	}
	v, ok := m.globals[name]
	return v, ok
}

// Lookup resolves a callable global of m.
func (s *Session) Lookup(m *Module, name string) (*Entry, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	v, ok := m.globals[name]
	if !ok {
		return nil, s.fail(m.name, m.path, nil, fmt.Errorf("%w: module %q has no attribute %q", ErrLookup, m.name, name))
	}
	fn, ok := v.(starlark.Callable)
	if !ok {
		return nil, s.fail(m.name, m.path, nil, fmt.Errorf("%w: %q in module %q is %s, not callable", ErrLookup, name, m.name, v.Type()))
	}
	return &Entry{mod: m, name: name, fn: fn, gen: m.gen}, nil
}

// Call invokes e with positional args.
func (s *Session) Call(e *Entry, args ...starlark.Value) (starlark.Value, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	if e.gen != e.mod.gen {
		return nil, s.fail(e.mod.name, e.mod.path, nil, fmt.Errorf("%w: %s.%s", ErrStaleEntry, e.mod.name, e.name))
	}
	v, err := starlark.Call(s.thread(e.mod.name), e.fn, starlark.Tuple(args), nil)
	if err != nil {
		return nil, s.fail(e.mod.name, e.mod.path, e.mod.source, fmt.Errorf("%w: %s: %w", ErrCall, e.name, err))
	}
	return v, nil
}

// Fault returns the pending fault without clearing it.
func (s *Session) Fault() *Fault {
	if s.live() != nil {
		return nil
	}
	return s.rt.fault
}

// TakeFault returns the pending fault and clears it.
func (s *Session) TakeFault() *Fault {
	if s.live() != nil {
		return nil
	}
	f := s.rt.fault
	s.rt.fault = nil
	return f
}

func (s *Session) ClearFault() {
	if s.live() == nil {
		s.rt.fault = nil
	}
}

func (s *Session) fail(identity, path string, src []byte, err error) error {
	s.rt.fault = &Fault{Err: err, Identity: identity, Path: path, Source: src}
	return err
}

func (s *Session) scriptPath(identity string) (string, error) {
	if identity == "" || identity == "." || identity == ".." ||
		strings.ContainsAny(identity, `/\`) {
		return "", fmt.Errorf("%w: invalid script identity %q", ErrImport, identity)
	}
	return filepath.Join(s.h.opts.ScriptDir, identity+Ext), nil
}

func (s *Session) exec(identity, path string, src []byte) (starlark.StringDict, error) {
	if s.rt.loading[identity] {
		return nil, fmt.Errorf("import cycle through %q", identity)
	}
	s.rt.loading[identity] = true
	defer delete(s.rt.loading, identity)

	_, prog, err := starlark.SourceProgramOptions(fileOptions, path, src, s.rt.predeclared.Has)
	if err != nil {
		return nil, err
	}
	// Globals are left unfrozen so configuration hooks can keep state in
	// module-level dicts; the exclusive token guards all mutation.
	return prog.Init(s.thread(identity), s.rt.predeclared)
}

func (s *Session) thread(identity string) *starlark.Thread {
	return &starlark.Thread{
		Name: identity,
		Print: func(_ *starlark.Thread, msg string) {
			s.h.log.Debug("script print", "script", identity, "msg", msg)
		},
		Load: func(_ *starlark.Thread, module string) (starlark.StringDict, error) {
			m, err := s.Import(strings.TrimSuffix(module, Ext))
			if err != nil {
				return nil, err
			}
			return m.globals, nil
		},
	}
}
