package interp

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
)

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+Ext), []byte(body), 0o644))
}

func newAttachedHost(t *testing.T) (*Host, string) {
	t.Helper()
	dir := t.TempDir()
	h := NewHost(Options{ScriptDir: dir})
	require.NoError(t, h.Attach())
	t.Cleanup(h.Detach)
	return h, dir
}

func TestAttachDetach_RefCounting(t *testing.T) {
	h := NewHost(Options{ScriptDir: t.TempDir()})
	require.ErrorIs(t, h.WithExclusive(func(*Session) error { return nil }), ErrNotRunning)

	require.NoError(t, h.Attach())
	require.NoError(t, h.Attach())
	assert.Equal(t, 2, h.Refs())

	h.Detach()
	assert.Equal(t, 1, h.Refs())
	assert.NoError(t, h.WithExclusive(func(*Session) error { return nil }), "runtime must survive while one binding is attached")

	h.Detach()
	assert.Equal(t, 0, h.Refs())
	assert.ErrorIs(t, h.WithExclusive(func(*Session) error { return nil }), ErrNotRunning)

	h.Detach()
	assert.Equal(t, 0, h.Refs(), "extra detach must not underflow")
}

func TestAttach_StartupFailure(t *testing.T) {
	h := NewHost(Options{ScriptDir: filepath.Join(t.TempDir(), "missing")})
	err := h.Attach()
	require.ErrorIs(t, err, ErrStartup)
	assert.Equal(t, 0, h.Refs())
}

func TestAttach_Concurrent(t *testing.T) {
	h := NewHost(Options{ScriptDir: t.TempDir()})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.Attach(); err != nil {
				t.Errorf("attach: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 16, h.Refs())
	for i := 0; i < 16; i++ {
		h.Detach()
	}
	assert.Equal(t, 0, h.Refs())
}

func TestWithExclusive_RecoversPanicAndReleasesToken(t *testing.T) {
	h, _ := newAttachedHost(t)
	err := h.WithExclusive(func(*Session) error { panic("boom") })
	require.ErrorIs(t, err, ErrPanic)

	sentinel := errors.New("op failed")
	require.ErrorIs(t, h.WithExclusive(func(*Session) error { return sentinel }), sentinel)
	require.NoError(t, h.WithExclusive(func(*Session) error { return nil }))
}

func TestWithExclusive_Serializes(t *testing.T) {
	h, _ := newAttachedHost(t)
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		inside int
		maxIn  int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.WithExclusive(func(*Session) error {
				mu.Lock()
				inside++
				if inside > maxIn {
					maxIn = inside
				}
				mu.Unlock()
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxIn)
}

func TestSession_ClosedAfterRegion(t *testing.T) {
	h, _ := newAttachedHost(t)
	var leaked *Session
	require.NoError(t, h.WithExclusive(func(s *Session) error { leaked = s; return nil }))
	_, err := leaked.Import("anything")
	assert.ErrorIs(t, err, ErrSessionEnded)
}

func TestImportLookupCall(t *testing.T) {
	h, dir := newAttachedHost(t)
	writeScript(t, dir, "double", `
def double(x):
    return x * 2
`)
	err := h.WithExclusive(func(s *Session) error {
		m, err := s.Import("double")
		require.NoError(t, err)
		again, err := s.Import("double")
		require.NoError(t, err)
		assert.Same(t, m, again)

		e, err := s.Lookup(m, "double")
		require.NoError(t, err)
		v, err := s.Call(e, starlark.MakeInt(21))
		require.NoError(t, err)
		assert.Equal(t, "42", v.String())
		return nil
	})
	require.NoError(t, err)
}

func TestImport_FailuresLeavePendingFault(t *testing.T) {
	h, dir := newAttachedHost(t)
	writeScript(t, dir, "broken", "def broken(x:\n    return x\n")
	writeScript(t, dir, "plain", "value = 1\n")

	err := h.WithExclusive(func(s *Session) error {
		_, err := s.Import("nope")
		assert.ErrorIs(t, err, ErrImport)
		require.NotNil(t, s.Fault())

		_, err = s.Import("broken")
		assert.ErrorIs(t, err, ErrImport)
		f := s.TakeFault()
		require.NotNil(t, f)
		assert.Equal(t, "broken", f.Identity)
		assert.NotEmpty(t, f.Source)
		assert.Nil(t, s.Fault(), "TakeFault must clear")

		m, err := s.Import("plain")
		require.NoError(t, err)
		_, err = s.Lookup(m, "missing")
		assert.ErrorIs(t, err, ErrLookup)
		_, err = s.Lookup(m, "value")
		assert.ErrorIs(t, err, ErrLookup)

		_, err = s.Import("../escape")
		assert.ErrorIs(t, err, ErrImport)
		return nil
	})
	require.NoError(t, err)
}

func TestReload_InPlaceInvalidatesEntries(t *testing.T) {
	h, dir := newAttachedHost(t)
	writeScript(t, dir, "ver", "def ver():\n    return 1\n")

	var (
		m     *Module
		entry *Entry
	)
	require.NoError(t, h.WithExclusive(func(s *Session) error {
		var err error
		m, err = s.Import("ver")
		require.NoError(t, err)
		entry, err = s.Lookup(m, "ver")
		return err
	}))

	writeScript(t, dir, "ver", "def ver():\n    return 2\n")
	require.NoError(t, h.WithExclusive(func(s *Session) error {
		require.NoError(t, s.Reload(m))
		resident, ok := s.Resident("ver")
		require.True(t, ok)
		assert.Same(t, m, resident)
		assert.Equal(t, uint64(2), s.Generation(m))

		_, err := s.Call(entry)
		assert.ErrorIs(t, err, ErrStaleEntry)
		s.ClearFault()

		fresh, err := s.Lookup(m, "ver")
		require.NoError(t, err)
		v, err := s.Call(fresh)
		require.NoError(t, err)
		assert.Equal(t, "2", v.String())
		return nil
	}))
}

func TestReload_FailureKeepsPreviousGlobals(t *testing.T) {
	h, dir := newAttachedHost(t)
	writeScript(t, dir, "keep", "def keep():\n    return 'old'\n")
	require.NoError(t, h.WithExclusive(func(s *Session) error {
		m, err := s.Import("keep")
		require.NoError(t, err)
		writeScript(t, dir, "keep", "def keep(:\n")
		require.ErrorIs(t, s.Reload(m), ErrImport)
		s.ClearFault()

		e, err := s.Lookup(m, "keep")
		require.NoError(t, err)
		v, err := s.Call(e)
		require.NoError(t, err)
		assert.Equal(t, `"old"`, v.String())
		return nil
	}))
}

func TestLoad_SiblingAndCycle(t *testing.T) {
	h, dir := newAttachedHost(t)
	writeScript(t, dir, "helpers", "def inc(x):\n    return x + 1\n")
	writeScript(t, dir, "user", "load('helpers.star', 'inc')\ndef user(x):\n    return inc(x)\n")
	writeScript(t, dir, "cyc_a", "load('cyc_b.star', 'b')\na = 1\n")
	writeScript(t, dir, "cyc_b", "load('cyc_a.star', 'a')\nb = 1\n")

	require.NoError(t, h.WithExclusive(func(s *Session) error {
		m, err := s.Import("user")
		require.NoError(t, err)
		e, err := s.Lookup(m, "user")
		require.NoError(t, err)
		v, err := s.Call(e, starlark.MakeInt(1))
		require.NoError(t, err)
		assert.Equal(t, "2", v.String())

		_, err = s.Import("cyc_a")
		assert.ErrorIs(t, err, ErrImport)
		return nil
	}))
}

func TestDetach_DropsModules(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "m", "x = 1\n")
	h := NewHost(Options{ScriptDir: dir})
	require.NoError(t, h.Attach())
	require.NoError(t, h.WithExclusive(func(s *Session) error {
		_, err := s.Import("m")
		return err
	}))
	h.Detach()

	require.NoError(t, h.Attach())
	defer h.Detach()
	require.NoError(t, h.WithExclusive(func(s *Session) error {
		_, ok := s.Resident("m")
		assert.False(t, ok, "a restarted runtime starts with an empty module table")
		return nil
	}))
}
