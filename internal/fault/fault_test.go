package fault

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"

	"scriptfilter/internal/interp"
)

type panickyErr struct{}

func (*panickyErr) Error() string { panic("no message for you") }

func newHost(t *testing.T, scripts map[string]string) *interp.Host {
	t.Helper()
	dir := t.TempDir()
	for name, body := range scripts {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+interp.Ext), []byte(body), 0o644))
	}
	h := interp.NewHost(interp.Options{ScriptDir: dir})
	require.NoError(t, h.Attach())
	t.Cleanup(h.Detach)
	return h
}

func TestNormalize_SyntaxErrorHasLineAndText(t *testing.T) {
	h := newHost(t, map[string]string{
		"bad": "x = 1\ndef f(a:\n    return a\n",
	})
	require.NoError(t, h.WithExclusive(func(s *interp.Session) error {
		_, err := s.Import("bad")
		require.Error(t, err)
		d := Normalize(s.TakeFault())
		assert.Equal(t, "SyntaxError", d.Type)
		assert.Equal(t, 2, d.Line)
		assert.Equal(t, "def f(a:", d.Text)
		assert.NotEmpty(t, d.Value)
		assert.Contains(t, d.String(), "line 2")
		return nil
	}))
}

func TestNormalize_UndefinedNameIsSyntaxClass(t *testing.T) {
	h := newHost(t, map[string]string{"undef": "def f():\n    return nope\n"})
	require.NoError(t, h.WithExclusive(func(s *interp.Session) error {
		_, err := s.Import("undef")
		require.Error(t, err)
		d := Normalize(s.TakeFault())
		assert.Equal(t, "SyntaxError", d.Type)
		assert.Equal(t, 2, d.Line)
		assert.Contains(t, d.Value, "nope")
		return nil
	}))
}

func TestNormalize_RuntimeErrorHasTrace(t *testing.T) {
	h := newHost(t, map[string]string{
		"boom": "def boom(x):\n    return x + 'a'\n",
	})
	require.NoError(t, h.WithExclusive(func(s *interp.Session) error {
		m, err := s.Import("boom")
		require.NoError(t, err)
		e, err := s.Lookup(m, "boom")
		require.NoError(t, err)
		_, err = s.Call(e, starlark.MakeInt(1))
		require.Error(t, err)
		d := Normalize(s.TakeFault())
		assert.Equal(t, "EvalError", d.Type)
		assert.NotEmpty(t, d.Value)
		return nil
	}))
}

func TestNormalize_CallFailurePointsAtScriptLine(t *testing.T) {
	h := newHost(t, map[string]string{
		"div": "def div(x):\n    y = 0\n    return x // y\n",
	})
	require.NoError(t, h.WithExclusive(func(s *interp.Session) error {
		m, err := s.Import("div")
		require.NoError(t, err)
		e, err := s.Lookup(m, "div")
		require.NoError(t, err)
		_, err = s.Call(e, starlark.MakeInt(7))
		require.Error(t, err)
		d := Normalize(s.TakeFault())
		assert.Equal(t, "EvalError", d.Type)
		assert.Equal(t, 3, d.Line)
		assert.Equal(t, "return x // y", d.Text)
		assert.Contains(t, d.Trace, "div")
		return nil
	}))
}

func TestNormalize_NeverPanics(t *testing.T) {
	d := Normalize(nil)
	assert.Equal(t, noDescription, d.Value)

	d = Normalize(&interp.Fault{Err: &panickyErr{}})
	assert.Equal(t, "Error", d.Type)
	assert.Equal(t, noDescription, d.Value)
}

func TestReport_LogsAndClears(t *testing.T) {
	h := newHost(t, map[string]string{"plain": "x = 1\n"})
	var buf bytes.Buffer
	r := NewReporter(slog.New(slog.NewTextHandler(&buf, nil)).With("filter", "f1"))

	require.NoError(t, h.WithExclusive(func(s *interp.Session) error {
		assert.Nil(t, r.Report(s, "plain"), "nothing pending")

		m, err := s.Import("plain")
		require.NoError(t, err)
		_, err = s.Lookup(m, "plain")
		require.Error(t, err)

		d := r.Report(s, "plain")
		require.NotNil(t, d)
		assert.Equal(t, "AttributeError", d.Type)
		assert.Nil(t, s.Fault())
		return nil
	}))
	assert.Contains(t, buf.String(), "script fault")
	assert.Equal(t, 1, strings.Count(buf.String(), "filter=f1"))

	buf.Reset()
	r.ReportError("plain", errors.New("bad result"))
	assert.Equal(t, 1, strings.Count(buf.String(), "filter=f1"))
}
