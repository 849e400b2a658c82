package binding

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"

	"scriptfilter/internal/config"
	"scriptfilter/internal/interp"
)

const passScript = `
seen = {}

def set_filter_config(c):
    seen["config"] = c["config"]
    return True

def relay(readings):
    return readings
`

func setup(t *testing.T, scripts map[string]string) (*interp.Host, string) {
	t.Helper()
	dir := t.TempDir()
	for name, body := range scripts {
		writeScript(t, dir, name, body)
	}
	h := interp.NewHost(interp.Options{ScriptDir: dir})
	require.NoError(t, h.Attach())
	t.Cleanup(h.Detach)
	return h, dir
}

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+interp.Ext), []byte(body), 0o644))
}

func blob(script, enable, cfg, encode string) string {
	return fmt.Sprintf(`{"script": {"value": %q}, "enable": {"value": %q}, "config": {"value": %q}, "encode_attribute_names": {"value": %q}}`,
		script, enable, cfg, encode)
}

func TestParseIdentity(t *testing.T) {
	id, err := ParseIdentity("/data/scripts/scale_script_addsum.star")
	require.NoError(t, err)
	assert.Equal(t, Identity{
		Dir: "/data/scripts", Base: "scale_script_addsum", Ext: ".star",
		Category: "scale", Entrypoint: "addsum",
	}, id)

	id, err = ParseIdentity(`C:\scripts\a_script_b_script_c`)
	require.NoError(t, err)
	assert.Equal(t, "a_script_b", id.Category, "last delimiter wins")
	assert.Equal(t, "c", id.Entrypoint)

	for _, bad := range []string{"", "  ", "/data/scripts/", ".star", "plain.star", "_script_x", "cat_script_", "cat_script_.star"} {
		_, err := ParseIdentity(bad)
		assert.ErrorIs(t, err, ErrScriptMissing, bad)
	}
}

func TestBind_Ready(t *testing.T) {
	h, _ := setup(t, map[string]string{"f_script_relay": passScript})
	b := New("f1", nil)
	c := NewController(b, h)

	err := c.Bind(config.FilterConfig{Enabled: true, EnableSet: true, ScriptRef: "f_script_relay.star", JSONConfig: `{"k": 1}`})
	require.NoError(t, err)

	st := b.Status()
	assert.Equal(t, StateReady, st.State)
	assert.Equal(t, HealthReady, st.Health)
	assert.Equal(t, "f_script_relay", st.Identity)
	require.NotNil(t, b.Module())
	require.NotNil(t, b.Entry())

	require.NoError(t, h.WithExclusive(func(s *interp.Session) error {
		seen, ok := s.Global(b.Module(), "seen")
		require.True(t, ok)
		v, _, _ := seen.(*starlark.Dict).Get(starlark.String("config"))
		assert.Equal(t, starlark.String(`{"k": 1}`), v)
		return nil
	}))
}

func TestBind_DisabledKeepsHandles(t *testing.T) {
	h, _ := setup(t, map[string]string{"f_script_relay": passScript})
	b := New("f1", nil)
	require.NoError(t, NewController(b, h).Bind(config.FilterConfig{ScriptRef: "f_script_relay"}))
	assert.Equal(t, StateDisabled, b.State())
	assert.Equal(t, HealthDisabled, b.Health())
	assert.NotNil(t, b.Entry())
}

func TestBind_ScriptMissingDisables(t *testing.T) {
	h, _ := setup(t, nil)
	b := New("f1", nil)
	err := NewController(b, h).Bind(config.FilterConfig{Enabled: true, EnableSet: true})
	require.ErrorIs(t, err, ErrScriptMissing)
	assert.Equal(t, StateDisabled, b.State())
	assert.Nil(t, b.Module())
}

func TestBind_Failures(t *testing.T) {
	h, _ := setup(t, map[string]string{
		"f_script_syntax":  "def syntax(r:\n",
		"f_script_absent":  passScript,
		"f_script_false":   "def set_filter_config(c):\n    return False\ndef false(r):\n    return r\n",
		"f_script_truthy":  "def set_filter_config(c):\n    return 1\ndef truthy(r):\n    return r\n",
		"f_script_raising": "def set_filter_config(c):\n    fail('bad config')\ndef raising(r):\n    return r\n",
	})
	cases := map[string]error{
		"f_script_syntax":  ErrImportFailure,
		"f_script_nofile":  ErrImportFailure,
		"f_script_absent":  ErrLookupFailure,
		"f_script_false":   ErrConfigRejected,
		"f_script_truthy":  ErrConfigRejected,
		"f_script_raising": ErrConfigRejected,
	}
	for script, want := range cases {
		t.Run(script, func(t *testing.T) {
			b := New(script, nil)
			err := NewController(b, h).Bind(config.FilterConfig{Enabled: true, EnableSet: true, ScriptRef: script})
			require.ErrorIs(t, err, want)
			assert.Equal(t, StateFailed, b.State())
			assert.Equal(t, HealthFailed, b.Health())
			assert.Nil(t, b.Module())
			assert.Nil(t, b.Entry())
		})
	}
}

func TestReconfigure_SameIdentityReloadsInPlace(t *testing.T) {
	h, dir := setup(t, map[string]string{"f_script_relay": passScript})
	b := New("f1", nil)
	c := NewController(b, h)
	require.NoError(t, c.Bind(config.FilterConfig{Enabled: true, EnableSet: true, ScriptRef: "f_script_relay"}))
	mod, entry := b.Module(), b.Entry()

	writeScript(t, dir, "f_script_relay", passScript+"\nversion = 2\n")
	require.NoError(t, c.Reconfigure(blob("/elsewhere/f_script_relay.star", "true", `{"v": 2}`, "true")))

	assert.Same(t, mod, b.Module(), "module object preserved")
	assert.NotSame(t, entry, b.Entry(), "entry re-resolved")
	assert.True(t, b.EncodeNames())
	assert.Equal(t, StateReady, b.State())

	require.NoError(t, h.WithExclusive(func(s *interp.Session) error {
		v, ok := s.Global(b.Module(), "version")
		require.True(t, ok)
		assert.Equal(t, "2", v.String())
		_, err := s.Call(entry, starlark.NewList(nil))
		assert.ErrorIs(t, err, interp.ErrStaleEntry)
		s.ClearFault()
		return nil
	}))
}

func TestReconfigure_NewIdentityImportsFresh(t *testing.T) {
	h, _ := setup(t, map[string]string{
		"f_script_relay": passScript,
		"g_script_other": "def other(r):\n    return None\n",
	})
	b := New("f1", nil)
	c := NewController(b, h)
	require.NoError(t, c.Bind(config.FilterConfig{Enabled: true, EnableSet: true, ScriptRef: "f_script_relay"}))
	old := b.Module()

	require.NoError(t, c.Reconfigure(blob("g_script_other", "true", "{}", "false")))
	assert.NotSame(t, old, b.Module())
	assert.Equal(t, "g_script_other", b.Module().Name())
	assert.Equal(t, "other", b.Entry().Name())
}

func TestReconfigure_KeepsEnableWhenAbsent(t *testing.T) {
	h, _ := setup(t, map[string]string{"f_script_relay": passScript})
	b := New("f1", nil)
	c := NewController(b, h)
	require.NoError(t, c.Bind(config.FilterConfig{Enabled: true, EnableSet: true, ScriptRef: "f_script_relay"}))

	require.NoError(t, c.Reconfigure(`{"script": {"value": "f_script_relay"}}`))
	assert.True(t, b.Enabled())
	assert.Equal(t, StateReady, b.State())

	require.NoError(t, c.Reconfigure(blob("f_script_relay", "false", "{}", "false")))
	assert.Equal(t, StateDisabled, b.State())
}

func TestReconfigure_FailureClearsHandles(t *testing.T) {
	h, dir := setup(t, map[string]string{"f_script_relay": passScript})
	b := New("f1", nil)
	c := NewController(b, h)
	require.NoError(t, c.Bind(config.FilterConfig{Enabled: true, EnableSet: true, ScriptRef: "f_script_relay"}))

	writeScript(t, dir, "f_script_relay", "def relay(r)\n")
	err := c.Reconfigure(blob("f_script_relay", "true", "{}", "false"))
	require.ErrorIs(t, err, ErrImportFailure)
	assert.Equal(t, StateFailed, b.State())
	assert.Nil(t, b.Module())

	// a malformed blob does not touch the binding
	require.Error(t, c.Reconfigure("not json"))
	assert.Equal(t, StateFailed, b.State())
}

func TestReconfigure_RereadsScriptAfterFailedBind(t *testing.T) {
	h, dir := setup(t, map[string]string{"f_script_relay": "x = 1\n"})
	b := New("f1", nil)
	c := NewController(b, h)
	err := c.Bind(config.FilterConfig{Enabled: true, EnableSet: true, ScriptRef: "f_script_relay"})
	require.ErrorIs(t, err, ErrLookupFailure)

	var stale *interp.Module
	require.NoError(t, h.WithExclusive(func(s *interp.Session) error {
		m, ok := s.Resident("f_script_relay")
		require.True(t, ok, "module stays resident after the failed lookup")
		stale = m
		return nil
	}))

	writeScript(t, dir, "f_script_relay", passScript)
	require.NoError(t, c.Reconfigure(blob("f_script_relay", "true", "{}", "false")))
	assert.Equal(t, StateReady, b.State())
	assert.Same(t, stale, b.Module(), "reloaded in place")
	assert.Equal(t, "relay", b.Entry().Name())

	// a failed in-place reload is recovered the same way
	writeScript(t, dir, "f_script_relay", "def relay(r)\n")
	require.ErrorIs(t, c.Reconfigure(blob("f_script_relay", "true", "{}", "false")), ErrImportFailure)
	writeScript(t, dir, "f_script_relay", passScript)
	require.NoError(t, c.Reconfigure(blob("f_script_relay", "true", "{}", "false")))
	assert.Equal(t, StateReady, b.State())
	assert.Same(t, stale, b.Module())
}

func TestInvoke_ResolvesAfterSiblingReload(t *testing.T) {
	h, _ := setup(t, map[string]string{"f_script_relay": passScript})
	a, b := New("a", nil), New("b", nil)
	fc := config.FilterConfig{Enabled: true, EnableSet: true, ScriptRef: "f_script_relay"}
	require.NoError(t, NewController(a, h).Bind(fc))
	require.NoError(t, NewController(b, h).Bind(fc))
	require.Same(t, a.Module(), b.Module(), "identity shares the resident module")

	require.NoError(t, NewController(b, h).Reconfigure(blob("f_script_relay", "true", "{}", "false")))

	require.NoError(t, h.WithExclusive(func(s *interp.Session) error {
		in := starlark.NewList([]starlark.Value{starlark.MakeInt(1)})
		out, err := a.Invoke(s, in)
		require.NoError(t, err)
		assert.Equal(t, in, out)
		assert.Nil(t, s.Fault())
		return nil
	}))
}

func TestShutdownIsTerminal(t *testing.T) {
	h, _ := setup(t, map[string]string{"f_script_relay": passScript})
	b := New("f1", nil)
	c := NewController(b, h)
	require.NoError(t, c.Bind(config.FilterConfig{Enabled: true, EnableSet: true, ScriptRef: "f_script_relay"}))

	b.Lock()
	b.Shutdown()
	b.Release()
	b.Unlock()

	assert.Equal(t, StateShutdown, b.Status().State)
	require.ErrorIs(t, c.Reconfigure(blob("f_script_relay", "true", "{}", "false")), ErrShutdown)
}

func TestBind_HostNotRunning(t *testing.T) {
	h := interp.NewHost(interp.Options{ScriptDir: t.TempDir()})
	b := New("f1", nil)
	err := NewController(b, h).Bind(config.FilterConfig{Enabled: true, EnableSet: true, ScriptRef: "f_script_relay"})
	require.ErrorIs(t, err, interp.ErrNotRunning)
	assert.Equal(t, StateFailed, b.State())
}
