package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/patchbay/pkg/plugin"
)

func scriptSource(name string) string {
	return fmt.Sprintf(`
plugin = {
    name: %q,
    create: function(id) {
        return {
            meta: function() { return {name: %q, fixed_vars: [], default_vars: []}; },
            inputs: function() { return []; },
            outputs: function() { return ["signal"]; },
            setConfig: function(cfg) {},
            getOutput: function(port) { return 0.0; },
            process: function(tick, period) {},
        };
    },
};
`, name, name)
}

func writeScript(t *testing.T, dir, file, name string) string {
	t.Helper()
	path := filepath.Join(dir, file)
	require.NoError(t, os.WriteFile(path, []byte(scriptSource(name)), 0o644))
	return path
}

func TestLoadAllRegistersScripts(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "alpha.js", "alpha")
	writeScript(t, dir, "beta.js", "beta")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	reg := plugin.NewRegistry()
	l := NewLoader(dir, reg, nil)

	loaded, errs := l.LoadAll()
	require.Empty(t, errs)
	assert.Equal(t, 2, loaded)
	assert.Equal(t, []string{"alpha", "beta"}, reg.Names())
	assert.Len(t, l.Discovered(), 2)
}

func TestLoadAllReportsBrokenScript(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "good.js", "good")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.js"), []byte("plugin = {"), 0o644))

	reg := plugin.NewRegistry()
	l := NewLoader(dir, reg, nil)

	loaded, errs := l.LoadAll()
	assert.Equal(t, 1, loaded)
	require.Len(t, errs, 1)
	assert.ErrorContains(t, errs[0], "broken.js")
	assert.Equal(t, []string{"good"}, reg.Names())
}

func TestLoadAllCreatesMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "scripts")

	reg := plugin.NewRegistry()
	l := NewLoader(dir, reg, nil)

	loaded, errs := l.LoadAll()
	require.Empty(t, errs)
	assert.Equal(t, 0, loaded)
	assert.DirExists(t, dir)
}

func TestReloadReplacesRegistration(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "osc.js", "osc")

	reg := plugin.NewRegistry()
	l := NewLoader(dir, reg, nil)
	_, errs := l.LoadAll()
	require.Empty(t, errs)
	require.Equal(t, []string{"osc"}, reg.Names())

	// Rewrite with a different declared name: the old registration goes away.
	require.NoError(t, os.WriteFile(path, []byte(scriptSource("osc2")), 0o644))
	require.NoError(t, l.Reload(path))
	assert.Equal(t, []string{"osc2"}, reg.Names())
}

func TestReloadMissingFile(t *testing.T) {
	reg := plugin.NewRegistry()
	l := NewLoader(t.TempDir(), reg, nil)
	assert.ErrorContains(t, l.Reload("/nonexistent/osc.js"), "not found")
}

func TestWatchDirPicksUpNewScript(t *testing.T) {
	dir := t.TempDir()
	reg := plugin.NewRegistry()
	l := NewLoader(dir, reg, nil)
	_, errs := l.LoadAll()
	require.Empty(t, errs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, l.WatchDir(ctx))
	defer l.StopWatch()

	writeScript(t, dir, "late.js", "late")

	require.Eventually(t, func() bool {
		_, ok := reg.Get("late")
		return ok
	}, 5*time.Second, 50*time.Millisecond)
}

func TestWatchDirDropsRemovedScript(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "gone.js", "gone")

	reg := plugin.NewRegistry()
	l := NewLoader(dir, reg, nil)
	_, errs := l.LoadAll()
	require.Empty(t, errs)
	require.Equal(t, []string{"gone"}, reg.Names())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, l.WatchDir(ctx))
	defer l.StopWatch()

	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool {
		_, ok := reg.Get("gone")
		return !ok
	}, 5*time.Second, 50*time.Millisecond)
}
