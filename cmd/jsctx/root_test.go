package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := newRootCommand()
	assert.Equal(t, "jsctx", cmd.Use)
	for _, name := range []string{"run", "scenario"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
	flag := cmd.PersistentFlags().Lookup("log-level")
	require.NotNil(t, flag)
	assert.Equal(t, "warning", flag.DefValue)
}

func TestRun_Eval(t *testing.T) {
	stdout, _, err := execute(t, "run", "-e", `queueMicrotask(() => console.log('later')); console.log('now')`)
	require.NoError(t, err)
	assert.Equal(t, "log: now\nlog: later\n", stdout)
}

func TestRun_Files(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.js")
	second := filepath.Join(dir, "second.js")
	require.NoError(t, os.WriteFile(first, []byte(`var shared = 'from first'; console.warn('first')`), 0o600))
	require.NoError(t, os.WriteFile(second, []byte(`console.log(shared)`), 0o600))

	stdout, _, err := execute(t, "run", "-e", "console.error('eval')", first, second)
	require.NoError(t, err)
	assert.Equal(t, "error: eval\nwarn: first\nlog: from first\n", stdout)

	_, _, err = execute(t, "run", filepath.Join(dir, "missing.js"))
	assert.Error(t, err)
}

func TestRun_ScriptThrows(t *testing.T) {
	stdout, stderr, err := execute(t, "run", "-e", `throw new Error('x')`, "-e", `console.log('still runs')`)
	require.EqualError(t, err, "1 script(s) threw an exception")
	assert.Equal(t, "[error] Error: x\nlog: still runs\n", stdout)
	assert.Contains(t, stderr, "jscontext: uncaught exception")

	_, stderr, err = execute(t, "run", "--log-level", "crit", "-e", `throw new Error('x')`)
	require.Error(t, err)
	assert.NotContains(t, stderr, "jscontext: uncaught exception")
}

func TestRun_UnhandledRejection(t *testing.T) {
	stdout, stderr, err := execute(t, "run", "-e", `Promise.reject('why')`)
	require.NoError(t, err)
	assert.Equal(t, "[unhandledrejection] why\n", stdout)
	assert.Contains(t, stderr, "jscontext: unhandled promise rejection")
}

func TestRun_Errors(t *testing.T) {
	_, _, err := execute(t, "run")
	assert.EqualError(t, err, "nothing to run")

	_, _, err = execute(t, "run", "--log-level", "loud", "-e", "1")
	assert.Error(t, err)

	_, _, err = execute(t, "run", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "-e", "1")
	assert.Error(t, err)
}

func TestRun_ConfigRealm(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jsctx.yaml")
	require.NoError(t, os.WriteFile(path, []byte("realm: sandbox\nlog_level: debug\n"), 0o600))
	_, stderr, err := execute(t, "run", "--config", path, "-e", "1")
	require.NoError(t, err)
	assert.Contains(t, stderr, "gojajscontext: installed")
}

func TestScenarioCommand(t *testing.T) {
	stdout, _, err := execute(t, "scenario", filepath.Join("testdata", "scenarios", "ordering.yaml"))
	require.NoError(t, err)
	assert.Contains(t, stdout, "scenario: ordering\n")
	assert.Contains(t, stdout, "result: ok\n")

	path := filepath.Join(t.TempDir(), "fail.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: fail\nsteps:\n  - script: console.log(1)\n    expect: []\n"), 0o600))
	stdout, _, err = execute(t, "scenario", path)
	require.EqualError(t, err, "1 step(s) did not match their expected output")
	assert.Contains(t, stdout, "result: 1 failed step(s)\n")

	_, _, err = execute(t, "scenario")
	assert.Error(t, err)
}
