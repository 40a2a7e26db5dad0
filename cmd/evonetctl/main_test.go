package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--log-level", "error", "--log-format", "json"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunInspectHistoryReset(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "evonet.db")
	ckpt := filepath.Join(dir, "xor.ckpt")
	store := []string{"--store", "sqlite", "--db-path", db}

	out, err := execute(t, append([]string{"init"}, store...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "initialized store=sqlite")

	out, err = execute(t, append([]string{
		"run", "--generations", "3", "--population", "20", "--ranks", "2",
		"--checkpoint", ckpt, "--checkpoint-every", "2",
	}, store...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "status=completed generations=1..4")

	out, err = execute(t, "inspect", ckpt)
	require.NoError(t, err)
	assert.Contains(t, out, "generation:  4")
	assert.Contains(t, out, "population:  20")
	assert.Contains(t, out, "weights:     17")

	out, err = execute(t, append([]string{"history"}, store...)...)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "xor")
	assert.Contains(t, lines[1], "completed")

	out, err = execute(t, append([]string{"history", "--run-id", "latest"}, store...)...)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 4)

	out, err = execute(t, append([]string{"history", "--run-id", "latest", "--checkpoints"}, store...)...)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 3)

	out, err = execute(t, append([]string{"reset"}, store...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "reset store=sqlite")

	out, err = execute(t, append([]string{"history"}, store...)...)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 1)
}

func TestRunUsesConfigFile(t *testing.T) {
	dir := t.TempDir()
	ckpt := filepath.Join(dir, "sine.ckpt")
	cfgPath := filepath.Join(dir, "evonet.ini")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
[run]
population_size = 10
generations = 2
workers = 1

[genome]
hidden = 3

[scape]
name = sine

[checkpoint]
path = `+ckpt+`
`), 0o644))

	out, err := execute(t, "run", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "generations=1..3")

	out, err = execute(t, "inspect", ckpt)
	require.NoError(t, err)
	assert.Contains(t, out, "weights:     10")
}

func TestRunRejectsInvalidFlags(t *testing.T) {
	_, err := execute(t, "run", "--population", "5", "--checkpoint", "")
	require.Error(t, err)

	_, err = execute(t, "inspect", filepath.Join(t.TempDir(), "missing.ckpt"))
	require.Error(t, err)

	_, err = execute(t, "bogus")
	require.Error(t, err)
}
