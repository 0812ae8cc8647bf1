package toolmodule

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HelloEveryboby/Butler/pkg/tool"
)

func TestDiscoverListsOnlyExecutables(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "weather"), []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("notes"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))

	names, err := Discover(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"weather"}, names)
}

func TestDiscoverMissingDirReturnsEmpty(t *testing.T) {
	names, err := Discover(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Empty(t, names)
}

// fakeEntryPoint exercises the Loader.Invoke translation path without a
// real subprocess, mirroring how an in-process EntryPoint would behave
// once dispensed over RPC.
type fakeEntryPoint struct{}

func (fakeEntryPoint) Invoke(args InvokeArgs) (InvokeResult, error) {
	name, _ := args.Kwargs["name"].(string)
	return InvokeResult{Output: "hello " + name}, nil
}

func TestLoaderInvokeTranslatesArgsAndResult(t *testing.T) {
	l := NewLoader(t.TempDir())
	l.entries["greeter"] = fakeEntryPoint{}

	args := tool.ModuleArgs(nil, map[string]any{"name": "world"})
	result, err := l.Invoke(context.Background(), "greeter", args)
	require.NoError(t, err)
	assert.Equal(t, "hello world", result.Output)
}
