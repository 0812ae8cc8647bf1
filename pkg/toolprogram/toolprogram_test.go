package toolprogram

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HelloEveryboby/Butler/pkg/model"
)

// writeFakeProgram writes a shell-script source and a manifest whose
// build step just copies that script to its output, so tests don't need
// a real toolchain on the runner.
func writeFakeProgram(t *testing.T, dir string) *model.Manifest {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))

	script := "#!/bin/sh\necho \"$@\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.sh"), []byte(script), 0o644))

	return &model.Manifest{
		Name:       "echo",
		Language:   "sh",
		Build:      "cp {source} {output} && chmod +x {output}",
		Source:     []string{"main.sh"},
		Executable: "echo.bin",
	}
}

func TestPrepareBuildsOnFirstCall(t *testing.T) {
	dir := t.TempDir()
	m := writeFakeProgram(t, dir)
	r := NewRunner()

	require.NoError(t, r.Prepare(context.Background(), dir, m))
	_, err := os.Stat(filepath.Join(dir, m.Executable))
	require.NoError(t, err)

	res, err := r.Invoke(context.Background(), dir, m, []string{"hello", "world"})
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", res.Output)
	assert.Empty(t, res.Error)
}

func TestPrepareSkipsRebuildWhenFresh(t *testing.T) {
	dir := t.TempDir()
	m := writeFakeProgram(t, dir)
	r := NewRunner()

	require.NoError(t, r.Prepare(context.Background(), dir, m))
	execPath := filepath.Join(dir, m.Executable)
	firstBuild, err := os.Stat(execPath)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, r.Prepare(context.Background(), dir, m))
	secondBuild, err := os.Stat(execPath)
	require.NoError(t, err)
	assert.Equal(t, firstBuild.ModTime(), secondBuild.ModTime())
}

func TestPrepareRebuildsWhenSourceIsNewer(t *testing.T) {
	dir := t.TempDir()
	m := writeFakeProgram(t, dir)
	r := NewRunner()

	require.NoError(t, r.Prepare(context.Background(), dir, m))
	execPath := filepath.Join(dir, m.Executable)
	firstBuild, err := os.Stat(execPath)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "main.sh"), time.Now(), time.Now()))

	require.NoError(t, r.Prepare(context.Background(), dir, m))
	secondBuild, err := os.Stat(execPath)
	require.NoError(t, err)
	assert.True(t, secondBuild.ModTime().After(firstBuild.ModTime()))
}

func TestDiscoverFindsManifests(t *testing.T) {
	root := t.TempDir()
	progDir := filepath.Join(root, "echo")
	require.NoError(t, os.MkdirAll(progDir, 0o755))
	manifestJSON := `{"name":"echo","language":"sh","build":"cp {source} {output}","source":["main.sh"],"executable":"echo.bin"}`
	require.NoError(t, os.WriteFile(filepath.Join(progDir, "program.json"), []byte(manifestJSON), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(progDir, "main.sh"), []byte("echo hi"), 0o644))

	found, err := Discover(root)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "echo", found[0].Manifest.Name)
}
