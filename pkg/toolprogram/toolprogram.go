// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package toolprogram implements the `program`-kind tool backend: build
// on demand from a manifest, skipping the build when the executable is
// newer than every source file, then invoking it either directly or
// through its `run` shell template.
//
// This generalizes the teacher's plugin build-on-demand check
// (pkg/plugins/discovery.go's mtime comparison before registering a
// discovered plugin) to arbitrary compiled programs, matching
// original_source/butler/external_program_manager.py's mtime-gated
// rebuild cache.
package toolprogram

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/HelloEveryboby/Butler/pkg/model"
)

// Runner builds and invokes program-kind tools. It gates concurrent
// builds of the same program behind a per-name guard so discovery and
// an in-flight Invoke never build the program twice (spec §9, "Build-
// on-demand race").
type Runner struct {
	mu     sync.Mutex
	guards map[string]*sync.Mutex
}

// NewRunner constructs a Runner.
func NewRunner() *Runner {
	return &Runner{guards: make(map[string]*sync.Mutex)}
}

func (r *Runner) guardFor(name string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.guards[name]
	if !ok {
		g = &sync.Mutex{}
		r.guards[name] = g
	}
	return g
}

// Prepare ensures m's executable exists and is newer than every source
// file, rebuilding synchronously via the manifest's build template
// otherwise.
func (r *Runner) Prepare(ctx context.Context, dir string, m *model.Manifest) error {
	guard := r.guardFor(m.Name)
	guard.Lock()
	defer guard.Unlock()

	stale, err := r.isStale(dir, m)
	if err != nil {
		return err
	}
	if !stale {
		return nil
	}
	return r.build(ctx, dir, m)
}

// isStale reports whether m's executable is missing or older than any
// of its declared source files.
func (r *Runner) isStale(dir string, m *model.Manifest) (bool, error) {
	execPath := filepath.Join(dir, m.Executable)
	execInfo, err := os.Stat(execPath)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat executable %q: %w", execPath, err)
	}

	for _, src := range m.Source {
		srcInfo, err := os.Stat(filepath.Join(dir, src))
		if err != nil {
			return false, fmt.Errorf("stat source %q: %w", src, err)
		}
		if srcInfo.ModTime().After(execInfo.ModTime()) {
			return true, nil
		}
	}
	return false, nil
}

// build runs the manifest's build template, substituting {source} with
// the space-joined source paths and {output} with the executable path,
// executed in dir (the project's own directory, spec §4.1).
func (r *Runner) build(ctx context.Context, dir string, m *model.Manifest) error {
	cmdline := strings.NewReplacer(
		"{source}", strings.Join(m.Source, " "),
		"{output}", m.Executable,
	).Replace(m.Build)

	cmd := exec.CommandContext(ctx, "sh", "-c", cmdline)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("build %q failed: %w: %s", m.Name, err, stderr.String())
	}
	if _, err := os.Stat(filepath.Join(dir, m.Executable)); err != nil {
		return fmt.Errorf("build %q produced no executable at %q", m.Name, m.Executable)
	}
	return nil
}

// Invoke runs the already-built program. If m.Run is set, it is
// substituted with {args} (the shell-quoted argv) and executed via a
// shell in dir; otherwise the executable is invoked directly with argv.
func (r *Runner) Invoke(ctx context.Context, dir string, m *model.Manifest, argv []string) (model.ToolResult, error) {
	var cmd *exec.Cmd
	if m.Run != "" {
		cmdline := strings.Replace(m.Run, "{args}", shellJoin(argv), 1)
		cmd = exec.CommandContext(ctx, "sh", "-c", cmdline)
	} else {
		cmd = exec.CommandContext(ctx, filepath.Join(dir, m.Executable), argv...)
	}
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return model.ToolResult{
			Output: stdout.String(),
			Error:  fmt.Sprintf("%v: %s", err, stderr.String()),
		}, nil
	}
	return model.ToolResult{Output: stdout.String()}, nil
}

// shellJoin quotes each argument so it round-trips through a shell `sh
// -c` invocation unscathed.
func shellJoin(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}
