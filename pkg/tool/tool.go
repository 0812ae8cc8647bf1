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

// Package tool implements the Extension Registry & Dispatcher (spec
// §4.1): a single source of truth for every executable tool, unifying
// in-process handlers, dynamically discovered modules and precompiled
// programs behind one Invoke(name, args) capability.
//
// The layered design mirrors the teacher's tool.Tool / CallableTool
// split (pkg/tool/tool.go in the reference corpus): a base catalogue
// entry (Tool) plus a single dispatch capability, avoiding conditional
// chains in the loop by routing through that capability instead of a
// kind switch at every call site.
package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/HelloEveryboby/Butler/pkg/apperr"
	"github.com/HelloEveryboby/Butler/pkg/metrics"
	"github.com/HelloEveryboby/Butler/pkg/model"
)

// HandlerFunc is an in-process callable registered at startup against a
// tool name. It is the invocation capability behind a KindHandler tool.
type HandlerFunc func(ctx context.Context, args Args) (model.ToolResult, error)

// ProgramRunner builds and invokes `program`-kind tools from a
// model.Manifest. Implemented by package toolprogram.
type ProgramRunner interface {
	// Prepare ensures the program's executable is built and up to date,
	// per the manifest's mtime comparison (spec §3, Manifest lifecycle).
	Prepare(ctx context.Context, dir string, m *model.Manifest) error

	// Invoke runs the already-prepared program.
	Invoke(ctx context.Context, dir string, m *model.Manifest, argv []string) (model.ToolResult, error)
}

// ModuleLoader lazily resolves and invokes `module`-kind tools.
// Implemented by package toolmodule (go-plugin backed) and package
// toolmcp (MCP backed).
type ModuleLoader interface {
	// Load initializes the named module exactly once; callers must
	// serialize concurrent loads of the same name (Registry does this
	// with a per-name sync.Once).
	Load(ctx context.Context, name string) error

	// Invoke calls the loaded module's entry point.
	Invoke(ctx context.Context, name string, args Args) (model.ToolResult, error)
}

type handlerEntry struct {
	tool model.Tool
	fn   HandlerFunc
}

type programEntry struct {
	tool     model.Tool
	manifest *model.Manifest
	dir      string
}

type moduleEntry struct {
	tool   model.Tool
	loader ModuleLoader
	once   sync.Once
	loadErr error
}

// Registry is the Extension Registry & Dispatcher. It is safe for
// concurrent readers and invokers; registration (discovery) should
// happen before Agent Loops start consuming the catalogue, though the
// registry does not forbid registering afterward.
type Registry struct {
	mu        sync.RWMutex
	handlers  map[string]*handlerEntry
	programs  map[string]*programEntry
	modules   map[string]*moduleEntry
	programRunner ProgramRunner
	metrics       *metrics.Metrics
}

// NewRegistry constructs an empty registry. runner is used to build and
// invoke program-kind tools discovered later; it may be nil if the
// deployment never registers programs.
func NewRegistry(runner ProgramRunner) *Registry {
	return &Registry{
		handlers:      make(map[string]*handlerEntry),
		programs:      make(map[string]*programEntry),
		modules:       make(map[string]*moduleEntry),
		programRunner: runner,
	}
}

// kindOf returns which map currently owns name, if any. Names are
// unique across all three kinds (spec §3 invariant); re-registration of
// an existing name under the same kind is a rebind.
func (r *Registry) kindOf(name string) (model.ToolKind, bool) {
	if _, ok := r.handlers[name]; ok {
		return model.KindHandler, true
	}
	if _, ok := r.programs[name]; ok {
		return model.KindProgram, true
	}
	if _, ok := r.modules[name]; ok {
		return model.KindModule, true
	}
	return "", false
}

// RegisterHandler binds fn as an in-process tool under name. A second
// call with the same name rebinds it rather than erroring, matching the
// spec's "re-registration is a rebind, not a duplicate" invariant —
// unless name is already owned by a different kind, which is rejected.
func (r *Registry) RegisterHandler(name, description string, sig *model.Signature, fn HandlerFunc) error {
	if description == "" {
		return fmt.Errorf("tool %q: description must not be empty", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if kind, owned := r.kindOf(name); owned && kind != model.KindHandler {
		return fmt.Errorf("tool %q already registered as kind %s", name, kind)
	}
	r.handlers[name] = &handlerEntry{
		tool: model.Tool{Name: name, Kind: model.KindHandler, Description: description, Signature: sig},
		fn:   fn,
	}
	return nil
}

// RegisterProgram registers a program-kind tool from its manifest and
// source directory. Build-on-demand happens lazily on first Invoke, not
// here — discovery only records the descriptor, per spec §4.1
// ("program is not registered" only on build failure, i.e. the failure
// surfaces at invoke time when Prepare runs).
//
// Callers that want build failures to prevent registration entirely
// (spec §4.1 Failure semantics) should call Prepare via RegisterProgramBuilt.
func (r *Registry) RegisterProgram(dir string, m *model.Manifest) error {
	if err := m.Validate(); err != nil {
		return apperr.New(apperr.InvalidManifest, "RegisterProgram", err.Error(), nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if kind, owned := r.kindOf(m.Name); owned && kind != model.KindProgram {
		return fmt.Errorf("tool %q already registered as kind %s", m.Name, kind)
	}
	r.programs[m.Name] = &programEntry{
		tool: model.Tool{
			Name: m.Name, Kind: model.KindProgram, Description: m.Description,
		},
		manifest: m,
		dir:      dir,
	}
	return nil
}

// RegisterProgramBuilt registers a program and eagerly builds it,
// matching spec §4.1's "build failure -> tool is not registered"
// failure semantics for discovery-time scanning.
func (r *Registry) RegisterProgramBuilt(ctx context.Context, dir string, m *model.Manifest) error {
	if r.programRunner == nil {
		return apperr.New(apperr.BuildFailed, "RegisterProgramBuilt", "no program runner configured", nil)
	}
	if err := m.Validate(); err != nil {
		return apperr.New(apperr.InvalidManifest, "RegisterProgramBuilt", err.Error(), nil)
	}
	if err := r.programRunner.Prepare(ctx, dir, m); err != nil {
		return apperr.New(apperr.BuildFailed, "RegisterProgramBuilt", fmt.Sprintf("building %q", m.Name), err)
	}
	return r.RegisterProgram(dir, m)
}

// RegisterModule records a module-kind tool discovered at path stem
// name; it is not loaded until the first Invoke (spec §4.1, lazy load).
func (r *Registry) RegisterModule(name, description string, loader ModuleLoader) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if kind, owned := r.kindOf(name); owned && kind != model.KindModule {
		return fmt.Errorf("tool %q already registered as kind %s", name, kind)
	}
	r.modules[name] = &moduleEntry{
		tool:   model.Tool{Name: name, Kind: model.KindModule, Description: description},
		loader: loader,
	}
	return nil
}

// List returns the catalogue the Agent Loop feeds to the LLM, sorted by
// name for prompt reproducibility (spec §4.1).
func (r *Registry) List() []model.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]model.Tool, 0, len(r.handlers)+len(r.programs)+len(r.modules))
	for _, e := range r.handlers {
		tools = append(tools, e.tool)
	}
	for _, e := range r.programs {
		tools = append(tools, e.tool)
	}
	for _, e := range r.modules {
		tools = append(tools, e.tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// Invoke dispatches to the named tool regardless of kind. Tool errors
// are captured inside the returned ToolResult.Error, never as the
// returned error (which is reserved for UnknownTool and similar
// dispatch-level failures) — this is what lets the Agent Loop continue
// after a failing tool call (spec §4.1 Failure semantics).
func (r *Registry) Invoke(ctx context.Context, name string, args Args) (model.ToolResult, error) {
	r.mu.RLock()
	h, isHandler := r.handlers[name]
	p, isProgram := r.programs[name]
	m, isModule := r.modules[name]
	metricsSink := r.metrics
	r.mu.RUnlock()

	started := time.Now()
	var kind model.ToolKind
	var res model.ToolResult
	var err error

	switch {
	case isHandler:
		kind = model.KindHandler
		res, err = r.invokeHandler(ctx, h, args)
	case isProgram:
		kind = model.KindProgram
		res, err = r.invokeProgram(ctx, p, args)
	case isModule:
		kind = model.KindModule
		res, err = r.invokeModule(ctx, m, args)
	default:
		return model.ToolResult{}, apperr.New(apperr.UnknownTool, "Invoke", name, nil)
	}

	metricsSink.RecordToolCall(name, string(kind), time.Since(started), err != nil || !res.Success())
	return res, err
}

// SetMetrics attaches a metrics.Metrics instance every subsequent
// Invoke call reports to. A nil receiver or a never-called SetMetrics
// both leave instrumentation disabled.
func (r *Registry) SetMetrics(m *metrics.Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = m
}

func (r *Registry) invokeHandler(ctx context.Context, e *handlerEntry, args Args) (model.ToolResult, error) {
	res, err := e.fn(ctx, args)
	if err != nil {
		return model.ToolResult{Error: err.Error()}, nil
	}
	return res, nil
}

func (r *Registry) invokeProgram(ctx context.Context, e *programEntry, args Args) (model.ToolResult, error) {
	if r.programRunner == nil {
		return model.ToolResult{}, apperr.New(apperr.BuildFailed, "Invoke", "no program runner configured", nil)
	}
	if err := r.programRunner.Prepare(ctx, e.dir, e.manifest); err != nil {
		return model.ToolResult{Error: err.Error()}, nil
	}
	res, err := r.programRunner.Invoke(ctx, e.dir, e.manifest, args.List)
	if err != nil {
		return model.ToolResult{Error: err.Error()}, nil
	}
	return res, nil
}

func (r *Registry) invokeModule(ctx context.Context, e *moduleEntry, args Args) (model.ToolResult, error) {
	e.once.Do(func() {
		e.loadErr = e.loader.Load(ctx, e.tool.Name)
	})
	if e.loadErr != nil {
		return model.ToolResult{}, apperr.New(apperr.ModuleLoadFailed, "Invoke", e.tool.Name, e.loadErr)
	}
	res, err := e.loader.Invoke(ctx, e.tool.Name, args)
	if err != nil {
		return model.ToolResult{Error: err.Error()}, nil
	}
	return res, nil
}

// Remove unregisters name from whichever kind owns it. Returns
// UnknownTool if name isn't registered.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[name]; ok {
		delete(r.handlers, name)
		return nil
	}
	if _, ok := r.programs[name]; ok {
		delete(r.programs, name)
		return nil
	}
	if _, ok := r.modules[name]; ok {
		delete(r.modules, name)
		return nil
	}
	return apperr.New(apperr.UnknownTool, "Remove", name, nil)
}

// Count returns the total number of registered tools across all kinds.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers) + len(r.programs) + len(r.modules)
}
