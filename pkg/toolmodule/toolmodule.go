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

// Package toolmodule implements the `module`-kind tool backend:
// dynamically discovered scripts with an exported entry point, run out
// of process and dispensed over hashicorp/go-plugin's RPC protocol so a
// crashing module cannot take the host process down with it.
//
// This generalizes the teacher's plugin loader (pkg/plugins/grpc) from
// a fixed set of plugin types (LLM/database/embedder/document-parser
// providers) to the single `ModuleEntryPoint` contract spec.md §3/§4.1
// describes: a variadic argument list in, a stringified result out.
package toolmodule

import (
	"context"
	"fmt"
	"net/rpc"
	"os/exec"
	"path/filepath"
	"sync"

	hclog "github.com/hashicorp/go-hclog"
	goplugin "github.com/hashicorp/go-plugin"

	"github.com/HelloEveryboby/Butler/pkg/model"
	"github.com/HelloEveryboby/Butler/pkg/tool"
)

// HandshakeConfig is shared by host and module binaries so a stray
// executable can't be mistaken for a module (go-plugin's standard
// defense against launching the wrong process).
var HandshakeConfig = goplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "BUTLER_MODULE",
	MagicCookieValue: "agent-core-module",
}

// EntryPoint is the contract every module binary must implement and
// expose over net/rpc through Plugin: the host dispenses it as
// "entrypoint" and calls it as "Plugin.Invoke".
type EntryPoint interface {
	Invoke(args InvokeArgs) (InvokeResult, error)
}

// InvokeArgs is the RPC-serializable form of tool.Args.
type InvokeArgs struct {
	Positional []any
	Kwargs     map[string]any
}

// InvokeResult is the RPC-serializable form of model.ToolResult.
type InvokeResult struct {
	Output     string
	Error      string
	Artifact   []byte
	Diagnostic string
}

// rpcClient adapts an RPC connection to the EntryPoint interface.
type rpcClient struct{ client *rpc.Client }

func (c *rpcClient) Invoke(args InvokeArgs) (InvokeResult, error) {
	var resp InvokeResult
	err := c.client.Call("Plugin.Invoke", args, &resp)
	return resp, err
}

// rpcServer adapts an EntryPoint implementation to net/rpc, used only
// inside module binaries, not the host.
type rpcServer struct{ Impl EntryPoint }

func (s *rpcServer) Invoke(args InvokeArgs, resp *InvokeResult) error {
	result, err := s.Impl.Invoke(args)
	*resp = result
	return err
}

// Plugin is the go-plugin plugin.Plugin implementation wiring rpcClient
// and rpcServer together.
type Plugin struct {
	Impl EntryPoint
}

func (p *Plugin) Server(*goplugin.MuxBroker) (interface{}, error) {
	return &rpcServer{Impl: p.Impl}, nil
}

func (p *Plugin) Client(b *goplugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &rpcClient{client: c}, nil
}

// Loader dispenses module binaries discovered under a directory. Each
// module is a separate child process, launched lazily on first Invoke
// and kept alive (and its client cached) for subsequent calls.
type Loader struct {
	dir     string
	logger  hclog.Logger
	mu      sync.Mutex
	clients map[string]*goplugin.Client
	entries map[string]EntryPoint
}

// NewLoader constructs a Loader that resolves each module binary as
// "<dir>/<name>", name being the file name Discover returned (go-plugin
// only requires an executable).
func NewLoader(dir string) *Loader {
	return &Loader{
		dir:     dir,
		logger:  hclog.New(&hclog.LoggerOptions{Name: "butler-module", Level: hclog.Warn}),
		clients: make(map[string]*goplugin.Client),
		entries: make(map[string]EntryPoint),
	}
}

// Load launches the module binary for name and dispenses its
// EntryPoint. Registry.Invoke already guards this with a sync.Once per
// name, so Load itself does not need to be idempotent under
// concurrency, but it still checks entries defensively.
func (l *Loader) Load(ctx context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[name]; ok {
		return nil
	}

	path := filepath.Join(l.dir, name)
	client := goplugin.NewClient(&goplugin.ClientConfig{
		HandshakeConfig:  HandshakeConfig,
		Plugins:          map[string]goplugin.Plugin{"entrypoint": &Plugin{}},
		Cmd:              exec.Command(path),
		Logger:           l.logger,
		AllowedProtocols: []goplugin.Protocol{goplugin.ProtocolNetRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return fmt.Errorf("module %q: dialing rpc client: %w", name, err)
	}

	raw, err := rpcClient.Dispense("entrypoint")
	if err != nil {
		client.Kill()
		return fmt.Errorf("module %q: dispensing entrypoint: %w", name, err)
	}

	entry, ok := raw.(EntryPoint)
	if !ok {
		client.Kill()
		return fmt.Errorf("module %q: dispensed value does not implement EntryPoint", name)
	}

	l.clients[name] = client
	l.entries[name] = entry
	return nil
}

// Invoke calls the loaded module's entry point, translating between
// tool.Args/model.ToolResult and the RPC wire types.
func (l *Loader) Invoke(ctx context.Context, name string, args tool.Args) (model.ToolResult, error) {
	l.mu.Lock()
	entry, ok := l.entries[name]
	l.mu.Unlock()
	if !ok {
		return model.ToolResult{}, fmt.Errorf("module %q not loaded", name)
	}

	result, err := entry.Invoke(InvokeArgs{Positional: args.Positional, Kwargs: args.Kwargs})
	if err != nil {
		return model.ToolResult{}, err
	}
	return model.ToolResult{
		Output:     result.Output,
		Error:      result.Error,
		Artifact:   result.Artifact,
		Diagnostic: result.Diagnostic,
	}, nil
}

// Close terminates every launched module process. Call during process
// shutdown.
func (l *Loader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.clients {
		c.Kill()
	}
}

var _ tool.ModuleLoader = (*Loader)(nil)
