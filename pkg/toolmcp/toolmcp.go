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

// Package toolmcp implements a ModuleLoader backed by an MCP (Model
// Context Protocol) server: tools exposed by the server surface as
// additional `module`-kind tools in the Extension Registry.
//
// The connection is established on the first Discover or Load call, and
// generalizes the teacher's pkg/tool/mcptoolset (stdio/SSE/streamable-
// http transports via mark3labs/mcp-go) from its Toolset abstraction to
// the spec's narrower ModuleLoader contract.
package toolmcp

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HelloEveryboby/Butler/pkg/model"
	"github.com/HelloEveryboby/Butler/pkg/tool"
)

// Transport selects how Loader dials the MCP server.
type Transport string

const (
	TransportStdio          Transport = "stdio"
	TransportSSE            Transport = "sse"
	TransportStreamableHTTP Transport = "streamable-http"
)

// Config configures a single MCP server connection.
type Config struct {
	Name      string
	Transport Transport

	// URL is required for TransportSSE and TransportStreamableHTTP.
	URL string

	// Command and Args are required for TransportStdio.
	Command string
	Args    []string
	Env     map[string]string
}

// Loader is a ModuleLoader backed by one MCP server. Every tool the
// server advertises becomes a module-kind tool once Load is called with
// that tool's name.
type Loader struct {
	cfg Config

	mu        sync.Mutex
	client    client.MCPClient
	connected bool
	tools     map[string]mcp.Tool
}

// NewLoader constructs a Loader for cfg. The connection is not opened
// until the first Discover or Load call.
func NewLoader(cfg Config) *Loader {
	return &Loader{cfg: cfg}
}

// Discover connects to the MCP server (if not already connected) and
// returns the names of every tool it advertises, so a caller can
// register each one with the Extension Registry before any Load call
// arrives.
func (l *Loader) Discover(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.connected {
		if err := l.connect(ctx); err != nil {
			return nil, fmt.Errorf("connecting to mcp server %q: %w", l.cfg.Name, err)
		}
		l.connected = true
	}
	names := make([]string, 0, len(l.tools))
	for name := range l.tools {
		names = append(names, name)
	}
	return names, nil
}

// Load connects to the MCP server on first call and verifies name is
// among the tools it advertises. Subsequent calls (for other tool
// names on the same server) reuse the open connection.
func (l *Loader) Load(ctx context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.connected {
		if err := l.connect(ctx); err != nil {
			return fmt.Errorf("connecting to mcp server %q: %w", l.cfg.Name, err)
		}
		l.connected = true
	}
	if _, ok := l.tools[name]; !ok {
		return fmt.Errorf("mcp server %q does not advertise tool %q", l.cfg.Name, name)
	}
	return nil
}

func (l *Loader) connect(ctx context.Context) error {
	var c client.MCPClient
	var err error

	switch l.cfg.Transport {
	case TransportStdio:
		c, err = client.NewStdioMCPClient(l.cfg.Command, envSlice(l.cfg.Env), l.cfg.Args...)
	case TransportSSE:
		c, err = client.NewSSEMCPClient(l.cfg.URL)
	case TransportStreamableHTTP:
		c, err = client.NewStreamableHttpClient(l.cfg.URL)
	default:
		return fmt.Errorf("unsupported mcp transport %q", l.cfg.Transport)
	}
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("starting mcp client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "butlerd", Version: "0.1.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return fmt.Errorf("initializing mcp session: %w", err)
	}

	listResp, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.Close()
		return fmt.Errorf("listing mcp tools: %w", err)
	}

	tools := make(map[string]mcp.Tool, len(listResp.Tools))
	for _, t := range listResp.Tools {
		tools[t.Name] = t
	}

	l.client = c
	l.tools = tools
	return nil
}

// Invoke calls the named tool via the open MCP session, translating its
// content blocks into a model.ToolResult.
func (l *Loader) Invoke(ctx context.Context, name string, args tool.Args) (model.ToolResult, error) {
	l.mu.Lock()
	c := l.client
	l.mu.Unlock()
	if c == nil {
		return model.ToolResult{}, fmt.Errorf("mcp server %q not connected", l.cfg.Name)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args.Kwargs

	resp, err := c.CallTool(ctx, req)
	if err != nil {
		return model.ToolResult{}, fmt.Errorf("calling mcp tool %q: %w", name, err)
	}

	var texts []string
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	output := ""
	for i, t := range texts {
		if i > 0 {
			output += "\n"
		}
		output += t
	}

	if resp.IsError {
		return model.ToolResult{Error: output}, nil
	}
	return model.ToolResult{Output: output}, nil
}

// Close terminates the MCP session, if open.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client == nil {
		return nil
	}
	err := l.client.Close()
	l.client = nil
	l.connected = false
	return err
}

func envSlice(env map[string]string) []string {
	if env == nil {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

var _ tool.ModuleLoader = (*Loader)(nil)
