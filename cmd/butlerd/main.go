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

// Command butlerd is the agent core daemon: it loads configuration,
// wires the Extension Registry, the Intent Registry, the LLM
// Orchestrator and the Agent Loop together, and drives one task from
// the command line.
//
// Usage:
//
//	butlerd run --config config.yaml "what's on my calendar today"
//	butlerd validate --config config.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/HelloEveryboby/Butler/pkg/agentcore"
	"github.com/HelloEveryboby/Butler/pkg/config"
	"github.com/HelloEveryboby/Butler/pkg/intent"
	"github.com/HelloEveryboby/Butler/pkg/llmclient"
	"github.com/HelloEveryboby/Butler/pkg/logging"
	"github.com/HelloEveryboby/Butler/pkg/metrics"
	"github.com/HelloEveryboby/Butler/pkg/planner"
	"github.com/HelloEveryboby/Butler/pkg/tool"
	"github.com/HelloEveryboby/Butler/pkg/toolmcp"
	"github.com/HelloEveryboby/Butler/pkg/toolmodule"
	"github.com/HelloEveryboby/Butler/pkg/toolprogram"
)

// CLI is the root kong command tree.
type CLI struct {
	Run      RunCmd      `cmd:"" help:"Run a single task through the agent loop."`
	Plan     PlanCmd     `cmd:"" help:"Compute, and optionally execute, a workflow plan from a DAG specification."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`

	Config   string `short:"c" help:"Path to config file." type:"path" default:"butler.yaml"`
	EnvFile  string `help:"Path to a .env file to load before reading config." type:"path"`
	LogLevel string `help:"Override the config file's log level (debug, info, warn, error)."`
}

// ValidateCmd loads and validates a config file without running
// anything.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config, cli.EnvFile)
	if err != nil {
		return err
	}
	fmt.Printf("config OK: provider=%s model=%s max_iterations=%d safety_mode=%v\n",
		cfg.LLM.Provider, cfg.LLM.Model, cfg.Loop.MaxIterations, cfg.Loop.SafetyMode)
	return nil
}

// PlanCmd computes a minimum-cost plan through a workflow DAG
// specification and, with --execute, runs it through the Extension
// Registry (spec §4.4).
type PlanCmd struct {
	Spec    string `arg:"" help:"Path to a workflow DAG specification file." type:"path"`
	Start   string `help:"Start node." required:""`
	End     string `help:"End node." required:""`
	Execute bool   `help:"Execute the computed plan through the Extension Registry."`
}

func (c *PlanCmd) Run(cli *CLI) error {
	f, err := os.Open(c.Spec)
	if err != nil {
		return fmt.Errorf("opening workflow spec: %w", err)
	}
	defer f.Close()

	graph, err := planner.Parse(f)
	if err != nil {
		return fmt.Errorf("parsing workflow spec: %w", err)
	}
	graph.Metrics = metrics.New()

	plan, err := graph.ShortestPath(c.Start, c.End)
	if err != nil {
		return fmt.Errorf("computing plan: %w", err)
	}
	if plan.Empty() {
		fmt.Printf("no path from %q to %q\n", c.Start, c.End)
		return nil
	}
	fmt.Printf("plan: %v (cost %d)\n", plan.Nodes, plan.Cost)
	if !c.Execute {
		return nil
	}

	cfg, err := config.Load(cli.Config, cli.EnvFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	registry, err := buildRegistry(cfg)
	if err != nil {
		return fmt.Errorf("building registry: %w", err)
	}

	exec := planner.NewExecutor(registry, true)
	results, err := exec.Execute(context.Background(), plan, tool.HandlerArgs("", nil))
	for _, r := range results {
		status := "ok"
		if r.Err != nil || r.Result.Error != "" {
			status = "failed"
		}
		fmt.Printf("[%s] %s: %s\n", status, r.Module, r.Result.Output)
	}
	if err != nil {
		return fmt.Errorf("executing plan: %w", err)
	}
	return nil
}

// RunCmd runs one task through the agent loop and prints the streamed
// events to stdout.
type RunCmd struct {
	Input []string `arg:"" help:"The task to run, as free text."`
}

func (c *RunCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config, cli.EnvFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cli.LogLevel != "" {
		cfg.LogLevel = cli.LogLevel
	}
	logging.Init(logging.ParseLevel(cfg.LogLevel), os.Stderr)

	m := metrics.New()

	registry, err := buildRegistry(cfg)
	if err != nil {
		return fmt.Errorf("building registry: %w", err)
	}
	registry.SetMetrics(m)

	input := strings.Join(c.Input, " ")

	intents := buildIntentRegistry(m)
	if name, ok := intents.Match(input, cfg.Intent.MatchThreshold); ok {
		if result, ok := intents.Dispatch(name, nil); ok {
			fmt.Printf("%v\n", result)
			return nil
		}
	}

	provider, err := buildProvider(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("building llm provider: %w", err)
	}
	defer provider.Close()

	orchestrator := llmclient.NewOrchestrator(provider)
	loop := agentcore.New(registry, orchestrator, noScreenCapture{}, cfg.Loop.SafetyMode, cfg.Loop.OSMode, cfg.Loop.MaxIterations)
	loop.Metrics = m

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	for event := range loop.Run(ctx, input) {
		printEvent(event)
	}
	return nil
}

// buildIntentRegistry wires the Intent Registry's local fast path ahead
// of the orchestrator, registering the one illustrative handler the
// original implementation's plugin set carries (original_source/butler
// time-of-day plugin).
func buildIntentRegistry(m *metrics.Metrics) *intent.Registry {
	registry := intent.NewRegistry()
	registry.SetMetrics(m)
	registry.Register("get_current_time", "what time is it right now, current time, clock", false,
		func(map[string]any) (any, error) {
			return time.Now().Format(time.RFC3339), nil
		})
	return registry
}

func printEvent(event agentcore.Event) {
	switch event.Kind {
	case agentcore.EventThought:
		fmt.Print(event.Text)
	case agentcore.EventCode:
		fmt.Printf("\n[code] %s", event.Text)
	case agentcore.EventObservation:
		fmt.Printf("\n[observation] %s\n", event.Text)
	case agentcore.EventScreenshot:
		fmt.Printf("\n[screenshot] %d bytes\n", len(event.Image))
	case agentcore.EventStatus:
		fmt.Printf("\n[status] %s\n", event.Text)
	case agentcore.EventFinal:
		fmt.Printf("\n\n%s\n", event.Text)
	}
}

// noScreenCapture satisfies agentcore.ScreenCapture for deployments that
// never enable os_mode; it is never called unless cfg.Loop.OSMode is
// true, since the loop only captures when OSMode is set.
type noScreenCapture struct{}

func (noScreenCapture) Capture(ctx context.Context) ([]byte, error) {
	return nil, fmt.Errorf("os_mode is enabled but no screen capture backend is configured for this platform")
}

// buildRegistry constructs the Extension Registry and discovers every
// program- and module-kind tool the config names (spec §4.1 discovery).
func buildRegistry(cfg *config.Config) (*tool.Registry, error) {
	runner := toolprogram.NewRunner()
	registry := tool.NewRegistry(runner)

	if cfg.Tools.ProgramsDir != "" {
		discovered, err := toolprogram.Discover(cfg.Tools.ProgramsDir)
		if err != nil {
			return nil, fmt.Errorf("discovering programs: %w", err)
		}
		for _, d := range discovered {
			if err := registry.RegisterProgram(d.Dir, d.Manifest); err != nil {
				slog.Warn("skipping program", "dir", d.Dir, "err", err)
			}
		}
	}

	if cfg.Tools.ModulesDir != "" {
		names, err := toolmodule.Discover(cfg.Tools.ModulesDir)
		if err != nil {
			return nil, fmt.Errorf("discovering modules: %w", err)
		}
		loader := toolmodule.NewLoader(cfg.Tools.ModulesDir)
		for _, name := range names {
			if err := registry.RegisterModule(name, "discovered module", loader); err != nil {
				slog.Warn("skipping module", "name", name, "err", err)
			}
		}
	}

	for _, url := range cfg.Tools.MCPServers {
		loader := toolmcp.NewLoader(toolmcp.Config{Name: url, Transport: toolmcp.TransportSSE, URL: url})
		names, err := loader.Discover(context.Background())
		if err != nil {
			slog.Warn("skipping mcp server", "url", url, "err", err)
			continue
		}
		for _, name := range names {
			if err := registry.RegisterModule(name, "mcp tool from "+url, loader); err != nil {
				slog.Warn("skipping mcp tool", "name", name, "err", err)
			}
		}
	}

	return registry, nil
}

// buildProvider selects and constructs the llmclient.Provider named by
// cfg.LLM.Provider.
func buildProvider(ctx context.Context, cfg *config.Config) (llmclient.Provider, error) {
	switch cfg.LLM.Provider {
	case "openai":
		return llmclient.NewOpenAIProvider(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model), nil
	case "anthropic":
		return llmclient.NewAnthropicProvider(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.MaxTokens), nil
	case "gemini":
		return llmclient.NewGeminiProvider(ctx, cfg.LLM.APIKey, cfg.LLM.Model)
	case "ollama":
		return llmclient.NewOllamaProvider(cfg.LLM.BaseURL, cfg.LLM.Model), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("butlerd"),
		kong.Description("Agent core daemon: registry, intent matcher, orchestrator and loop."),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
