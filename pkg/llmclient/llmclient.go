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

// Package llmclient is the LLM Orchestrator (spec §4.2): it drives a
// Provider's native streaming + tool-calling protocol and folds the
// result into a single model.ToolDecision, regardless of which backend
// answered.
//
// A decision's Code and ExternalCall variants both ride on the
// provider's tool-calling mechanism rather than a hand-parsed JSON
// envelope: the catalogue handed to the provider always carries a
// synthetic "execute_code" tool alongside the Registry's real tools, so
// "the model asked to run this code" and "the model asked to invoke
// this registered tool" are the same wire event, just with a different
// tool name. A response with no tool call at all is the Final variant.
// This mirrors the common shape the provider-specific adapters in this
// package expose: a delta stream of text plus zero or more
// incrementally-assembled tool calls (pkg/llms/openai.go and
// pkg/llms/anthropic.go in the reference corpus both reduce their
// SDK's native event stream to exactly that shape before handing it to
// the agent loop).
package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/HelloEveryboby/Butler/pkg/apperr"
	"github.com/HelloEveryboby/Butler/pkg/model"
)

// ExecuteCodeTool is the synthetic tool name every request advertises so
// the model can choose the Code decision variant through the same
// tool-calling mechanism it uses for real tools.
const ExecuteCodeTool = "execute_code"

// Message is the universal chat message shape passed to every Provider,
// independent of the wire format its own SDK wants.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string
}

// ToolDefinition advertises one callable tool to the model: the
// Registry's catalogue (spec §4.1) plus the synthetic ExecuteCodeTool.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is a fully assembled call the model requested in a prior
// turn (used when replaying history, not when consuming a live stream).
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
	RawArgs   string
}

// ToolCallStart announces a new tool call beginning at Index; its
// arguments arrive afterward as one or more ToolCallDelta fragments.
type ToolCallStart struct {
	Index int
	ID    string
	Name  string
}

// ToolCallDelta carries the next fragment of a tool call's arguments,
// encoded as partial JSON text to be concatenated in order.
type ToolCallDelta struct {
	Index         int
	ArgumentsJSON string
}

// ProviderChunk is one event of a Provider's native stream, already
// reduced to the handful of shapes every backend can produce.
type ProviderChunk struct {
	Text          string
	ToolCallStart *ToolCallStart
	ToolCallDelta *ToolCallDelta
	Done          bool
	Err           error
}

// Provider streams a chat completion from one LLM backend.
type Provider interface {
	Name() string
	Stream(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan ProviderChunk, error)
	Close() error
}

// DecisionChunkKind tags the variant of a DecisionChunk.
type DecisionChunkKind string

const (
	ThoughtDelta DecisionChunkKind = "thought"
	CodeDelta    DecisionChunkKind = "code"
	Final        DecisionChunkKind = "final"
	Failed       DecisionChunkKind = "failed"
)

// DecisionChunk is one event of the Orchestrator's higher-level stream,
// consumed directly by the Agent Loop to emit thought_chunk/code_chunk
// events (spec §4.2) before acting on the completed ToolDecision.
type DecisionChunk struct {
	Kind     DecisionChunkKind
	Text     string
	Decision model.ToolDecision
	Err      error
}

// Orchestrator wraps one Provider and produces ToolDecisions from it.
type Orchestrator struct {
	Provider Provider
}

// NewOrchestrator constructs an Orchestrator bound to provider.
func NewOrchestrator(provider Provider) *Orchestrator {
	return &Orchestrator{Provider: provider}
}

// Stream requests one decision from the Orchestrator's Provider, given
// the loop's current history and tool catalogue. osMode is not used:
// Provider.Stream takes no mode flag, so it is not passed on.
func (o *Orchestrator) Stream(ctx context.Context, history []model.ConversationTurn, tools []model.Tool, osMode bool) (<-chan DecisionChunk, error) {
	messages := ConvertHistory(history)
	defs := BuildToolDefinitions(tools)

	raw, err := o.Provider.Stream(ctx, messages, defs)
	if err != nil {
		return nil, apperr.New(apperr.LLMUnavailable, "Orchestrator.Stream", o.Provider.Name(), err)
	}

	out := make(chan DecisionChunk)
	go o.reduce(raw, out)
	return out, nil
}

// reduce folds the provider's raw event stream into thought_chunk and
// code_chunk deltas, then a single terminal Final or Failed event.
func (o *Orchestrator) reduce(raw <-chan ProviderChunk, out chan<- DecisionChunk) {
	defer close(out)

	var thought strings.Builder
	var message strings.Builder

	type callState struct {
		id, name string
		args     strings.Builder
	}
	calls := make(map[int]*callState)
	var order []int
	sawToolCall := false

	for chunk := range raw {
		if chunk.Err != nil {
			out <- DecisionChunk{Kind: Failed, Err: apperr.New(apperr.LLMUnavailable, "Orchestrator.Stream", o.Provider.Name(), chunk.Err)}
			return
		}
		if chunk.Text != "" {
			message.WriteString(chunk.Text)
			if !sawToolCall {
				thought.WriteString(chunk.Text)
				out <- DecisionChunk{Kind: ThoughtDelta, Text: chunk.Text}
			}
		}
		if chunk.ToolCallStart != nil {
			sawToolCall = true
			idx := chunk.ToolCallStart.Index
			calls[idx] = &callState{id: chunk.ToolCallStart.ID, name: chunk.ToolCallStart.Name}
			order = append(order, idx)
		}
		if chunk.ToolCallDelta != nil {
			idx := chunk.ToolCallDelta.Index
			cs, ok := calls[idx]
			if !ok {
				cs = &callState{}
				calls[idx] = cs
				order = append(order, idx)
			}
			cs.args.WriteString(chunk.ToolCallDelta.ArgumentsJSON)
			if cs.args.Len() > 0 {
				out <- DecisionChunk{Kind: CodeDelta, Text: chunk.ToolCallDelta.ArgumentsJSON}
			}
		}
		if chunk.Done {
			break
		}
	}

	if !sawToolCall {
		text := strings.TrimSpace(message.String())
		if text == "" {
			out <- DecisionChunk{Kind: Failed, Err: apperr.New(apperr.MalformedDecision, "Orchestrator.Stream", "empty response", nil)}
			return
		}
		out <- DecisionChunk{Kind: Final, Decision: model.ToolDecision{
			Variant: model.DecisionFinal,
			Thought: thought.String(),
			Message: text,
		}}
		return
	}

	// Exactly one decision per iteration (spec §4.2): take the first
	// call the provider started.
	idx := order[0]
	cs := calls[idx]
	if cs.name == "" {
		out <- DecisionChunk{Kind: Failed, Err: apperr.New(apperr.MalformedDecision, "Orchestrator.Stream", "tool call missing name", nil)}
		return
	}

	args := map[string]any{}
	if raw := strings.TrimSpace(cs.args.String()); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			out <- DecisionChunk{Kind: Failed, Err: apperr.New(apperr.MalformedDecision, "Orchestrator.Stream", fmt.Sprintf("tool call %q has malformed arguments", cs.name), err)}
			return
		}
	}

	if cs.name == ExecuteCodeTool {
		code, _ := args["code"].(string)
		out <- DecisionChunk{Kind: Final, Decision: model.ToolDecision{
			Variant: model.DecisionCode,
			Thought: thought.String(),
			Code:    code,
		}}
		return
	}

	out <- DecisionChunk{Kind: Final, Decision: model.ToolDecision{
		Variant: model.DecisionExternal,
		Thought: thought.String(),
		Name:    cs.name,
		Args:    argvFromArguments(args),
	}}
}

// argvFromArguments reduces a tool call's parsed JSON arguments to the
// flat string list model.ToolDecision.Args expects. An "argv" array is
// used verbatim; otherwise every key is rendered as "key=value", sorted
// for determinism, so a model that ignores the advertised schema still
// produces something the Registry can dispatch.
func argvFromArguments(args map[string]any) []string {
	if raw, ok := args["argv"].([]any); ok {
		argv := make([]string, 0, len(raw))
		for _, v := range raw {
			argv = append(argv, fmt.Sprint(v))
		}
		return argv
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	argv := make([]string, 0, len(keys))
	for _, k := range keys {
		argv = append(argv, fmt.Sprintf("%s=%v", k, args[k]))
	}
	return argv
}

// BuildToolDefinitions translates the Registry's catalogue (spec §4.1)
// plus the synthetic ExecuteCodeTool into the provider-neutral
// ToolDefinition shape.
func BuildToolDefinitions(tools []model.Tool) []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(tools)+1)
	defs = append(defs, ToolDefinition{
		Name:        ExecuteCodeTool,
		Description: "Run a code fragment in the local sandbox and return its output.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"code": map[string]any{"type": "string"}},
			"required":   []string{"code"},
		},
	})
	for _, t := range tools {
		defs = append(defs, ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"argv": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "positional arguments, in order",
					},
				},
			},
		})
	}
	return defs
}

// ConvertHistory renders the Agent Loop's conversation history (spec
// §4.2 "History discipline") into provider-neutral Messages. Image
// parts are rendered as a short placeholder: the loop itself is
// responsible for downgrading stale image parts before calling Stream,
// so any image reaching here is the current turn's screenshot, which no
// Provider adapter in this package currently forwards as binary image
// content.
func ConvertHistory(turns []model.ConversationTurn) []Message {
	messages := make([]Message, 0, len(turns))
	for _, t := range turns {
		content := t.Text
		if t.HasParts() {
			var b strings.Builder
			for i, part := range t.Parts {
				if i > 0 {
					b.WriteString("\n")
				}
				switch part.Kind {
				case model.PartText:
					b.WriteString(part.Text)
				case model.PartImage:
					b.WriteString("[image attached]")
				}
			}
			content = b.String()
		}
		messages = append(messages, Message{Role: string(t.Role), Content: content})
	}
	return messages
}
