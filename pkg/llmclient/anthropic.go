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

package llmclient

import (
	"context"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider streams completions through the Claude Messages API
// (github.com/anthropics/anthropic-sdk-go).
type AnthropicProvider struct {
	client    sdk.Client
	model     string
	maxTokens int64
}

var _ Provider = (*AnthropicProvider)(nil)

// NewAnthropicProvider constructs a Provider against the Claude Messages
// API. maxTokens is the completion cap Anthropic requires on every
// request.
func NewAnthropicProvider(apiKey, model string, maxTokens int64) *AnthropicProvider {
	return &AnthropicProvider{
		client:    sdk.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Close() error { return nil }

func (p *AnthropicProvider) Stream(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan ProviderChunk, error) {
	var system []sdk.TextBlockParam
	conversation := make([]sdk.MessageParam, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, sdk.TextBlockParam{Text: m.Content})
			continue
		}
		if m.Role == "tool" {
			block := sdk.NewToolResultBlock(m.ToolCallID, m.Content, false)
			conversation = append(conversation, sdk.NewUserMessage(block))
			continue
		}
		if m.Role == "assistant" {
			conversation = append(conversation, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
			continue
		}
		conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
	}

	toolParams := make([]sdk.ToolUnionParam, len(tools))
	for i, t := range tools {
		toolParams[i] = sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{
			Properties: t.Parameters["properties"],
		}, t.Name)
		toolParams[i].OfTool.Description = sdk.String(t.Description)
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: p.maxTokens,
		Messages:  conversation,
		System:    system,
		Tools:     toolParams,
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, err
	}

	out := make(chan ProviderChunk)
	go func() {
		defer close(out)
		defer stream.Close()

		toolIDs := make(map[int]string)
		toolNames := make(map[int]string)

		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case sdk.ContentBlockStartEvent:
				idx := int(ev.Index)
				if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
					toolIDs[idx] = toolUse.ID
					toolNames[idx] = toolUse.Name
					out <- ProviderChunk{ToolCallStart: &ToolCallStart{Index: idx, ID: toolUse.ID, Name: toolUse.Name}}
				}
			case sdk.ContentBlockDeltaEvent:
				idx := int(ev.Index)
				switch delta := ev.Delta.AsAny().(type) {
				case sdk.TextDelta:
					if delta.Text != "" {
						out <- ProviderChunk{Text: delta.Text}
					}
				case sdk.InputJSONDelta:
					if delta.PartialJSON != "" {
						out <- ProviderChunk{ToolCallDelta: &ToolCallDelta{Index: idx, ArgumentsJSON: delta.PartialJSON}}
					}
				}
			case sdk.MessageStopEvent:
				out <- ProviderChunk{Done: true}
				return
			}
		}
		if err := stream.Err(); err != nil {
			out <- ProviderChunk{Err: err}
			return
		}
		out <- ProviderChunk{Done: true}
	}()
	return out, nil
}
