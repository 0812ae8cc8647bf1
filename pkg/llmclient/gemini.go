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
	"encoding/json"
	"fmt"

	"google.golang.org/genai"
)

// GeminiProvider streams completions through the Gemini API
// (google.golang.org/genai).
type GeminiProvider struct {
	client *genai.Client
	model  string
}

var _ Provider = (*GeminiProvider)(nil)

// NewGeminiProvider constructs a Provider against the Gemini API.
func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &GeminiProvider{client: client, model: model}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Close() error { return nil }

func (p *GeminiProvider) Stream(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan ProviderChunk, error) {
	var system *genai.Content
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			system = &genai.Content{Parts: []*genai.Part{{Text: m.Content}}}
			continue
		}
		role := genai.RoleUser
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}

	config := &genai.GenerateContentConfig{SystemInstruction: system}
	if len(tools) > 0 {
		declarations := make([]*genai.FunctionDeclaration, len(tools))
		for i, t := range tools {
			declarations[i] = &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  toGeminiSchema(t.Parameters),
			}
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
	}

	iter := p.client.Models.GenerateContentStream(ctx, p.model, contents, config)

	out := make(chan ProviderChunk)
	go func() {
		defer close(out)

		idx := 0
		for resp, err := range iter {
			if err != nil {
				out <- ProviderChunk{Err: err}
				return
			}
			if resp == nil {
				continue
			}
			for _, candidate := range resp.Candidates {
				if candidate == nil || candidate.Content == nil {
					continue
				}
				for _, part := range candidate.Content.Parts {
					if part == nil {
						continue
					}
					if part.Text != "" {
						out <- ProviderChunk{Text: part.Text}
					}
					if part.FunctionCall != nil {
						argsJSON, marshalErr := json.Marshal(part.FunctionCall.Args)
						if marshalErr != nil {
							argsJSON = []byte("{}")
						}
						out <- ProviderChunk{ToolCallStart: &ToolCallStart{Index: idx, ID: fmt.Sprintf("call_%d", idx), Name: part.FunctionCall.Name}}
						out <- ProviderChunk{ToolCallDelta: &ToolCallDelta{Index: idx, ArgumentsJSON: string(argsJSON)}}
						idx++
					}
				}
			}
		}
		out <- ProviderChunk{Done: true}
	}()
	return out, nil
}

// toGeminiSchema narrows this package's JSON-Schema-shaped
// ToolDefinition.Parameters (always an "object" with "properties") down
// to what genai.Schema needs: Gemini has no free-form JSON Schema
// input, so only the handful of keywords BuildToolDefinitions ever
// emits are translated.
func toGeminiSchema(params map[string]any) *genai.Schema {
	schema := &genai.Schema{Type: genai.TypeObject}
	props, _ := params["properties"].(map[string]any)
	if len(props) == 0 {
		return schema
	}
	schema.Properties = make(map[string]*genai.Schema, len(props))
	for name, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		propSchema := &genai.Schema{}
		if t, ok := prop["type"].(string); ok {
			switch t {
			case "string":
				propSchema.Type = genai.TypeString
			case "array":
				propSchema.Type = genai.TypeArray
				propSchema.Items = &genai.Schema{Type: genai.TypeString}
			case "object":
				propSchema.Type = genai.TypeObject
			}
		}
		if desc, ok := prop["description"].(string); ok {
			propSchema.Description = desc
		}
		schema.Properties[name] = propSchema
	}
	if required, ok := params["required"].([]string); ok {
		schema.Required = required
	}
	return schema
}
