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

// Package model holds the data shared across the extension registry,
// the agent loop, the intent matcher and the workflow planner: tools,
// decisions, results and conversation turns.
package model

import "fmt"

// ToolKind distinguishes the three families of executable capability
// unified behind the Tool interface.
type ToolKind string

const (
	KindHandler ToolKind = "handler"
	KindModule  ToolKind = "module"
	KindProgram ToolKind = "program"
)

// Signature optionally describes a tool's arguments for the planner
// surface shown to the LLM.
type Signature struct {
	Args []Arg `json:"args,omitempty"`
}

// Arg names and types one argument in a Signature.
type Arg struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Tool is the addressable unit of work the Extension Registry exposes.
// It carries only the catalogue-facing metadata; invocation goes
// through the registry's Invoke, not through this struct, so that all
// three kinds are dispatched uniformly.
type Tool struct {
	Name        string     `json:"name"`
	Kind        ToolKind   `json:"kind"`
	Description string     `json:"description"`
	Signature   *Signature `json:"signature,omitempty"`
}

// Manifest is the persistent descriptor for a `program`-kind tool.
type Manifest struct {
	Name        string   `json:"name" yaml:"name"`
	Language    string   `json:"language" yaml:"language"`
	Build       string   `json:"build" yaml:"build"`
	Source      []string `json:"source" yaml:"source"`
	Executable  string   `json:"executable" yaml:"executable"`
	Run         string   `json:"run,omitempty" yaml:"run,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// Validate checks the required manifest fields are present, returning a
// descriptive error suitable for wrapping as apperr.InvalidManifest.
func (m *Manifest) Validate() error {
	switch {
	case m.Name == "":
		return fmt.Errorf("manifest missing name")
	case m.Language == "":
		return fmt.Errorf("manifest %q missing language", m.Name)
	case m.Build == "":
		return fmt.Errorf("manifest %q missing build template", m.Name)
	case len(m.Source) == 0:
		return fmt.Errorf("manifest %q missing source files", m.Name)
	case m.Executable == "":
		return fmt.Errorf("manifest %q missing executable path", m.Name)
	}
	return nil
}

// DecisionVariant tags the case carried by a ToolDecision.
type DecisionVariant string

const (
	DecisionCode     DecisionVariant = "code"
	DecisionExternal DecisionVariant = "external"
	DecisionFinal    DecisionVariant = "final"
)

// ToolDecision is the tagged variant the LLM Orchestrator produces each
// iteration of the agent loop.
type ToolDecision struct {
	Variant DecisionVariant
	Thought string

	// Code is populated when Variant == DecisionCode.
	Code string

	// Name and Args are populated when Variant == DecisionExternal.
	Name string
	Args []string

	// Message is populated when Variant == DecisionFinal.
	Message string
}

// ToolResult is the outcome of executing a Code or ExternalCall
// decision, or of a direct registry Invoke.
type ToolResult struct {
	Output     string
	Error      string
	Artifact   []byte
	Diagnostic string
}

// Success reports whether the result carries no error text.
func (r ToolResult) Success() bool {
	return r.Error == ""
}

// Merge combines two results by concatenating Output and Error and
// keeping whichever single Artifact is present. Merging two results
// that both carry an Artifact is an error, per spec.
func (r ToolResult) Merge(other ToolResult) (ToolResult, error) {
	merged := ToolResult{
		Output: r.Output + other.Output,
		Error:  r.Error + other.Error,
	}
	switch {
	case len(r.Artifact) > 0 && len(other.Artifact) > 0:
		return ToolResult{}, fmt.Errorf("cannot merge two results that both carry an artifact")
	case len(r.Artifact) > 0:
		merged.Artifact = r.Artifact
	default:
		merged.Artifact = other.Artifact
	}
	if r.Diagnostic != "" && other.Diagnostic != "" {
		merged.Diagnostic = r.Diagnostic + "; " + other.Diagnostic
	} else {
		merged.Diagnostic = r.Diagnostic + other.Diagnostic
	}
	return merged, nil
}

// Role identifies the speaker of a ConversationTurn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartKind distinguishes the two content part alternatives a turn may
// carry.
type PartKind string

const (
	PartText  PartKind = "text"
	PartImage PartKind = "image_reference"
)

// Part is one piece of a turn's content: either text or an image
// reference (raw bytes, e.g. a PNG screenshot).
type Part struct {
	Kind PartKind
	Text string
	// Image holds the raw bytes when Kind == PartImage.
	Image []byte
}

// TextPart builds a text content part.
func TextPart(s string) Part { return Part{Kind: PartText, Text: s} }

// ImagePart builds an image content part.
func ImagePart(b []byte) Part { return Part{Kind: PartImage, Image: b} }

// ConversationTurn is one entry of the agent loop's history. Content is
// either a single string (use Text) or an ordered list of parts (use
// Parts); exactly one should be populated.
type ConversationTurn struct {
	Role  Role
	Text  string
	Parts []Part
}

// HasParts reports whether this turn uses the multi-part content form.
func (t ConversationTurn) HasParts() bool {
	return len(t.Parts) > 0
}

// Plan is the ordered sequence of module names the Workflow Planner
// computes as a minimum-cost route from a start node to an end node.
type Plan struct {
	Nodes []string
	Cost  int
}

// Empty reports whether the plan carries no nodes (cycle detected or
// end node unreachable).
func (p Plan) Empty() bool {
	return len(p.Nodes) == 0
}
