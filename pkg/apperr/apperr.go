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

// Package apperr defines the error taxonomy shared by every subsystem of
// the agent core: the extension registry, the agent loop, the intent
// matcher and the workflow planner all report failures through the same
// Kind + wrapped-error shape so callers can branch with errors.Is/As
// instead of string matching.
package apperr

import "fmt"

// Kind classifies a failure into one of the categories the core
// distinguishes between for propagation and logging purposes.
type Kind string

const (
	UnknownTool          Kind = "unknown_tool"
	BuildFailed          Kind = "build_failed"
	InvalidManifest      Kind = "invalid_manifest"
	InvalidSpec          Kind = "invalid_spec"
	SandboxDenied        Kind = "sandbox_denied"
	ExternalProcessError Kind = "external_process_failed"
	ModuleLoadFailed     Kind = "module_load_failed"
	LLMUnavailable       Kind = "llm_unavailable"
	MalformedDecision    Kind = "malformed_decision"
	CyclicGraph          Kind = "cyclic_graph"
	Timeout              Kind = "timeout"
	Cancelled            Kind = "cancelled"
)

// Error is the concrete error type carrying a Kind, the operation that
// failed, a human-readable message and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Kind, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is allows errors.Is(err, apperr.New(kind, "", "", nil)) style kind
// comparisons without requiring the operation or message to match.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New constructs an *Error for the given kind.
func New(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// Of returns a sentinel used purely for errors.Is(err, apperr.Of(kind))
// comparisons.
func Of(kind Kind) *Error {
	return &Error{Kind: kind}
}
