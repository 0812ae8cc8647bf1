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

// Package sandbox implements the Agent Loop's local code runtime: a
// restricted evaluator for normal-mode `Code` decisions, and an unsafe
// evaluator for OS mode, both built on expr-lang/expr.
//
// expr-lang/expr has no import statement and exposes only identifiers
// explicitly placed in its evaluation environment, so an allow-list
// policy falls out of the environment construction itself rather than
// needing a bytecode-level sandbox: an identifier not in the
// environment is a compile error, not a runtime escape. This library
// is grounded on the rest of the example pack (tombee-conductor,
// Soochol-Upal, szaher-agentspec all embed expr-lang/expr as their
// rule/condition evaluator); the teacher itself has no code-execution
// concern to generalize.
package sandbox

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/HelloEveryboby/Butler/pkg/apperr"
)

// alwaysBlocked names can never appear in a restricted environment, even
// if a caller's allow-list accidentally includes them (spec §4.2).
var alwaysBlocked = map[string]bool{
	"open": true, "eval": true, "exec": true,
	"compile": true, "input": true, "__import__": true,
}

// AllowList names the identifiers a restricted evaluation may reference.
type AllowList map[string]bool

// NewAllowList builds an AllowList from the given names, stripping any
// always-blocked name even if present.
func NewAllowList(names ...string) AllowList {
	al := make(AllowList, len(names))
	for _, n := range names {
		if alwaysBlocked[n] {
			continue
		}
		al[n] = true
	}
	return al
}

// Runtime evaluates a code fragment against a globals environment and
// returns its stringified result.
type Runtime struct {
	// OSMode selects the unsafe evaluator (direct evaluation against the
	// full environment) instead of the restricted one.
	OSMode bool

	// Allow restricts identifiers visible to restricted evaluations.
	// Ignored when OSMode is true.
	Allow AllowList
}

// New constructs a Runtime. In normal mode, allow should list every
// Registry in-process handler name the restricted evaluator may call
// plus any literal-value helpers (spec §4.2's allow-listed environment).
func New(osMode bool, allow AllowList) *Runtime {
	return &Runtime{OSMode: osMode, Allow: allow}
}

// Eval compiles and runs code against env. In restricted mode, env is
// filtered down to Allow before compilation, so referencing anything
// outside the allow-list fails as an undefined identifier rather than
// executing. Violations are wrapped as apperr.SandboxDenied.
func (r *Runtime) Eval(code string, env map[string]any) (string, error) {
	if r.OSMode {
		return r.evalUnsafe(code, env)
	}
	return r.evalRestricted(code, env)
}

func (r *Runtime) evalRestricted(code string, env map[string]any) (string, error) {
	if name, blocked := firstBlockedIdentifier(code); blocked {
		return "", apperr.New(apperr.SandboxDenied, "sandbox.Eval", fmt.Sprintf("identifier %q is never permitted", name), nil)
	}

	filtered := make(map[string]any, len(r.Allow))
	for name, value := range env {
		if alwaysBlocked[name] {
			continue
		}
		if r.Allow != nil && !r.Allow[name] {
			continue
		}
		filtered[name] = value
	}

	program, err := expr.Compile(code, expr.Env(filtered))
	if err != nil {
		return "", apperr.New(apperr.SandboxDenied, "sandbox.Eval", "restricted evaluation rejected", err)
	}

	output, err := expr.Run(program, filtered)
	if err != nil {
		return "", apperr.New(apperr.SandboxDenied, "sandbox.Eval", "restricted evaluation failed", err)
	}
	return fmt.Sprint(output), nil
}

// evalUnsafe compiles against the full, unfiltered environment: the
// globals table the caller populated from the Registry's in-process
// callables, with no allow-list applied (spec §4.2, os_mode path).
func (r *Runtime) evalUnsafe(code string, env map[string]any) (string, error) {
	program, err := expr.Compile(code, expr.Env(env))
	if err != nil {
		return "", apperr.New(apperr.SandboxDenied, "sandbox.Eval", "unsafe evaluation rejected", err)
	}
	output, err := expr.Run(program, env)
	if err != nil {
		return "", apperr.New(apperr.SandboxDenied, "sandbox.Eval", "unsafe evaluation failed", err)
	}
	return fmt.Sprint(output), nil
}

// firstBlockedIdentifier does a cheap textual pre-check for the
// always-blocked names, so an evaluation env that happens to define one
// of them (e.g. a handler literally named "eval") still can't be
// referenced by a restricted code fragment. It matches substrings, so
// it also rejects a fragment that contains one of the names inside a
// longer identifier or a string literal (e.g. "execute" or "reopen").
func firstBlockedIdentifier(code string) (string, bool) {
	for name := range alwaysBlocked {
		if strings.Contains(code, name) {
			return name, true
		}
	}
	return "", false
}
