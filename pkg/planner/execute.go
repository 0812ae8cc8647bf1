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

package planner

import (
	"context"
	"fmt"

	"github.com/HelloEveryboby/Butler/pkg/model"
	"github.com/HelloEveryboby/Butler/pkg/tool"
)

// StepResult records one module's outcome during Execute.
type StepResult struct {
	Module string
	Result model.ToolResult
	Err    error
}

// Executor runs a Plan's modules through the Extension Registry in
// order (spec §4.4 "Execution").
type Executor struct {
	Registry *tool.Registry

	// StopOnError halts execution (and reports) on the first module
	// error instead of logging and continuing through the rest of the
	// plan.
	StopOnError bool
}

// NewExecutor constructs an Executor bound to registry.
func NewExecutor(registry *tool.Registry, stopOnError bool) *Executor {
	return &Executor{Registry: registry, StopOnError: stopOnError}
}

// Execute invokes every module in plan in order, passing args to each.
// It always returns one StepResult per module attempted; StopOnError
// controls whether a module error halts the remaining steps.
func (e *Executor) Execute(ctx context.Context, plan model.Plan, args tool.Args) ([]StepResult, error) {
	results := make([]StepResult, 0, len(plan.Nodes))

	for _, module := range plan.Nodes {
		result, err := e.Registry.Invoke(ctx, module, args)
		results = append(results, StepResult{Module: module, Result: result, Err: err})

		// A dispatch-level error (unknown tool, build failure, ...)
		// comes back as err; a handler/program/module-level failure
		// comes back as result.Error with err == nil (Registry.Invoke
		// never propagates those). StopOnError treats both as a module
		// error per spec §4.4's "Execution" flag.
		failed := err != nil || result.Error != ""
		if failed && e.StopOnError {
			if err == nil {
				err = fmt.Errorf("module %q reported: %s", module, result.Error)
			}
			return results, fmt.Errorf("plan execution stopped at module %q: %w", module, err)
		}
	}
	return results, nil
}
