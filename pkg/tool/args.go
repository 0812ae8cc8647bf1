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

package tool

// Args is the invocation payload passed to Registry.Invoke. Its shape
// depends on the target tool's kind (spec §4.1 invocation contract):
// a program takes a plain string list, a handler takes a command name
// plus a keyword mapping, and a module takes positional values plus a
// keyword mapping.
type Args struct {
	// List is used for program-kind tools: argv, in order.
	List []string

	// Command and Kwargs are used for handler-kind tools.
	Command string
	Kwargs  map[string]any

	// Positional and Kwargs (shared field above) are used for
	// module-kind tools.
	Positional []any
}

// ProgramArgs builds an Args value for invoking a program-kind tool.
func ProgramArgs(argv []string) Args {
	return Args{List: argv}
}

// HandlerArgs builds an Args value for invoking a handler-kind tool.
func HandlerArgs(command string, kwargs map[string]any) Args {
	return Args{Command: command, Kwargs: kwargs}
}

// ModuleArgs builds an Args value for invoking a module-kind tool.
func ModuleArgs(positional []any, kwargs map[string]any) Args {
	return Args{Positional: positional, Kwargs: kwargs}
}
