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

// Package agentcore implements the Agent Loop (Interpreter, spec §4.2):
// an iterative think-act-observe driver that streams structured
// decisions from an llmclient.Orchestrator, dispatches them through the
// Extension Registry or the local code runtime, and enforces a safety
// gate and an iteration ceiling.
package agentcore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/HelloEveryboby/Butler/pkg/apperr"
	"github.com/HelloEveryboby/Butler/pkg/llmclient"
	"github.com/HelloEveryboby/Butler/pkg/metrics"
	"github.com/HelloEveryboby/Butler/pkg/model"
	"github.com/HelloEveryboby/Butler/pkg/sandbox"
	"github.com/HelloEveryboby/Butler/pkg/tool"
)

// EventKind names the wire kinds of the event stream (spec §6 "Event
// stream (consumer contract)").
type EventKind string

const (
	EventStatus      EventKind = "status"
	EventThought     EventKind = "thought_chunk"
	EventCode        EventKind = "code_chunk"
	EventScreenshot  EventKind = "screenshot"
	EventObservation EventKind = "observation"
	EventFinal       EventKind = "final"
)

// Event is one entry of the loop's output stream. Text carries every
// kind's payload except EventScreenshot, which carries raw PNG bytes in
// Image.
type Event struct {
	Kind  EventKind
	Text  string
	Image []byte
}

// ScreenCapture captures one OS-mode screen frame as PNG bytes. No pack
// example wires a genuine OS-level screen-grab binding (the closest,
// haasonsaas-nexus's internal/media, only resizes screenshots already
// captured by a browser), so this is a seam the caller supplies rather
// than an implementation the core carries.
type ScreenCapture interface {
	Capture(ctx context.Context) ([]byte, error)
}

type stagedKind string

const (
	stagedCode     stagedKind = "code"
	stagedExternal stagedKind = "external"
)

type stagedAction struct {
	kind      stagedKind
	decision  model.ToolDecision
	iteration int
}

// Loop drives the think-act-observe cycle against one Registry and one
// Orchestrator.
type Loop struct {
	Registry     *tool.Registry
	Orchestrator *llmclient.Orchestrator
	Capture      ScreenCapture
	Metrics      *metrics.Metrics

	SafetyMode    bool
	OSMode        bool
	MaxIterations int

	mu      sync.Mutex
	history []model.ConversationTurn
	staged  *stagedAction
}

// New constructs a Loop. maxIterations <= 0 is treated as the spec
// default of 10.
func New(registry *tool.Registry, orchestrator *llmclient.Orchestrator, capture ScreenCapture, safetyMode, osMode bool, maxIterations int) *Loop {
	if maxIterations <= 0 {
		maxIterations = 10
	}
	return &Loop{
		Registry:      registry,
		Orchestrator:  orchestrator,
		Capture:       capture,
		SafetyMode:    safetyMode,
		OSMode:        osMode,
		MaxIterations: maxIterations,
	}
}

// Run starts a new task: appends the user turn to history and enters
// the loop from iteration 0 (spec §4.2 "run").
func (l *Loop) Run(ctx context.Context, userInput string) <-chan Event {
	l.mu.Lock()
	l.history = append(l.history, model.ConversationTurn{Role: model.RoleUser, Text: userInput})
	l.mu.Unlock()

	out := make(chan Event)
	go l.runFrom(ctx, out, 0)
	return out
}

// RunApproved commits the action staged by the safety gate, then
// resumes the loop at the iteration following the one that staged it
// (spec §4.2 "run_approved"). Returns a closed channel with a single
// failure final event if nothing is staged.
func (l *Loop) RunApproved(ctx context.Context) <-chan Event {
	l.mu.Lock()
	staged := l.staged
	l.staged = nil
	l.mu.Unlock()

	out := make(chan Event)
	if staged == nil {
		go func() {
			defer close(out)
			out <- Event{Kind: EventFinal, Text: "no action is staged"}
		}()
		return out
	}

	go func() {
		if !l.act(ctx, out, staged.decision) {
			close(out)
			return
		}
		l.runFrom(ctx, out, staged.iteration+1)
	}()
	return out
}

// runFrom executes the think-act-observe algorithm starting at
// iteration start, closing out when the loop ends (spec §4.2 "Algorithm").
func (l *Loop) runFrom(ctx context.Context, out chan<- Event, start int) {
	started := time.Now()
	outcome := "failure"
	defer func() { l.Metrics.RecordLoopRun(outcome, time.Since(started)) }()
	defer close(out)

	for i := start; i < l.MaxIterations; i++ {
		if l.OSMode {
			if !l.captureFrame(ctx, out) {
				return
			}
		}

		l.mu.Lock()
		historySnapshot := append([]model.ConversationTurn(nil), l.history...)
		l.mu.Unlock()

		catalogue := l.Registry.List()
		decisionCh, err := l.Orchestrator.Stream(ctx, historySnapshot, catalogue, l.OSMode)
		if err != nil {
			out <- Event{Kind: EventFinal, Text: fmt.Sprintf("orchestrator unavailable: %v", err)}
			return
		}

		decision, ok := l.streamDecision(decisionCh, out)
		if !ok {
			return
		}
		l.Metrics.RecordLoopIteration(string(decision.Variant))

		switch decision.Variant {
		case model.DecisionFinal:
			out <- Event{Kind: EventFinal, Text: decision.Message}
			outcome = "final"
			return

		case model.DecisionCode:
			if l.SafetyMode {
				l.stage(stagedCode, decision, i)
				out <- Event{Kind: EventStatus, Text: "staged code awaiting approval"}
				outcome = "staged"
				return
			}
			if !l.act(ctx, out, decision) {
				return
			}

		case model.DecisionExternal:
			if l.SafetyMode {
				l.stage(stagedExternal, decision, i)
				out <- Event{Kind: EventStatus, Text: "staged external tool call awaiting approval"}
				outcome = "staged"
				return
			}
			if !l.act(ctx, out, decision) {
				return
			}

		default:
			out <- Event{Kind: EventFinal, Text: "orchestrator returned an unrecognized decision"}
			return
		}
	}

	out <- Event{Kind: EventFinal, Text: "iteration ceiling reached without a final answer"}
	outcome = "ceiling"
}

// stage records decision as the single pending action. A second
// decision staged while one is already pending replaces it (spec §4.2
// "Safety gate").
func (l *Loop) stage(kind stagedKind, decision model.ToolDecision, iteration int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.staged = &stagedAction{kind: kind, decision: decision, iteration: iteration}
}

// streamDecision drains decisionCh, emitting thought_chunk/code_chunk
// deltas as they arrive, and returns the completed decision. ok is
// false if the stream ended in failure, in which case a final event
// has already been emitted.
func (l *Loop) streamDecision(decisionCh <-chan llmclient.DecisionChunk, out chan<- Event) (model.ToolDecision, bool) {
	for chunk := range decisionCh {
		switch chunk.Kind {
		case llmclient.ThoughtDelta:
			out <- Event{Kind: EventThought, Text: chunk.Text}
		case llmclient.CodeDelta:
			out <- Event{Kind: EventCode, Text: chunk.Text}
		case llmclient.Final:
			return chunk.Decision, true
		case llmclient.Failed:
			out <- Event{Kind: EventFinal, Text: failureMessage(chunk.Err)}
			return model.ToolDecision{}, false
		}
	}
	out <- Event{Kind: EventFinal, Text: "orchestrator stream ended without a decision"}
	return model.ToolDecision{}, false
}

func failureMessage(err error) string {
	if err == nil {
		return "orchestrator failed"
	}
	return err.Error()
}

// act executes decision (Code or ExternalCall) against the local code
// runtime or the Registry, appends the matching assistant turn and
// emits the observation event (spec §4.2 step d). Returns false if ctx
// was already cancelled.
func (l *Loop) act(ctx context.Context, out chan<- Event, decision model.ToolDecision) bool {
	select {
	case <-ctx.Done():
		out <- Event{Kind: EventFinal, Text: ctx.Err().Error()}
		return false
	default:
	}

	switch decision.Variant {
	case model.DecisionCode:
		text := l.evalCode(decision.Code)
		l.appendAssistant(fmt.Sprintf("Executed Code:\n```%s```\nOutput:\n%s", decision.Code, text))
		out <- Event{Kind: EventObservation, Text: text}
	case model.DecisionExternal:
		text := l.invoke(ctx, decision.Name, decision.Args)
		l.appendAssistant(fmt.Sprintf("Executed External Tool: `%s %s`\nOutput:\n%s", decision.Name, strings.Join(decision.Args, " "), text))
		out <- Event{Kind: EventObservation, Text: text}
	}
	return true
}

// evalCode runs code through the local code runtime (spec §4.2 "Local
// code runtime"): restricted in normal mode against an allow-list built
// from the Registry's in-process handlers, unsafe in OS mode against
// the same globals with no filtering.
func (l *Loop) evalCode(code string) string {
	globals, names := l.handlerGlobals()
	rt := sandbox.New(l.OSMode, sandbox.NewAllowList(names...))
	output, err := rt.Eval(code, globals)
	if err != nil {
		return err.Error()
	}
	return output
}

// handlerGlobals builds the globals table and allow-list from every
// currently-registered handler-kind tool, wrapping each as a callable
// the sandbox can invoke directly.
func (l *Loop) handlerGlobals() (map[string]any, []string) {
	globals := make(map[string]any)
	var names []string
	for _, t := range l.Registry.List() {
		if t.Kind != model.KindHandler {
			continue
		}
		name := t.Name
		names = append(names, name)
		globals[name] = func(kwargs map[string]any) string {
			res, err := l.Registry.Invoke(context.Background(), name, tool.HandlerArgs("", kwargs))
			if err != nil {
				return err.Error()
			}
			if !res.Success() {
				return res.Error
			}
			return res.Output
		}
	}
	return globals, names
}

// invoke dispatches an ExternalCall decision through the Registry,
// building the kind-appropriate Args from the decision's flat Args
// list (spec §4.1 invocation contract).
func (l *Loop) invoke(ctx context.Context, name string, argv []string) string {
	kind, found := l.toolKind(name)
	if !found {
		return apperr.New(apperr.UnknownTool, "agentcore.invoke", name, nil).Error()
	}

	args := argsForKind(kind, argv)
	res, err := l.Registry.Invoke(ctx, name, args)
	if err != nil {
		return err.Error()
	}
	if !res.Success() {
		return res.Error
	}
	return res.Output
}

func (l *Loop) toolKind(name string) (model.ToolKind, bool) {
	for _, t := range l.Registry.List() {
		if t.Name == name {
			return t.Kind, true
		}
	}
	return "", false
}

// argsForKind translates a decision's flat argv into the Args shape
// Registry.Invoke expects for the target tool's kind. Handler-kind
// tools receive "key=value" entries split back into a kwargs map, and a
// single "argv" kwarg otherwise, since the decision's wire shape
// carries one flat string list regardless of the destination kind.
func argsForKind(kind model.ToolKind, argv []string) tool.Args {
	switch kind {
	case model.KindProgram:
		return tool.ProgramArgs(argv)
	case model.KindModule:
		positional := make([]any, len(argv))
		for i, v := range argv {
			positional[i] = v
		}
		return tool.ModuleArgs(positional, nil)
	default:
		kwargs := make(map[string]any, len(argv))
		for _, kv := range argv {
			if k, v, ok := strings.Cut(kv, "="); ok {
				kwargs[k] = v
			}
		}
		if len(kwargs) == 0 && len(argv) > 0 {
			kwargs["argv"] = argv
		}
		return tool.HandlerArgs("", kwargs)
	}
}

// appendAssistant appends an assistant turn carrying the executed
// action and its output, so later iterations can reason over it (spec
// §4.2 "History discipline").
func (l *Loop) appendAssistant(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = append(l.history, model.ConversationTurn{Role: model.RoleAssistant, Text: text})
}

// captureFrame grabs one OS-mode screen frame, appends it as a user
// turn and downgrades every older image part to a placeholder (spec
// §4.2 step a, §7 "Conversation history with image parts").
func (l *Loop) captureFrame(ctx context.Context, out chan<- Event) bool {
	image, err := l.Capture.Capture(ctx)
	if err != nil {
		out <- Event{Kind: EventFinal, Text: fmt.Sprintf("screen capture failed: %v", err)}
		return false
	}

	l.mu.Lock()
	l.history = append(l.history, model.ConversationTurn{
		Role: model.RoleUser,
		Parts: []model.Part{
			model.TextPart("Current screen observation"),
			model.ImagePart(image),
		},
	})
	l.downgradeOldImages()
	l.mu.Unlock()

	out <- Event{Kind: EventScreenshot, Image: image}
	return true
}

// downgradeOldImages rewrites image parts in every turn before the most
// recent user turn to a short text placeholder, bounding context growth
// (spec §4.2 "History discipline", §9 design note). Must be called with
// l.mu held.
func (l *Loop) downgradeOldImages() {
	lastUser := -1
	for i, t := range l.history {
		if t.Role == model.RoleUser {
			lastUser = i
		}
	}
	if lastUser < 0 {
		return
	}
	for i := 0; i < lastUser; i++ {
		if !l.history[i].HasParts() {
			continue
		}
		parts := l.history[i].Parts
		downgraded := make([]model.Part, len(parts))
		for j, p := range parts {
			if p.Kind == model.PartImage {
				downgraded[j] = model.TextPart("[earlier screenshot omitted]")
			} else {
				downgraded[j] = p
			}
		}
		l.history[i].Parts = downgraded
	}
}
