package agentcore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HelloEveryboby/Butler/pkg/llmclient"
	"github.com/HelloEveryboby/Butler/pkg/model"
	"github.com/HelloEveryboby/Butler/pkg/tool"
)

type fakeProvider struct {
	rounds [][]llmclient.ProviderChunk
	call   int
}

func (f *fakeProvider) Name() string { return "fake" }
func (f *fakeProvider) Close() error { return nil }
func (f *fakeProvider) Stream(ctx context.Context, messages []llmclient.Message, tools []llmclient.ToolDefinition) (<-chan llmclient.ProviderChunk, error) {
	round := f.rounds[f.call]
	f.call++
	out := make(chan llmclient.ProviderChunk, len(round))
	for _, c := range round {
		out <- c
	}
	close(out)
	return out, nil
}

func finalChunk(message string) []llmclient.ProviderChunk {
	return []llmclient.ProviderChunk{{Text: message}, {Done: true}}
}

func toolCallChunks(name, argsJSON string) []llmclient.ProviderChunk {
	return []llmclient.ProviderChunk{
		{ToolCallStart: &llmclient.ToolCallStart{Index: 0, ID: "call_1", Name: name}},
		{ToolCallDelta: &llmclient.ToolCallDelta{Index: 0, ArgumentsJSON: argsJSON}},
		{Done: true},
	}
}

type noopCapture struct{}

func (noopCapture) Capture(ctx context.Context) ([]byte, error) { return []byte{0x89, 0x50}, nil }

func drainEvents(ch <-chan Event) []Event {
	var events []Event
	for e := range ch {
		events = append(events, e)
	}
	return events
}

func TestRunEmitsFinalDirectly(t *testing.T) {
	provider := &fakeProvider{rounds: [][]llmclient.ProviderChunk{finalChunk("done")}}
	registry := tool.NewRegistry(nil)
	loop := New(registry, llmclient.NewOrchestrator(provider), noopCapture{}, false, false, 10)

	events := drainEvents(loop.Run(context.Background(), "hello"))

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventFinal, last.Kind)
	assert.Equal(t, "done", last.Text)
}

func TestMaxIterationsZeroEmitsExactlyOneFinal(t *testing.T) {
	provider := &fakeProvider{rounds: [][]llmclient.ProviderChunk{finalChunk("should never be read")}}
	registry := tool.NewRegistry(nil)
	loop := New(registry, llmclient.NewOrchestrator(provider), noopCapture{}, false, false, 0)
	loop.MaxIterations = 0

	events := drainEvents(loop.Run(context.Background(), "hello"))

	require.Len(t, events, 1)
	assert.Equal(t, EventFinal, events[0].Kind)
}

func TestSafetyModeStagesExternalCallAndAwaitsApproval(t *testing.T) {
	registry := tool.NewRegistry(nil)
	var invoked bool
	require.NoError(t, registry.RegisterHandler("search", "searches", nil, func(ctx context.Context, args tool.Args) (model.ToolResult, error) {
		invoked = true
		return model.ToolResult{Output: "result"}, nil
	}))

	provider := &fakeProvider{rounds: [][]llmclient.ProviderChunk{
		toolCallChunks("search", `{"argv":["weather"]}`),
		finalChunk("the weather is sunny"),
	}}
	loop := New(registry, llmclient.NewOrchestrator(provider), noopCapture{}, true, false, 10)

	events := drainEvents(loop.Run(context.Background(), "what's the weather"))
	require.NotEmpty(t, events)
	assert.Equal(t, EventStatus, events[len(events)-1].Kind)
	assert.False(t, invoked, "staged action must not execute before approval")

	events = drainEvents(loop.RunApproved(context.Background()))
	assert.True(t, invoked)

	var sawObservation, sawFinal bool
	for _, e := range events {
		if e.Kind == EventObservation {
			sawObservation = true
			assert.Equal(t, "result", e.Text)
		}
		if e.Kind == EventFinal {
			sawFinal = true
		}
	}
	assert.True(t, sawObservation)
	assert.True(t, sawFinal)
}

func TestRunApprovedWithNothingStagedReturnsFailureFinal(t *testing.T) {
	registry := tool.NewRegistry(nil)
	loop := New(registry, llmclient.NewOrchestrator(&fakeProvider{}), noopCapture{}, true, false, 10)

	events := drainEvents(loop.RunApproved(context.Background()))

	require.Len(t, events, 1)
	assert.Equal(t, EventFinal, events[0].Kind)
	assert.Contains(t, events[0].Text, "no action is staged")
}

func TestToolErrorBecomesObservationAndLoopContinues(t *testing.T) {
	registry := tool.NewRegistry(nil)
	require.NoError(t, registry.RegisterHandler("flaky", "fails", nil, func(ctx context.Context, args tool.Args) (model.ToolResult, error) {
		return model.ToolResult{Error: "boom"}, nil
	}))

	provider := &fakeProvider{rounds: [][]llmclient.ProviderChunk{
		toolCallChunks("flaky", `{"argv":[]}`),
		finalChunk("recovered"),
	}}
	loop := New(registry, llmclient.NewOrchestrator(provider), noopCapture{}, false, false, 10)

	events := drainEvents(loop.Run(context.Background(), "try the flaky tool"))

	var sawObservation bool
	for _, e := range events {
		if e.Kind == EventObservation {
			sawObservation = true
			assert.Equal(t, "boom", e.Text)
		}
	}
	assert.True(t, sawObservation)
	assert.Equal(t, EventFinal, events[len(events)-1].Kind)
	assert.Equal(t, "recovered", events[len(events)-1].Text)
}

func TestOrchestratorFailureEndsLoopWithFinal(t *testing.T) {
	registry := tool.NewRegistry(nil)
	provider := &fakeProvider{rounds: [][]llmclient.ProviderChunk{
		{{Err: errors.New("connection reset")}},
	}}
	loop := New(registry, llmclient.NewOrchestrator(provider), noopCapture{}, false, false, 10)

	events := drainEvents(loop.Run(context.Background(), "hello"))

	require.NotEmpty(t, events)
	assert.Equal(t, EventFinal, events[len(events)-1].Kind)
}

func TestOSModeEmitsScreenshotBeforeEachDecision(t *testing.T) {
	registry := tool.NewRegistry(nil)
	provider := &fakeProvider{rounds: [][]llmclient.ProviderChunk{finalChunk("ok")}}
	loop := New(registry, llmclient.NewOrchestrator(provider), noopCapture{}, false, true, 10)

	events := drainEvents(loop.Run(context.Background(), "watch my screen"))

	require.NotEmpty(t, events)
	assert.Equal(t, EventScreenshot, events[0].Kind)
	assert.NotEmpty(t, events[0].Image)
}

func TestArgsForKindProgramUsesPlainArgv(t *testing.T) {
	args := argsForKind(model.KindProgram, []string{"a", "b"})
	assert.Equal(t, []string{"a", "b"}, args.List)
}

func TestArgsForKindHandlerParsesKeyValue(t *testing.T) {
	args := argsForKind(model.KindHandler, []string{"city=paris"})
	assert.Equal(t, "paris", args.Kwargs["city"])
}

func TestArgsForKindHandlerFallsBackToArgvKwarg(t *testing.T) {
	args := argsForKind(model.KindHandler, []string{"paris"})
	assert.Equal(t, []string{"paris"}, args.Kwargs["argv"])
}
