package llmclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HelloEveryboby/Butler/pkg/apperr"
	"github.com/HelloEveryboby/Butler/pkg/model"
)

type fakeProvider struct {
	chunks []ProviderChunk
}

func (f *fakeProvider) Name() string { return "fake" }
func (f *fakeProvider) Close() error { return nil }
func (f *fakeProvider) Stream(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan ProviderChunk, error) {
	out := make(chan ProviderChunk, len(f.chunks))
	for _, c := range f.chunks {
		out <- c
	}
	close(out)
	return out, nil
}

func drain(t *testing.T, ch <-chan DecisionChunk) []DecisionChunk {
	t.Helper()
	var chunks []DecisionChunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	return chunks
}

func TestStreamFinalWhenNoToolCall(t *testing.T) {
	o := NewOrchestrator(&fakeProvider{chunks: []ProviderChunk{
		{Text: "thinking"}, {Text: " more"}, {Done: true},
	}})

	ch, err := o.Stream(context.Background(), nil, nil, false)
	require.NoError(t, err)
	chunks := drain(t, ch)

	require.NotEmpty(t, chunks)
	last := chunks[len(chunks)-1]
	assert.Equal(t, Final, last.Kind)
	assert.Equal(t, model.DecisionFinal, last.Decision.Variant)
	assert.Equal(t, "thinking more", last.Decision.Message)
}

func TestStreamCodeDecisionFromExecuteCodeTool(t *testing.T) {
	o := NewOrchestrator(&fakeProvider{chunks: []ProviderChunk{
		{Text: "I should compute"},
		{ToolCallStart: &ToolCallStart{Index: 0, ID: "call_1", Name: ExecuteCodeTool}},
		{ToolCallDelta: &ToolCallDelta{Index: 0, ArgumentsJSON: `{"code":`}},
		{ToolCallDelta: &ToolCallDelta{Index: 0, ArgumentsJSON: `"1+1"}`}},
		{Done: true},
	}})

	ch, err := o.Stream(context.Background(), nil, nil, false)
	require.NoError(t, err)
	chunks := drain(t, ch)

	last := chunks[len(chunks)-1]
	assert.Equal(t, Final, last.Kind)
	assert.Equal(t, model.DecisionCode, last.Decision.Variant)
	assert.Equal(t, "1+1", last.Decision.Code)
	assert.Equal(t, "I should compute", last.Decision.Thought)

	var sawCodeDelta bool
	for _, c := range chunks {
		if c.Kind == CodeDelta {
			sawCodeDelta = true
		}
	}
	assert.True(t, sawCodeDelta)
}

func TestStreamExternalDecisionUsesArgv(t *testing.T) {
	o := NewOrchestrator(&fakeProvider{chunks: []ProviderChunk{
		{ToolCallStart: &ToolCallStart{Index: 0, ID: "call_1", Name: "search"}},
		{ToolCallDelta: &ToolCallDelta{Index: 0, ArgumentsJSON: `{"argv":["hello","world"]}`}},
		{Done: true},
	}})

	ch, err := o.Stream(context.Background(), nil, nil, false)
	require.NoError(t, err)
	chunks := drain(t, ch)

	last := chunks[len(chunks)-1]
	assert.Equal(t, model.DecisionExternal, last.Decision.Variant)
	assert.Equal(t, "search", last.Decision.Name)
	assert.Equal(t, []string{"hello", "world"}, last.Decision.Args)
}

func TestStreamExternalDecisionFallsBackToKeyValueArgv(t *testing.T) {
	o := NewOrchestrator(&fakeProvider{chunks: []ProviderChunk{
		{ToolCallStart: &ToolCallStart{Index: 0, ID: "call_1", Name: "search"}},
		{ToolCallDelta: &ToolCallDelta{Index: 0, ArgumentsJSON: `{"query":"weather"}`}},
		{Done: true},
	}})

	ch, err := o.Stream(context.Background(), nil, nil, false)
	require.NoError(t, err)
	chunks := drain(t, ch)

	last := chunks[len(chunks)-1]
	assert.Equal(t, []string{"query=weather"}, last.Decision.Args)
}

func TestStreamEmptyResponseIsMalformedDecision(t *testing.T) {
	o := NewOrchestrator(&fakeProvider{chunks: []ProviderChunk{{Done: true}}})

	ch, err := o.Stream(context.Background(), nil, nil, false)
	require.NoError(t, err)
	chunks := drain(t, ch)

	last := chunks[len(chunks)-1]
	assert.Equal(t, Failed, last.Kind)
	assert.True(t, errors.Is(last.Err, apperr.Of(apperr.MalformedDecision)))
}

func TestStreamProviderErrorIsLLMUnavailable(t *testing.T) {
	o := NewOrchestrator(&fakeProvider{chunks: []ProviderChunk{{Err: errors.New("connection reset")}}})

	ch, err := o.Stream(context.Background(), nil, nil, false)
	require.NoError(t, err)
	chunks := drain(t, ch)

	last := chunks[len(chunks)-1]
	assert.Equal(t, Failed, last.Kind)
	assert.True(t, errors.Is(last.Err, apperr.Of(apperr.LLMUnavailable)))
}

func TestBuildToolDefinitionsIncludesExecuteCodeTool(t *testing.T) {
	defs := BuildToolDefinitions([]model.Tool{{Name: "search", Description: "searches"}})

	require.Len(t, defs, 2)
	assert.Equal(t, ExecuteCodeTool, defs[0].Name)
	assert.Equal(t, "search", defs[1].Name)
}

func TestConvertHistoryDowngradesImagePartsToPlaceholder(t *testing.T) {
	turns := []model.ConversationTurn{
		{Role: model.RoleUser, Parts: []model.Part{
			model.TextPart("what is this"),
			model.ImagePart([]byte{0xFF, 0xD8}),
		}},
	}

	messages := ConvertHistory(turns)
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0].Content, "what is this")
	assert.Contains(t, messages[0].Content, "[image attached]")
}
