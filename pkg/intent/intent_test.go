package intent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HelloEveryboby/Butler/pkg/metrics"
)

func TestMatchReturnsArgMaxAboveThreshold(t *testing.T) {
	r := NewRegistry()
	r.Register("get_current_time", "what time is it right now", false, func(map[string]any) (any, error) {
		return "now", nil
	})
	r.Register("get_weather", "what is the weather forecast today", false, func(map[string]any) (any, error) {
		return "sunny", nil
	})

	name, ok := r.Match("tell me the current time please", DefaultThreshold)
	require.True(t, ok)
	assert.Equal(t, "get_current_time", name)
}

func TestMatchBelowThresholdReturnsNone(t *testing.T) {
	r := NewRegistry()
	r.Register("get_current_time", "what time is it right now", false, func(map[string]any) (any, error) {
		return "now", nil
	})

	_, ok := r.Match("please compose a symphony in D minor", DefaultThreshold)
	assert.False(t, ok)
}

func TestMatchTiesBreakByLowestName(t *testing.T) {
	r := NewRegistry()
	r.Register("zzz_intent", "hello world", false, func(map[string]any) (any, error) { return nil, nil })
	r.Register("aaa_intent", "hello world", false, func(map[string]any) (any, error) { return nil, nil })

	name, ok := r.Match("hello world", DefaultThreshold)
	require.True(t, ok)
	assert.Equal(t, "aaa_intent", name)
}

func TestMatchSkipsEmptyDocstrings(t *testing.T) {
	r := NewRegistry()
	r.Register("no_doc", "", false, func(map[string]any) (any, error) { return nil, nil })

	_, ok := r.Match("anything at all", 0.0)
	assert.False(t, ok)
}

func TestDispatchUnknownIntentReturnsNone(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Dispatch("missing", nil)
	assert.False(t, ok)
}

func TestDispatchHandlerErrorReturnsNoneNotPanic(t *testing.T) {
	r := NewRegistry()
	r.Register("boom", "explodes on contact", false, func(map[string]any) (any, error) {
		return nil, errors.New("boom")
	})

	_, ok := r.Dispatch("boom", nil)
	assert.False(t, ok)
}

func TestDispatchHandlerPanicReturnsNoneNotPanic(t *testing.T) {
	r := NewRegistry()
	r.Register("panics", "panics on contact", false, func(map[string]any) (any, error) {
		panic("unexpected")
	})

	assert.NotPanics(t, func() {
		_, ok := r.Dispatch("panics", nil)
		assert.False(t, ok)
	})
}

func TestDispatchSuccessReturnsValue(t *testing.T) {
	r := NewRegistry()
	r.Register("greet", "greets the caller", false, func(kwargs map[string]any) (any, error) {
		return "hi " + kwargs["name"].(string), nil
	})

	value, ok := r.Dispatch("greet", map[string]any{"name": "ada"})
	require.True(t, ok)
	assert.Equal(t, "hi ada", value)
}

func TestRequiresEntitiesReportsRegisteredFlag(t *testing.T) {
	r := NewRegistry()
	r.Register("needs_entities", "requires entities", true, func(map[string]any) (any, error) { return nil, nil })

	required, ok := r.RequiresEntities("needs_entities")
	require.True(t, ok)
	assert.True(t, required)

	_, ok = r.RequiresEntities("unknown")
	assert.False(t, ok)
}

func TestRegisterRebindsOnReRegistration(t *testing.T) {
	r := NewRegistry()
	r.Register("topic", "original docstring", false, func(map[string]any) (any, error) {
		return "first", nil
	})
	r.Register("topic", "original docstring", false, func(map[string]any) (any, error) {
		return "second", nil
	})

	value, ok := r.Dispatch("topic", nil)
	require.True(t, ok)
	assert.Equal(t, "second", value)
}

func TestCosineSimilarityOfEmptyVectorsIsZero(t *testing.T) {
	assert.Equal(t, 0.0, cosineSimilarity(map[string]float64{}, map[string]float64{}))
}

func TestMatchReportsToAttachedMetricsWithoutPanicking(t *testing.T) {
	r := NewRegistry()
	r.SetMetrics(metrics.New())
	r.Register("get_current_time", "what time is it right now", false, func(map[string]any) (any, error) {
		return "now", nil
	})

	assert.NotPanics(t, func() {
		r.Match("tell me the current time please", DefaultThreshold)
		r.Match("please compose a symphony in D minor", DefaultThreshold)
	})
}
