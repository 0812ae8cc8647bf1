package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HelloEveryboby/Butler/pkg/apperr"
	"github.com/HelloEveryboby/Butler/pkg/model"
)

func TestRegisterHandlerRequiresDescription(t *testing.T) {
	r := NewRegistry(nil)
	err := r.RegisterHandler("echo", "", nil, func(ctx context.Context, args Args) (model.ToolResult, error) {
		return model.ToolResult{}, nil
	})
	assert.Error(t, err)
}

func TestInvokeUnknownTool(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Invoke(context.Background(), "missing", Args{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.Of(apperr.UnknownTool)))
}

func TestHandlerInvokeAndRebind(t *testing.T) {
	r := NewRegistry(nil)
	calls := 0
	register := func(msg string) error {
		return r.RegisterHandler("greet", "greets the caller", nil, func(ctx context.Context, args Args) (model.ToolResult, error) {
			calls++
			return model.ToolResult{Output: msg}, nil
		})
	}
	require.NoError(t, register("hi"))
	require.NoError(t, register("hello")) // rebind, not a duplicate error

	res, err := r.Invoke(context.Background(), "greet", Args{})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Output)
	assert.Equal(t, 1, calls)
}

func TestHandlerErrorBecomesResultError(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.RegisterHandler("boom", "always fails", nil, func(ctx context.Context, args Args) (model.ToolResult, error) {
		return model.ToolResult{}, errors.New("kaboom")
	}))

	res, err := r.Invoke(context.Background(), "boom", Args{})
	require.NoError(t, err) // dispatch itself succeeds
	assert.Equal(t, "kaboom", res.Error)
}

func TestListIsSortedByName(t *testing.T) {
	r := NewRegistry(nil)
	for _, name := range []string{"zeta", "alpha", "mu"} {
		require.NoError(t, r.RegisterHandler(name, "desc", nil, func(ctx context.Context, args Args) (model.ToolResult, error) {
			return model.ToolResult{}, nil
		}))
	}
	names := make([]string, 0, 3)
	for _, tl := range r.List() {
		names = append(names, tl.Name)
	}
	assert.Equal(t, []string{"alpha", "mu", "zeta"}, names)
}

func TestCrossKindNameCollisionRejected(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.RegisterHandler("dup", "desc", nil, func(ctx context.Context, args Args) (model.ToolResult, error) {
		return model.ToolResult{}, nil
	}))
	err := r.RegisterModule("dup", "desc", fakeLoader{})
	assert.Error(t, err)
}

func TestModuleLazyLoadOnce(t *testing.T) {
	loader := &countingLoader{}
	r := NewRegistry(nil)
	require.NoError(t, r.RegisterModule("mod", "a module", loader))

	for i := 0; i < 3; i++ {
		_, err := r.Invoke(context.Background(), "mod", ModuleArgs(nil, nil))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, loader.loads)
	assert.Equal(t, 3, loader.invokes)
}

func TestRegisterRemoveRoundTrip(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.RegisterHandler("tmp", "desc", nil, func(ctx context.Context, args Args) (model.ToolResult, error) {
		return model.ToolResult{}, nil
	}))
	require.Equal(t, 1, r.Count())
	require.NoError(t, r.Remove("tmp"))
	assert.Equal(t, 0, r.Count())
	assert.Error(t, r.Remove("tmp"))
}

type fakeLoader struct{}

func (fakeLoader) Load(ctx context.Context, name string) error { return nil }
func (fakeLoader) Invoke(ctx context.Context, name string, args Args) (model.ToolResult, error) {
	return model.ToolResult{}, nil
}

type countingLoader struct {
	loads   int
	invokes int
}

func (l *countingLoader) Load(ctx context.Context, name string) error {
	l.loads++
	return nil
}

func (l *countingLoader) Invoke(ctx context.Context, name string, args Args) (model.ToolResult, error) {
	l.invokes++
	return model.ToolResult{Output: "ok"}, nil
}
