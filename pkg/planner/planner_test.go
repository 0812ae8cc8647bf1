package planner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HelloEveryboby/Butler/pkg/apperr"
	"github.com/HelloEveryboby/Butler/pkg/metrics"
	"github.com/HelloEveryboby/Butler/pkg/model"
	"github.com/HelloEveryboby/Butler/pkg/tool"
)

const sampleSpec = `
# fetch runs first, then transform depends on it, then publish depends on transform or shortcut
fetch 2 p1
transform 3 p2 fetch
publish 1 p3 transform,shortcut
# an alternate, cheaper path from fetch to publish through shortcut
shortcut 0 p4 fetch
`

func TestParseBuildsGraphWithImplicitDepNodes(t *testing.T) {
	g, err := Parse(strings.NewReader("build 5 p1 compile,link\n"))
	require.NoError(t, err)

	require.Contains(t, g.Nodes, "compile")
	require.Contains(t, g.Nodes, "link")
	assert.Equal(t, 0, g.Nodes["compile"].Cost)
	assert.Equal(t, []string{"compile", "link"}, g.Nodes["build"].DependsOn)
}

func TestParseRejectsNegativeCost(t *testing.T) {
	_, err := Parse(strings.NewReader("build -1 p1\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.Of(apperr.InvalidSpec)))
}

func TestParseSkipsBlankAndCommentLines(t *testing.T) {
	g, err := Parse(strings.NewReader("\n# a comment\n\nbuild 1 p1\n"))
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 1)
}

func TestTopoSortOrdersDependenciesFirst(t *testing.T) {
	g, err := Parse(strings.NewReader(sampleSpec))
	require.NoError(t, err)

	order, err := g.TopoSort()
	require.NoError(t, err)

	index := make(map[string]int, len(order))
	for i, name := range order {
		index[name] = i
	}
	assert.Less(t, index["fetch"], index["transform"])
	assert.Less(t, index["transform"], index["publish"])
}

func TestTopoSortBreaksTiesByDeclarationOrderNotLexicographic(t *testing.T) {
	// transform and shortcut both become ready the moment fetch is
	// visited; transform is declared before shortcut in sampleSpec, so
	// it must come first even though "shortcut" sorts before
	// "transform" lexicographically.
	g, err := Parse(strings.NewReader(sampleSpec))
	require.NoError(t, err)

	order, err := g.TopoSort()
	require.NoError(t, err)

	index := make(map[string]int, len(order))
	for i, name := range order {
		index[name] = i
	}
	assert.Less(t, index["transform"], index["shortcut"])
}

func TestTopoSortDetectsCycle(t *testing.T) {
	g, err := Parse(strings.NewReader("a 1 p1 b\nb 1 p2 a\n"))
	require.NoError(t, err)

	_, err = g.TopoSort()
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.Of(apperr.CyclicGraph)))
}

func TestShortestPathPrefersCheaperRoute(t *testing.T) {
	g, err := Parse(strings.NewReader(sampleSpec))
	require.NoError(t, err)

	plan, err := g.ShortestPath("fetch", "publish")
	require.NoError(t, err)
	require.False(t, plan.Empty())

	assert.Equal(t, []string{"fetch", "shortcut", "publish"}, plan.Nodes)
	assert.Equal(t, 1, plan.Cost)
}

func TestShortestPathUnreachableReturnsEmptyPlan(t *testing.T) {
	g, err := Parse(strings.NewReader("a 1 p1\nb 1 p2\n"))
	require.NoError(t, err)

	plan, err := g.ShortestPath("a", "b")
	require.NoError(t, err)
	assert.True(t, plan.Empty())
}

func TestShortestPathUnknownNodeIsInvalidSpec(t *testing.T) {
	g, err := Parse(strings.NewReader("a 1 p1\n"))
	require.NoError(t, err)

	_, err = g.ShortestPath("a", "nonexistent")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.Of(apperr.InvalidSpec)))
}

func TestShortestPathReportsToAttachedMetricsWithoutPanicking(t *testing.T) {
	g, err := Parse(strings.NewReader(sampleSpec))
	require.NoError(t, err)
	g.Metrics = metrics.New()

	assert.NotPanics(t, func() {
		_, err := g.ShortestPath("fetch", "publish")
		require.NoError(t, err)
	})
}

func TestExecuteStopsOnErrorWhenConfigured(t *testing.T) {
	registry := tool.NewRegistry(nil)
	require.NoError(t, registry.RegisterHandler("fetch", "fetches", nil, func(ctx context.Context, args tool.Args) (model.ToolResult, error) {
		return model.ToolResult{}, errors.New("network down")
	}))
	require.NoError(t, registry.RegisterHandler("publish", "publishes", nil, func(ctx context.Context, args tool.Args) (model.ToolResult, error) {
		return model.ToolResult{Output: "published"}, nil
	}))

	exec := NewExecutor(registry, true)
	results, err := exec.Execute(context.Background(), model.Plan{Nodes: []string{"fetch", "publish"}}, tool.HandlerArgs("", nil))

	require.Error(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "fetch", results[0].Module)
}

func TestExecuteContinuesPastErrorWhenNotStopping(t *testing.T) {
	registry := tool.NewRegistry(nil)
	require.NoError(t, registry.RegisterHandler("fetch", "fetches", nil, func(ctx context.Context, args tool.Args) (model.ToolResult, error) {
		return model.ToolResult{}, errors.New("network down")
	}))
	require.NoError(t, registry.RegisterHandler("publish", "publishes", nil, func(ctx context.Context, args tool.Args) (model.ToolResult, error) {
		return model.ToolResult{Output: "published"}, nil
	}))

	exec := NewExecutor(registry, false)
	results, err := exec.Execute(context.Background(), model.Plan{Nodes: []string{"fetch", "publish"}}, tool.HandlerArgs("", nil))

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "published", results[1].Result.Output)
}
