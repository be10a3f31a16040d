package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateGraph_Sequential(t *testing.T) {
	g := NewStateGraph[map[string]any]()
	g.AddNode("A", "A", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		state["value"] = state["value"].(string) + "A"
		return state, nil
	})
	g.AddNode("B", "B", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		state["value"] = state["value"].(string) + "B"
		return state, nil
	})
	g.AddNode("C", "C", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		state["value"] = state["value"].(string) + "C"
		return state, nil
	})

	g.SetEntryPoint("A")
	g.AddEdge("A", "B")
	g.AddEdge("B", "C")
	g.AddEdge("C", END)

	runnable, err := g.Compile()
	assert.NoError(t, err)

	res, err := runnable.Invoke(context.Background(), map[string]any{"value": "Start"})
	assert.NoError(t, err)
	assert.Equal(t, "StartABC", res["value"])
}

func TestStateGraph_ConditionalEdge(t *testing.T) {
	g := NewStateGraph[map[string]any]()
	g.AddNode("check", "route by flag", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		return state, nil
	})
	g.AddNode("high", "high branch", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		state["branch"] = "high"
		return state, nil
	})
	g.AddNode("low", "low branch", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		state["branch"] = "low"
		return state, nil
	})

	g.SetEntryPoint("check")
	g.AddConditionalEdge("check", func(ctx context.Context, state map[string]any) string {
		if state["count"].(int) > 10 {
			return "high"
		}
		return "low"
	})
	g.AddEdge("high", END)
	g.AddEdge("low", END)

	runnable, err := g.Compile()
	assert.NoError(t, err)

	res, err := runnable.Invoke(context.Background(), map[string]any{"count": 42})
	assert.NoError(t, err)
	assert.Equal(t, "high", res["branch"])

	res, err = runnable.Invoke(context.Background(), map[string]any{"count": 1})
	assert.NoError(t, err)
	assert.Equal(t, "low", res["branch"])
}

func TestStateGraph_CompileErrors(t *testing.T) {
	g := NewStateGraph[map[string]any]()
	_, err := g.Compile()
	assert.ErrorIs(t, err, ErrEntryPointNotSet)

	g.SetEntryPoint("missing")
	_, err = g.Compile()
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestStateGraph_NoOutgoingEdge(t *testing.T) {
	g := NewStateGraph[map[string]any]()
	g.AddNode("orphan", "no exits", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		return state, nil
	})
	g.SetEntryPoint("orphan")

	runnable, err := g.Compile()
	assert.NoError(t, err)

	_, err = runnable.Invoke(context.Background(), map[string]any{})
	assert.ErrorIs(t, err, ErrNoOutgoingEdge)
}

func TestStateGraph_PanicRecovery(t *testing.T) {
	g := NewStateGraph[map[string]any]()
	g.AddNode("boom", "panicking node", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		panic("kaboom")
	})
	g.AddEdge("boom", END)
	g.SetEntryPoint("boom")

	runnable, err := g.Compile()
	assert.NoError(t, err)

	_, err = runnable.Invoke(context.Background(), map[string]any{})
	if err == nil {
		t.Fatal("Expected panic to surface as error")
	}
	assert.Contains(t, err.Error(), "panic in node boom")
}

func TestStateGraph_NodeError(t *testing.T) {
	sentinel := errors.New("scrape failed")

	g := NewStateGraph[map[string]any]()
	g.AddNode("fail", "failing node", func(ctx context.Context, state map[string]any) (map[string]any, error) {
		return nil, sentinel
	})
	g.AddEdge("fail", END)
	g.SetEntryPoint("fail")

	runnable, err := g.Compile()
	assert.NoError(t, err)

	_, err = runnable.Invoke(context.Background(), map[string]any{})
	assert.ErrorIs(t, err, sentinel)
	assert.Contains(t, err.Error(), "error in node fail")
}
