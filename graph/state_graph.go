package graph

import (
	"context"
	"errors"
	"fmt"
)

// StateGraph represents a state-based graph with compile-time type safety.
// The type parameter S represents the state type threaded through the nodes.
//
// Exactly one node executes at a time: the engine walks static and
// conditional edges sequentially until it reaches END, a node suspends
// via Interrupt, or a node fails.
//
// Example usage:
//
//	g := graph.NewStateGraph[*MyState]()
//	g.AddNode("fetch", "Fetch the document", fetchNode)
//	g.AddEdge("fetch", graph.END)
//	g.SetEntryPoint("fetch")
type StateGraph[S any] struct {
	// nodes is a map of node names to their corresponding Node objects
	nodes map[string]Node[S]

	// edges is a slice of Edge objects representing the connections between nodes
	edges []Edge

	// conditionalEdges contains a map between "From" node, while "To" node is derived based on the condition
	conditionalEdges map[string]func(ctx context.Context, state S) string

	// entryPoint is the name of the entry point node in the graph
	entryPoint string
}

// NewStateGraph creates a new instance of StateGraph.
func NewStateGraph[S any]() *StateGraph[S] {
	return &StateGraph[S]{
		nodes:            make(map[string]Node[S]),
		conditionalEdges: make(map[string]func(ctx context.Context, state S) string),
	}
}

// AddNode adds a new node to the state graph with the given name, description and function.
func (g *StateGraph[S]) AddNode(name string, description string, fn func(ctx context.Context, state S) (S, error)) {
	g.nodes[name] = Node[S]{
		Name:        name,
		Description: description,
		Function:    fn,
	}
}

// AddEdge adds a new edge to the state graph between the "from" and "to" nodes.
func (g *StateGraph[S]) AddEdge(from, to string) {
	g.edges = append(g.edges, Edge{
		From: from,
		To:   to,
	})
}

// AddConditionalEdge adds a conditional edge where the target node is determined at runtime.
func (g *StateGraph[S]) AddConditionalEdge(from string, condition func(ctx context.Context, state S) string) {
	g.conditionalEdges[from] = condition
}

// SetEntryPoint sets the entry point node name for the state graph.
func (g *StateGraph[S]) SetEntryPoint(name string) {
	g.entryPoint = name
}

// Runnable represents a compiled state graph that can be invoked.
type Runnable[S any] struct {
	graph *StateGraph[S]
}

// Compile compiles the state graph and returns a Runnable instance.
func (g *StateGraph[S]) Compile() (*Runnable[S], error) {
	if g.entryPoint == "" {
		return nil, ErrEntryPointNotSet
	}
	if _, ok := g.nodes[g.entryPoint]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, g.entryPoint)
	}

	return &Runnable[S]{graph: g}, nil
}

// Invoke executes the compiled state graph with the given input state.
func (r *Runnable[S]) Invoke(ctx context.Context, initialState S) (S, error) {
	return r.InvokeWithConfig(ctx, initialState, nil)
}

// InvokeWithConfig executes the compiled state graph with the given input state and config.
//
// When a node suspends, InvokeWithConfig returns the state reached so far
// together with a *GraphInterrupt error naming the suspended node. Passing
// Config{ResumeFrom: node, ResumeValue: action} continues execution there.
func (r *Runnable[S]) InvokeWithConfig(ctx context.Context, initialState S, config *Config) (S, error) {
	state := initialState
	current := r.graph.entryPoint

	if config != nil {
		if config.ResumeFrom != "" {
			current = config.ResumeFrom
		}
		if config.ResumeValue != nil {
			ctx = WithResumeValue(ctx, config.ResumeValue)
		}
	}

	for current != END {
		if err := ctx.Err(); err != nil {
			var zero S
			return zero, err
		}

		node, ok := r.graph.nodes[current]
		if !ok {
			var zero S
			return zero, fmt.Errorf("%w: %s", ErrNodeNotFound, current)
		}

		result, err := runNode(ctx, node, state)
		if err != nil {
			var nodeInterrupt *NodeInterrupt
			if errors.As(err, &nodeInterrupt) {
				nodeInterrupt.Node = current
				return state, &GraphInterrupt{
					Node:           current,
					State:          state,
					InterruptValue: nodeInterrupt.Value,
				}
			}
			var zero S
			return zero, fmt.Errorf("error in node %s: %w", current, err)
		}
		state = result

		next, err := r.nextNode(ctx, current, state)
		if err != nil {
			var zero S
			return zero, err
		}
		current = next
	}

	return state, nil
}

// runNode executes a node function with panic recovery, so a panicking
// step surfaces as an error instead of tearing down sibling executions.
func runNode[S any](ctx context.Context, node Node[S], state S) (result S, err error) {
	defer func() {
		if panicVal := recover(); panicVal != nil {
			err = fmt.Errorf("panic in node %s: %v", node.Name, panicVal)
		}
	}()
	return node.Function(ctx, state)
}

// nextNode determines the next node based on conditional edges first, then static edges.
func (r *Runnable[S]) nextNode(ctx context.Context, current string, state S) (string, error) {
	if condition, ok := r.graph.conditionalEdges[current]; ok {
		next := condition(ctx, state)
		if next == "" {
			return "", fmt.Errorf("conditional edge returned empty next node from %s", current)
		}
		return next, nil
	}

	for _, edge := range r.graph.edges {
		if edge.From == current {
			return edge.To, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrNoOutgoingEdge, current)
}
