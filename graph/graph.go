package graph

import (
	"context"
	"errors"
	"fmt"
)

// END is a special constant used to represent the end node in the graph.
const END = "END"

var (
	// ErrEntryPointNotSet is returned when the entry point of the graph is not set.
	ErrEntryPointNotSet = errors.New("entry point not set")

	// ErrNodeNotFound is returned when a node is not found in the graph.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNoOutgoingEdge is returned when no outgoing edge is found for a node.
	ErrNoOutgoingEdge = errors.New("no outgoing edge found for node")
)

// NodeInterrupt is returned by a node that requests a suspension
// (e.g. waiting for human input or for credentials to be restored).
type NodeInterrupt struct {
	// Node is the name of the node that triggered the interrupt
	Node string
	// Value is the payload provided by the interrupt
	Value any
}

func (e *NodeInterrupt) Error() string {
	return fmt.Sprintf("interrupt at node %s: %v", e.Node, e.Value)
}

// GraphInterrupt is returned by Invoke when execution suspended at a node.
// The caller persists (Node, State) and later resumes with
// Config{ResumeFrom: Node, ResumeValue: action}.
type GraphInterrupt struct {
	// Node that caused the suspension
	Node string
	// State at the time of suspension
	State any
	// InterruptValue is the payload provided by the suspending node
	InterruptValue any
}

func (e *GraphInterrupt) Error() string {
	if e.InterruptValue != nil {
		return fmt.Sprintf("graph interrupted at node %s with value: %v", e.Node, e.InterruptValue)
	}
	return fmt.Sprintf("graph interrupted at node %s", e.Node)
}

// Interrupt pauses execution and waits for input.
// If resuming, it returns the value provided in the resume config.
// The resume value is consumed: revisiting the node later in the same
// invocation suspends again instead of replaying the old input.
func Interrupt(ctx context.Context, value any) (any, error) {
	if resumeVal := TakeResumeValue(ctx); resumeVal != nil {
		return resumeVal, nil
	}
	return nil, &NodeInterrupt{Value: value}
}

// Node represents a node in the graph.
type Node[S any] struct {
	// Name is the unique identifier for the node.
	Name string

	// Description describes the functionality of the node.
	Description string

	// Function is the function associated with the node.
	Function func(ctx context.Context, state S) (S, error)
}

// Edge represents an edge in the graph.
type Edge struct {
	// From is the name of the node from which the edge originates.
	From string

	// To is the name of the node to which the edge points.
	To string
}
