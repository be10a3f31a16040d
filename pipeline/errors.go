// Package pipeline is the durable execution engine for the content
// pipeline: a typed step graph driven by an Orchestrator that suspends at
// human gates, persists its state, and resumes across process restarts.
package pipeline

import "errors"

var (
	// ErrValidation is returned by Start when the input URL is unusable.
	ErrValidation = errors.New("invalid input")

	// ErrNoPendingInterrupt is returned by Resume when the execution is
	// not suspended (already terminal, or still running).
	ErrNoPendingInterrupt = errors.New("no pending interrupt")

	// ErrActionMismatch is returned by Resume when the action type does
	// not match what the execution is suspended on.
	ErrActionMismatch = errors.New("action does not match suspension")

	// ErrInvalidAction is returned when an action is internally
	// inconsistent, e.g. approve and reject at once.
	ErrInvalidAction = errors.New("invalid action")
)

// Termination reasons recorded on the execution.
const (
	ReasonRejected        = "rejected"
	ReasonContentTooShort = "content_too_short"
	ReasonLowRelevance    = "low_relevance"
	ReasonAuthExpired     = "auth_expired"
	ReasonInterrupted     = "interrupted"
)
