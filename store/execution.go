package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ExecutionStatus is the lifecycle status of an execution.
type ExecutionStatus string

const (
	// StatusRunning means a step is executing right now. It is only ever
	// transient within a single process lifetime and must never be trusted
	// across restarts.
	StatusRunning ExecutionStatus = "running"

	// StatusAwaitingHuman means the execution suspended at the review step.
	StatusAwaitingHuman ExecutionStatus = "awaiting_human"

	// StatusAwaitingAuth means the execution suspended waiting for a
	// platform connection to be restored.
	StatusAwaitingAuth ExecutionStatus = "awaiting_auth"

	// StatusCompleted is terminal: all initiated platform publishes recorded a result.
	StatusCompleted ExecutionStatus = "completed"

	// StatusTerminated is terminal: rejected, failed validation or interrupted.
	StatusTerminated ExecutionStatus = "terminated"
)

// Live reports whether the status still holds the idempotency key.
func (s ExecutionStatus) Live() bool {
	switch s {
	case StatusRunning, StatusAwaitingHuman, StatusAwaitingAuth:
		return true
	}
	return false
}

// Suspended reports whether the execution is waiting on an external action.
func (s ExecutionStatus) Suspended() bool {
	return s == StatusAwaitingHuman || s == StatusAwaitingAuth
}

// ErrExecutionNotFound is returned when an execution is not found in the store.
var ErrExecutionNotFound = errors.New("execution not found")

// Execution is the authoritative record of one pipeline run for one
// (user, input). The engine never deletes executions; retention is owned
// externally.
type Execution struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Input          string          `json:"input"`
	IdempotencyKey string          `json:"idempotency_key"`
	Status         ExecutionStatus `json:"status"`
	Reason         string          `json:"reason,omitempty"`
	Snapshot       json.RawMessage `json:"snapshot,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ExecutionStore persists execution records.
//
// UpdateResult must apply status, reason and snapshot atomically: a crash
// between the two must never leave status and snapshot inconsistent.
type ExecutionStore interface {
	// Create inserts a new execution record.
	Create(ctx context.Context, execution *Execution) error

	// Get retrieves an execution by id, ErrExecutionNotFound if absent.
	Get(ctx context.Context, id string) (*Execution, error)

	// FindLiveByKey returns the execution holding the idempotency key,
	// i.e. the one with that key whose status is still live.
	// ErrExecutionNotFound when no live execution holds the key.
	FindLiveByKey(ctx context.Context, key string) (*Execution, error)

	// UpdateResult atomically writes status, reason and snapshot.
	UpdateResult(ctx context.Context, id string, status ExecutionStatus, reason string, snapshot json.RawMessage) error

	// ListPending returns a user's executions awaiting human review or reauth.
	ListPending(ctx context.Context, userID string) ([]*Execution, error)

	// ListByStatus returns all executions with the given status.
	ListByStatus(ctx context.Context, status ExecutionStatus) ([]*Execution, error)
}
