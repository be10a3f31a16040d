package store

import (
	"context"
	"time"
)

// Checkpoint represents a saved state at a specific point in execution.
// Checkpoints are transient: the Execution snapshot is the source of truth
// and a missing checkpoint is reconstructed from it.
type Checkpoint struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	NodeName    string         `json:"node_name"`
	State       any            `json:"state"`
	Metadata    map[string]any `json:"metadata"`
	Timestamp   time.Time      `json:"timestamp"`
	Version     int            `json:"version"`
}

// CheckpointStore defines the interface for checkpoint persistence
type CheckpointStore interface {
	// Save stores a checkpoint
	Save(ctx context.Context, checkpoint *Checkpoint) error

	// Load retrieves a checkpoint by ID
	Load(ctx context.Context, checkpointID string) (*Checkpoint, error)

	// List returns all checkpoints for a given execution
	List(ctx context.Context, executionID string) ([]*Checkpoint, error)

	// Delete removes a checkpoint
	Delete(ctx context.Context, checkpointID string) error

	// Clear removes all checkpoints for an execution
	Clear(ctx context.Context, executionID string) error
}

// Latest returns the highest-version checkpoint for an execution, or nil
// when the store has none (e.g. after a process restart).
func Latest(ctx context.Context, s CheckpointStore, executionID string) (*Checkpoint, error) {
	checkpoints, err := s.List(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if len(checkpoints) == 0 {
		return nil, nil
	}

	latest := checkpoints[0]
	for _, cp := range checkpoints {
		if cp.Version > latest.Version {
			latest = cp
		}
	}
	return latest, nil
}
