// Package memory provides in-memory implementations of the store
// interfaces. They are safe for concurrent use and intended for tests
// and single-process deployments without durability requirements.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/draftgate/draftgate/store"
)

var (
	_ store.CheckpointStore = (*MemoryCheckpointStore)(nil)
	_ store.ExecutionStore  = (*MemoryExecutionStore)(nil)
	_ store.ConnectionStore = (*MemoryConnectionStore)(nil)
)

// MemoryCheckpointStore implements store.CheckpointStore using a mutex-guarded map
type MemoryCheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*store.Checkpoint
	byExecution map[string][]string
}

// NewMemoryCheckpointStore creates a new in-memory checkpoint store
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		checkpoints: make(map[string]*store.Checkpoint),
		byExecution: make(map[string][]string),
	}
}

// Save stores a checkpoint
func (s *MemoryCheckpointStore) Save(ctx context.Context, checkpoint *store.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *checkpoint
	if _, exists := s.checkpoints[cp.ID]; !exists {
		s.byExecution[cp.ExecutionID] = append(s.byExecution[cp.ExecutionID], cp.ID)
	}
	s.checkpoints[cp.ID] = &cp
	return nil
}

// Load retrieves a checkpoint by ID
func (s *MemoryCheckpointStore) Load(ctx context.Context, checkpointID string) (*store.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[checkpointID]
	if !ok {
		return nil, fmt.Errorf("checkpoint not found: %s", checkpointID)
	}
	copied := *cp
	return &copied, nil
}

// List returns all checkpoints for a given execution, oldest first
func (s *MemoryCheckpointStore) List(ctx context.Context, executionID string) ([]*store.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var checkpoints []*store.Checkpoint
	for _, id := range s.byExecution[executionID] {
		if cp, ok := s.checkpoints[id]; ok {
			copied := *cp
			checkpoints = append(checkpoints, &copied)
		}
	}
	sort.Slice(checkpoints, func(i, j int) bool {
		return checkpoints[i].Version < checkpoints[j].Version
	})
	return checkpoints, nil
}

// Delete removes a checkpoint
func (s *MemoryCheckpointStore) Delete(ctx context.Context, checkpointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.checkpoints[checkpointID]
	if !ok {
		return nil
	}
	delete(s.checkpoints, checkpointID)

	ids := s.byExecution[cp.ExecutionID]
	for i, id := range ids {
		if id == checkpointID {
			s.byExecution[cp.ExecutionID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

// Clear removes all checkpoints for an execution
func (s *MemoryCheckpointStore) Clear(ctx context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.byExecution[executionID] {
		delete(s.checkpoints, id)
	}
	delete(s.byExecution, executionID)
	return nil
}

// MemoryExecutionStore implements store.ExecutionStore in memory
type MemoryExecutionStore struct {
	mu         sync.RWMutex
	executions map[string]*store.Execution
}

// NewMemoryExecutionStore creates a new in-memory execution store
func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{
		executions: make(map[string]*store.Execution),
	}
}

// Create inserts a new execution record
func (s *MemoryExecutionStore) Create(ctx context.Context, execution *store.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.executions[execution.ID]; exists {
		return fmt.Errorf("execution already exists: %s", execution.ID)
	}
	copied := *execution
	s.executions[execution.ID] = &copied
	return nil
}

// Get retrieves an execution by id
func (s *MemoryExecutionStore) Get(ctx context.Context, id string) (*store.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	execution, ok := s.executions[id]
	if !ok {
		return nil, store.ErrExecutionNotFound
	}
	copied := *execution
	return &copied, nil
}

// FindLiveByKey returns the live execution holding the idempotency key
func (s *MemoryExecutionStore) FindLiveByKey(ctx context.Context, key string) (*store.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, execution := range s.executions {
		if execution.IdempotencyKey == key && execution.Status.Live() {
			copied := *execution
			return &copied, nil
		}
	}
	return nil, store.ErrExecutionNotFound
}

// UpdateResult atomically writes status, reason and snapshot
func (s *MemoryExecutionStore) UpdateResult(ctx context.Context, id string, status store.ExecutionStatus, reason string, snapshot json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	execution, ok := s.executions[id]
	if !ok {
		return store.ErrExecutionNotFound
	}
	execution.Status = status
	execution.Reason = reason
	execution.Snapshot = append([]byte(nil), snapshot...)
	execution.UpdatedAt = time.Now()
	return nil
}

// ListPending returns a user's suspended executions
func (s *MemoryExecutionStore) ListPending(ctx context.Context, userID string) ([]*store.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []*store.Execution
	for _, execution := range s.executions {
		if execution.UserID == userID && execution.Status.Suspended() {
			copied := *execution
			pending = append(pending, &copied)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending, nil
}

// ListByStatus returns all executions with the given status
func (s *MemoryExecutionStore) ListByStatus(ctx context.Context, status store.ExecutionStatus) ([]*store.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*store.Execution
	for _, execution := range s.executions {
		if execution.Status == status {
			copied := *execution
			matched = append(matched, &copied)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return matched, nil
}

// MemoryConnectionStore implements store.ConnectionStore in memory
type MemoryConnectionStore struct {
	mu          sync.RWMutex
	connections map[int64]*store.Connection
	nextID      int64
}

// NewMemoryConnectionStore creates a new in-memory connection store
func NewMemoryConnectionStore() *MemoryConnectionStore {
	return &MemoryConnectionStore{
		connections: make(map[int64]*store.Connection),
		nextID:      1,
	}
}

// Put inserts or updates a connection, keeping at most one default per
// (userID, platform)
func (s *MemoryConnectionStore) Put(ctx context.Context, connection *store.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *connection
	if copied.ID == 0 {
		copied.ID = s.nextID
		s.nextID++
		connection.ID = copied.ID
	}

	if copied.IsDefault {
		for _, existing := range s.connections {
			if existing.ID != copied.ID && existing.UserID == copied.UserID && existing.Platform == copied.Platform {
				existing.IsDefault = false
			}
		}
	}

	s.connections[copied.ID] = &copied
	return nil
}

// Get retrieves a connection by id
func (s *MemoryConnectionStore) Get(ctx context.Context, id int64) (*store.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	connection, ok := s.connections[id]
	if !ok {
		return nil, store.ErrConnectionNotFound
	}
	copied := *connection
	return &copied, nil
}

// GetDefault returns the default connection for (userID, platform)
func (s *MemoryConnectionStore) GetDefault(ctx context.Context, userID, platform string) (*store.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, connection := range s.connections {
		if connection.UserID == userID && connection.Platform == platform && connection.IsDefault {
			copied := *connection
			return &copied, nil
		}
	}
	return nil, store.ErrConnectionNotFound
}

// SaveCredential persists a refreshed credential and its expiry
func (s *MemoryConnectionStore) SaveCredential(ctx context.Context, id int64, credential store.Credential, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	connection, ok := s.connections[id]
	if !ok {
		return store.ErrConnectionNotFound
	}
	connection.Credential = credential
	connection.ExpiresAt = expiresAt
	return nil
}
