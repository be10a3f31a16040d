package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftgate/draftgate/store"
)

func newExecution(id, key string, status store.ExecutionStatus) *store.Execution {
	now := time.Now().UTC()
	return &store.Execution{
		ID:             id,
		UserID:         "user-1",
		Input:          "https://example.com/post",
		IdempotencyKey: key,
		Status:         status,
		Snapshot:       json.RawMessage(`{}`),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestMemoryExecutionStore_CreateAndGet(t *testing.T) {
	s := NewMemoryExecutionStore()
	ctx := context.Background()

	execution := newExecution("exec-1", "key-1", store.StatusRunning)
	require.NoError(t, s.Create(ctx, execution))

	got, err := s.Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "exec-1", got.ID)
	assert.Equal(t, store.StatusRunning, got.Status)

	err = s.Create(ctx, execution)
	assert.Error(t, err, "duplicate id must be rejected")

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrExecutionNotFound)
}

func TestMemoryExecutionStore_FindLiveByKey(t *testing.T) {
	s := NewMemoryExecutionStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newExecution("exec-1", "key-1", store.StatusAwaitingHuman)))

	got, err := s.FindLiveByKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "exec-1", got.ID)

	// Terminal statuses release the key.
	require.NoError(t, s.UpdateResult(ctx, "exec-1", store.StatusTerminated, "rejected", nil))
	_, err = s.FindLiveByKey(ctx, "key-1")
	assert.ErrorIs(t, err, store.ErrExecutionNotFound)
}

func TestMemoryExecutionStore_UpdateResult(t *testing.T) {
	s := NewMemoryExecutionStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newExecution("exec-1", "key-1", store.StatusRunning)))

	snapshot := json.RawMessage(`{"url":"https://example.com"}`)
	require.NoError(t, s.UpdateResult(ctx, "exec-1", store.StatusAwaitingHuman, "", snapshot))

	got, err := s.Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusAwaitingHuman, got.Status)
	assert.JSONEq(t, string(snapshot), string(got.Snapshot))

	err = s.UpdateResult(ctx, "missing", store.StatusCompleted, "", nil)
	assert.ErrorIs(t, err, store.ErrExecutionNotFound)
}

func TestMemoryExecutionStore_ListPendingAndByStatus(t *testing.T) {
	s := NewMemoryExecutionStore()
	ctx := context.Background()

	first := newExecution("exec-1", "key-1", store.StatusAwaitingHuman)
	first.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, s.Create(ctx, first))
	require.NoError(t, s.Create(ctx, newExecution("exec-2", "key-2", store.StatusAwaitingAuth)))
	require.NoError(t, s.Create(ctx, newExecution("exec-3", "key-3", store.StatusRunning)))

	other := newExecution("exec-4", "key-4", store.StatusAwaitingHuman)
	other.UserID = "user-2"
	require.NoError(t, s.Create(ctx, other))

	pending, err := s.ListPending(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "exec-1", pending[0].ID, "oldest first")
	assert.Equal(t, "exec-2", pending[1].ID)

	running, err := s.ListByStatus(ctx, store.StatusRunning)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "exec-3", running[0].ID)
}

func TestMemoryCheckpointStore_Lifecycle(t *testing.T) {
	s := NewMemoryCheckpointStore()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.Save(ctx, &store.Checkpoint{
			ID:          string(rune('a' + i)),
			ExecutionID: "exec-1",
			NodeName:    "awaitHuman",
			State:       map[string]any{"step": i},
			Timestamp:   time.Now().UTC(),
			Version:     i,
		}))
	}

	list, err := s.List(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, 1, list[0].Version)

	latest, err := store.Latest(ctx, s, "exec-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 3, latest.Version)

	require.NoError(t, s.Delete(ctx, latest.ID))
	latest, err = store.Latest(ctx, s, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)

	require.NoError(t, s.Clear(ctx, "exec-1"))
	latest, err = store.Latest(ctx, s, "exec-1")
	require.NoError(t, err)
	assert.Nil(t, latest, "cleared execution has no checkpoints")
}

func TestMemoryConnectionStore_DefaultDemotion(t *testing.T) {
	s := NewMemoryConnectionStore()
	ctx := context.Background()

	first := &store.Connection{
		UserID:     "user-1",
		Platform:   "twitter",
		Credential: store.Credential{AccessToken: "a1"},
		IsDefault:  true,
	}
	require.NoError(t, s.Put(ctx, first))
	require.NotZero(t, first.ID, "zero id gets assigned")

	second := &store.Connection{
		UserID:     "user-1",
		Platform:   "twitter",
		Credential: store.Credential{AccessToken: "a2"},
		IsDefault:  true,
	}
	require.NoError(t, s.Put(ctx, second))

	def, err := s.GetDefault(ctx, "user-1", "twitter")
	require.NoError(t, err)
	assert.Equal(t, second.ID, def.ID)

	old, err := s.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, old.IsDefault, "previous default is demoted")

	_, err = s.GetDefault(ctx, "user-1", "linkedin")
	assert.ErrorIs(t, err, store.ErrConnectionNotFound)
}

func TestMemoryConnectionStore_SaveCredential(t *testing.T) {
	s := NewMemoryConnectionStore()
	ctx := context.Background()

	conn := &store.Connection{
		UserID:     "user-1",
		Platform:   "linkedin",
		Credential: store.Credential{AccessToken: "old", RefreshToken: "r1"},
	}
	require.NoError(t, s.Put(ctx, conn))

	expiry := time.Now().Add(time.Hour).UTC()
	fresh := store.Credential{AccessToken: "new", RefreshToken: "r2"}
	require.NoError(t, s.SaveCredential(ctx, conn.ID, fresh, expiry))

	got, err := s.Get(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, fresh, got.Credential)
	assert.Equal(t, expiry, got.ExpiresAt)

	err = s.SaveCredential(ctx, 999, fresh, expiry)
	assert.ErrorIs(t, err, store.ErrConnectionNotFound)
}
