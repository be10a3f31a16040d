// Package redis provides a Redis-backed checkpoint store. Checkpoints are
// transient by contract, so a TTL'd keyspace is a natural fit; the
// execution snapshot remains the source of truth.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/draftgate/draftgate/store"
)

// RedisCheckpointStore implements store.CheckpointStore using Redis
type RedisCheckpointStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ store.CheckpointStore = (*RedisCheckpointStore)(nil)

// RedisOptions configuration for Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // Key prefix, default "draftgate:"
	TTL      time.Duration // Expiration for checkpoints, default 0 (no expiration)
}

// NewRedisCheckpointStore creates a new Redis checkpoint store
func NewRedisCheckpointStore(opts RedisOptions) *RedisCheckpointStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "draftgate:"
	}

	return &RedisCheckpointStore{
		client: client,
		prefix: prefix,
		ttl:    opts.TTL,
	}
}

func (s *RedisCheckpointStore) checkpointKey(id string) string {
	return fmt.Sprintf("%scheckpoint:%s", s.prefix, id)
}

func (s *RedisCheckpointStore) executionKey(id string) string {
	return fmt.Sprintf("%sexecution:%s:checkpoints", s.prefix, id)
}

// Save stores a checkpoint
func (s *RedisCheckpointStore) Save(ctx context.Context, checkpoint *store.Checkpoint) error {
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	key := s.checkpointKey(checkpoint.ID)
	pipe := s.client.Pipeline()

	pipe.Set(ctx, key, data, s.ttl)

	if checkpoint.ExecutionID != "" {
		execKey := s.executionKey(checkpoint.ExecutionID)
		pipe.SAdd(ctx, execKey, checkpoint.ID)
		if s.ttl > 0 {
			pipe.Expire(ctx, execKey, s.ttl)
		}
	}

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint to redis: %w", err)
	}
	return nil
}

// Load retrieves a checkpoint by ID
func (s *RedisCheckpointStore) Load(ctx context.Context, checkpointID string) (*store.Checkpoint, error) {
	data, err := s.client.Get(ctx, s.checkpointKey(checkpointID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("checkpoint not found: %s", checkpointID)
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var cp store.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// List returns all checkpoints for a given execution
func (s *RedisCheckpointStore) List(ctx context.Context, executionID string) ([]*store.Checkpoint, error) {
	ids, err := s.client.SMembers(ctx, s.executionKey(executionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoint ids: %w", err)
	}

	var checkpoints []*store.Checkpoint
	for _, id := range ids {
		cp, err := s.Load(ctx, id)
		if err != nil {
			// Checkpoint may have expired while its index entry survived
			continue
		}
		checkpoints = append(checkpoints, cp)
	}

	// Order by version, oldest first
	for i := 1; i < len(checkpoints); i++ {
		for j := i; j > 0 && checkpoints[j-1].Version > checkpoints[j].Version; j-- {
			checkpoints[j-1], checkpoints[j] = checkpoints[j], checkpoints[j-1]
		}
	}
	return checkpoints, nil
}

// Delete removes a checkpoint
func (s *RedisCheckpointStore) Delete(ctx context.Context, checkpointID string) error {
	cp, err := s.Load(ctx, checkpointID)
	if err != nil {
		return nil
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.checkpointKey(checkpointID))
	if cp.ExecutionID != "" {
		pipe.SRem(ctx, s.executionKey(cp.ExecutionID), checkpointID)
	}
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// Clear removes all checkpoints for an execution
func (s *RedisCheckpointStore) Clear(ctx context.Context, executionID string) error {
	execKey := s.executionKey(executionID)
	ids, err := s.client.SMembers(ctx, execKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list checkpoint ids: %w", err)
	}

	pipe := s.client.Pipeline()
	for _, id := range ids {
		pipe.Del(ctx, s.checkpointKey(id))
	}
	pipe.Del(ctx, execKey)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to clear checkpoints: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (s *RedisCheckpointStore) Close() error {
	return s.client.Close()
}
