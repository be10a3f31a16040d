package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/draftgate/draftgate/store"
)

// NormalizeURL canonicalizes an input URL for idempotency: scheme and
// host are lowercased, the fragment and a trailing slash are dropped.
// Two URLs that normalize equal are the same input.
func NormalizeURL(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrValidation, parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrValidation)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	return parsed.String(), nil
}

// IdempotencyKey derives the key for (user, normalized URL). The NUL
// separator keeps distinct pairs from colliding by concatenation.
func IdempotencyKey(userID, normalizedURL string) string {
	h := sha256.New()
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(normalizedURL))
	return hex.EncodeToString(h.Sum(nil))
}

// IdempotencyGuard admits at most one live execution per key. Lost races
// on backends with a unique live-key index resolve to the winner's record.
type IdempotencyGuard struct {
	executions store.ExecutionStore
	now        func() time.Time
}

// NewIdempotencyGuard creates a guard over the execution store.
func NewIdempotencyGuard(executions store.ExecutionStore) *IdempotencyGuard {
	return &IdempotencyGuard{executions: executions, now: time.Now}
}

// Acquire returns the live execution holding the key, or creates a new
// running one. The second return is true when an existing execution was
// found.
func (g *IdempotencyGuard) Acquire(ctx context.Context, userID, normalizedURL string) (*store.Execution, bool, error) {
	key := IdempotencyKey(userID, normalizedURL)

	existing, err := g.executions.FindLiveByKey(ctx, key)
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, store.ErrExecutionNotFound) {
		return nil, false, err
	}

	now := g.now().UTC()
	execution := &store.Execution{
		ID:             uuid.NewString(),
		UserID:         userID,
		Input:          normalizedURL,
		IdempotencyKey: key,
		Status:         store.StatusRunning,
		Snapshot:       json.RawMessage("{}"),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := g.executions.Create(ctx, execution); err != nil {
		// A concurrent Start may have won the unique live-key index.
		if winner, findErr := g.executions.FindLiveByKey(ctx, key); findErr == nil {
			return winner, true, nil
		}
		return nil, false, err
	}
	return execution, false, nil
}
