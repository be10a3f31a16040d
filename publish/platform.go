// Package publish drives platform publish/upload calls with bounded,
// auth-aware retry. Per-platform behavior is isolated behind the
// Publisher interface: adding a platform means one new variant plus a
// TokenRefresher, no change to the pipeline.
package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/draftgate/draftgate/store"
)

// Platform identifies an external social platform.
type Platform string

const (
	// PlatformTwitter publishes tweets with optional attached media ids.
	PlatformTwitter Platform = "twitter"
	// PlatformLinkedIn publishes shares, resolving the author URN per call.
	PlatformLinkedIn Platform = "linkedin"
)

const (
	// StatusSuccess marks a recorded per-platform success.
	StatusSuccess = "success"
	// StatusFailure marks a recorded per-platform failure.
	StatusFailure = "failure"
)

// PublishResult is the per-platform outcome of a publish call.
// On failure PostID is empty and Error carries a credential-free message.
type PublishResult struct {
	PostID string `json:"post_id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// UploadResult is the per-platform outcome of a media upload.
type UploadResult struct {
	MediaID string `json:"media_id"`
	Error   string `json:"error,omitempty"`
}

// PublishRequest carries the composed post for a platform variant.
type PublishRequest struct {
	Text     string
	MediaID  string
	Metadata map[string]string
}

// Publisher is the per-platform variant contract.
type Publisher interface {
	// Platform returns the platform tag this variant serves.
	Platform() Platform

	// Publish creates a post and returns its id.
	// Auth rejections are reported as *AuthError.
	Publish(ctx context.Context, conn *store.Connection, req PublishRequest) (string, error)

	// Upload stores media and returns the platform's media id.
	Upload(ctx context.Context, conn *store.Connection, media []byte, sourceURL string) (string, error)
}

// TokenRefresher exchanges a stored refresh credential for a fresh one.
// It must not mutate shared state; the gateway persists the result.
type TokenRefresher interface {
	Refresh(ctx context.Context, conn *store.Connection) (store.Credential, time.Time, error)
}

var (
	// ErrNoConnection is returned when neither an explicit connection id
	// nor a default connection resolves for (user, platform).
	ErrNoConnection = errors.New("no connection for platform")

	// ErrAuthExpired is returned when the platform rejects the credential
	// even after the single allowed refresh attempt.
	ErrAuthExpired = errors.New("auth expired")
)

// AuthError indicates the platform rejected the credential on one call.
// The gateway turns it into a refresh-then-retry, and into ErrAuthExpired
// when the retry fails too.
type AuthError struct {
	Platform Platform
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s rejected credential: %s", e.Platform, e.Message)
}

// PlatformError is a non-auth provider failure (validation, rate limit,
// server error, timeout). Never retried by the gateway.
type PlatformError struct {
	Platform   Platform
	StatusCode int
	Message    string
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Platform, e.StatusCode, e.Message)
}
