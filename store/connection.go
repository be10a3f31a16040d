package store

import (
	"context"
	"errors"
	"time"
)

// ErrConnectionNotFound is returned when no matching connection exists.
var ErrConnectionNotFound = errors.New("connection not found")

// Credential holds the access/refresh token pair for a connection.
// Persistent stores encrypt it at rest via Cipher; it is only ever
// decrypted in memory.
type Credential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Connection is a stored, user-linked credential set for one external platform.
type Connection struct {
	ID         int64      `json:"id"`
	UserID     string     `json:"user_id"`
	Platform   string     `json:"platform"`
	AccountID  string     `json:"account_id"`
	Credential Credential `json:"-"`
	ExpiresAt  time.Time  `json:"expires_at"`
	IsDefault  bool       `json:"is_default"`
}

// Expired reports whether the access credential is past its expiry.
// A zero ExpiresAt means the credential does not expire.
func (c *Connection) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// ConnectionStore persists platform connections and their credentials.
//
// Stores enforce at most one default connection per (userID, platform):
// saving a new default demotes the previous one.
type ConnectionStore interface {
	// Put inserts or updates a connection. A zero ID gets one assigned.
	Put(ctx context.Context, connection *Connection) error

	// Get retrieves a connection by id, ErrConnectionNotFound if absent.
	Get(ctx context.Context, id int64) (*Connection, error)

	// GetDefault returns the default connection for (userID, platform),
	// ErrConnectionNotFound when the user has none for that platform.
	GetDefault(ctx context.Context, userID, platform string) (*Connection, error)

	// SaveCredential persists a refreshed credential and its expiry.
	SaveCredential(ctx context.Context, id int64, credential Credential, expiresAt time.Time) error
}
