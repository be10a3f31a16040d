package publish

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/draftgate/draftgate/log"
	"github.com/draftgate/draftgate/store"
)

// PublishInput is the publish tool surface consumed by the pipeline and
// exposable to external callers.
type PublishInput struct {
	Platform     Platform
	Text         string
	UserID       string
	ConnectionID int64 // 0 selects the user's default connection
	MediaID      string
	Metadata     map[string]string
}

// UploadInput is the upload tool surface.
type UploadInput struct {
	Platform     Platform
	MediaBase64  string
	UserID       string
	ConnectionID int64 // 0 selects the user's default connection
	SourceURL    string
}

// GatewayOptions configures a Gateway.
type GatewayOptions struct {
	Connections store.ConnectionStore
	Publishers  []Publisher
	Refreshers  map[Platform]TokenRefresher
	// Timeout bounds every platform call and refresh. Default 30s.
	Timeout time.Duration
	Logger  log.Logger
}

// Gateway resolves connections and drives platform calls with a retry
// budget of exactly one token refresh per call.
type Gateway struct {
	connections store.ConnectionStore
	publishers  map[Platform]Publisher
	refreshers  map[Platform]TokenRefresher
	timeout     time.Duration
	logger      log.Logger

	// refreshMu guards refreshLocks; each connection gets its own lock so
	// concurrent refreshes for one connection serialize instead of racing
	// and overwriting each other with stale credentials.
	refreshMu    sync.Mutex
	refreshLocks map[int64]*sync.Mutex
}

// NewGateway creates a gateway from options.
func NewGateway(opts GatewayOptions) *Gateway {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.GetDefaultLogger()
	}

	publishers := make(map[Platform]Publisher, len(opts.Publishers))
	for _, p := range opts.Publishers {
		publishers[p.Platform()] = p
	}

	refreshers := opts.Refreshers
	if refreshers == nil {
		refreshers = make(map[Platform]TokenRefresher)
	}

	return &Gateway{
		connections:  opts.Connections,
		publishers:   publishers,
		refreshers:   refreshers,
		timeout:      timeout,
		logger:       logger,
		refreshLocks: make(map[int64]*sync.Mutex),
	}
}

// ResolveConnection returns the explicit connection when an id is given,
// else the user's default for the platform.
func (g *Gateway) ResolveConnection(ctx context.Context, userID string, platform Platform, connectionID int64) (*store.Connection, error) {
	if connectionID != 0 {
		conn, err := g.connections.Get(ctx, connectionID)
		if err != nil {
			if errors.Is(err, store.ErrConnectionNotFound) {
				return nil, ErrNoConnection
			}
			return nil, err
		}
		if conn.UserID != userID || conn.Platform != string(platform) {
			return nil, ErrNoConnection
		}
		return conn, nil
	}

	conn, err := g.connections.GetDefault(ctx, userID, string(platform))
	if err != nil {
		if errors.Is(err, store.ErrConnectionNotFound) {
			return nil, ErrNoConnection
		}
		return nil, err
	}
	return conn, nil
}

// Publish creates a post. Failures are returned as a result, never as an
// error: the caller records them per platform and carries on.
func (g *Gateway) Publish(ctx context.Context, in PublishInput) PublishResult {
	publisher, ok := g.publishers[in.Platform]
	if !ok {
		return PublishResult{Status: StatusFailure, Error: "unsupported platform: " + string(in.Platform)}
	}

	conn, err := g.ResolveConnection(ctx, in.UserID, in.Platform, in.ConnectionID)
	if err != nil {
		return PublishResult{Status: StatusFailure, Error: failureMessage(err)}
	}

	postID, err := g.callWithRefresh(ctx, in.Platform, conn, func(ctx context.Context, conn *store.Connection) (string, error) {
		return publisher.Publish(ctx, conn, PublishRequest{
			Text:     in.Text,
			MediaID:  in.MediaID,
			Metadata: in.Metadata,
		})
	})
	if err != nil {
		g.logger.Warn("publish to %s failed for user %s: %v", in.Platform, in.UserID, err)
		return PublishResult{Status: StatusFailure, Error: failureMessage(err)}
	}

	g.logger.Info("published to %s for user %s: post %s", in.Platform, in.UserID, postID)
	return PublishResult{PostID: postID, Status: StatusSuccess}
}

// Upload stores media for later attachment.
func (g *Gateway) Upload(ctx context.Context, in UploadInput) UploadResult {
	publisher, ok := g.publishers[in.Platform]
	if !ok {
		return UploadResult{Error: "unsupported platform: " + string(in.Platform)}
	}

	media, err := base64.StdEncoding.DecodeString(in.MediaBase64)
	if err != nil {
		return UploadResult{Error: "invalid media encoding"}
	}
	if len(media) == 0 {
		return UploadResult{Error: "empty media"}
	}

	conn, err := g.ResolveConnection(ctx, in.UserID, in.Platform, in.ConnectionID)
	if err != nil {
		return UploadResult{Error: failureMessage(err)}
	}

	mediaID, err := g.callWithRefresh(ctx, in.Platform, conn, func(ctx context.Context, conn *store.Connection) (string, error) {
		return publisher.Upload(ctx, conn, media, in.SourceURL)
	})
	if err != nil {
		g.logger.Warn("upload to %s failed for user %s: %v", in.Platform, in.UserID, err)
		return UploadResult{Error: failureMessage(err)}
	}
	return UploadResult{MediaID: mediaID}
}

// callWithRefresh issues the platform call once; on an auth rejection it
// refreshes the credential (serialized per connection), persists it, and
// retries exactly once. A second auth rejection, or a failed refresh,
// yields ErrAuthExpired. Non-auth failures pass through untouched.
func (g *Gateway) callWithRefresh(ctx context.Context, platform Platform, conn *store.Connection, call func(ctx context.Context, conn *store.Connection) (string, error)) (string, error) {
	result, err := g.callOnce(ctx, conn, call)
	var authErr *AuthError
	if err == nil || !errors.As(err, &authErr) {
		return result, err
	}

	refresher, ok := g.refreshers[platform]
	if !ok {
		return "", ErrAuthExpired
	}

	refreshed, err := g.refreshConnection(ctx, refresher, conn)
	if err != nil {
		g.logger.Warn("token refresh for connection %d failed: %v", conn.ID, err)
		return "", ErrAuthExpired
	}

	result, err = g.callOnce(ctx, refreshed, call)
	if err != nil {
		if errors.As(err, &authErr) {
			return "", ErrAuthExpired
		}
		return "", err
	}
	return result, nil
}

func (g *Gateway) callOnce(ctx context.Context, conn *store.Connection, call func(ctx context.Context, conn *store.Connection) (string, error)) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return call(callCtx, conn)
}

// refreshConnection serializes refresh-then-persist per connection.
func (g *Gateway) refreshConnection(ctx context.Context, refresher TokenRefresher, conn *store.Connection) (*store.Connection, error) {
	lock := g.lockFor(conn.ID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock: a concurrent caller may have refreshed while
	// we waited, in which case its credential is the fresh one.
	current, err := g.connections.Get(ctx, conn.ID)
	if err != nil {
		current = conn
	} else if current.Credential.AccessToken != conn.Credential.AccessToken {
		return current, nil
	}

	refreshCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	credential, expiresAt, err := refresher.Refresh(refreshCtx, current)
	if err != nil {
		return nil, err
	}

	if err := g.connections.SaveCredential(ctx, current.ID, credential, expiresAt); err != nil {
		return nil, err
	}

	refreshed := *current
	refreshed.Credential = credential
	refreshed.ExpiresAt = expiresAt
	g.logger.Info("refreshed credential for connection %d (%s)", current.ID, current.Platform)
	return &refreshed, nil
}

func (g *Gateway) lockFor(connectionID int64) *sync.Mutex {
	g.refreshMu.Lock()
	defer g.refreshMu.Unlock()

	lock, ok := g.refreshLocks[connectionID]
	if !ok {
		lock = &sync.Mutex{}
		g.refreshLocks[connectionID] = lock
	}
	return lock
}

// failureMessage maps errors to the credential-free messages recorded in
// per-platform results.
func failureMessage(err error) string {
	switch {
	case errors.Is(err, ErrNoConnection):
		return "no connection"
	case errors.Is(err, ErrAuthExpired):
		return "auth expired"
	}

	var platformErr *PlatformError
	if errors.As(err, &platformErr) {
		return Redact(platformErr.Message)
	}
	return Redact(err.Error())
}
