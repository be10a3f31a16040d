package publish

import (
	"context"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftgate/draftgate/store"
	"github.com/draftgate/draftgate/store/memory"
)

// fakePublisher scripts per-call outcomes so refresh-retry behavior can
// be asserted precisely.
type fakePublisher struct {
	platform   Platform
	calls      int
	seenTokens []string
	results    []error // error per call, nil means success
	postID     string
	mediaID    string
}

func (f *fakePublisher) Platform() Platform { return f.platform }

func (f *fakePublisher) outcome(conn *store.Connection) error {
	f.seenTokens = append(f.seenTokens, conn.Credential.AccessToken)
	var err error
	if f.calls < len(f.results) {
		err = f.results[f.calls]
	}
	f.calls++
	return err
}

func (f *fakePublisher) Publish(ctx context.Context, conn *store.Connection, req PublishRequest) (string, error) {
	if err := f.outcome(conn); err != nil {
		return "", err
	}
	return f.postID, nil
}

func (f *fakePublisher) Upload(ctx context.Context, conn *store.Connection, media []byte, sourceURL string) (string, error) {
	if err := f.outcome(conn); err != nil {
		return "", err
	}
	return f.mediaID, nil
}

type fakeRefresher struct {
	calls      int
	credential store.Credential
	err        error
}

func (f *fakeRefresher) Refresh(ctx context.Context, conn *store.Connection) (store.Credential, time.Time, error) {
	f.calls++
	if f.err != nil {
		return store.Credential{}, time.Time{}, f.err
	}
	return f.credential, time.Now().Add(time.Hour), nil
}

func newGatewayFixture(t *testing.T, publisher *fakePublisher, refresher *fakeRefresher) (*Gateway, *store.Connection) {
	t.Helper()

	connections := memory.NewMemoryConnectionStore()
	conn := &store.Connection{
		UserID:     "user-1",
		Platform:   string(publisher.platform),
		Credential: store.Credential{AccessToken: "stale", RefreshToken: "refresh-1"},
		IsDefault:  true,
	}
	require.NoError(t, connections.Put(context.Background(), conn))

	refreshers := map[Platform]TokenRefresher{}
	if refresher != nil {
		refreshers[publisher.platform] = refresher
	}

	gateway := NewGateway(GatewayOptions{
		Connections: connections,
		Publishers:  []Publisher{publisher},
		Refreshers:  refreshers,
	})
	return gateway, conn
}

func TestGateway_PublishSuccess(t *testing.T) {
	publisher := &fakePublisher{platform: PlatformTwitter, postID: "t-1"}
	gateway, _ := newGatewayFixture(t, publisher, nil)

	result := gateway.Publish(context.Background(), PublishInput{
		Platform: PlatformTwitter,
		Text:     "hello",
		UserID:   "user-1",
	})

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, "t-1", result.PostID)
	assert.Empty(t, result.Error)
	assert.Equal(t, 1, publisher.calls)
}

func TestGateway_RefreshThenRetrySucceeds(t *testing.T) {
	publisher := &fakePublisher{
		platform: PlatformTwitter,
		postID:   "t-2",
		results:  []error{&AuthError{Platform: PlatformTwitter, Message: "status 401"}, nil},
	}
	refresher := &fakeRefresher{credential: store.Credential{AccessToken: "fresh", RefreshToken: "refresh-2"}}
	gateway, conn := newGatewayFixture(t, publisher, refresher)

	result := gateway.Publish(context.Background(), PublishInput{
		Platform: PlatformTwitter,
		Text:     "hello",
		UserID:   "user-1",
	})

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, "t-2", result.PostID)
	assert.Equal(t, 1, refresher.calls, "exactly one refresh")
	assert.Equal(t, 2, publisher.calls, "exactly one retry")
	assert.Equal(t, []string{"stale", "fresh"}, publisher.seenTokens)

	// The refreshed credential is persisted.
	stored, err := gateway.connections.Get(context.Background(), conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh", stored.Credential.AccessToken)
	assert.Equal(t, "refresh-2", stored.Credential.RefreshToken)
}

func TestGateway_SecondAuthFailureIsAuthExpired(t *testing.T) {
	publisher := &fakePublisher{
		platform: PlatformTwitter,
		results: []error{
			&AuthError{Platform: PlatformTwitter, Message: "status 401"},
			&AuthError{Platform: PlatformTwitter, Message: "status 401"},
		},
	}
	refresher := &fakeRefresher{credential: store.Credential{AccessToken: "fresh"}}
	gateway, _ := newGatewayFixture(t, publisher, refresher)

	result := gateway.Publish(context.Background(), PublishInput{
		Platform: PlatformTwitter,
		Text:     "hello",
		UserID:   "user-1",
	})

	assert.Equal(t, StatusFailure, result.Status)
	assert.Equal(t, "auth expired", result.Error)
	assert.Equal(t, 2, publisher.calls, "never more than one retry")
	assert.Equal(t, 1, refresher.calls)
}

func TestGateway_FailedRefreshIsAuthExpired(t *testing.T) {
	publisher := &fakePublisher{
		platform: PlatformLinkedIn,
		results:  []error{&AuthError{Platform: PlatformLinkedIn, Message: "status 401"}},
	}
	refresher := &fakeRefresher{err: fmt.Errorf("invalid_grant")}
	gateway, _ := newGatewayFixture(t, publisher, refresher)

	result := gateway.Publish(context.Background(), PublishInput{
		Platform: PlatformLinkedIn,
		Text:     "hello",
		UserID:   "user-1",
	})

	assert.Equal(t, StatusFailure, result.Status)
	assert.Equal(t, "auth expired", result.Error)
	assert.Equal(t, 1, publisher.calls, "no retry without a fresh credential")
}

func TestGateway_PlatformErrorNeverRetried(t *testing.T) {
	publisher := &fakePublisher{
		platform: PlatformTwitter,
		results: []error{&PlatformError{
			Platform:   PlatformTwitter,
			StatusCode: 429,
			Message:    "rate limited, retry with access_token=secret later",
		}},
	}
	refresher := &fakeRefresher{}
	gateway, _ := newGatewayFixture(t, publisher, refresher)

	result := gateway.Publish(context.Background(), PublishInput{
		Platform: PlatformTwitter,
		Text:     "hello",
		UserID:   "user-1",
	})

	assert.Equal(t, StatusFailure, result.Status)
	assert.Equal(t, 1, publisher.calls)
	assert.Equal(t, 0, refresher.calls)
	assert.NotContains(t, result.Error, "secret", "credential material is redacted")
	assert.Contains(t, result.Error, "[REDACTED]")
}

func TestGateway_NoConnection(t *testing.T) {
	publisher := &fakePublisher{platform: PlatformTwitter}
	gateway, _ := newGatewayFixture(t, publisher, nil)

	result := gateway.Publish(context.Background(), PublishInput{
		Platform: PlatformTwitter,
		Text:     "hello",
		UserID:   "user-without-connections",
	})

	assert.Equal(t, StatusFailure, result.Status)
	assert.Equal(t, "no connection", result.Error)
	assert.Equal(t, 0, publisher.calls)
}

func TestGateway_ResolveConnectionOwnership(t *testing.T) {
	publisher := &fakePublisher{platform: PlatformTwitter}
	gateway, conn := newGatewayFixture(t, publisher, nil)
	ctx := context.Background()

	resolved, err := gateway.ResolveConnection(ctx, "user-1", PlatformTwitter, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, conn.ID, resolved.ID)

	_, err = gateway.ResolveConnection(ctx, "someone-else", PlatformTwitter, conn.ID)
	assert.ErrorIs(t, err, ErrNoConnection, "explicit id must belong to the caller")

	_, err = gateway.ResolveConnection(ctx, "user-1", PlatformLinkedIn, conn.ID)
	assert.ErrorIs(t, err, ErrNoConnection, "explicit id must match the platform")
}

func TestGateway_Upload(t *testing.T) {
	publisher := &fakePublisher{platform: PlatformTwitter, mediaID: "m-1"}
	gateway, _ := newGatewayFixture(t, publisher, nil)
	ctx := context.Background()

	result := gateway.Upload(ctx, UploadInput{
		Platform:    PlatformTwitter,
		MediaBase64: base64.StdEncoding.EncodeToString([]byte("png-bytes")),
		UserID:      "user-1",
		SourceURL:   "https://example.com/hero.png",
	})
	assert.Empty(t, result.Error)
	assert.Equal(t, "m-1", result.MediaID)

	bad := gateway.Upload(ctx, UploadInput{
		Platform:    PlatformTwitter,
		MediaBase64: "not base64!!",
		UserID:      "user-1",
	})
	assert.Equal(t, "invalid media encoding", bad.Error)
}
