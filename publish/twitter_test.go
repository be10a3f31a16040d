package publish

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftgate/draftgate/store"
)

func testConn(token string) *store.Connection {
	return &store.Connection{
		ID:         1,
		UserID:     "user-1",
		Platform:   "twitter",
		Credential: store.Credential{AccessToken: token, RefreshToken: "refresh"},
	}
}

func TestTwitterPublisher_Publish(t *testing.T) {
	var gotBody map[string]any
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/2/tweets", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"data":{"id":"tweet-1"}}`))
	}))
	defer server.Close()

	p := NewTwitterPublisherWithBase(server.Client(), server.URL, server.URL)
	postID, err := p.Publish(context.Background(), testConn("tok"), PublishRequest{
		Text:    "hello",
		MediaID: "media-9",
	})
	require.NoError(t, err)
	assert.Equal(t, "tweet-1", postID)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "hello", gotBody["text"])

	media := gotBody["media"].(map[string]any)
	assert.Equal(t, []any{"media-9"}, media["media_ids"])
}

func TestTwitterPublisher_PublishWithoutMedia(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		assert.NotContains(t, body, "media")
		w.Write([]byte(`{"data":{"id":"tweet-2"}}`))
	}))
	defer server.Close()

	p := NewTwitterPublisherWithBase(server.Client(), server.URL, server.URL)
	postID, err := p.Publish(context.Background(), testConn("tok"), PublishRequest{Text: "no media"})
	require.NoError(t, err)
	assert.Equal(t, "tweet-2", postID)
}

func TestTwitterPublisher_AuthRejection(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		p := NewTwitterPublisherWithBase(server.Client(), server.URL, server.URL)
		_, err := p.Publish(context.Background(), testConn("expired"), PublishRequest{Text: "x"})

		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, PlatformTwitter, authErr.Platform)
		server.Close()
	}
}

func TestTwitterPublisher_PlatformError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"title":"Too Many Requests"}`))
	}))
	defer server.Close()

	p := NewTwitterPublisherWithBase(server.Client(), server.URL, server.URL)
	_, err := p.Publish(context.Background(), testConn("tok"), PublishRequest{Text: "x"})

	var platformErr *PlatformError
	require.ErrorAs(t, err, &platformErr)
	assert.Equal(t, http.StatusTooManyRequests, platformErr.StatusCode)
}

func TestTwitterPublisher_Upload(t *testing.T) {
	media := []byte{0x89, 'P', 'N', 'G'}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/1.1/media/upload.json", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, base64.StdEncoding.EncodeToString(media), r.PostFormValue("media_data"))
		w.Write([]byte(`{"media_id_string":"m-77"}`))
	}))
	defer server.Close()

	p := NewTwitterPublisherWithBase(server.Client(), server.URL, server.URL)
	mediaID, err := p.Upload(context.Background(), testConn("tok"), media, "https://example.com/hero.png")
	require.NoError(t, err)
	assert.Equal(t, "m-77", mediaID)
}
