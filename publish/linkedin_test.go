package publish

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftgate/draftgate/store"
)

func linkedinConn() *store.Connection {
	return &store.Connection{
		ID:         2,
		UserID:     "user-1",
		Platform:   "linkedin",
		Credential: store.Credential{AccessToken: "li-tok"},
	}
}

func TestLinkedInPublisher_Publish(t *testing.T) {
	var gotShare map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/userinfo", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer li-tok", r.Header.Get("Authorization"))
		w.Write([]byte(`{"sub":"abc123"}`))
	})
	mux.HandleFunc("/v2/ugcPosts", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotShare))
		w.Write([]byte(`{"id":"urn:li:share:42"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := NewLinkedInPublisherWithBase(server.Client(), server.URL)
	postID, err := p.Publish(context.Background(), linkedinConn(), PublishRequest{Text: "hello linkedin"})
	require.NoError(t, err)
	assert.Equal(t, "urn:li:share:42", postID)
	assert.Equal(t, "urn:li:person:abc123", gotShare["author"])

	specific := gotShare["specificContent"].(map[string]any)
	share := specific["com.linkedin.ugc.ShareContent"].(map[string]any)
	commentary := share["shareCommentary"].(map[string]any)
	assert.Equal(t, "hello linkedin", commentary["text"])
	assert.Equal(t, "NONE", share["shareMediaCategory"])
}

func TestLinkedInPublisher_OrganizationAuthor(t *testing.T) {
	var gotShare map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/userinfo", func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("userinfo must not be called when an organization is selected")
	})
	mux.HandleFunc("/v2/ugcPosts", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotShare)
		w.Write([]byte(`{"id":"urn:li:share:43"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := NewLinkedInPublisherWithBase(server.Client(), server.URL)
	_, err := p.Publish(context.Background(), linkedinConn(), PublishRequest{
		Text:     "org post",
		Metadata: map[string]string{"organization_id": "555"},
	})
	require.NoError(t, err)
	assert.Equal(t, "urn:li:organization:555", gotShare["author"])
}

func TestLinkedInPublisher_PublishWithMedia(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"sub":"abc123"}`))
	})
	mux.HandleFunc("/v2/ugcPosts", func(w http.ResponseWriter, r *http.Request) {
		var share map[string]any
		json.NewDecoder(r.Body).Decode(&share)
		specific := share["specificContent"].(map[string]any)
		content := specific["com.linkedin.ugc.ShareContent"].(map[string]any)
		assert.Equal(t, "IMAGE", content["shareMediaCategory"])
		media := content["media"].([]any)[0].(map[string]any)
		assert.Equal(t, "urn:li:digitalmediaAsset:9", media["media"])
		w.Write([]byte(`{"id":"urn:li:share:44"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := NewLinkedInPublisherWithBase(server.Client(), server.URL)
	postID, err := p.Publish(context.Background(), linkedinConn(), PublishRequest{
		Text:    "with image",
		MediaID: "urn:li:digitalmediaAsset:9",
	})
	require.NoError(t, err)
	assert.Equal(t, "urn:li:share:44", postID)
}

func TestLinkedInPublisher_Upload(t *testing.T) {
	media := []byte{0x89, 'P', 'N', 'G'}
	var uploaded []byte

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/v2/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"sub":"abc123"}`))
	})
	mux.HandleFunc("/v2/assets", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "registerUpload", r.URL.Query().Get("action"))
		resp := map[string]any{
			"value": map[string]any{
				"asset": "urn:li:digitalmediaAsset:9",
				"uploadMechanism": map[string]any{
					"com.linkedin.digitalmedia.uploading.MediaUploadHttpRequest": map[string]any{
						"uploadUrl": server.URL + "/upload-here",
					},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/upload-here", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		uploaded, _ = io.ReadAll(r.Body)
	})

	p := NewLinkedInPublisherWithBase(server.Client(), server.URL)
	assetURN, err := p.Upload(context.Background(), linkedinConn(), media, "https://example.com/hero.png")
	require.NoError(t, err)
	assert.Equal(t, "urn:li:digitalmediaAsset:9", assetURN)
	assert.Equal(t, media, uploaded)
}

func TestLinkedInPublisher_AuthRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	p := NewLinkedInPublisherWithBase(server.Client(), server.URL)
	_, err := p.Publish(context.Background(), linkedinConn(), PublishRequest{Text: "x"})

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, PlatformLinkedIn, authErr.Platform)
}
