package publish

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/draftgate/draftgate/store"
)

const (
	twitterAPIBase    = "https://api.twitter.com"
	twitterUploadBase = "https://upload.twitter.com"
)

// TwitterPublisher posts tweets via the v2 API and uploads media via the
// v1.1 media endpoint, which v2 still delegates media handling to.
type TwitterPublisher struct {
	client     *http.Client
	apiBase    string
	uploadBase string
}

var _ Publisher = (*TwitterPublisher)(nil)

// NewTwitterPublisher creates a Twitter variant. A nil client uses
// http.DefaultClient.
func NewTwitterPublisher(client *http.Client) *TwitterPublisher {
	if client == nil {
		client = http.DefaultClient
	}
	return &TwitterPublisher{
		client:     client,
		apiBase:    twitterAPIBase,
		uploadBase: twitterUploadBase,
	}
}

// NewTwitterPublisherWithBase overrides both base URLs, for tests.
func NewTwitterPublisherWithBase(client *http.Client, apiBase, uploadBase string) *TwitterPublisher {
	p := NewTwitterPublisher(client)
	if apiBase != "" {
		p.apiBase = apiBase
	}
	if uploadBase != "" {
		p.uploadBase = uploadBase
	}
	return p
}

func (p *TwitterPublisher) Platform() Platform { return PlatformTwitter }

// Publish creates a tweet, attaching the media id when present.
func (p *TwitterPublisher) Publish(ctx context.Context, conn *store.Connection, req PublishRequest) (string, error) {
	payload := map[string]any{"text": req.Text}
	if req.MediaID != "" {
		payload["media"] = map[string]any{"media_ids": []string{req.MediaID}}
	}

	body, err := p.call(ctx, conn, http.MethodPost, p.apiBase+"/2/tweets", jsonBody(payload), "application/json")
	if err != nil {
		return "", err
	}

	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &PlatformError{Platform: PlatformTwitter, Message: "malformed tweet response"}
	}
	if resp.Data.ID == "" {
		return "", &PlatformError{Platform: PlatformTwitter, Message: "tweet response missing id"}
	}
	return resp.Data.ID, nil
}

// Upload sends base64 media to the v1.1 upload endpoint.
func (p *TwitterPublisher) Upload(ctx context.Context, conn *store.Connection, media []byte, sourceURL string) (string, error) {
	form := url.Values{}
	form.Set("media_data", base64.StdEncoding.EncodeToString(media))

	body, err := p.call(ctx, conn, http.MethodPost, p.uploadBase+"/1.1/media/upload.json",
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return "", err
	}

	var resp struct {
		MediaIDString string `json:"media_id_string"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &PlatformError{Platform: PlatformTwitter, Message: "malformed upload response"}
	}
	if resp.MediaIDString == "" {
		return "", &PlatformError{Platform: PlatformTwitter, Message: "upload response missing media id"}
	}
	return resp.MediaIDString, nil
}

func (p *TwitterPublisher) call(ctx context.Context, conn *store.Connection, method, url string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, &PlatformError{Platform: PlatformTwitter, Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+conn.Credential.AccessToken)
	req.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &PlatformError{Platform: PlatformTwitter, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &PlatformError{Platform: PlatformTwitter, StatusCode: resp.StatusCode, Message: err.Error()}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Platform: PlatformTwitter, Message: fmt.Sprintf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return nil, &PlatformError{Platform: PlatformTwitter, StatusCode: resp.StatusCode, Message: string(data)}
	}
	return data, nil
}

func jsonBody(payload any) io.Reader {
	data, _ := json.Marshal(payload)
	return bytes.NewReader(data)
}
