package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/draftgate/draftgate/store"
)

const linkedinAPIBase = "https://api.linkedin.com"

// LinkedInPublisher posts UGC shares. The author URN is resolved per call
// from /v2/userinfo rather than cached: it follows the credential, and a
// refreshed token may belong to a re-linked account.
type LinkedInPublisher struct {
	client  *http.Client
	apiBase string
}

var _ Publisher = (*LinkedInPublisher)(nil)

// NewLinkedInPublisher creates a LinkedIn variant. A nil client uses
// http.DefaultClient.
func NewLinkedInPublisher(client *http.Client) *LinkedInPublisher {
	if client == nil {
		client = http.DefaultClient
	}
	return &LinkedInPublisher{client: client, apiBase: linkedinAPIBase}
}

// NewLinkedInPublisherWithBase overrides the base URL, for tests.
func NewLinkedInPublisherWithBase(client *http.Client, apiBase string) *LinkedInPublisher {
	p := NewLinkedInPublisher(client)
	if apiBase != "" {
		p.apiBase = apiBase
	}
	return p
}

func (p *LinkedInPublisher) Platform() Platform { return PlatformLinkedIn }

// Publish creates a UGC post. metadata["organization_id"] switches the
// author from the member to an organization page.
func (p *LinkedInPublisher) Publish(ctx context.Context, conn *store.Connection, req PublishRequest) (string, error) {
	author, err := p.resolveAuthor(ctx, conn, req.Metadata)
	if err != nil {
		return "", err
	}

	media := "NONE"
	var mediaEntries []map[string]any
	if req.MediaID != "" {
		media = "IMAGE"
		mediaEntries = []map[string]any{
			{"status": "READY", "media": req.MediaID},
		}
	}

	shareContent := map[string]any{
		"shareCommentary":    map[string]any{"text": req.Text},
		"shareMediaCategory": media,
	}
	if mediaEntries != nil {
		shareContent["media"] = mediaEntries
	}

	payload := map[string]any{
		"author":         author,
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]any{
			"com.linkedin.ugc.ShareContent": shareContent,
		},
		"visibility": map[string]any{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}

	body, err := p.call(ctx, conn, http.MethodPost, p.apiBase+"/v2/ugcPosts", jsonBody(payload))
	if err != nil {
		return "", err
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &PlatformError{Platform: PlatformLinkedIn, Message: "malformed share response"}
	}
	if resp.ID == "" {
		return "", &PlatformError{Platform: PlatformLinkedIn, Message: "share response missing id"}
	}
	return resp.ID, nil
}

// Upload registers an image asset and pushes the bytes to the returned
// upload URL, yielding the asset URN for attachment.
func (p *LinkedInPublisher) Upload(ctx context.Context, conn *store.Connection, media []byte, sourceURL string) (string, error) {
	author, err := p.resolveAuthor(ctx, conn, nil)
	if err != nil {
		return "", err
	}

	registerPayload := map[string]any{
		"registerUploadRequest": map[string]any{
			"recipes": []string{"urn:li:digitalmediaRecipe:feedshare-image"},
			"owner":   author,
			"serviceRelationships": []map[string]any{
				{"relationshipType": "OWNER", "identifier": "urn:li:userGeneratedContent"},
			},
		},
	}

	body, err := p.call(ctx, conn, http.MethodPost, p.apiBase+"/v2/assets?action=registerUpload", jsonBody(registerPayload))
	if err != nil {
		return "", err
	}

	var reg struct {
		Value struct {
			Asset           string `json:"asset"`
			UploadMechanism map[string]struct {
				UploadURL string `json:"uploadUrl"`
			} `json:"uploadMechanism"`
		} `json:"value"`
	}
	if err := json.Unmarshal(body, &reg); err != nil {
		return "", &PlatformError{Platform: PlatformLinkedIn, Message: "malformed register response"}
	}

	var uploadURL string
	for _, mech := range reg.Value.UploadMechanism {
		if mech.UploadURL != "" {
			uploadURL = mech.UploadURL
			break
		}
	}
	if reg.Value.Asset == "" || uploadURL == "" {
		return "", &PlatformError{Platform: PlatformLinkedIn, Message: "register response missing asset or upload url"}
	}

	if _, err := p.call(ctx, conn, http.MethodPut, uploadURL, bytes.NewReader(media)); err != nil {
		return "", err
	}
	return reg.Value.Asset, nil
}

// resolveAuthor maps the credential's subject to a person URN, or an
// organization URN when metadata selects one.
func (p *LinkedInPublisher) resolveAuthor(ctx context.Context, conn *store.Connection, metadata map[string]string) (string, error) {
	if orgID := metadata["organization_id"]; orgID != "" {
		return "urn:li:organization:" + orgID, nil
	}

	body, err := p.call(ctx, conn, http.MethodGet, p.apiBase+"/v2/userinfo", nil)
	if err != nil {
		return "", err
	}

	var info struct {
		Sub string `json:"sub"`
	}
	if err := json.Unmarshal(body, &info); err != nil || info.Sub == "" {
		return "", &PlatformError{Platform: PlatformLinkedIn, Message: "userinfo response missing sub"}
	}
	return "urn:li:person:" + info.Sub, nil
}

func (p *LinkedInPublisher) call(ctx context.Context, conn *store.Connection, method, url string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, &PlatformError{Platform: PlatformLinkedIn, Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+conn.Credential.AccessToken)
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &PlatformError{Platform: PlatformLinkedIn, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &PlatformError{Platform: PlatformLinkedIn, StatusCode: resp.StatusCode, Message: err.Error()}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Platform: PlatformLinkedIn, Message: fmt.Sprintf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return nil, &PlatformError{Platform: PlatformLinkedIn, StatusCode: resp.StatusCode, Message: string(data)}
	}
	return data, nil
}
