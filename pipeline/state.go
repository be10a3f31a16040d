package pipeline

import (
	"time"

	"github.com/draftgate/draftgate/generate"
	"github.com/draftgate/draftgate/publish"
	"github.com/draftgate/draftgate/scrape"
)

// State is the full pipeline state threaded through the graph. It must
// round-trip through JSON unchanged: the orchestrator persists it as the
// execution snapshot and rebuilds it on resume.
type State struct {
	ExecutionID string `json:"execution_id"`
	UserID      string `json:"user_id"`
	URL         string `json:"url"`

	Scraped  *scrape.Content             `json:"scraped,omitempty"`
	Analysis *generate.Analysis          `json:"analysis,omitempty"`
	Drafts   map[publish.Platform]string `json:"drafts,omitempty"`

	Image        *ImageSelection `json:"image,omitempty"`
	ImageChecked bool            `json:"image_checked,omitempty"`

	// RegenerateTargets holds the platforms whose drafts the reviewer sent
	// back; RegenerateHint carries their feedback into the next draft.
	RegenerateTargets []publish.Platform `json:"regenerate_targets,omitempty"`
	RegenerateHint    string             `json:"regenerate_hint,omitempty"`

	// Feedback is a reviewer note that did not decide the review; it is
	// echoed back in the re-rendered payload.
	Feedback string `json:"feedback,omitempty"`

	Review      *ReviewRecord              `json:"review,omitempty"`
	Connections map[publish.Platform]int64 `json:"connections,omitempty"`

	MediaIDs     map[publish.Platform]string `json:"media_ids,omitempty"`
	UploadErrors map[publish.Platform]string `json:"upload_errors,omitempty"`

	PublishResults map[publish.Platform]publish.PublishResult `json:"publish_results,omitempty"`

	Terminated bool   `json:"terminated,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// ImageSelection is the downloaded image candidate attached to the review.
type ImageSelection struct {
	SourceURL string `json:"source_url"`
	Caption   string `json:"caption,omitempty"`
	Base64    string `json:"base64"`
}

// ReviewRecord captures the approving review decision.
type ReviewRecord struct {
	ImageApproved bool      `json:"image_approved"`
	Feedback      string    `json:"feedback,omitempty"`
	DecidedAt     time.Time `json:"decided_at"`
}

// ReviewPayload is the suspension payload presented to the human reviewer.
type ReviewPayload struct {
	ExecutionID string                      `json:"execution_id"`
	URL         string                      `json:"url"`
	Title       string                      `json:"title"`
	Summary     string                      `json:"summary"`
	Relevance   float64                     `json:"relevance"`
	Drafts      map[publish.Platform]string `json:"drafts"`
	Image       *ImagePreview               `json:"image,omitempty"`
	Feedback    string                      `json:"feedback,omitempty"`
}

// ImagePreview is the review-facing view of the selected image. The
// payload carries the source URL and caption, not the bytes.
type ImagePreview struct {
	SourceURL string `json:"source_url"`
	Caption   string `json:"caption,omitempty"`
}

// ReauthPayload is the suspension payload when platform connections need
// to be restored before publishing.
type ReauthPayload struct {
	ExecutionID string             `json:"execution_id"`
	Platforms   []publish.Platform `json:"platforms"`
}

func (s *State) platforms() []publish.Platform {
	out := make([]publish.Platform, 0, len(s.Drafts))
	for _, p := range []publish.Platform{publish.PlatformTwitter, publish.PlatformLinkedIn} {
		if _, ok := s.Drafts[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (s *State) reviewPayload() *ReviewPayload {
	payload := &ReviewPayload{
		ExecutionID: s.ExecutionID,
		URL:         s.URL,
		Drafts:      s.Drafts,
		Feedback:    s.Feedback,
	}
	if s.Scraped != nil {
		payload.Title = s.Scraped.Title
	}
	if s.Analysis != nil {
		payload.Summary = s.Analysis.Summary
		payload.Relevance = s.Analysis.Relevance
	}
	if s.Image != nil {
		payload.Image = &ImagePreview{SourceURL: s.Image.SourceURL, Caption: s.Image.Caption}
	}
	return payload
}

func (s *State) terminate(reason string) {
	s.Terminated = true
	s.Reason = reason
}
