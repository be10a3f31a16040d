package pipeline

import (
	"fmt"

	"github.com/draftgate/draftgate/publish"
)

// ReviewAction resolves an awaiting-human suspension. Exactly one of
// approve, reject, regenerate or feedback-only applies per action.
type ReviewAction struct {
	// ApproveContent approves the drafts for publishing.
	ApproveContent bool `json:"approve_content"`

	// ApproveImage keeps the selected image attached. Ignored unless
	// ApproveContent is set.
	ApproveImage bool `json:"approve_image"`

	// Reject terminates the execution.
	Reject bool `json:"reject"`

	// Regenerate sends the named platforms' drafts back for another
	// generation round, with Feedback as the hint.
	Regenerate []publish.Platform `json:"regenerate,omitempty"`

	// Feedback is the reviewer note. With Regenerate it steers the new
	// drafts; alone it re-suspends with the note echoed in the payload.
	Feedback string `json:"feedback,omitempty"`

	// EditedText replaces generated drafts per platform before publishing.
	EditedText map[publish.Platform]string `json:"edited_text,omitempty"`

	// ConnectionIDs picks explicit connections per platform; absent
	// platforms use the user's default connection.
	ConnectionIDs map[publish.Platform]int64 `json:"connection_ids,omitempty"`
}

// Validate rejects internally inconsistent actions.
func (a *ReviewAction) Validate() error {
	if a.ApproveContent && a.Reject {
		return fmt.Errorf("%w: approve and reject are mutually exclusive", ErrInvalidAction)
	}
	if len(a.Regenerate) > 0 && (a.ApproveContent || a.Reject) {
		return fmt.Errorf("%w: regenerate cannot be combined with a decision", ErrInvalidAction)
	}
	if !a.ApproveContent && !a.Reject && len(a.Regenerate) == 0 && a.Feedback == "" {
		return fmt.Errorf("%w: action carries no decision and no feedback", ErrInvalidAction)
	}
	for _, p := range a.Regenerate {
		if p != publish.PlatformTwitter && p != publish.PlatformLinkedIn {
			return fmt.Errorf("%w: unknown platform %q", ErrInvalidAction, p)
		}
	}
	return nil
}

// ReauthAction resolves an awaiting-auth suspension. It carries no data:
// it asserts the user restored their connections, which the engine then
// verifies once.
type ReauthAction struct{}
