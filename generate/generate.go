// Package generate produces the relevance analysis and per-platform
// drafts. The pipeline depends only on the Generator interface; the
// OpenAI implementation is the production default and the heuristic one
// keeps tests hermetic.
package generate

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/draftgate/draftgate/scrape"
)

// Analysis is the content-quality result gating the pipeline.
type Analysis struct {
	// Relevance is a 0..1 score of how postable the article is.
	Relevance float64  `json:"relevance"`
	Summary   string   `json:"summary"`
	Topics    []string `json:"topics,omitempty"`
}

// Generator analyzes scraped content and drafts platform posts.
type Generator interface {
	// Analyze scores and summarizes the article.
	Analyze(ctx context.Context, content *scrape.Content) (*Analysis, error)

	// Draft writes a post for one platform. A non-empty hint carries
	// reviewer feedback for a regeneration round.
	Draft(ctx context.Context, platform string, content *scrape.Content, analysis *Analysis, hint string) (string, error)
}

// DraftLimit returns the character budget for a platform's post.
func DraftLimit(platform string) int {
	switch platform {
	case "twitter":
		return 280
	case "linkedin":
		return 3000
	default:
		return 1000
	}
}

// Truncate trims text to limit runes, ending on a word boundary with an ellipsis.
func Truncate(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	cut := string(runes[:limit-1])
	if idx := strings.LastIndexByte(cut, ' '); idx > limit/2 {
		cut = cut[:idx]
	}
	return cut + "…"
}
