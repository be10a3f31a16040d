package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/draftgate/draftgate/scrape"
)

// HeuristicGenerator is a deterministic Generator with no external calls.
// It backs tests and deployments without an LLM key.
type HeuristicGenerator struct{}

var _ Generator = (*HeuristicGenerator)(nil)

// NewHeuristicGenerator creates a heuristic generator.
func NewHeuristicGenerator() *HeuristicGenerator {
	return &HeuristicGenerator{}
}

// Analyze scores the article on simple signals: enough body text and a
// title that the body actually talks about.
func (g *HeuristicGenerator) Analyze(ctx context.Context, content *scrape.Content) (*Analysis, error) {
	score := 0.0
	words := strings.Fields(content.Text)
	switch {
	case len(words) >= 300:
		score += 0.6
	case len(words) >= 100:
		score += 0.4
	case len(words) >= 40:
		score += 0.2
	}

	lowerText := strings.ToLower(content.Text)
	titleWords := strings.Fields(strings.ToLower(content.Title))
	matched := 0
	for _, w := range titleWords {
		if len(w) > 3 && strings.Contains(lowerText, w) {
			matched++
		}
	}
	if len(titleWords) > 0 {
		score += 0.4 * float64(matched) / float64(len(titleWords))
	}
	if score > 1 {
		score = 1
	}

	return &Analysis{
		Relevance: score,
		Summary:   firstSentence(content.Text),
		Topics:    topicWords(titleWords),
	}, nil
}

// Draft composes title + summary + link within the platform budget.
func (g *HeuristicGenerator) Draft(ctx context.Context, platform string, content *scrape.Content, analysis *Analysis, hint string) (string, error) {
	body := analysis.Summary
	if hint != "" {
		// A regeneration round leads with the summary reworded around the hint.
		body = fmt.Sprintf("%s: %s", strings.TrimRight(hint, "."), analysis.Summary)
	}
	draft := fmt.Sprintf("%s\n\n%s\n%s", content.Title, body, content.URL)
	return Truncate(draft, DraftLimit(platform)), nil
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	for _, sep := range []string{". ", "!\n", "?\n", "\n"} {
		if idx := strings.Index(text, sep); idx > 0 {
			return strings.TrimSpace(text[:idx+1])
		}
	}
	return Truncate(text, 200)
}

func topicWords(titleWords []string) []string {
	var topics []string
	for _, w := range titleWords {
		if len(w) > 5 {
			topics = append(topics, strings.Trim(w, ".,:;!?"))
		}
		if len(topics) == 3 {
			break
		}
	}
	return topics
}
