package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/draftgate/draftgate/scrape"
)

// OpenAIGenerator implements Generator using the OpenAI chat API.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

var _ Generator = (*OpenAIGenerator)(nil)

// NewOpenAIGenerator creates a generator with the given API key.
// Model defaults to gpt-4o-mini when empty.
func NewOpenAIGenerator(apiKey, model string) *OpenAIGenerator {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIGenerator{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// NewOpenAIGeneratorWithClient creates a generator using an existing client.
func NewOpenAIGeneratorWithClient(client *openai.Client, model string) *OpenAIGenerator {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIGenerator{client: client, model: model}
}

// Analyze scores and summarizes the article.
func (g *OpenAIGenerator) Analyze(ctx context.Context, content *scrape.Content) (*Analysis, error) {
	prompt := fmt.Sprintf(
		"Rate how suitable this article is for a professional social media post.\n"+
			"Respond with JSON only: {\"relevance\": 0..1, \"summary\": \"...\", \"topics\": [\"...\"]}.\n\n"+
			"Title: %s\n\n%s",
		content.Title, Truncate(content.Text, 4000),
	)

	raw, err := g.complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("analysis failed: %w", err)
	}

	var analysis Analysis
	if err := json.Unmarshal([]byte(extractJSON(raw)), &analysis); err != nil {
		return nil, fmt.Errorf("analysis returned malformed JSON: %w", err)
	}
	return &analysis, nil
}

// Draft writes a post for one platform.
func (g *OpenAIGenerator) Draft(ctx context.Context, platform string, content *scrape.Content, analysis *Analysis, hint string) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Write a %s post (max %d characters) about this article.\n", platform, DraftLimit(platform))
	fmt.Fprintf(&sb, "Include the link %s. Respond with the post text only.\n", content.URL)
	if hint != "" {
		fmt.Fprintf(&sb, "Reviewer feedback to address: %s\n", hint)
	}
	fmt.Fprintf(&sb, "\nTitle: %s\nSummary: %s\n", content.Title, analysis.Summary)

	draft, err := g.complete(ctx, sb.String())
	if err != nil {
		return "", fmt.Errorf("draft generation failed: %w", err)
	}
	return Truncate(strings.TrimSpace(draft), DraftLimit(platform)), nil
}

func (g *OpenAIGenerator) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// extractJSON pulls the first JSON object out of a completion that may be
// wrapped in markdown fences or prose.
func extractJSON(raw string) string {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
