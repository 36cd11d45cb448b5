package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const threadTitlePrompt = `The headlines below describe one developing news story.
Write a short neutral title (at most 8 words) naming the story, not any single headline.

HEADLINES:
%s`

var threadTitleSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"title": {Type: genai.TypeString},
	},
	Required: []string{"title"},
}

// TitleThread proposes a title for a group of related headlines
func (c *Client) TitleThread(ctx context.Context, headlines []string) (string, error) {
	if len(headlines) == 0 {
		return "", fmt.Errorf("no headlines to title")
	}
	var b strings.Builder
	for _, h := range headlines {
		fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(h))
	}

	var resp struct {
		Title string `json:"title"`
	}
	if err := c.generateJSON(ctx, c.retries.Generate, fmt.Sprintf(threadTitlePrompt, b.String()), TextGenerationOptions{
		Temperature:    0.3,
		MaxTokens:      64,
		ResponseSchema: threadTitleSchema,
	}, &resp); err != nil {
		return "", fmt.Errorf("thread titling failed: %w", err)
	}

	title := strings.Trim(strings.TrimSpace(resp.Title), `"`)
	if title == "" {
		return "", ErrEmptyResponse
	}
	return title, nil
}
