package llm

import (
	"context"
	"fmt"
	"math"
	"strings"

	"storyline/internal/core"

	"google.golang.org/genai"
)

const verifyPromptTemplate = `You compare a news headline with the text of a candidate article.

SOURCE HEADLINE:
%s

CANDIDATE ARTICLE (truncated):
%s

Decide whether the candidate reports the same real-world event as the source.
- same_event: true only when both describe the same specific event, not merely the same topic
- relevance: 0-10, how useful the candidate is as full coverage of the source story
- importance: must_read, worth_reading or optional for a general news reader
- keywords: 2-4 short keywords naming the event`

var verificationSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"same_event": {Type: genai.TypeBoolean, Description: "Whether both texts report the same event"},
		"relevance":  {Type: genai.TypeNumber, Description: "Relevance from 0 to 10"},
		"importance": {
			Type: genai.TypeString,
			Enum: []string{string(core.ImportanceMustRead), string(core.ImportanceWorthReading), string(core.ImportanceOptional)},
		},
		"keywords": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
	},
	Required: []string{"same_event", "relevance", "importance", "keywords"},
}

type verificationResponse struct {
	SameEvent  bool     `json:"same_event"`
	Relevance  float64  `json:"relevance"`
	Importance string   `json:"importance"`
	Keywords   []string `json:"keywords"`
}

// Verify asks the verification model whether candidate text covers the source headline
func (c *Client) Verify(ctx context.Context, source, candidate string) (*core.VerificationResult, error) {
	var resp verificationResponse
	err := c.generateJSON(ctx, c.retries.Verify, BuildVerifyPrompt(source, candidate), TextGenerationOptions{
		Model:          c.verifyModel,
		Temperature:    0.1,
		MaxTokens:      256,
		ResponseSchema: verificationSchema,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("verification failed: %w", err)
	}
	return resp.normalize(), nil
}

// BuildVerifyPrompt renders the verification prompt
func BuildVerifyPrompt(source, candidate string) string {
	return fmt.Sprintf(verifyPromptTemplate, strings.TrimSpace(source), strings.TrimSpace(candidate))
}

// normalize clamps relevance to [0,10] and keeps 2-4 distinct keywords
func (r verificationResponse) normalize() *core.VerificationResult {
	relevance := r.Relevance
	if math.IsNaN(relevance) {
		relevance = 0
	}
	relevance = math.Max(0, math.Min(10, relevance))

	seen := make(map[string]bool)
	var keywords []string
	for _, k := range r.Keywords {
		k = strings.TrimSpace(k)
		key := strings.ToLower(k)
		if k == "" || seen[key] {
			continue
		}
		seen[key] = true
		keywords = append(keywords, k)
		if len(keywords) == 4 {
			break
		}
	}

	return &core.VerificationResult{
		SameEvent:  r.SameEvent,
		Relevance:  relevance,
		Importance: core.ParseImportance(strings.ToLower(strings.TrimSpace(r.Importance))),
		Keywords:   keywords,
	}
}
