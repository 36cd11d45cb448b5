package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// CurationCandidate is one item offered to the curator
type CurationCandidate struct {
	ID         string
	Title      string
	Summary    string
	Category   string
	Importance string
}

const curatePromptTemplate = `You are the editor of a daily spoken news briefing.
From the numbered stories below choose between %d and %d stories worth narrating today.
Rank them in the order they should be told: the most consequential first, related stories adjacent.
Skip duplicates, minor updates and promotional items.

STORIES:
%s`

var curationSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"selected": {
			Type:        genai.TypeArray,
			Description: "Story numbers in narration order",
			Items:       &genai.Schema{Type: genai.TypeInteger},
		},
	},
	Required: []string{"selected"},
}

type curationResponse struct {
	Selected []int `json:"selected"`
}

// Curate selects and orders the stories worth narrating. The result holds between
// minItems and maxItems ids when enough candidates exist.
func (c *Client) Curate(ctx context.Context, candidates []CurationCandidate, minItems, maxItems int) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	var resp curationResponse
	err := c.generateJSON(ctx, c.retries.Generate, BuildCuratePrompt(candidates, minItems, maxItems), TextGenerationOptions{
		Temperature:    0.2,
		ResponseSchema: curationSchema,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("curation failed: %w", err)
	}
	return ApplySelection(candidates, resp.Selected, minItems, maxItems), nil
}

// BuildCuratePrompt renders the curation prompt with 1-based story numbers
func BuildCuratePrompt(candidates []CurationCandidate, minItems, maxItems int) string {
	var b strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. [%s] %s", i+1, c.Category, c.Title)
		if c.Importance != "" {
			fmt.Fprintf(&b, " (%s)", c.Importance)
		}
		if s := strings.TrimSpace(c.Summary); s != "" {
			fmt.Fprintf(&b, "\n   %s", truncateRunes(s, 280))
		}
		b.WriteString("\n")
	}
	return fmt.Sprintf(curatePromptTemplate, minItems, maxItems, b.String())
}

// ApplySelection maps 1-based story numbers to ids, dropping invalid and repeated
// numbers. Short selections are topped up in candidate order; long ones are cut.
func ApplySelection(candidates []CurationCandidate, selected []int, minItems, maxItems int) []string {
	if maxItems <= 0 || maxItems > len(candidates) {
		maxItems = len(candidates)
	}
	if minItems > maxItems {
		minItems = maxItems
	}

	used := make(map[int]bool)
	var ids []string
	for _, n := range selected {
		idx := n - 1
		if idx < 0 || idx >= len(candidates) || used[idx] {
			continue
		}
		used[idx] = true
		ids = append(ids, candidates[idx].ID)
		if len(ids) == maxItems {
			return ids
		}
	}
	for idx := 0; len(ids) < minItems && idx < len(candidates); idx++ {
		if !used[idx] {
			used[idx] = true
			ids = append(ids, candidates[idx].ID)
		}
	}
	return ids
}
