// Package narrative drafts the spoken briefing for one locale and turns its
// inline chapter markers into a chapter list.
package narrative

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"storyline/internal/core"
	"storyline/internal/llm"
	"storyline/internal/logger"
)

// ErrEmptyDraft is returned when the model produced no narrative text.
var ErrEmptyDraft = errors.New("empty narrative draft")

// TextGenerator is the narrative generation capability.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string, options llm.TextGenerationOptions) (string, error)
}

// Story is one curated item offered to the narrator.
type Story struct {
	ID         string
	Title      string
	Summary    string
	Category   string
	Source     string
	Importance core.ImportanceTier
}

// Draft is a generated narrative with its markers removed.
type Draft struct {
	Locale   string
	Raw      string
	Text     string
	Chapters []core.Chapter
	Markers  int
	Length   int
}

// Generator drafts briefings.
type Generator struct {
	llm      TextGenerator
	minWords int
	maxWords int
}

// NewGenerator creates a generator targeting minWords to maxWords of prose.
func NewGenerator(llm TextGenerator, minWords, maxWords int) *Generator {
	if minWords <= 0 {
		minWords = 700
	}
	if maxWords < minWords {
		maxWords = 1400
	}
	return &Generator{llm: llm, minWords: minWords, maxWords: maxWords}
}

// Draft writes the narrative for stories in the given locale.
func (g *Generator) Draft(ctx context.Context, stories []Story, localeCode string) (*Draft, error) {
	if len(stories) == 0 {
		return nil, fmt.Errorf("no stories to narrate")
	}
	locale, err := LookupLocale(localeCode)
	if err != nil {
		return nil, err
	}

	raw, err := g.llm.GenerateText(ctx, BuildPrompt(stories, locale, g.minWords, g.maxWords), llm.TextGenerationOptions{
		Temperature: 0.6,
		MaxTokens:   int32(g.maxWords * 4),
	})
	if err != nil {
		return nil, fmt.Errorf("draft %s narrative: %w", locale.Code, err)
	}

	text, chapters := ParseChapters(raw)
	if text == "" {
		return nil, ErrEmptyDraft
	}
	d := &Draft{
		Locale:   locale.Code,
		Raw:      raw,
		Text:     text,
		Chapters: chapters,
		Markers:  CountMarkers(raw),
		Length:   locale.Length(text),
	}
	if d.Length < g.minWords || d.Length > g.maxWords {
		logger.Warn("Narrative length outside target", "locale", locale.Code, "length", d.Length, "min", g.minWords, "max", g.maxWords)
	}
	return d, nil
}

const promptTemplate = `You are the host of a daily spoken news briefing. Write today's script in %s.

Rules:
- Write %d to %d words of flowing, spoken prose. No lists, headings, markdown or URLs.
- Tell the stories in the order given. Connect related stories with natural transitions.
- Insert a chapter marker on its own line at each topic transition, written exactly as [CHAPTER: short title].
  Use 4 to 6 chapters. Chapter titles are in %s.
- Open with: "%s"
- Attribute facts to their source when it matters. Never invent facts beyond the stories below.

STORIES:
%s`

// BuildPrompt renders the drafting prompt.
func BuildPrompt(stories []Story, locale Locale, minWords, maxWords int) string {
	var b strings.Builder
	for i, s := range stories {
		fmt.Fprintf(&b, "%d. %s", i+1, strings.TrimSpace(s.Title))
		var tags []string
		if s.Category != "" {
			tags = append(tags, s.Category)
		}
		if s.Importance != "" {
			tags = append(tags, string(s.Importance))
		}
		if s.Source != "" {
			tags = append(tags, s.Source)
		}
		if len(tags) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(tags, ", "))
		}
		if sum := strings.TrimSpace(s.Summary); sum != "" {
			fmt.Fprintf(&b, "\n   %s", truncateText(sum, 600))
		}
		b.WriteString("\n")
	}
	return fmt.Sprintf(promptTemplate, locale.Language, minWords, maxWords, locale.Language, locale.Greeting, b.String())
}

func truncateText(text string, maxRunes int) string {
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	truncated := string(runes[:maxRunes])
	if i := strings.LastIndex(truncated, " "); i > 0 {
		truncated = truncated[:i]
	}
	return truncated + "..."
}
