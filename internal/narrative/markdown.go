package narrative

import (
	"fmt"
	"strings"

	"storyline/internal/core"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// Markdown renders a briefing as markdown with one heading per chapter.
func Markdown(b *core.Briefing) string {
	var out strings.Builder
	fmt.Fprintf(&out, "# Briefing %s (%s)\n\n", b.Date.Format("2006-01-02"), b.Locale)
	for _, s := range SplitChapters(b.Narrative, b.Chapters) {
		if s.Title != "" {
			fmt.Fprintf(&out, "## %s\n\n", s.Title)
		}
		if s.Body != "" {
			out.WriteString(s.Body)
			out.WriteString("\n\n")
		}
	}
	return strings.TrimSpace(out.String()) + "\n"
}

// HTML renders a briefing to an HTML fragment.
func HTML(b *core.Briefing) []byte {
	mdParser := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.HrefTargetBlank})
	return markdown.ToHTML([]byte(Markdown(b)), mdParser, renderer)
}
