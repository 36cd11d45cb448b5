package handlers

import (
	"fmt"
	"strings"
	"time"

	"storyline/internal/pipeline"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// renderReport formats a run report as a bordered table, one row per stage.
func renderReport(r *pipeline.Report) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("Run %s", shortID(r.RunID))))
	b.WriteString(mutedStyle.Render(fmt.Sprintf("  %s", r.Duration.Round(time.Millisecond))))
	b.WriteString("\n\n")
	b.WriteString(mutedStyle.Render(fmt.Sprintf("%-12s %9s %8s %8s %7s %8s %9s",
		"stage", "processed", "created", "updated", "failed", "skipped", "time")))
	b.WriteString("\n")

	for _, s := range r.Summaries {
		row := fmt.Sprintf("%-12s %9d %8d %8d %7d %8d %9s",
			s.Stage, s.Processed, s.Created, s.Updated, s.Failed, s.Skipped, s.Duration.Round(time.Millisecond))
		switch {
		case r.Fatal != nil && s == r.Summaries[len(r.Summaries)-1]:
			row = failStyle.Render(row)
		case s.Failed > 0 || s.Warnings() > 0:
			row = warnStyle.Render(row)
		default:
			row = okStyle.Render(row)
		}
		if s.DryRun {
			row += mutedStyle.Render("  (dry run)")
		}
		b.WriteString(row)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	switch {
	case r.Fatal != nil:
		b.WriteString(failStyle.Render("✗ aborted: " + r.Fatal.Error()))
	case r.Warnings() > 0:
		b.WriteString(warnStyle.Render(fmt.Sprintf("⚠ completed with %d warnings", r.Warnings())))
	default:
		b.WriteString(okStyle.Render("✓ completed"))
	}
	return boxStyle.Render(b.String())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
