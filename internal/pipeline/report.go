package pipeline

import (
	"time"

	"storyline/internal/core"
)

// Report collects the summaries of one run.
type Report struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Summaries []*core.StageSummary
	Fatal     error
}

// ExitCode is non-zero only when a stage hit a fatal condition. Warnings never
// change it.
func (r *Report) ExitCode() int {
	if r.Fatal != nil {
		return 1
	}
	return 0
}

// Warnings counts the non-fatal errors across all stages.
func (r *Report) Warnings() int {
	n := 0
	for _, s := range r.Summaries {
		n += s.Warnings()
	}
	return n
}

// Summary returns the summary of the named stage, or nil when it did not run.
func (r *Report) Summary(stage string) *core.StageSummary {
	for _, s := range r.Summaries {
		if s.Stage == stage {
			return s
		}
	}
	return nil
}
