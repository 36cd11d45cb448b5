// Package pipeline runs the stages of one daily batch in order. Each stage
// persists its output before the next starts, so a stage boundary is a
// durable checkpoint. Only a fatal error stops the run.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"storyline/internal/core"
	"storyline/internal/logger"

	"github.com/google/uuid"
)

// Stage is one step of the batch.
type Stage interface {
	Run(ctx context.Context) (*core.StageSummary, error)
}

// StageFunc adapts a function to Stage.
type StageFunc func(ctx context.Context) (*core.StageSummary, error)

func (f StageFunc) Run(ctx context.Context) (*core.StageSummary, error) { return f(ctx) }

// Step names a stage for progress output and selection.
type Step struct {
	Name  string // e.g. "crawl"
	Title string // e.g. "Crawling candidates"
	Stage Stage
}

// Reporter receives stage and run outcomes, e.g. for analytics.
type Reporter interface {
	StageCompleted(ctx context.Context, runID string, summary *core.StageSummary, err error)
	RunCompleted(ctx context.Context, runID string, stages int, fatal error, durationMs int64)
}

// Pipeline executes steps sequentially.
type Pipeline struct {
	steps    []Step
	reporter Reporter
	out      io.Writer
}

// New creates a pipeline over steps. A nil reporter disables reporting.
func New(steps []Step, reporter Reporter) *Pipeline {
	return &Pipeline{steps: steps, reporter: reporter, out: os.Stdout}
}

// WithOutput redirects progress lines.
func (p *Pipeline) WithOutput(w io.Writer) *Pipeline {
	p.out = w
	return p
}

// Select keeps only the named steps, in pipeline order. Unknown names are an error.
func (p *Pipeline) Select(names []string) (*Pipeline, error) {
	if len(names) == 0 {
		return p, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[strings.ToLower(strings.TrimSpace(n))] = true
	}
	var steps []Step
	for _, s := range p.steps {
		if want[s.Name] {
			steps = append(steps, s)
			delete(want, s.Name)
		}
	}
	if len(want) > 0 {
		var unknown []string
		for n := range want {
			unknown = append(unknown, n)
		}
		return nil, fmt.Errorf("unknown stages: %s", strings.Join(unknown, ", "))
	}
	return &Pipeline{steps: steps, reporter: p.reporter, out: p.out}, nil
}

// Names lists the step names in order.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name
	}
	return names
}

// Run executes every step. A fatal stage error or a cancelled context aborts
// the run; any other stage error is recorded as a warning and the next stage runs.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{RunID: uuid.NewString(), StartedAt: start}
	defer func() {
		report.Duration = time.Since(start)
		if p.reporter != nil {
			p.reporter.RunCompleted(ctx, report.RunID, len(report.Summaries), report.Fatal, report.Duration.Milliseconds())
		}
	}()

	total := len(p.steps)
	for i, step := range p.steps {
		fmt.Fprintf(p.out, "Step %d/%d: %s...\n", i+1, total, step.Title)
		summary, err := step.Stage.Run(ctx)
		if summary == nil {
			summary = core.NewStageSummary(step.Name)
		}
		report.Summaries = append(report.Summaries, summary)
		if p.reporter != nil {
			p.reporter.StageCompleted(ctx, report.RunID, summary, err)
		}

		switch {
		case err == nil:
			fmt.Fprintf(p.out, "   ✓ %s\n\n", summary)
			logger.Info("Stage completed", "stage", step.Name, "processed", summary.Processed,
				"created", summary.Created, "failed", summary.Failed, "skipped", summary.Skipped)
		case core.IsFatal(err) || ctx.Err() != nil:
			fmt.Fprintf(p.out, "   ✗ %s aborted the run: %v\n\n", step.Name, err)
			logger.Error("Fatal stage error, aborting run", err, "stage", step.Name)
			report.Fatal = err
			return report, err
		default:
			summary.AddError(err)
			fmt.Fprintf(p.out, "   ⚠️  %s finished with errors: %v\n\n", step.Name, err)
			logger.Warn("Stage finished with errors", "stage", step.Name, "error", err.Error())
		}
	}
	return report, nil
}
