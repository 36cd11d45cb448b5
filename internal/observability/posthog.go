// Package observability sends pipeline run analytics to PostHog.
package observability

import (
	"context"
	"fmt"
	"log/slog"

	"storyline/internal/config"
	"storyline/internal/core"

	"github.com/posthog/posthog-go"
)

const (
	systemDistinctID = "storyline-pipeline"

	EventStageCompleted    = "pipeline_stage_completed"
	EventRunCompleted      = "pipeline_run_completed"
	EventBriefingGenerated = "briefing_generated"
)

// PostHogClient wraps the PostHog SDK for run analytics
type PostHogClient struct {
	client  posthog.Client
	enabled bool
	log     *slog.Logger
}

// EventProperties contains properties for an event
type EventProperties map[string]interface{}

// NewPostHogClient creates a client. A disabled configuration yields a client
// whose calls are no-ops.
func NewPostHogClient(cfg config.PostHog) (*PostHogClient, error) {
	if !cfg.Enabled {
		return &PostHogClient{enabled: false, log: slog.Default()}, nil
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("PostHog enabled but missing API key")
	}

	client, err := posthog.NewWithConfig(cfg.APIKey, posthog.Config{
		Endpoint: cfg.Host,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create PostHog client: %w", err)
	}
	return &PostHogClient{client: client, enabled: true, log: slog.Default()}, nil
}

// IsEnabled returns whether PostHog tracking is enabled
func (p *PostHogClient) IsEnabled() bool {
	return p.enabled
}

// Capture sends an event to PostHog
func (p *PostHogClient) Capture(ctx context.Context, event string, properties EventProperties) error {
	if !p.enabled {
		return nil
	}
	props := posthog.NewProperties()
	for k, v := range properties {
		props.Set(k, v)
	}
	return p.client.Enqueue(posthog.Capture{
		DistinctId: systemDistinctID,
		Event:      event,
		Properties: props,
	})
}

// StageCompleted reports one stage's summary. Delivery failures are logged, never returned.
func (p *PostHogClient) StageCompleted(ctx context.Context, runID string, summary *core.StageSummary, err error) {
	if summary == nil {
		return
	}
	if cerr := p.Capture(ctx, EventStageCompleted, StageProperties(runID, summary, err)); cerr != nil {
		p.log.Warn("failed to enqueue analytics event", "event", EventStageCompleted, "error", cerr.Error())
	}
}

// RunCompleted reports the end of a pipeline run.
func (p *PostHogClient) RunCompleted(ctx context.Context, runID string, stages int, fatal error, durationMs int64) {
	props := EventProperties{
		"run_id":      runID,
		"stages":      stages,
		"fatal":       fatal != nil,
		"duration_ms": durationMs,
	}
	if fatal != nil {
		props["error"] = fatal.Error()
	}
	if err := p.Capture(ctx, EventRunCompleted, props); err != nil {
		p.log.Warn("failed to enqueue analytics event", "event", EventRunCompleted, "error", err.Error())
	}
}

// TrackBriefingGenerated reports a stored briefing.
func (p *PostHogClient) TrackBriefingGenerated(ctx context.Context, b *core.Briefing) error {
	return p.Capture(ctx, EventBriefingGenerated, EventProperties{
		"briefing_id":    b.ID,
		"date":           b.Date.Format("2006-01-02"),
		"locale":         b.Locale,
		"stories":        b.SourceItemCount,
		"chapters":       len(b.Chapters),
		"sentences":      len(b.Sentences),
		"audio_duration": b.AudioDuration,
	})
}

// StageProperties flattens a stage summary into event properties.
func StageProperties(runID string, s *core.StageSummary, err error) EventProperties {
	props := EventProperties{
		"run_id":      runID,
		"stage":       s.Stage,
		"processed":   s.Processed,
		"created":     s.Created,
		"updated":     s.Updated,
		"failed":      s.Failed,
		"skipped":     s.Skipped,
		"warnings":    s.Warnings(),
		"dry_run":     s.DryRun,
		"duration_ms": s.Duration.Milliseconds(),
		"fatal":       core.IsFatal(err),
	}
	if err != nil {
		props["error"] = err.Error()
	}
	return props
}

// Close flushes pending events
func (p *PostHogClient) Close() error {
	if !p.enabled {
		return nil
	}
	return p.client.Close()
}
