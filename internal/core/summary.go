package core

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// StageSummary is the per-run report every stage emits.
type StageSummary struct {
	Stage     string
	Processed int
	Created   int
	Updated   int
	Failed    int
	Skipped   int
	Duration  time.Duration
	DryRun    bool
	Errors    *multierror.Error
}

// NewStageSummary starts a summary for the named stage.
func NewStageSummary(stage string) *StageSummary {
	return &StageSummary{Stage: stage}
}

// AddError records a non-fatal error and counts it as failed.
func (s *StageSummary) AddError(err error) {
	if err == nil {
		return
	}
	s.Failed++
	s.Errors = multierror.Append(s.Errors, err)
}

// Warnings returns the number of recorded non-fatal errors.
func (s *StageSummary) Warnings() int {
	if s.Errors == nil {
		return 0
	}
	return len(s.Errors.Errors)
}

func (s *StageSummary) String() string {
	return fmt.Sprintf("%s: processed=%d created=%d updated=%d failed=%d skipped=%d (%s)",
		s.Stage, s.Processed, s.Created, s.Updated, s.Failed, s.Skipped, s.Duration.Round(time.Millisecond))
}
