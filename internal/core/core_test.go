package core

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestFailureReasonContentShape(t *testing.T) {
	tests := []struct {
		reason FailureReason
		want   bool
	}{
		{ReasonTooShort, true},
		{ReasonMismatch, true},
		{ReasonPaywall, true},
		{ReasonTimeout, false},
		{ReasonHTTPError, false},
		{ReasonParseError, false},
		{ReasonResolveFailed, false},
	}
	for _, tt := range tests {
		if got := tt.reason.ContentShape(); got != tt.want {
			t.Errorf("%s.ContentShape() = %v, want %v", tt.reason, got, tt.want)
		}
	}
}

func TestCrawlStatusTerminal(t *testing.T) {
	if CrawlPending.Terminal() {
		t.Error("pending must not be terminal")
	}
	for _, s := range []CrawlStatus{CrawlSuccess, CrawlFailed, CrawlSkipped} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestIsFatal(t *testing.T) {
	base := errors.New("db down")
	if !IsFatal(fmt.Errorf("run: %w", Fatal("ingest", base))) {
		t.Error("wrapped fatal error not detected")
	}
	if IsFatal(Capability("thread", base)) {
		t.Error("capability error reported as fatal")
	}
	if !errors.Is(Fatal("ingest", base), base) {
		t.Error("StageError should unwrap to its cause")
	}
}

func TestBriefingDate(t *testing.T) {
	loc := time.FixedZone("KST", 9*3600)
	got := BriefingDate(time.Date(2025, 3, 2, 3, 0, 0, 0, loc))
	want := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("BriefingDate = %v, want %v", got, want)
	}
}

func TestStageSummaryAddError(t *testing.T) {
	s := NewStageSummary("crawl")
	s.AddError(nil)
	s.AddError(errors.New("a"))
	s.AddError(errors.New("b"))
	if s.Failed != 2 || s.Warnings() != 2 {
		t.Errorf("failed=%d warnings=%d, want 2/2", s.Failed, s.Warnings())
	}
}

func TestParseImportance(t *testing.T) {
	if ParseImportance("must_read") != ImportanceMustRead {
		t.Error("must_read not parsed")
	}
	if ParseImportance("urgent") != ImportanceOptional {
		t.Error("unknown tier should default to optional")
	}
}
