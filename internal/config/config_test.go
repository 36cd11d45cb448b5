package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	dir := t.TempDir()
	path := filepath.Join(dir, "storyline.yaml")
	if err := os.WriteFile(path, []byte("ranking:\n  top_k: 7\nreputation:\n  min_attempts: 8\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Ranking.TopK != 7 {
		t.Errorf("top_k = %d, want 7 from file", cfg.Ranking.TopK)
	}
	if cfg.Ranking.MinScore != 0.3 {
		t.Errorf("min_score = %v, want 0.3", cfg.Ranking.MinScore)
	}
	if cfg.Reputation.BlockFloor != 0.15 {
		t.Errorf("block_floor = %v, want 0.15", cfg.Reputation.BlockFloor)
	}
	if cfg.Reputation.MinAttempts != 8 || cfg.Reputation.Window != "720h" {
		t.Errorf("reputation = %+v, want min_attempts 8 from file and a 720h window", cfg.Reputation)
	}
	if cfg.Search.Concurrency != 2 {
		t.Errorf("search.concurrency = %d, want 2", cfg.Search.Concurrency)
	}
	if cfg.Crawl.ContentBudget != 800 || cfg.Crawl.AcceptThreshold != 0.6 {
		t.Errorf("crawl defaults wrong: %+v", cfg.Crawl)
	}
	if cfg.Threading.MergeThreshold != 0.62 || cfg.Threading.DriftTolerance != 0.03 {
		t.Errorf("threading defaults wrong: %+v", cfg.Threading)
	}
	if cfg.Retry.Crawl.MaxAttempts != 3 {
		t.Errorf("retry.crawl.max_attempts = %d, want 3", cfg.Retry.Crawl.MaxAttempts)
	}
}

func TestValidateConfigRejectsInvertedGate(t *testing.T) {
	cfg := &Config{
		Search:     Search{DefaultProvider: "mock"},
		TTS:        TTS{DefaultProvider: "none"},
		Ranking:    Ranking{TopK: 5, MinScore: 0.3},
		Reputation: Reputation{BlockFloor: 0.15},
		Crawl:      Crawl{AcceptThreshold: 0.4, RejectThreshold: 0.5, VerifyScoreFloor: 6, ContentBudget: 800},
		Threading:  Threading{MergeThreshold: 0.62},
		Briefing:   Briefing{Locales: []string{"en"}, MinItems: 1, MaxItems: 2},
	}
	err := validateConfig(cfg)
	if err == nil || !strings.Contains(err.Error(), "reject_threshold") {
		t.Fatalf("expected reject_threshold error, got %v", err)
	}
}

func TestDuration(t *testing.T) {
	if got := Duration("", time.Second); got != time.Second {
		t.Errorf("empty duration = %v, want fallback", got)
	}
	if got := Duration("250ms", time.Second); got != 250*time.Millisecond {
		t.Errorf("Duration(250ms) = %v", got)
	}
}

func TestIsValidAPIKey(t *testing.T) {
	if isValidAPIKey("") || isValidAPIKey("CHANGE_ME") {
		t.Error("placeholders must be rejected")
	}
	if !isValidAPIKey("AIza-real-looking") {
		t.Error("real key rejected")
	}
}
