package reputation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"storyline/internal/core"
	"storyline/internal/persistence"
)

// Config holds the gate thresholds
type Config struct {
	BlockFloor  float64 // Block when the Wilson lower bound falls below this
	Z           float64
	MinAttempts int // Never block a domain with fewer scored attempts
}

// DefaultConfig returns the standard thresholds
func DefaultConfig() Config {
	return Config{BlockFloor: 0.15, Z: DefaultZ, MinAttempts: 5}
}

// Gate decides whether a domain may be crawled. Reputations are loaded lazily
// and cached for the run; Record updates the cached copy, Flush persists it.
type Gate struct {
	cfg   Config
	repo  persistence.DomainRepository
	mu    sync.Mutex
	cache map[string]*core.DomainReputation
	dirty map[string]bool
}

// NewGate creates a gate over the domain repository
func NewGate(cfg Config, repo persistence.DomainRepository) *Gate {
	if cfg.Z <= 0 {
		cfg.Z = DefaultZ
	}
	return &Gate{
		cfg:   cfg,
		repo:  repo,
		cache: make(map[string]*core.DomainReputation),
		dirty: make(map[string]bool),
	}
}

func (g *Gate) load(ctx context.Context, domain string) (*core.DomainReputation, error) {
	if rep, ok := g.cache[domain]; ok {
		return rep, nil
	}
	rep, err := g.repo.Get(ctx, domain)
	if errors.Is(err, core.ErrNotFound) {
		rep = &core.DomainReputation{Domain: domain, FailureCounts: map[core.FailureReason]int{}}
	} else if err != nil {
		return nil, fmt.Errorf("load reputation %s: %w", domain, err)
	}
	if rep.FailureCounts == nil {
		rep.FailureCounts = map[core.FailureReason]int{}
	}
	g.cache[domain] = rep
	return rep, nil
}

// Allow reports whether domain may be crawled
func (g *Gate) Allow(ctx context.Context, domain string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rep, err := g.load(ctx, domain)
	if err != nil {
		return false, err
	}
	return !rep.Blocked, nil
}

// Record applies one crawl outcome to the domain's counters and block flag.
// Content-shape failures are counted per reason but not as scored attempts.
func (g *Gate) Record(ctx context.Context, domain string, status core.CrawlStatus, reason core.FailureReason) error {
	if domain == "" || status == core.CrawlSkipped || status == core.CrawlPending {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	rep, err := g.load(ctx, domain)
	if err != nil {
		return err
	}
	Apply(rep, status, reason)
	Evaluate(rep, g.cfg)
	rep.UpdatedAt = time.Now().UTC()
	g.dirty[domain] = true
	return nil
}

// Flush persists every domain touched since the last flush
func (g *Gate) Flush(ctx context.Context, repo persistence.DomainRepository) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if repo == nil {
		repo = g.repo
	}
	n := 0
	for domain := range g.dirty {
		if err := repo.Upsert(ctx, g.cache[domain]); err != nil {
			return n, fmt.Errorf("save reputation %s: %w", domain, err)
		}
		delete(g.dirty, domain)
		n++
	}
	return n, nil
}

// Apply adds one outcome to rep's counters without re-evaluating the block flag
func Apply(rep *core.DomainReputation, status core.CrawlStatus, reason core.FailureReason) {
	if rep.FailureCounts == nil {
		rep.FailureCounts = map[core.FailureReason]int{}
	}
	switch status {
	case core.CrawlSuccess:
		rep.Successes++
		rep.Attempts++
	case core.CrawlFailed:
		if reason != core.ReasonNone {
			rep.FailureCounts[reason]++
		}
		if Scored(reason) {
			rep.Attempts++
		}
	}
}

// Scored reports whether a failure reason counts against the domain
func Scored(reason core.FailureReason) bool {
	if reason.ContentShape() {
		return false
	}
	switch reason {
	case core.ReasonBlocked, core.ReasonSuperseded, core.ReasonResolveFailed:
		return false
	}
	return true
}

// Evaluate recomputes the lower bound and block flag from rep's counters
func Evaluate(rep *core.DomainReputation, cfg Config) {
	rep.LowerBound = WilsonLowerBound(rep.Successes, rep.Attempts, cfg.Z)
	rep.Blocked = rep.Attempts >= cfg.MinAttempts && rep.LowerBound < cfg.BlockFloor
}
