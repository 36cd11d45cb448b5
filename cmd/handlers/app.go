package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"storyline/internal/config"
	"storyline/internal/embedding"
	"storyline/internal/llm"
	"storyline/internal/logger"
	"storyline/internal/observability"
	"storyline/internal/persistence"
	"storyline/internal/reputation"
	"storyline/internal/retry"
	"storyline/internal/vectorstore"
)

const defaultEmbeddingDimensions = 768

// runOptions are the stage controls shared by run and the per-stage commands.
type runOptions struct {
	DryRun        bool
	SkipSynthesis bool
	SkipPersist   bool
	Regenerate    bool
	Delay         time.Duration // Overrides the configured per-request delay when set
	Concurrency   int
	Limit         int
	Locales       []string
	Date          time.Time
	Provider      string

	MarkSearchedFromStore  bool
	MarkProcessedFromStore bool

	OlderThan time.Duration
}

// app holds the dependencies one command run shares. Model clients are built
// on first use so stages that do not need them never require their keys.
type app struct {
	cfg       *config.Config
	opts      runOptions
	store     persistence.Store
	pg        *persistence.PostgresDB
	retries   retry.Set
	analytics *observability.PostHogClient

	llmClient *llm.Client
	embedder  embedding.Embedder
	cache     *embedding.Cache
}

func newApp(cfg *config.Config, opts runOptions) (*app, error) {
	a := &app{cfg: cfg, opts: opts, retries: retry.NewSet(cfg)}

	if cfg.Database.URL == "" && opts.DryRun {
		logger.Warn("No database configured, dry run uses an empty in-memory store")
		a.store = persistence.NewMemoryStore()
	} else {
		pg, err := persistence.NewPostgresDB(cfg.Database)
		if err != nil {
			return nil, err
		}
		a.pg, a.store = pg, pg
	}

	analyticsCfg := cfg.PostHog
	if opts.DryRun {
		analyticsCfg.Enabled = false
	}
	analytics, err := observability.NewPostHogClient(analyticsCfg)
	if err != nil {
		logger.Warn("Analytics disabled", "error", err.Error())
		analytics, _ = observability.NewPostHogClient(config.PostHog{})
	}
	a.analytics = analytics
	return a, nil
}

func (a *app) Close() {
	if err := a.analytics.Close(); err != nil {
		logger.Warn("Failed to flush analytics", "error", err.Error())
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if err := a.store.Close(); err != nil {
		logger.Warn("Failed to close store", "error", err.Error())
	}
}

func (a *app) llm(ctx context.Context) (*llm.Client, error) {
	if a.llmClient != nil {
		return a.llmClient, nil
	}
	client, err := llm.NewClient(ctx, a.cfg.AI.Gemini, a.retries)
	if err != nil {
		return nil, fmt.Errorf("model client: %w", err)
	}
	a.llmClient = client
	return client, nil
}

func (a *app) dimensions() int {
	if d := a.cfg.AI.Gemini.EmbeddingDimensions; d > 0 {
		return int(d)
	}
	return defaultEmbeddingDimensions
}

// embedderFor returns the embedder shared by ranking, crawl and threading. Dry
// runs use the local hashing embedder so they make no paid calls.
func (a *app) embedderFor(ctx context.Context) (embedding.Embedder, error) {
	if a.embedder != nil {
		return a.embedder, nil
	}
	if a.opts.DryRun {
		a.embedder = embedding.NewHashing(a.dimensions())
		return a.embedder, nil
	}
	client, err := a.llm(ctx)
	if err != nil {
		return nil, err
	}
	if !a.cfg.Cache.Enabled {
		a.embedder = client
		return client, nil
	}
	cache, err := embedding.NewCache(a.cfg.Cache.Directory)
	if err != nil {
		logger.Warn("Embedding cache unavailable, embedding without it", "error", err.Error())
		a.embedder = client
		return client, nil
	}
	a.cache = cache
	a.embedder = embedding.NewCached(client, cache)
	return a.embedder, nil
}

func (a *app) vectors() vectorstore.VectorStore {
	if a.pg != nil {
		return vectorstore.NewPgVector(a.pg.DB(), a.dimensions())
	}
	return vectorstore.NewMemory()
}

func (a *app) reputationConfig() reputation.Config {
	rc := reputation.DefaultConfig()
	if a.cfg.Reputation.BlockFloor > 0 {
		rc.BlockFloor = a.cfg.Reputation.BlockFloor
	}
	if a.cfg.Reputation.Z > 0 {
		rc.Z = a.cfg.Reputation.Z
	}
	if a.cfg.Reputation.MinAttempts > 0 {
		rc.MinAttempts = a.cfg.Reputation.MinAttempts
	}
	return rc
}

func (a *app) gate() *reputation.Gate {
	return reputation.NewGate(a.reputationConfig(), a.store.Domains())
}

func (a *app) delay(configured string, fallback time.Duration) time.Duration {
	if a.opts.Delay > 0 {
		return a.opts.Delay
	}
	return config.Duration(configured, fallback)
}

func (a *app) locales() []string {
	if len(a.opts.Locales) > 0 {
		return a.opts.Locales
	}
	return a.cfg.Briefing.Locales
}

// parseList splits a comma separated flag value, dropping blanks.
func parseList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
