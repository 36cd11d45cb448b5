package handlers

import (
	"context"
	"errors"
	"time"

	"storyline/internal/briefing"
	"storyline/internal/config"
	"storyline/internal/core"
	"storyline/internal/crawl"
	"storyline/internal/embedding"
	"storyline/internal/fetch"
	"storyline/internal/ingest"
	"storyline/internal/logger"
	"storyline/internal/narrative"
	"storyline/internal/pipeline"
	"storyline/internal/postprocess"
	"storyline/internal/ranking"
	"storyline/internal/search"
	"storyline/internal/threading"
	"storyline/internal/tts"
)

// defaultStages is what 'storyline run' executes when --stages is not given.
var defaultStages = []string{"ingest", "search", "rank", "crawl", "postprocess", "thread", "brief"}

const searchRecency = 48 * time.Hour

// steps lists every stage in pipeline order. Each stage is built when it
// starts, and a stage that cannot be built aborts the run.
func (a *app) steps() []pipeline.Step {
	return []pipeline.Step{
		{Name: "ingest", Title: "Ingesting feeds", Stage: a.lazy("ingest", a.ingestStage)},
		{Name: "search", Title: "Searching for candidate articles", Stage: a.lazy("search", a.searchStage)},
		{Name: "rank", Title: "Ranking candidates", Stage: a.lazy("rank", a.rankStage)},
		{Name: "crawl", Title: "Crawling candidates", Stage: a.lazy("crawl", a.crawlStage)},
		{Name: "postprocess", Title: "Settling crawl outcomes", Stage: a.lazy("postprocess", a.postprocessStage)},
		{Name: "thread", Title: "Threading stories", Stage: a.lazy("thread", a.threadStage)},
		{Name: "brief", Title: "Generating briefings", Stage: a.lazy("brief", a.briefStage)},
		{Name: "prune", Title: "Pruning stale items", Stage: pipeline.StageFunc(a.prune)},
	}
}

func (a *app) lazy(name string, build func(ctx context.Context) (pipeline.Stage, error)) pipeline.Stage {
	return pipeline.StageFunc(func(ctx context.Context) (*core.StageSummary, error) {
		stage, err := build(ctx)
		if err != nil {
			return nil, core.Fatal(name, err)
		}
		return stage.Run(ctx)
	})
}

func (a *app) ingestStage(ctx context.Context) (pipeline.Stage, error) {
	feeds := a.cfg.Feeds
	fetcher := ingest.NewFeedFetcher(config.Duration(feeds.Timeout, 30*time.Second), feeds.UserAgent)
	return ingest.NewStage(a.store, fetcher, feeds.Sources, ingest.Options{
		JunkPaths:       a.cfg.Ingest.JunkPaths,
		MinTitleLength:  a.cfg.Ingest.MinTitleLength,
		MaxItemsPerFeed: feeds.MaxItemsPerFeed,
		Concurrency:     a.opts.Concurrency,
		DryRun:          a.opts.DryRun,
	}), nil
}

func (a *app) searchStage(ctx context.Context) (pipeline.Stage, error) {
	sc := a.cfg.Search
	name := a.opts.Provider
	if name == "" {
		name = sc.DefaultProvider
	}
	provider, err := search.NewProviderFactory(sc).CreateProvider(search.ProviderType(name))
	if err != nil {
		return nil, err
	}
	return search.NewSearcher(a.store, provider, a.retries.Search, search.Options{
		MaxResults:    sc.MaxResults,
		MaxTerms:      sc.MaxQueryTerms,
		Concurrency:   sc.Concurrency,
		ItemDelay:     a.delay(sc.ItemDelay, time.Second),
		QueryDelay:    config.Duration(sc.QueryDelay, 500*time.Millisecond),
		SinceTime:     searchRecency,
		Language:      sc.Language,
		Region:        sc.Region,
		Limit:         a.opts.Limit,
		DryRun:        a.opts.DryRun,
		MarkFromStore: a.opts.MarkSearchedFromStore,
	}), nil
}

func (a *app) rankStage(ctx context.Context) (pipeline.Stage, error) {
	emb, err := a.embedderFor(ctx)
	if err != nil {
		return nil, err
	}
	ranker := ranking.NewRanker(emb, a.cfg.Ranking.TopK, a.cfg.Ranking.MinScore)
	return ranking.NewStage(a.store, ranker, a.opts.Limit, a.opts.DryRun), nil
}

func (a *app) crawlStage(ctx context.Context) (pipeline.Stage, error) {
	cc, rc := a.cfg.Crawl, a.cfg.Resolve
	emb, err := a.embedderFor(ctx)
	if err != nil {
		return nil, err
	}

	// Verification is a paid call; dry runs settle uncertain scores on the midpoint alone.
	var verifier crawl.Verifier
	if !a.opts.DryRun {
		client, err := a.llm(ctx)
		if err != nil {
			return nil, err
		}
		verifier = client
	}

	resolver := fetch.NewResolver(fetch.ResolverConfig{
		Timeout:        config.Duration(rc.Timeout, 10*time.Second),
		MaxRedirects:   rc.MaxRedirects,
		UserAgent:      cc.UserAgent,
		SearchSurfaces: rc.SearchSurfaceDomains,
		Policy:         a.retries.Resolve,
		Politeness:     fetch.NewPoliteness(a.delay(rc.Delay, 500*time.Millisecond)),
	})
	extractor := fetch.NewExtractor(config.Duration(cc.Timeout, 20*time.Second), cc.UserAgent,
		fetch.NewPoliteness(a.delay(cc.Delay, time.Second)))

	concurrency := cc.Concurrency
	if a.opts.Concurrency > 0 {
		concurrency = a.opts.Concurrency
	}
	thresholds := crawl.DefaultThresholds()
	if cc.AcceptThreshold > 0 {
		thresholds.Accept = cc.AcceptThreshold
	}
	if cc.RejectThreshold > 0 {
		thresholds.Reject = cc.RejectThreshold
	}
	if cc.VerifyScoreFloor > 0 {
		thresholds.VerifyScoreFloor = cc.VerifyScoreFloor
	}

	return crawl.NewCrawler(a.store, resolver, extractor, a.gate(), emb, verifier, a.retries.Crawl, thresholds, crawl.Options{
		Concurrency:      concurrency,
		ContentBudget:    cc.ContentBudget,
		MinContentLength: cc.MinContentLength,
		Limit:            a.opts.Limit,
		DryRun:           a.opts.DryRun,
	}), nil
}

func (a *app) postprocessStage(ctx context.Context) (pipeline.Stage, error) {
	return postprocess.NewStage(a.store, a.reputationConfig(), postprocess.Options{
		Limit:         a.opts.Limit,
		DryRun:        a.opts.DryRun,
		MarkFromStore: a.opts.MarkProcessedFromStore,
		Window:        config.Duration(a.cfg.Reputation.Window, 30*24*time.Hour),
	}), nil
}

func (a *app) threadStage(ctx context.Context) (pipeline.Stage, error) {
	tc := a.cfg.Threading
	emb, err := a.embedderFor(ctx)
	if err != nil {
		return nil, err
	}
	var titler threading.Titler
	if !a.opts.DryRun {
		client, err := a.llm(ctx)
		if err != nil {
			return nil, err
		}
		titler = client
	}
	d := threading.DefaultOptions()
	return threading.NewThreader(a.store, a.vectors(), emb, titler, threading.Options{
		MergeThreshold:     tc.MergeThreshold,
		DriftTolerance:     tc.DriftTolerance,
		InactivityWindow:   config.Duration(tc.InactivityWindow, d.InactivityWindow),
		Lookback:           config.Duration(tc.Lookback, d.Lookback),
		GroupingSimilarity: tc.GroupingSimilarity,
		Resolution:         tc.LouvainResolution,
		Concurrency:        a.opts.Concurrency,
		Limit:              a.opts.Limit,
		DryRun:             a.opts.DryRun,
	}), nil
}

func (a *app) briefStage(ctx context.Context) (pipeline.Stage, error) {
	gen, err := a.briefingGenerator(ctx)
	if err != nil {
		return nil, err
	}
	return pipeline.StageFunc(func(ctx context.Context) (*core.StageSummary, error) {
		res, err := gen.Generate(ctx)
		if errors.Is(err, briefing.ErrNothingToBrief) {
			res.Summary.Skipped++
			return res.Summary, nil
		}
		if !a.opts.DryRun && !a.opts.SkipPersist {
			for _, b := range res.Briefings {
				if terr := a.analytics.TrackBriefingGenerated(ctx, b); terr != nil {
					logger.Warn("Failed to track briefing", "locale", b.Locale, "error", terr.Error())
				}
			}
		}
		return res.Summary, err
	}), nil
}

func (a *app) briefingGenerator(ctx context.Context) (*briefing.Generator, error) {
	bc := a.cfg.Briefing
	opts := briefing.Options{
		Date:          a.opts.Date,
		Window:        config.Duration(bc.Window, 24*time.Hour),
		Locales:       a.locales(),
		MinItems:      bc.MinItems,
		MaxItems:      bc.MaxItems,
		AudioDir:      a.cfg.TTS.OutputDirectory,
		Regenerate:    a.opts.Regenerate,
		SkipSynthesis: a.opts.SkipSynthesis,
		SkipPersist:   a.opts.SkipPersist,
		DryRun:        a.opts.DryRun,
	}
	if a.opts.DryRun {
		// Stops after selection, so no model is needed.
		return briefing.NewGenerator(a.store, nil, nil, nil, nil, opts), nil
	}

	client, err := a.llm(ctx)
	if err != nil {
		return nil, err
	}
	drafter := narrative.NewGenerator(client, bc.MinWords, bc.MaxWords)

	var synth tts.Synthesizer
	var aligner tts.Aligner
	if !a.opts.SkipSynthesis {
		synth, err = tts.NewSynthesizer(a.cfg.TTS, a.cfg.AI.OpenAI, a.retries.Synthesize)
		switch {
		case errors.Is(err, tts.ErrDisabled):
			logger.Info("Speech synthesis disabled, briefings are text only")
			synth = nil
		case err != nil:
			return nil, err
		default:
			aligner = a.aligner()
		}
	}
	return briefing.NewGenerator(a.store, client, drafter, synth, aligner, opts), nil
}

// aligner picks proportional timing for mock audio, whose duration is known, and
// Whisper timestamps when an OpenAI key is available. Without either there is no
// aligner and briefings carry no sentence timings.
func (a *app) aligner() tts.Aligner {
	tc := a.cfg.TTS
	if !tc.Alignment {
		return nil
	}
	if tts.ProviderType(tc.DefaultProvider) == tts.ProviderMock {
		return tts.ProportionalAligner{}
	}
	key := a.cfg.AI.OpenAI.APIKey
	if key == "" {
		key = tc.Providers.OpenAI.APIKey
	}
	if key == "" {
		logger.Info("No OpenAI key for alignment, briefings carry no sentence timings", "provider", tc.DefaultProvider)
		return nil
	}
	return tts.NewWhisperAligner(tts.OpenAIOptions{
		APIKey:  key,
		BaseURL: a.cfg.AI.OpenAI.BaseURL,
		Timeout: config.Duration(tc.Timeout, 3*time.Minute),
		Policy:  a.retries.Align,
	})
}

// prune deletes stale junk items and expires embedding cache entries of the same age.
func (a *app) prune(ctx context.Context) (*core.StageSummary, error) {
	retention := a.opts.OlderThan
	if retention <= 0 {
		retention = config.Duration(a.cfg.Ingest.Retention, 30*24*time.Hour)
	}
	summary, err := ingest.Prune(ctx, a.store, retention, a.cfg.Ingest.JunkPaths, a.opts.DryRun)
	if err != nil || a.opts.DryRun || !a.cfg.Cache.Enabled {
		return summary, err
	}
	if err := a.pruneCache(retention); err != nil {
		logger.Warn("Embedding cache cleanup failed", "error", err.Error())
		summary.AddError(err)
	}
	return summary, nil
}

func (a *app) pruneCache(retention time.Duration) error {
	cache := a.cache
	if cache == nil {
		c, err := embedding.NewCache(a.cfg.Cache.Directory)
		if err != nil {
			return err
		}
		defer c.Close()
		cache = c
	}
	n, err := cache.Cleanup(retention)
	if err != nil {
		return err
	}
	stats, err := cache.Stats()
	if err != nil {
		return err
	}
	logger.Info("Expired embedding cache entries", "deleted", n, "remaining", stats.Entries, "size_bytes", stats.CacheSize)
	return nil
}
