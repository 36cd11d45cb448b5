// Package briefing turns the day's collected stories into one narrated briefing
// per locale. Generation is a state machine:
//
//	collecting -> curating -> drafting -> synthesizing -> aligning -> persisting -> done
//
// Drafting, synthesizing and aligning run once per locale. Any state may exit to
// error, which leaves the briefing absent rather than partially written.
package briefing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storyline/internal/core"
	"storyline/internal/llm"
	"storyline/internal/logger"
	"storyline/internal/narrative"
	"storyline/internal/persistence"
	"storyline/internal/tts"
)

const stageName = "brief"

// State is a step of briefing generation.
type State string

const (
	StateCollecting   State = "collecting"
	StateCurating     State = "curating"
	StateDrafting     State = "drafting"
	StateSynthesizing State = "synthesizing"
	StateAligning     State = "aligning"
	StatePersisting   State = "persisting"
	StateDone         State = "done"
	StateError        State = "error"
)

// ErrNothingToBrief is returned when no story in the window clears the quality bar.
var ErrNothingToBrief = errors.New("no qualifying stories to brief")

// Curator selects and orders the stories worth narrating.
type Curator interface {
	Curate(ctx context.Context, candidates []llm.CurationCandidate, minItems, maxItems int) ([]string, error)
}

// Drafter writes one locale's narrative.
type Drafter interface {
	Draft(ctx context.Context, stories []narrative.Story, locale string) (*narrative.Draft, error)
}

// Options configures one generation run.
type Options struct {
	Date          time.Time     // Briefing day; zero means today
	Window        time.Duration // Trailing window items are collected from
	Locales       []string
	MinItems      int
	MaxItems      int
	AudioDir      string
	Regenerate    bool // Collect briefed items too, to rebuild a day's briefing
	SkipSynthesis bool
	SkipPersist   bool
	DryRun        bool // Collect and select only; no paid calls and no writes
}

// Transition is one state change, recorded for the run report.
type Transition struct {
	Locale string // Empty for shared states
	State  State
	Err    error
}

// Result is the outcome of one generation run.
type Result struct {
	Date      time.Time
	Collected int
	Qualified int
	Selected  []string
	Briefings []*core.Briefing
	Trace     []Transition
	Summary   *core.StageSummary
}

// Generator runs the briefing state machine.
type Generator struct {
	store   persistence.Store
	curator Curator
	drafter Drafter
	synth   tts.Synthesizer
	aligner tts.Aligner
	opts    Options
	now     func() time.Time
}

// NewGenerator creates a generator. synth and aligner may be nil, in which case
// the briefing carries no audio or no sentence timings.
func NewGenerator(store persistence.Store, curator Curator, drafter Drafter, synth tts.Synthesizer, aligner tts.Aligner, opts Options) *Generator {
	if opts.Window <= 0 {
		opts.Window = 24 * time.Hour
	}
	if len(opts.Locales) == 0 {
		opts.Locales = []string{"en"}
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = 30
	}
	if opts.MinItems <= 0 || opts.MinItems > opts.MaxItems {
		opts.MinItems = min(15, opts.MaxItems)
	}
	return &Generator{
		store:   store,
		curator: curator,
		drafter: drafter,
		synth:   synth,
		aligner: aligner,
		opts:    opts,
		now:     time.Now,
	}
}

type window struct {
	date  time.Time
	since time.Time
	until time.Time
}

func (g *Generator) window() window {
	if !g.opts.Date.IsZero() {
		date := core.BriefingDate(g.opts.Date)
		until := date.Add(24 * time.Hour)
		return window{date: date, since: until.Add(-g.opts.Window), until: until}
	}
	now := g.now().UTC()
	return window{date: core.BriefingDate(now), since: now.Add(-g.opts.Window), until: now}
}

func listWindow(w window) persistence.ListOptions {
	return persistence.ListOptions{Since: w.since, Until: w.until}
}

// Run generates the briefings and reports them as a stage summary. An empty
// window is not an error for the pipeline.
func (g *Generator) Run(ctx context.Context) (*core.StageSummary, error) {
	res, err := g.Generate(ctx)
	if errors.Is(err, ErrNothingToBrief) {
		res.Summary.Skipped++
		return res.Summary, nil
	}
	return res.Summary, err
}

// Generate runs the state machine once for every configured locale.
func (g *Generator) Generate(ctx context.Context) (*Result, error) {
	start := time.Now()
	w := g.window()
	res := &Result{Date: w.date, Summary: core.NewStageSummary(stageName)}
	res.Summary.DryRun = g.opts.DryRun
	defer func() { res.Summary.Duration = time.Since(start) }()

	fail := func(locale string, err error) {
		res.Trace = append(res.Trace, Transition{Locale: locale, State: StateError, Err: err})
		logger.Error("Briefing generation failed", err, "date", w.date.Format("2006-01-02"), "locale", locale)
	}

	g.enter(res, "", StateCollecting)
	stories, collected, err := g.collect(ctx, w)
	if err != nil {
		fail("", err)
		return res, core.Fatal(stageName, err)
	}
	res.Collected = collected
	res.Qualified = len(stories)
	res.Summary.Processed = collected
	if len(stories) == 0 {
		fail("", ErrNothingToBrief)
		return res, ErrNothingToBrief
	}

	g.enter(res, "", StateCurating)
	selected := g.curate(ctx, stories, res.Summary)
	res.Selected = ids(selected)
	if g.opts.DryRun {
		logger.Info("Dry run: briefing selection only", "date", w.date.Format("2006-01-02"),
			"collected", collected, "qualified", len(stories), "selected", len(selected))
		g.enter(res, "", StateDone)
		return res, nil
	}

	narrated := make([]narrative.Story, len(selected))
	for i, s := range selected {
		narrated[i] = s.narrative()
	}
	var staged []*tts.StagedAudio
	for _, locale := range g.opts.Locales {
		b, audio, err := g.generateLocale(ctx, res, w, locale, narrated)
		if err != nil {
			fail(locale, err)
			res.Summary.AddError(err)
			continue
		}
		res.Briefings = append(res.Briefings, b)
		if audio != nil {
			staged = append(staged, audio)
		}
	}
	if len(res.Briefings) == 0 {
		return res, fmt.Errorf("no locale produced a briefing")
	}

	if g.opts.SkipPersist {
		logger.Info("Skipping persistence", "briefings", len(res.Briefings))
		g.enter(res, "", StateDone)
		return res, nil
	}

	g.enter(res, "", StatePersisting)
	marked := 0
	err = persistence.WithTx(ctx, g.store, func(repos persistence.Repositories) error {
		for _, b := range res.Briefings {
			if err := repos.Briefings().Upsert(ctx, b); err != nil {
				return fmt.Errorf("save %s briefing: %w", b.Locale, err)
			}
		}
		n, err := repos.FeedItems().MarkBriefed(ctx, res.Selected)
		marked = n
		return err
	})
	if err != nil {
		for _, a := range staged {
			a.Discard()
		}
		fail("", err)
		res.Briefings = nil
		return res, core.Fatal(stageName, err)
	}
	for _, a := range staged {
		if err := a.Commit(); err != nil {
			logger.Warn("Briefing saved but its audio could not be moved into place", "path", a.Path, "error", err.Error())
			res.Summary.AddError(core.Capability(stageName, err))
		}
	}
	res.Summary.Created = len(res.Briefings)
	res.Summary.Updated = marked

	g.enter(res, "", StateDone)
	logger.Info("Briefing generated", "date", w.date.Format("2006-01-02"), "locales", len(res.Briefings),
		"stories", len(res.Selected), "newly_briefed", marked)
	return res, nil
}

func (g *Generator) enter(res *Result, locale string, s State) {
	res.Trace = append(res.Trace, Transition{Locale: locale, State: s})
	logger.Debug("Briefing state", "state", string(s), "locale", locale)
}

// curate asks the curator for the narrated subset. Without a curator, or when
// curation fails, the most important stories are taken in collection order.
func (g *Generator) curate(ctx context.Context, stories []Story, summary *core.StageSummary) []Story {
	byID := make(map[string]Story, len(stories))
	candidates := make([]llm.CurationCandidate, len(stories))
	for i, s := range stories {
		byID[s.Item.ID] = s
		candidates[i] = s.candidate()
	}

	var chosen []string
	if g.curator != nil && !g.opts.DryRun {
		var err error
		chosen, err = g.curator.Curate(ctx, candidates, g.opts.MinItems, g.opts.MaxItems)
		if err != nil {
			logger.Warn("Curation failed, falling back to importance order", "error", err.Error())
			summary.AddError(core.Capability(stageName, err))
			chosen = nil
		}
	}
	if len(chosen) == 0 {
		chosen = llm.ApplySelection(candidates, nil, g.opts.MaxItems, g.opts.MaxItems)
	}

	selected := make([]Story, 0, len(chosen))
	for _, id := range chosen {
		if s, ok := byID[id]; ok {
			selected = append(selected, s)
		}
	}
	return selected
}

// generateLocale drafts, speaks and aligns one locale's briefing. Only a drafting
// failure is an error; synthesis and alignment degrade to absent outputs. Audio
// is staged on disk and only moved into place once the briefing is persisted.
func (g *Generator) generateLocale(ctx context.Context, res *Result, w window, locale string, stories []narrative.Story) (*core.Briefing, *tts.StagedAudio, error) {
	g.enter(res, locale, StateDrafting)
	draft, err := g.drafter.Draft(ctx, stories, locale)
	if err != nil {
		return nil, nil, core.Capability(stageName, fmt.Errorf("draft %s: %w", locale, err))
	}
	b := &core.Briefing{
		Date:            w.date,
		Locale:          locale,
		Narrative:       draft.Text,
		Chapters:        draft.Chapters,
		SourceItemCount: len(stories),
		ItemIDs:         res.Selected,
	}
	if draft.Markers < 4 || draft.Markers > 6 {
		logger.Warn("Unexpected chapter marker count", "locale", locale, "markers", draft.Markers)
	}

	if g.opts.SkipSynthesis || g.synth == nil {
		return b, nil, nil
	}
	g.enter(res, locale, StateSynthesizing)
	spoken := tts.PrepareText(draft.Text, locale)
	audio, err := g.synth.Synthesize(ctx, spoken, locale)
	if err != nil {
		logger.Warn("Synthesis failed, briefing kept without audio", "locale", locale, "provider", g.synth.Name(), "error", err.Error())
		res.Summary.AddError(core.Capability(stageName, err))
		return b, nil, nil
	}

	if g.aligner != nil {
		g.enter(res, locale, StateAligning)
		sentences, err := g.aligner.Align(ctx, audio, spoken, locale)
		if err != nil {
			logger.Warn("Alignment failed, briefing kept without sentences", "locale", locale, "error", err.Error())
			res.Summary.AddError(core.Capability(stageName, err))
		} else {
			b.Sentences = sentences
		}
	}
	b.AudioDuration = audio.Duration

	if g.opts.SkipPersist || g.opts.AudioDir == "" {
		return b, nil, nil
	}
	staged, err := tts.StageAudio(g.opts.AudioDir, w.date, locale, audio)
	if err != nil {
		return nil, nil, fmt.Errorf("save %s audio: %w", locale, err)
	}
	b.AudioRef = staged.Path
	return b, staged, nil
}

func ids(stories []Story) []string {
	out := make([]string, len(stories))
	for i, s := range stories {
		out[i] = s.Item.ID
	}
	return out
}
