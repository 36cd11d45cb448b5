package briefing

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"storyline/internal/core"
	"storyline/internal/llm"
	"storyline/internal/narrative"
	"storyline/internal/persistence"
	"storyline/internal/tts"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

const script = `[CHAPTER: Rates]
The Fed held rates steady. Markets rose.
[CHAPTER: Weather]
A storm is coming to the coast. Stay safe.
[CHAPTER: Chips]
Chip makers gained.
[CHAPTER: Close]
That is all for today.`

type fakeCurator struct {
	order []string
	err   error
	calls int
}

func (f *fakeCurator) Curate(ctx context.Context, candidates []llm.CurationCandidate, minItems, maxItems int) ([]string, error) {
	f.calls++
	return f.order, f.err
}

type fakeDrafter struct {
	fail   map[string]bool
	calls  int
	titles []string
}

func (f *fakeDrafter) Draft(ctx context.Context, stories []narrative.Story, locale string) (*narrative.Draft, error) {
	f.calls++
	if f.fail[locale] {
		return nil, errors.New("model unavailable")
	}
	f.titles = f.titles[:0]
	for _, s := range stories {
		f.titles = append(f.titles, s.Title)
	}
	text, chapters := narrative.ParseChapters(script)
	return &narrative.Draft{Locale: locale, Raw: script, Text: text, Chapters: chapters, Markers: narrative.CountMarkers(script)}, nil
}

type failingSynth struct{}

func (failingSynth) Synthesize(ctx context.Context, text, locale string) (*tts.Audio, error) {
	return nil, errors.New("quota exceeded")
}
func (failingSynth) Name() string { return "failing" }

// seedStore stores four items: a crawled one, an important headline, an
// optional headline and one outside the window.
func seedStore(t *testing.T) *persistence.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	items := []core.FeedItem{
		{ID: "crawled", Title: "Fed holds rates", ContentHash: "h1", Category: "economy", PublishedAt: now.Add(-4 * time.Hour)},
		{ID: "headline", Title: "Storm nears coast", ContentHash: "h2", Category: "weather", PublishedAt: now.Add(-3 * time.Hour), Importance: core.ImportanceMustRead},
		{ID: "minor", Title: "Local fair opens", ContentHash: "h3", Category: "local", PublishedAt: now.Add(-2 * time.Hour), Importance: core.ImportanceOptional},
		{ID: "old", Title: "Old news", ContentHash: "h4", Category: "economy", PublishedAt: now.Add(-48 * time.Hour), Importance: core.ImportanceMustRead},
	}
	for i := range items {
		_, err := store.FeedItems().Upsert(ctx, &items[i])
		require.NoError(t, err)
	}
	require.NoError(t, store.CrawlResults().SaveAttempts(ctx, "crawled", []core.CrawlResult{{
		CandidateURL: "https://news.example/fed",
		AttemptOrder: 1,
		Domain:       "news.example",
		Status:       core.CrawlSuccess,
		Content:      "The Federal Reserve kept its benchmark rate unchanged.",
	}}))
	return store
}

func newTestGenerator(store persistence.Store, curator Curator, drafter Drafter, synth tts.Synthesizer, aligner tts.Aligner, opts Options) *Generator {
	g := NewGenerator(store, curator, drafter, synth, aligner, opts)
	g.now = func() time.Time { return now }
	return g
}

func states(trace []Transition, locale string) []State {
	var out []State
	for _, tr := range trace {
		if tr.Locale == locale {
			out = append(out, tr.State)
		}
	}
	return out
}

func TestGenerateFullRun(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	curator := &fakeCurator{order: []string{"headline", "crawled"}}
	drafter := &fakeDrafter{}
	dir := t.TempDir()

	g := newTestGenerator(store, curator, drafter, tts.NewMockSynthesizer(1), tts.ProportionalAligner{}, Options{
		Locales:  []string{"en", "ko"},
		MinItems: 1,
		MaxItems: 10,
		AudioDir: dir,
	})
	res, err := g.Generate(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Collected)
	assert.Equal(t, 2, res.Qualified)
	assert.Equal(t, []string{"headline", "crawled"}, res.Selected)
	assert.Equal(t, []string{"Storm nears coast", "Fed holds rates"}, drafter.titles)
	assert.Equal(t, []State{StateCollecting, StateCurating, StatePersisting, StateDone}, states(res.Trace, ""))
	assert.Equal(t, []State{StateDrafting, StateSynthesizing, StateAligning}, states(res.Trace, "ko"))
	assert.Equal(t, 2, res.Summary.Created)
	assert.Equal(t, 2, res.Summary.Updated)

	stored, err := store.Briefings().Get(ctx, now, "en")
	require.NoError(t, err)
	assert.Len(t, stored.Chapters, 4)
	assert.Equal(t, 2, stored.SourceItemCount)
	assert.NotContains(t, stored.Narrative, "[CHAPTER")
	require.NotEmpty(t, stored.Sentences)
	assert.InDelta(t, stored.AudioDuration, stored.Sentences[len(stored.Sentences)-1].End, 1e-9)
	_, err = os.Stat(stored.AudioRef)
	assert.NoError(t, err)

	for id, want := range map[string]bool{"crawled": true, "headline": true, "minor": false, "old": false} {
		item, err := store.FeedItems().Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, item.Briefed, id)
	}
}

func TestGenerateTwiceKeepsOneBriefingPerLocale(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	opts := Options{Locales: []string{"en", "ko"}, MinItems: 1, MaxItems: 10, SkipSynthesis: true}

	first, err := newTestGenerator(store, nil, &fakeDrafter{}, nil, nil, opts).Generate(ctx)
	require.NoError(t, err)
	before, err := store.Briefings().Get(ctx, now, "en")
	require.NoError(t, err)

	opts.Regenerate = true
	second, err := newTestGenerator(store, nil, &fakeDrafter{}, nil, nil, opts).Generate(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Selected, second.Selected)
	assert.Equal(t, 0, second.Summary.Updated, "items are marked briefed only once")

	after, err := store.Briefings().Get(ctx, now, "en")
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID)
	_, briefings := store.Count()
	assert.Equal(t, 2, briefings)

	for _, id := range first.Selected {
		item, err := store.FeedItems().Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, item.Briefed)
	}
}

func TestGenerateWithoutRegenerateFindsNothingNew(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	opts := Options{Locales: []string{"en"}, MinItems: 1, MaxItems: 10, SkipSynthesis: true}

	_, err := newTestGenerator(store, nil, &fakeDrafter{}, nil, nil, opts).Generate(ctx)
	require.NoError(t, err)

	summary, err := newTestGenerator(store, nil, &fakeDrafter{}, nil, nil, opts).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Created)
}

func TestSkipPersistWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	dir := t.TempDir()
	g := newTestGenerator(store, nil, &fakeDrafter{}, tts.NewMockSynthesizer(1), tts.ProportionalAligner{}, Options{
		Locales: []string{"en"}, MinItems: 1, MaxItems: 10, AudioDir: dir, SkipPersist: true,
	})
	res, err := g.Generate(ctx)
	require.NoError(t, err)
	require.Len(t, res.Briefings, 1)
	assert.NotEmpty(t, res.Briefings[0].Sentences)
	assert.Empty(t, res.Briefings[0].AudioRef)

	_, briefings := store.Count()
	assert.Equal(t, 0, briefings)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	item, err := store.FeedItems().Get(ctx, "crawled")
	require.NoError(t, err)
	assert.False(t, item.Briefed)
}

func TestSkipSynthesis(t *testing.T) {
	store := seedStore(t)
	g := newTestGenerator(store, nil, &fakeDrafter{}, tts.NewMockSynthesizer(1), tts.ProportionalAligner{}, Options{
		Locales: []string{"en"}, MinItems: 1, MaxItems: 10, SkipSynthesis: true,
	})
	res, err := g.Generate(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Briefings, 1)
	assert.Empty(t, res.Briefings[0].Sentences)
	assert.Zero(t, res.Briefings[0].AudioDuration)
	assert.NotContains(t, states(res.Trace, "en"), StateSynthesizing)
}

func TestDryRunSelectsOnly(t *testing.T) {
	store := seedStore(t)
	curator := &fakeCurator{order: []string{"crawled"}}
	drafter := &fakeDrafter{}
	g := newTestGenerator(store, curator, drafter, tts.NewMockSynthesizer(1), nil, Options{
		Locales: []string{"en"}, MinItems: 1, MaxItems: 10, DryRun: true,
	})
	res, err := g.Generate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, curator.calls)
	assert.Equal(t, 0, drafter.calls)
	assert.Equal(t, []string{"headline", "crawled"}, res.Selected, "importance order without curation")
	_, briefings := store.Count()
	assert.Equal(t, 0, briefings)
}

func TestCurationFailureFallsBackToImportanceOrder(t *testing.T) {
	store := seedStore(t)
	curator := &fakeCurator{err: errors.New("timeout")}
	g := newTestGenerator(store, curator, &fakeDrafter{}, nil, nil, Options{Locales: []string{"en"}, MinItems: 1, MaxItems: 10})
	res, err := g.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"headline", "crawled"}, res.Selected)
	assert.Equal(t, 1, res.Summary.Failed)
}

func TestDraftFailureLeavesLocaleAbsent(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	drafter := &fakeDrafter{fail: map[string]bool{"ko": true}}
	g := newTestGenerator(store, nil, drafter, nil, nil, Options{Locales: []string{"en", "ko"}, MinItems: 1, MaxItems: 10})
	res, err := g.Generate(ctx)
	require.NoError(t, err)

	assert.Equal(t, []State{StateDrafting, StateError}, states(res.Trace, "ko"))
	_, err = store.Briefings().Get(ctx, now, "ko")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = store.Briefings().Get(ctx, now, "en")
	assert.NoError(t, err)
}

func TestAllDraftsFailingWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	drafter := &fakeDrafter{fail: map[string]bool{"en": true}}
	g := newTestGenerator(store, nil, drafter, nil, nil, Options{Locales: []string{"en"}, MinItems: 1, MaxItems: 10})
	_, err := g.Generate(ctx)
	require.Error(t, err)
	assert.False(t, core.IsFatal(err))

	item, err := store.FeedItems().Get(ctx, "headline")
	require.NoError(t, err)
	assert.False(t, item.Briefed)
}

func TestSynthesisFailureKeepsNarrative(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	g := newTestGenerator(store, nil, &fakeDrafter{}, failingSynth{}, tts.ProportionalAligner{}, Options{
		Locales: []string{"en"}, MinItems: 1, MaxItems: 10, AudioDir: t.TempDir(),
	})
	res, err := g.Generate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summary.Failed)

	stored, err := store.Briefings().Get(ctx, now, "en")
	require.NoError(t, err)
	assert.NotEmpty(t, stored.Narrative)
	assert.Empty(t, stored.AudioRef)
	assert.Empty(t, stored.Sentences)
}

// unavailableStore fails every transaction.
type unavailableStore struct{ *persistence.MemoryStore }

func (unavailableStore) BeginTx(ctx context.Context) (persistence.Transaction, error) {
	return nil, errors.New("connection refused")
}

func TestPersistFailureLeavesNoAudio(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	dir := t.TempDir()
	g := newTestGenerator(unavailableStore{store}, nil, &fakeDrafter{}, tts.NewMockSynthesizer(1), tts.ProportionalAligner{}, Options{
		Locales: []string{"en", "ko"}, MinItems: 1, MaxItems: 10, AudioDir: dir,
	})
	res, err := g.Generate(ctx)
	require.Error(t, err)
	assert.True(t, core.IsFatal(err))
	assert.Empty(t, res.Briefings)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "audio must not outlive a failed persist")
}

func TestExplicitDateWindow(t *testing.T) {
	store := seedStore(t)
	g := newTestGenerator(store, nil, &fakeDrafter{}, nil, nil, Options{
		Date: time.Date(2026, 3, 8, 15, 0, 0, 0, time.UTC), Locales: []string{"en"}, MinItems: 1, MaxItems: 10,
	})
	res, err := g.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, res.Selected)
	assert.Equal(t, time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC), res.Date)
}
