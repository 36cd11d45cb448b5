package threading

import (
	"sort"
	"sync"
	"time"

	"storyline/internal/core"
	"storyline/internal/embedding"
)

// slot holds one thread. Its mutex serializes centroid updates against the
// member count so concurrent merges never lose a member.
type slot struct {
	mu     sync.Mutex
	thread core.StoryThread
	dirty  bool
}

// Arena addresses threads by stable id for the duration of one run.
type Arena struct {
	mu    sync.RWMutex
	slots map[string]*slot
}

// Match is the best thread for an article, measured against a snapshot centroid.
type Match struct {
	ThreadID   string
	Similarity float64
	Centroid   []float64
}

// NewArena loads threads into an arena.
func NewArena(threads []core.StoryThread) *Arena {
	a := &Arena{slots: make(map[string]*slot, len(threads))}
	for _, t := range threads {
		t.Centroid = append([]float64(nil), t.Centroid...)
		a.slots[t.ID] = &slot{thread: t}
	}
	return a
}

// Add registers a new thread and marks it for persistence.
func (a *Arena) Add(t core.StoryThread) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.slots[t.ID] = &slot{thread: t, dirty: true}
}

// Best returns the active thread most similar to vector. ok is false when the
// arena holds no active thread.
func (a *Arena) Best(vector []float64) (Match, bool) {
	a.mu.RLock()
	ids := make([]string, 0, len(a.slots))
	for id := range a.slots {
		ids = append(ids, id)
	}
	a.mu.RUnlock()
	return a.BestAmong(vector, ids)
}

// BestAmong is Best restricted to the given thread ids. Unknown ids are ignored.
func (a *Arena) BestAmong(vector []float64, ids []string) (Match, bool) {
	ids = append([]string(nil), ids...)
	sort.Strings(ids)

	var best Match
	found := false
	for _, id := range ids {
		s := a.slot(id)
		if s == nil {
			continue
		}
		s.mu.Lock()
		active, centroid := s.thread.Active, append([]float64(nil), s.thread.Centroid...)
		s.mu.Unlock()
		if !active {
			continue
		}
		sim := embedding.CosineSimilarity(vector, centroid)
		if !found || sim > best.Similarity {
			best = Match{ThreadID: id, Similarity: sim, Centroid: centroid}
			found = true
		}
	}
	return best, found
}

// Merge folds vector into the matched thread. It returns whether the article
// joined the thread.
//
// The tolerance only guards against other workers moving the centroid between
// Best and Merge. When the centroid drifted by more than tolerance since the
// match was taken, the similarity is checked again against the current centroid.
// Within tolerance the snapshot decision stands, so a single worker always
// merges what Best matched.
func (a *Arena) Merge(m Match, vector []float64, seen time.Time, threshold, tolerance float64) bool {
	s := a.slot(m.ThreadID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.thread.Active {
		return false
	}
	if Drift(m.Centroid, s.thread.Centroid) > tolerance &&
		embedding.CosineSimilarity(vector, s.thread.Centroid) < threshold {
		return false
	}

	s.thread.Centroid = Recompute(s.thread.Centroid, vector, s.thread.MemberCount)
	s.thread.MemberCount++
	if seen.After(s.thread.LastSeen) {
		s.thread.LastSeen = seen
	}
	if s.thread.FirstSeen.IsZero() || seen.Before(s.thread.FirstSeen) {
		s.thread.FirstSeen = seen
	}
	s.dirty = true
	return true
}

// Get returns a copy of a thread.
func (a *Arena) Get(id string) (core.StoryThread, bool) {
	s := a.slot(id)
	if s == nil {
		return core.StoryThread{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.thread
	t.Centroid = append([]float64(nil), t.Centroid...)
	return t, true
}

// Dirty returns copies of every thread changed during the run, ordered by id.
func (a *Arena) Dirty() []core.StoryThread {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []core.StoryThread
	for _, s := range a.slots {
		s.mu.Lock()
		if s.dirty {
			t := s.thread
			t.Centroid = append([]float64(nil), t.Centroid...)
			out = append(out, t)
		}
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (a *Arena) slot(id string) *slot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.slots[id]
}
