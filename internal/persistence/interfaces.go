// Package persistence provides storage for feed items, crawl results, domain reputation,
// story threads and briefings. Every write is an upsert keyed on the entity's natural key.
package persistence

import (
	"context"
	"time"

	"storyline/internal/core"
)

// FeedItemRepository handles feed item persistence operations
type FeedItemRepository interface {
	// Upsert inserts an item keyed on its content hash. created is false when the
	// hash already existed; the stored item's id is written back into item.
	Upsert(ctx context.Context, item *core.FeedItem) (created bool, err error)

	// Get retrieves an item by ID
	Get(ctx context.Context, id string) (*core.FeedItem, error)

	// ExistingTitles returns which of the given titles are already stored
	ExistingTitles(ctx context.Context, titles []string) (map[string]bool, error)

	// ListUnsearched returns items that have not been through candidate search
	ListUnsearched(ctx context.Context, limit int) ([]core.FeedItem, error)

	// ListUnprocessed returns searched items that are not yet processed
	ListUnprocessed(ctx context.Context, limit int) ([]core.FeedItem, error)

	// ListUnthreaded returns processed items published after since with no thread
	ListUnthreaded(ctx context.Context, since time.Time, limit int) ([]core.FeedItem, error)

	// ListUnbriefed returns unbriefed items published within [since, until)
	ListUnbriefed(ctx context.Context, since, until time.Time) ([]core.FeedItem, error)

	// ListByThread returns a thread's members ordered by publication time
	ListByThread(ctx context.Context, threadID string) ([]core.FeedItem, error)

	// List returns items filtered by category and time window, newest first.
	// A zero Limit returns every match.
	List(ctx context.Context, opts ListOptions) ([]core.FeedItem, error)

	// MarkSearched sets searched=true
	MarkSearched(ctx context.Context, ids []string) error

	// MarkProcessed sets processed=true and returns how many rows changed
	MarkProcessed(ctx context.Context, ids []string) (int, error)

	// MarkBriefed sets briefed=true on rows where it is still false
	MarkBriefed(ctx context.Context, ids []string) (int, error)

	// AssignThread links an item to a thread
	AssignThread(ctx context.Context, itemID, threadID string) error

	// SetImportance records the importance tier of an item
	SetImportance(ctx context.Context, itemID string, tier core.ImportanceTier) error

	// DeleteStale removes items older than before whose link matches one of the
	// junk path fragments and that never produced a successful crawl
	DeleteStale(ctx context.Context, before time.Time, junkPaths []string) (int, error)
}

// CandidateRepository handles search candidate persistence operations
type CandidateRepository interface {
	// ReplaceForItem replaces every candidate of an item
	ReplaceForItem(ctx context.Context, itemID string, candidates []core.SearchCandidate) error

	// ListForItem returns an item's candidates, ranked ones first by position
	ListForItem(ctx context.Context, itemID string) ([]core.SearchCandidate, error)
}

// CrawlResultRepository handles crawl result persistence operations
type CrawlResultRepository interface {
	// SaveAttempts upserts an item's attempts keyed on (feed_item_id, candidate_url)
	SaveAttempts(ctx context.Context, itemID string, results []core.CrawlResult) error

	// ListForItem returns an item's attempts ordered by attempt order
	ListForItem(ctx context.Context, itemID string) ([]core.CrawlResult, error)

	// SuccessForItem returns the winning attempt or core.ErrNotFound
	SuccessForItem(ctx context.Context, itemID string) (*core.CrawlResult, error)

	// ListSince returns attempts recorded at or after since
	ListSince(ctx context.Context, since time.Time) ([]core.CrawlResult, error)
}

// DomainRepository handles domain reputation persistence operations
type DomainRepository interface {
	// Get returns a domain's reputation or core.ErrNotFound
	Get(ctx context.Context, domain string) (*core.DomainReputation, error)

	// Upsert writes a domain's reputation keyed on domain
	Upsert(ctx context.Context, rep *core.DomainReputation) error

	// List returns every tracked domain
	List(ctx context.Context) ([]core.DomainReputation, error)
}

// ThreadRepository handles story thread persistence operations
type ThreadRepository interface {
	// Get retrieves a thread by ID
	Get(ctx context.Context, id string) (*core.StoryThread, error)

	// ListActive returns every active thread with its centroid
	ListActive(ctx context.Context) ([]core.StoryThread, error)

	// Upsert writes a thread keyed on ID
	Upsert(ctx context.Context, thread *core.StoryThread) error

	// DeactivateStale marks active threads last seen before the cutoff inactive
	DeactivateStale(ctx context.Context, before time.Time) (int, error)
}

// BriefingRepository handles briefing persistence operations
type BriefingRepository interface {
	// Upsert writes a briefing keyed on (date, locale). An existing row keeps its ID.
	Upsert(ctx context.Context, b *core.Briefing) error

	// Get retrieves the briefing of a date and locale
	Get(ctx context.Context, date time.Time, locale string) (*core.Briefing, error)

	// Latest returns the most recent briefing of a locale
	Latest(ctx context.Context, locale string) (*core.Briefing, error)
}

// ListOptions filters item listings
type ListOptions struct {
	Limit    int // 0 means no limit
	Offset   int
	Category string
	Since    time.Time
	Until    time.Time
}

// Repositories groups the per-entity repositories
type Repositories interface {
	FeedItems() FeedItemRepository
	Candidates() CandidateRepository
	CrawlResults() CrawlResultRepository
	Domains() DomainRepository
	Threads() ThreadRepository
	Briefings() BriefingRepository
}

// Store represents the main storage interface that aggregates all repositories
type Store interface {
	Repositories

	// Close closes the underlying connection
	Close() error

	// Ping verifies the connection
	Ping(ctx context.Context) error

	// BeginTx starts a new transaction
	BeginTx(ctx context.Context) (Transaction, error)
}

// Transaction represents a storage transaction
type Transaction interface {
	Repositories
	Commit() error
	Rollback() error
}
