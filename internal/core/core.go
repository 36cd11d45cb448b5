package core

import "time"

// FeedItem is one ingested headline. The three lifecycle flags are independent.
type FeedItem struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Link        string         `json:"link"`         // Source link as published by the feed
	ContentHash string         `json:"content_hash"` // sha256 of the canonical source link
	Source      string         `json:"source"`       // Feed name the item came from
	Category    string         `json:"category"`
	Subcategory string         `json:"subcategory,omitempty"` // Empty when the path carries none
	PublishedAt time.Time      `json:"published_at"`
	Searched    bool           `json:"searched"`
	Processed   bool           `json:"processed"`
	Briefed     bool           `json:"briefed"`
	ThreadID    string         `json:"thread_id,omitempty"`
	Slug        string         `json:"slug,omitempty"`
	Importance  ImportanceTier `json:"importance,omitempty"` // Set from verification or curation
	Embedding   []float64      `json:"-"`
	CreatedAt   time.Time      `json:"created_at"`
}

// HeadlineText is the text the item is embedded and ranked from.
func (f FeedItem) HeadlineText() string {
	if f.Description == "" {
		return f.Title
	}
	return f.Title + "\n" + f.Description
}

// SearchCandidate is a cross-source URL proposed as an alternate rendering of a FeedItem.
type SearchCandidate struct {
	ID           string    `json:"id"`
	FeedItemID   string    `json:"feed_item_id"`
	Title        string    `json:"title"`
	URL          string    `json:"url"` // Redirect URL as returned by the search surface
	Provider     string    `json:"provider"`
	RankScore    float64   `json:"rank_score"`
	RankPosition int       `json:"rank_position"` // 1-based, 0 while unranked
	CreatedAt    time.Time `json:"created_at"`
}

// CrawlStatus is the lifecycle state of one crawl attempt.
type CrawlStatus string

const (
	CrawlPending CrawlStatus = "pending"
	CrawlSuccess CrawlStatus = "success"
	CrawlFailed  CrawlStatus = "failed"
	CrawlSkipped CrawlStatus = "skipped"
)

// Terminal reports whether the status is final.
func (s CrawlStatus) Terminal() bool {
	return s == CrawlSuccess || s == CrawlFailed || s == CrawlSkipped
}

// FailureReason classifies why a crawl attempt did not succeed.
type FailureReason string

const (
	ReasonNone          FailureReason = ""
	ReasonTooShort      FailureReason = "too_short"
	ReasonMismatch      FailureReason = "mismatch"
	ReasonPaywall       FailureReason = "paywall"
	ReasonTimeout       FailureReason = "timeout"
	ReasonHTTPError     FailureReason = "http_error"
	ReasonParseError    FailureReason = "parse_error"
	ReasonBlocked       FailureReason = "blocked"
	ReasonResolveFailed FailureReason = "resolve_failed"
	ReasonSuperseded    FailureReason = "superseded" // a sibling already won
)

// ContentShape reports whether the reason describes the page content rather than
// the availability of the publisher. Such reasons never count against a domain.
func (r FailureReason) ContentShape() bool {
	switch r {
	case ReasonTooShort, ReasonMismatch, ReasonPaywall:
		return true
	}
	return false
}

// CrawlResult is the outcome of attempting to fetch one candidate's content.
type CrawlResult struct {
	ID             string              `json:"id"`
	FeedItemID     string              `json:"feed_item_id"`
	CandidateURL   string              `json:"candidate_url"`
	AttemptOrder   int                 `json:"attempt_order"` // Rank position the attempt was scheduled at
	ResolvedURL    string              `json:"resolved_url"`
	Domain         string              `json:"domain"`
	URLHash        string              `json:"url_hash"`
	Status         CrawlStatus         `json:"status"`
	Title          string              `json:"title,omitempty"`
	Content        string              `json:"content,omitempty"` // Truncated to the content budget
	RelevanceScore float64             `json:"relevance_score"`
	WeightedScore  float64             `json:"weighted_score"`
	Reason         FailureReason       `json:"reason,omitempty"`
	Detail         string              `json:"detail,omitempty"`
	Verification   *VerificationResult `json:"verification,omitempty"`
	AttemptedAt    time.Time           `json:"attempted_at"`
}

// DomainReputation tracks crawl outcomes for one publisher domain.
type DomainReputation struct {
	Domain        string                `json:"domain"`
	Successes     int                   `json:"successes"`
	Attempts      int                   `json:"attempts"`
	FailureCounts map[FailureReason]int `json:"failure_counts"`
	Blocked       bool                  `json:"blocked"`
	LowerBound    float64               `json:"lower_bound"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// ImportanceTier ranks how much a story matters to the reader.
type ImportanceTier string

const (
	ImportanceMustRead     ImportanceTier = "must_read"
	ImportanceWorthReading ImportanceTier = "worth_reading"
	ImportanceOptional     ImportanceTier = "optional"
)

// ParseImportance normalizes a tier, defaulting to optional.
func ParseImportance(s string) ImportanceTier {
	switch ImportanceTier(s) {
	case ImportanceMustRead, ImportanceWorthReading:
		return ImportanceTier(s)
	}
	return ImportanceOptional
}

// VerificationResult is the secondary judgment attached to an ambiguous CrawlResult.
type VerificationResult struct {
	CrawlResultID string         `json:"crawl_result_id"`
	SameEvent     bool           `json:"same_event"`
	Relevance     float64        `json:"relevance"` // 0-10
	Importance    ImportanceTier `json:"importance"`
	Keywords      []string       `json:"keywords"`
}

// StoryThread is a living cluster of FeedItems describing the same ongoing story.
type StoryThread struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Centroid    []float64 `json:"-"`
	MemberCount int       `json:"member_count"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	Active      bool      `json:"active"`
}

// Chapter marks a topic transition at a normalized position of the narrative.
type Chapter struct {
	Title    string  `json:"title"`
	Position float64 `json:"position"` // [0,1] of the cleaned narrative length
}

// Sentence is one spoken sentence with audio offsets in seconds.
type Sentence struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Briefing is the daily narrative for one locale. Unique on (Date, Locale).
type Briefing struct {
	ID              string     `json:"id"`
	Date            time.Time  `json:"date"`
	Locale          string     `json:"locale"`
	Narrative       string     `json:"narrative"` // Markers stripped
	Chapters        []Chapter  `json:"chapters"`
	Sentences       []Sentence `json:"sentences,omitempty"`
	AudioRef        string     `json:"audio_ref,omitempty"`
	AudioDuration   float64    `json:"audio_duration,omitempty"`
	SourceItemCount int        `json:"source_item_count"`
	ItemIDs         []string   `json:"item_ids"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// BriefingDate truncates t to the UTC calendar day a briefing is keyed on.
func BriefingDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
