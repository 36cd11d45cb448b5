package persistence

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"storyline/internal/config"
	"storyline/internal/core"

	"github.com/google/uuid"
)

// TestPostgresStore runs against a live database with pgvector.
// Run with: DATABASE_URL=postgres://... go test ./internal/persistence -run TestPostgresStore
func TestPostgresStore(t *testing.T) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	db, err := NewPostgresDB(config.Database{URL: dbURL})
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if _, err := NewMigrationManager(db).Migrate(ctx); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	suffix := uuid.NewString()
	item := &core.FeedItem{
		Title:       "Integration " + suffix,
		Link:        "https://example.com/" + suffix,
		ContentHash: "hash-" + suffix,
		PublishedAt: time.Now().UTC(),
	}

	t.Run("upsert is idempotent", func(t *testing.T) {
		created, err := db.FeedItems().Upsert(ctx, item)
		if err != nil || !created {
			t.Fatalf("created=%v err=%v", created, err)
		}
		dup := *item
		dup.ID = ""
		created, err = db.FeedItems().Upsert(ctx, &dup)
		if err != nil || created {
			t.Fatalf("duplicate: created=%v err=%v", created, err)
		}
		if dup.ID != item.ID {
			t.Errorf("expected id %s, got %s", item.ID, dup.ID)
		}
	})

	t.Run("one success per item", func(t *testing.T) {
		err := WithTx(ctx, db, func(r Repositories) error {
			return r.CrawlResults().SaveAttempts(ctx, item.ID, []core.CrawlResult{
				{CandidateURL: "https://a.test/" + suffix, AttemptOrder: 1, Status: core.CrawlSuccess},
				{CandidateURL: "https://b.test/" + suffix, AttemptOrder: 2, Status: core.CrawlFailed, Reason: core.ReasonTimeout},
			})
		})
		if err != nil {
			t.Fatal(err)
		}
		err = db.CrawlResults().SaveAttempts(ctx, item.ID, []core.CrawlResult{
			{CandidateURL: "https://c.test/" + suffix, AttemptOrder: 3, Status: core.CrawlSuccess},
		})
		if err == nil {
			t.Error("expected unique index to reject a second winner")
		}
	})

	t.Run("briefing upsert keeps id", func(t *testing.T) {
		date := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
		locale := "t" + suffix[:6]
		first := &core.Briefing{Date: date, Locale: locale, Narrative: "one"}
		if err := db.Briefings().Upsert(ctx, first); err != nil {
			t.Fatal(err)
		}
		second := &core.Briefing{Date: date, Locale: locale, Narrative: "two"}
		if err := db.Briefings().Upsert(ctx, second); err != nil {
			t.Fatal(err)
		}
		if second.ID != first.ID {
			t.Errorf("expected id %s, got %s", first.ID, second.ID)
		}
		latest, err := db.Briefings().Latest(ctx, locale)
		if err != nil || latest.Narrative != "two" {
			t.Fatalf("latest=%+v err=%v", latest, err)
		}
	})

	t.Run("thread centroid round trip", func(t *testing.T) {
		thread := &core.StoryThread{Title: "t", Centroid: make([]float64, 768), FirstSeen: time.Now(), LastSeen: time.Now(), Active: true}
		thread.Centroid[0] = 1
		if err := db.Threads().Upsert(ctx, thread); err != nil {
			t.Fatal(err)
		}
		got, err := db.Threads().Get(ctx, thread.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(got.Centroid) != 768 || got.Centroid[0] != 1 {
			t.Errorf("centroid not preserved")
		}
	})

	if _, err := db.Domains().Get(ctx, "missing-"+suffix); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
