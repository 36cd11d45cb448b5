package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"storyline/internal/config"

	_ "github.com/lib/pq" // Postgres driver
)

// PostgresDB implements Store on PostgreSQL with the pgvector extension
type PostgresDB struct {
	db         *sql.DB
	feedItems  FeedItemRepository
	candidates CandidateRepository
	crawls     CrawlResultRepository
	domains    DomainRepository
	threads    ThreadRepository
	briefings  BriefingRepository
}

// NewPostgresDB opens a connection pool and verifies it
func NewPostgresDB(cfg config.Database) (*PostgresDB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database url is not configured (set DATABASE_URL)")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(config.Duration(cfg.ConnMaxLifetime, 5*time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), config.Duration(cfg.Timeout, 5*time.Second))
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return newPostgresDB(db), nil
}

func newPostgresDB(db *sql.DB) *PostgresDB {
	return &PostgresDB{
		db:         db,
		feedItems:  &postgresFeedItemRepo{db: db},
		candidates: &postgresCandidateRepo{db: db},
		crawls:     &postgresCrawlResultRepo{db: db},
		domains:    &postgresDomainRepo{db: db},
		threads:    &postgresThreadRepo{db: db},
		briefings:  &postgresBriefingRepo{db: db},
	}
}

func (p *PostgresDB) FeedItems() FeedItemRepository       { return p.feedItems }
func (p *PostgresDB) Candidates() CandidateRepository     { return p.candidates }
func (p *PostgresDB) CrawlResults() CrawlResultRepository { return p.crawls }
func (p *PostgresDB) Domains() DomainRepository           { return p.domains }
func (p *PostgresDB) Threads() ThreadRepository           { return p.threads }
func (p *PostgresDB) Briefings() BriefingRepository       { return p.briefings }

// DB exposes the pool for the vector store and the read API
func (p *PostgresDB) DB() *sql.DB { return p.db }

func (p *PostgresDB) Close() error {
	return p.db.Close()
}

func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresDB) BeginTx(ctx context.Context) (Transaction, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &postgresTx{
		tx:         tx,
		feedItems:  &postgresFeedItemRepo{db: p.db, tx: tx},
		candidates: &postgresCandidateRepo{db: p.db, tx: tx},
		crawls:     &postgresCrawlResultRepo{db: p.db, tx: tx},
		domains:    &postgresDomainRepo{db: p.db, tx: tx},
		threads:    &postgresThreadRepo{db: p.db, tx: tx},
		briefings:  &postgresBriefingRepo{db: p.db, tx: tx},
	}, nil
}

// postgresTx implements Transaction interface
type postgresTx struct {
	tx         *sql.Tx
	feedItems  FeedItemRepository
	candidates CandidateRepository
	crawls     CrawlResultRepository
	domains    DomainRepository
	threads    ThreadRepository
	briefings  BriefingRepository
}

func (t *postgresTx) Commit() error                       { return t.tx.Commit() }
func (t *postgresTx) Rollback() error                     { return t.tx.Rollback() }
func (t *postgresTx) FeedItems() FeedItemRepository       { return t.feedItems }
func (t *postgresTx) Candidates() CandidateRepository     { return t.candidates }
func (t *postgresTx) CrawlResults() CrawlResultRepository { return t.crawls }
func (t *postgresTx) Domains() DomainRepository           { return t.domains }
func (t *postgresTx) Threads() ThreadRepository           { return t.threads }
func (t *postgresTx) Briefings() BriefingRepository       { return t.briefings }

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// conn picks the transaction when one is open
func conn(db *sql.DB, tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return db
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// WithTx runs fn inside a transaction, rolling back on error
func WithTx(ctx context.Context, store Store, fn func(Repositories) error) error {
	tx, err := store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
