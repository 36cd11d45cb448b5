package embedding

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Cache is a local SQLite store of embeddings keyed by model and text hash
type Cache struct {
	db   *sql.DB
	path string
}

// CacheStats summarizes the cache contents
type CacheStats struct {
	Entries     int
	CacheSize   int64
	LastUpdated time.Time
}

// NewCache opens or creates the cache database in dir
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	path := filepath.Join(dir, "embeddings.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	db.SetMaxOpenConns(1)

	c := &Cache{db: db, path: path}
	if err := c.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	return c, nil
}

func (c *Cache) initialize() error {
	_, err := c.db.Exec(`
	CREATE TABLE IF NOT EXISTS embeddings (
		key TEXT PRIMARY KEY,
		model TEXT NOT NULL,
		vector TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);`)
	return err
}

// Close closes the database connection
func (c *Cache) Close() error {
	return c.db.Close()
}

func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached vector for text under model
func (c *Cache) Get(model, text string) ([]float64, bool, error) {
	var raw string
	err := c.db.QueryRow(`SELECT vector FROM embeddings WHERE key = ?`, cacheKey(model, text)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var v []float64
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, false, fmt.Errorf("corrupt cache entry: %w", err)
	}
	return v, true, nil
}

// Put stores the vector for text under model
func (c *Cache) Put(model, text string, v []float64) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = c.db.Exec(`INSERT OR REPLACE INTO embeddings (key, model, vector, created_at) VALUES (?, ?, ?, ?)`,
		cacheKey(model, text), model, string(raw), time.Now().UTC())
	return err
}

// Stats returns statistics about the cache
func (c *Cache) Stats() (*CacheStats, error) {
	stats := &CacheStats{}
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM embeddings`).Scan(&stats.Entries); err != nil {
		return nil, fmt.Errorf("failed to get count: %w", err)
	}
	if fileInfo, err := os.Stat(c.path); err == nil {
		stats.CacheSize = fileInfo.Size()
		stats.LastUpdated = fileInfo.ModTime()
	}
	return stats, nil
}

// Cleanup removes entries older than maxAge
func (c *Cache) Cleanup(maxAge time.Duration) (int, error) {
	res, err := c.db.Exec(`DELETE FROM embeddings WHERE created_at < ?`, time.Now().UTC().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("failed to clean cache: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
