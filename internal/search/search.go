// Package search finds alternate-source candidates for feed headlines.
package search

import (
	"context"
	"time"

	"storyline/internal/config"
	"storyline/internal/fetch"
)

// Provider defines the interface every secondary search surface implements
type Provider interface {
	// Search runs one query and returns results in surface order
	Search(ctx context.Context, query string, config Config) ([]Result, error)

	// GetName returns the name recorded on every candidate the provider produces
	GetName() string
}

// Config holds configuration for search requests
type Config struct {
	MaxResults int           // Maximum number of results to return
	SinceTime  time.Duration // Only return results newer than this duration
	Language   string        // Language preference (e.g., "en", "ko")
	Region     string        // Region preference (e.g., "US")
}

// Result represents a unified search result
type Result struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Snippet     string    `json:"snippet"`
	Domain      string    `json:"domain"`
	PublishedAt time.Time `json:"published_at,omitempty"`
	Source      string    `json:"source"` // Publisher name when the surface reports one
	Rank        int       `json:"rank"`   // Position in search results
}

// ProviderType represents the type of search provider
type ProviderType string

const (
	ProviderTypeGoogleNews ProviderType = "google_news"
	ProviderTypeDuckDuckGo ProviderType = "duckduckgo"
	ProviderTypeMock       ProviderType = "mock"
)

// ProviderFactory creates search providers from the search configuration
type ProviderFactory struct {
	cfg config.Search
}

// NewProviderFactory creates a new provider factory
func NewProviderFactory(cfg config.Search) *ProviderFactory {
	return &ProviderFactory{cfg: cfg}
}

// CreateProvider creates a search provider of the specified type
func (f *ProviderFactory) CreateProvider(providerType ProviderType) (Provider, error) {
	timeout := config.Duration(f.cfg.Timeout, 15*time.Second)
	switch providerType {
	case ProviderTypeGoogleNews:
		return NewGoogleNewsProvider(f.cfg.Providers.GoogleNews.BaseURL, timeout), nil
	case ProviderTypeDuckDuckGo:
		limiter := fetch.NewPoliteness(config.Duration(f.cfg.Providers.DuckDuckGo.RateLimit, 2*time.Second))
		return NewDuckDuckGoProvider(f.cfg.Providers.DuckDuckGo.BaseURL, timeout, limiter), nil
	case ProviderTypeMock:
		return NewMockProvider(), nil
	default:
		return nil, ErrUnsupportedProvider
	}
}

// GetAvailableProviders returns a list of available provider types
func (f *ProviderFactory) GetAvailableProviders() []ProviderType {
	return []ProviderType{
		ProviderTypeGoogleNews,
		ProviderTypeDuckDuckGo,
		ProviderTypeMock,
	}
}
