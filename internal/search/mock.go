package search

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider implements Provider for tests and offline runs
type MockProvider struct {
	mu       sync.Mutex
	name     string
	results  []Result
	byQuery  map[string][]Result
	failures map[string]error
	queries  []string
}

// NewMockProvider creates a mock provider whose default results echo the query
func NewMockProvider() *MockProvider {
	return &MockProvider{
		name: string(ProviderTypeMock),
		results: []Result{
			{URL: "https://example.com/article1", Title: "Example Article 1", Snippet: "Mock search result.", Domain: "example.com", Rank: 1},
			{URL: "https://test.org/article2", Title: "Test Article 2", Snippet: "Another mock search result.", Domain: "test.org", Rank: 2},
			{URL: "https://demo.net/article3", Title: "Demo Article 3", Snippet: "Third mock result.", Domain: "demo.net", Rank: 3},
		},
		byQuery:  make(map[string][]Result),
		failures: make(map[string]error),
	}
}

// GetName returns the name of this provider
func (m *MockProvider) GetName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

// Search returns canned results. Queries registered with SetQueryResults get
// exactly those results; other queries get the defaults with the query appended to titles.
func (m *MockProvider) Search(ctx context.Context, query string, config Config) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, query)

	if err, ok := m.failures[query]; ok {
		return nil, err
	}

	source, custom := m.byQuery[query]
	if !custom {
		source = m.results
	}

	maxResults := config.MaxResults
	if maxResults <= 0 || maxResults > len(source) {
		maxResults = len(source)
	}

	results := make([]Result, maxResults)
	for i := 0; i < maxResults; i++ {
		result := source[i]
		if !custom {
			result.Title = fmt.Sprintf("%s (for query: %s)", result.Title, query)
		}
		results[i] = result
	}
	return results, nil
}

// SetResults replaces the default results
func (m *MockProvider) SetResults(results []Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = results
}

// SetQueryResults registers the exact results for one query
func (m *MockProvider) SetQueryResults(query string, results []Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byQuery[query] = results
}

// FailQuery makes query return err
func (m *MockProvider) FailQuery(query string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[query] = err
}

// SetName allows customization of provider name for testing
func (m *MockProvider) SetName(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name = name
}

// Queries returns every query seen so far, in order
func (m *MockProvider) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queries...)
}
