package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storyline/internal/fetch"
	"storyline/internal/logger"

	"github.com/PuerkitoBio/goquery"
)

const defaultDuckDuckGoURL = "https://html.duckduckgo.com/html/"

// DuckDuckGoProvider implements the Provider interface using the DuckDuckGo HTML endpoint
type DuckDuckGoProvider struct {
	baseURL   string
	client    *http.Client
	userAgent string
	limiter   *fetch.Politeness
}

// NewDuckDuckGoProvider creates a new DuckDuckGo search provider
func NewDuckDuckGoProvider(baseURL string, timeout time.Duration, limiter *fetch.Politeness) *DuckDuckGoProvider {
	if baseURL == "" {
		baseURL = defaultDuckDuckGoURL
	}
	return &DuckDuckGoProvider{
		baseURL:   baseURL,
		client:    &http.Client{Timeout: timeout},
		userAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
		limiter:   limiter,
	}
}

// GetName returns the name of this provider
func (d *DuckDuckGoProvider) GetName() string {
	return string(ProviderTypeDuckDuckGo)
}

// Search performs a search using DuckDuckGo and returns results
func (d *DuckDuckGoProvider) Search(ctx context.Context, query string, config Config) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	searchURL := d.buildSearchURL(query, config)
	if err := d.limiter.Wait(ctx, searchURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute search request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("search request failed with status: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}
	if doc.Find("form#challenge-form, .anomaly-modal").Length() > 0 {
		logger.Debug("DuckDuckGo challenge page detected", "query", query)
		return nil, ErrBlocked
	}

	results := parseDuckDuckGoResults(doc, config.MaxResults)
	logger.Debug("DuckDuckGo search completed", "query", query, "results_found", len(results))
	return results, nil
}

// buildSearchURL constructs the DuckDuckGo search URL with parameters
func (d *DuckDuckGoProvider) buildSearchURL(query string, config Config) string {
	params := url.Values{}

	if config.SinceTime > 0 {
		days := int(config.SinceTime.Hours() / 24)
		switch {
		case days <= 1:
			params.Set("df", "d")
		case days <= 7:
			params.Set("df", "w")
		case days <= 30:
			params.Set("df", "m")
		default:
			params.Set("df", "y")
		}
	}

	region := "us-en"
	if config.Region != "" && config.Language != "" {
		region = strings.ToLower(config.Region) + "-" + strings.ToLower(config.Language)
	}

	params.Set("q", query)
	params.Set("kl", region)
	return d.baseURL + "?" + params.Encode()
}

// parseDuckDuckGoResults extracts results from the HTML result page
func parseDuckDuckGoResults(doc *goquery.Document, maxResults int) []Result {
	if maxResults <= 0 {
		maxResults = 10
	}
	var results []Result
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if len(results) >= maxResults {
			return false
		}
		if s.HasClass("result--ad") {
			return true
		}
		link := s.Find("a.result__a").First()
		href, ok := link.Attr("href")
		if !ok {
			return true
		}
		finalURL := extractFinalURL(href)
		if finalURL == "" {
			return true
		}
		domain, _ := fetch.Domain(finalURL)
		results = append(results, Result{
			URL:     finalURL,
			Title:   strings.Join(strings.Fields(link.Text()), " "),
			Snippet: strings.Join(strings.Fields(s.Find(".result__snippet").Text()), " "),
			Domain:  domain,
			Source:  domain,
			Rank:    len(results) + 1,
		})
		return true
	})
	return results
}

// extractFinalURL extracts the actual URL from DuckDuckGo's redirect URL
func extractFinalURL(redirectURL string) string {
	// Redirects look like //duckduckgo.com/l/?uddg=https%3A//example.com/...&rut=...
	if strings.Contains(redirectURL, "/l/?") {
		parsed, err := url.Parse(redirectURL)
		if err != nil {
			return ""
		}
		return parsed.Query().Get("uddg")
	}

	if strings.HasPrefix(redirectURL, "http") {
		return redirectURL
	}
	return ""
}
