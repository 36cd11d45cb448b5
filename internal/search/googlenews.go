package search

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storyline/internal/logger"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
)

const defaultGoogleNewsURL = "https://news.google.com/rss/search"

// GoogleNewsProvider searches the Google News RSS endpoint. Item links are
// redirect URLs on news.google.com and must be resolved before crawling.
type GoogleNewsProvider struct {
	baseURL string
	parser  *gofeed.Parser
	timeout time.Duration
}

// NewGoogleNewsProvider creates a provider. An empty baseURL selects the public endpoint.
func NewGoogleNewsProvider(baseURL string, timeout time.Duration) *GoogleNewsProvider {
	if baseURL == "" {
		baseURL = defaultGoogleNewsURL
	}
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: timeout}
	parser.UserAgent = "Mozilla/5.0 (compatible; Storyline/1.0)"
	return &GoogleNewsProvider{baseURL: baseURL, parser: parser, timeout: timeout}
}

// GetName returns the name of this provider
func (g *GoogleNewsProvider) GetName() string {
	return string(ProviderTypeGoogleNews)
}

// Search fetches the RSS result feed for query
func (g *GoogleNewsProvider) Search(ctx context.Context, query string, config Config) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	feed, err := g.parser.ParseURLWithContext(g.buildSearchURL(query, config), ctx)
	if err != nil {
		var httpErr gofeed.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests {
			return nil, ErrRateLimited
		}
		return nil, fmt.Errorf("google news search %q: %w", query, err)
	}

	limit := config.MaxResults
	if limit <= 0 {
		limit = 10
	}
	results := make([]Result, 0, min(limit, len(feed.Items)))
	for _, item := range feed.Items {
		if len(results) >= limit {
			break
		}
		if item.Link == "" {
			continue
		}
		title, publisher := splitPublisher(item.Title)
		r := Result{
			URL:     item.Link,
			Title:   title,
			Snippet: cleanSnippet(item.Description),
			Source:  publisher,
			Rank:    len(results) + 1,
		}
		if item.PublishedParsed != nil {
			r.PublishedAt = *item.PublishedParsed
		}
		results = append(results, r)
	}

	logger.Debug("Google News search completed", "query", query, "results_found", len(results))
	return results, nil
}

func (g *GoogleNewsProvider) buildSearchURL(query string, config Config) string {
	q := query
	if config.SinceTime > 0 {
		// The surface only understands whole hours and days.
		if hours := int(config.SinceTime.Hours()); hours < 48 {
			q += fmt.Sprintf(" when:%dh", max(hours, 1))
		} else {
			q += fmt.Sprintf(" when:%dd", hours/24)
		}
	}

	lang := config.Language
	if lang == "" {
		lang = "en"
	}
	region := strings.ToUpper(config.Region)
	if region == "" {
		region = "US"
	}

	params := url.Values{}
	params.Set("q", q)
	params.Set("hl", lang+"-"+region)
	params.Set("gl", region)
	params.Set("ceid", region+":"+lang)
	return g.baseURL + "?" + params.Encode()
}

// splitPublisher separates the trailing " - Publisher" Google News appends to titles.
func splitPublisher(title string) (string, string) {
	title = strings.TrimSpace(title)
	idx := strings.LastIndex(title, " - ")
	if idx <= 0 {
		return title, ""
	}
	return strings.TrimSpace(title[:idx]), strings.TrimSpace(title[idx+3:])
}

var snippetPolicy = bluemonday.StrictPolicy()

// cleanSnippet strips markup from a result description.
func cleanSnippet(s string) string {
	return strings.Join(strings.Fields(html.UnescapeString(snippetPolicy.Sanitize(s))), " ")
}
