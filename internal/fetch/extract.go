package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"storyline/internal/core"

	"github.com/PuerkitoBio/goquery"
	"github.com/markusmobius/go-trafilatura"
)

// ErrParse is returned when a page yields no usable text.
var ErrParse = errors.New("no extractable content")

// ErrPaywall is returned when the page is behind a subscription wall.
var ErrPaywall = errors.New("paywalled content")

const maxBodyBytes = 8 << 20

// Page is the extracted text of one fetched URL.
type Page struct {
	URL         string
	Title       string
	Text        string
	ContentType string
}

// Extractor downloads pages and pulls out their main text.
type Extractor struct {
	client     *http.Client
	userAgent  string
	politeness *Politeness
}

// NewExtractor creates an extractor with its own HTTP client.
func NewExtractor(timeout time.Duration, userAgent string, politeness *Politeness) *Extractor {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Extractor{
		client:     NewHTTPClient(timeout, 10),
		userAgent:  userAgent,
		politeness: politeness,
	}
}

// Fetch downloads rawURL and extracts its text. PDFs are detected by content type or extension.
func (e *Extractor) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Host == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURL, rawURL)
	}
	if err := e.politeness.Wait(ctx, rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", rawURL, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/pdf") || IsPDFURL(rawURL) {
		text, err := ExtractPDF(body)
		if err != nil {
			return nil, err
		}
		return &Page{URL: rawURL, Title: PDFTitle(text, rawURL), Text: text, ContentType: "application/pdf"}, nil
	}

	page, err := ExtractHTML(body, resp.Request.URL)
	if err != nil {
		return nil, err
	}
	page.ContentType = contentType
	return page, nil
}

// ExtractHTML pulls the main text out of an HTML document. trafilatura is tried first,
// then a goquery selector walk.
func ExtractHTML(body []byte, pageURL *url.URL) (*Page, error) {
	if IsPaywalled(string(body)) {
		return nil, ErrPaywall
	}

	page := &Page{}
	if pageURL != nil {
		page.URL = pageURL.String()
	}

	result, err := trafilatura.Extract(bytes.NewReader(body), trafilatura.Options{
		EnableFallback:  true,
		ExcludeComments: true,
		IncludeImages:   false,
		IncludeLinks:    false,
		Deduplicate:     true,
		OriginalURL:     pageURL,
	})
	if err == nil && result != nil {
		page.Text = strings.TrimSpace(result.ContentText)
		page.Title = strings.TrimSpace(result.Metadata.Title)
	}

	if page.Text == "" || page.Title == "" {
		doc, derr := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if derr != nil {
			if page.Text == "" {
				return nil, fmt.Errorf("%w: %v", ErrParse, derr)
			}
			return page, nil
		}
		if page.Title == "" {
			page.Title = extractTitle(doc)
		}
		if page.Text == "" {
			page.Text = extractMainText(doc)
		}
	}

	if page.Text == "" {
		return nil, ErrParse
	}
	return page, nil
}

func extractTitle(doc *goquery.Document) string {
	if og, ok := doc.Find("meta[property='og:title']").Attr("content"); ok && strings.TrimSpace(og) != "" {
		return strings.TrimSpace(og)
	}
	if title := strings.TrimSpace(doc.Find("head title").First().Text()); title != "" {
		return title
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

var multiNewline = regexp.MustCompile(`\n{3,}`)

func extractMainText(doc *goquery.Document) string {
	doc.Find("script, style, nav, footer, header, aside, form, iframe, noscript, .sidebar, .ad, .advertisement, .cookie-banner").Remove()

	var b strings.Builder
	for _, selector := range []string{"article", "main", "[role='main']", ".article-body", ".entry-content", ".post-content", "body"} {
		doc.Find(selector).First().Find("p, h2, h3, li, blockquote").Each(func(_ int, s *goquery.Selection) {
			if text := strings.TrimSpace(s.Text()); text != "" {
				b.WriteString(text)
				b.WriteString("\n\n")
			}
		})
		if b.Len() > 0 {
			break
		}
	}
	return strings.TrimSpace(multiNewline.ReplaceAllString(b.String(), "\n\n"))
}

var paywallMarkers = []string{
	"subscribe to continue reading",
	"subscribe to read",
	"this article is for subscribers",
	"to continue reading, please subscribe",
	"already a subscriber? sign in",
	"you have reached your limit of free articles",
	"create a free account to continue",
}

// IsPaywalled looks for common subscription wall phrases.
func IsPaywalled(content string) bool {
	lower := strings.ToLower(content)
	for _, m := range paywallMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// Truncate cuts text to at most budget runes without splitting a rune.
func Truncate(text string, budget int) string {
	if budget <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= budget {
		return text
	}
	return string(runes[:budget])
}

// Classify maps a fetch or resolve error to a crawl failure reason.
func Classify(err error) core.FailureReason {
	if err == nil {
		return core.ReasonNone
	}
	var httpErr *HTTPError
	var netErr net.Error
	switch {
	case errors.Is(err, ErrSearchSurface), errors.Is(err, ErrInvalidURL):
		return core.ReasonResolveFailed
	case errors.Is(err, ErrPaywall):
		return core.ReasonPaywall
	case errors.Is(err, ErrParse):
		return core.ReasonParseError
	case errors.Is(err, context.DeadlineExceeded):
		return core.ReasonTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return core.ReasonTimeout
	case errors.As(err, &httpErr):
		return core.ReasonHTTPError
	}
	return core.ReasonHTTPError
}
