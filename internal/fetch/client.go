package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultUserAgent = "Mozilla/5.0 (compatible; Storyline/1.0)"

// HTTPError is a non-2xx response.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.StatusCode, e.URL)
}

// Politeness spaces requests to the same host by at least the configured delay.
type Politeness struct {
	delay    time.Duration
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewPoliteness returns a per-host limiter. A zero delay disables waiting.
func NewPoliteness(delay time.Duration) *Politeness {
	return &Politeness{delay: delay, limiters: make(map[string]*rate.Limiter)}
}

// Wait blocks until a request to rawURL's host is allowed or ctx is done.
func (p *Politeness) Wait(ctx context.Context, rawURL string) error {
	if p == nil || p.delay <= 0 {
		return nil
	}
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}

	p.mu.Lock()
	l, ok := p.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Every(p.delay), 1)
		p.limiters[host] = l
	}
	p.mu.Unlock()

	return l.Wait(ctx)
}

// NewHTTPClient builds the shared client with a redirect cap.
func NewHTTPClient(timeout time.Duration, maxRedirects int) *http.Client {
	if maxRedirects <= 0 {
		maxRedirects = 10
	}
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
}
