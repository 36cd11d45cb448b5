package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"storyline/internal/logger"
	"storyline/internal/retry"
)

// ErrSearchSurface means the redirect chain never left the search surface.
var ErrSearchSurface = errors.New("resolved url is still on the search surface")

// Resolution is the canonical destination of a candidate URL.
type Resolution struct {
	Original     string
	CanonicalURL string
	Domain       string
	Hash         string
	StatusCode   int
}

// ResolverConfig configures URL resolution.
type ResolverConfig struct {
	Timeout        time.Duration
	MaxRedirects   int
	UserAgent      string
	SearchSurfaces []string
	Policy         retry.Policy
	Politeness     *Politeness
}

// Resolver follows redirects to a candidate's canonical URL.
type Resolver struct {
	client *http.Client
	cfg    ResolverConfig
}

// NewResolver creates a resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Resolver{client: NewHTTPClient(cfg.Timeout, cfg.MaxRedirects), cfg: cfg}
}

// Resolve issues a HEAD request, falling back to one GET when the server rejects HEAD,
// and returns the canonical destination. Transport failures are retried per policy.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (Resolution, error) {
	if _, err := Canonicalize(rawURL); err != nil {
		return Resolution{}, err
	}

	var final string
	var status int
	err := r.cfg.Policy.Do(ctx, func(ctx context.Context) error {
		if err := r.cfg.Politeness.Wait(ctx, rawURL); err != nil {
			return retry.Permanent(err)
		}
		u, code, err := r.follow(ctx, http.MethodHead, rawURL)
		if err == nil && headRejected(code) {
			logger.Debug("HEAD rejected, retrying with GET", "url", rawURL, "status", code)
			u, code, err = r.follow(ctx, http.MethodGet, rawURL)
		}
		if err != nil {
			return err
		}
		if code >= 500 {
			return &HTTPError{URL: rawURL, StatusCode: code}
		}
		if code >= 400 {
			return retry.Permanent(&HTTPError{URL: rawURL, StatusCode: code})
		}
		final, status = u, code
		return nil
	})
	if err != nil {
		return Resolution{}, fmt.Errorf("resolve %s: %w", rawURL, err)
	}

	canonical, err := Canonicalize(final)
	if err != nil {
		return Resolution{}, err
	}
	domain, err := Domain(canonical)
	if err != nil {
		return Resolution{}, err
	}
	if OnDomain(domain, r.cfg.SearchSurfaces) {
		return Resolution{}, fmt.Errorf("%w: %s", ErrSearchSurface, canonical)
	}

	return Resolution{
		Original:     rawURL,
		CanonicalURL: canonical,
		Domain:       domain,
		Hash:         HashURL(canonical),
		StatusCode:   status,
	}, nil
}

func (r *Resolver) follow(ctx context.Context, method, rawURL string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, http.NoBody)
	if err != nil {
		return "", 0, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", r.cfg.UserAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return resp.Request.URL.String(), resp.StatusCode, nil
}

// headRejected covers servers that refuse or mishandle HEAD.
func headRejected(code int) bool {
	switch code {
	case http.StatusMethodNotAllowed, http.StatusNotImplemented, http.StatusForbidden,
		http.StatusBadRequest, http.StatusNotFound:
		return true
	}
	return false
}
