// Package retry is the single retry/backoff policy shared by every external capability.
package retry

import (
	"context"
	"errors"
	"time"

	"storyline/internal/config"
	"storyline/internal/logger"

	"github.com/go-pkgz/repeater/v2"
)

// Policy describes how one capability retries its calls.
type Policy struct {
	Name        string
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64 // <=1 constant, <2 linear, otherwise exponential
	Jitter      float64
	Timeout     time.Duration // per attempt, zero means the caller's context only
}

// ErrPermanent marks an error that must not be retried.
var ErrPermanent = errors.New("permanent failure")

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }
func (e *permanentError) Is(target error) bool {
	return target == ErrPermanent
}

// Permanent wraps err so Do stops retrying and returns it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// FromConfig builds a policy from its configuration block.
func FromConfig(name string, c config.RetryPolicy, timeout time.Duration) Policy {
	return Policy{
		Name:        name,
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   config.Duration(c.BaseDelay, time.Second),
		MaxDelay:    config.Duration(c.MaxDelay, 30*time.Second),
		Multiplier:  c.Multiplier,
		Jitter:      c.Jitter,
		Timeout:     timeout,
	}
}

// Do runs fn until it succeeds, returns a permanent error, the attempts run out,
// or ctx is done. Each attempt gets its own timeout when the policy sets one.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	attempt := 0
	var stop error
	err := p.repeater(attempts).Do(ctx, func() error {
		if stop != nil {
			return stop
		}
		attempt++
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		defer cancel()

		err := fn(callCtx)
		if IsPermanent(err) {
			stop = err
		}
		if err != nil && stop == nil && attempt < attempts {
			logger.Debug("retrying call", "capability", p.Name, "attempt", attempt, "error", err.Error())
		}
		return err
	}, ErrPermanent)

	if stop != nil {
		err = stop
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return perm.err
	}
	return err
}

func (p Policy) repeater(attempts int) *repeater.Repeater {
	backoff := repeater.BackoffExponential
	switch {
	case p.Multiplier <= 1:
		backoff = repeater.BackoffConstant
	case p.Multiplier < 2:
		backoff = repeater.BackoffLinear
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	return repeater.NewBackoff(attempts, p.BaseDelay,
		repeater.WithBackoffType(backoff),
		repeater.WithMaxDelay(maxDelay),
		repeater.WithJitter(p.Jitter),
	)
}

// Set holds the policy for every external capability.
type Set struct {
	Search     Policy
	Resolve    Policy
	Crawl      Policy
	Embed      Policy
	Verify     Policy
	Generate   Policy
	Synthesize Policy
	Align      Policy
}

// NewSet builds the per-capability policies from configuration.
func NewSet(cfg *config.Config) Set {
	r := cfg.Retry
	gemini := config.Duration(cfg.AI.Gemini.Timeout, time.Minute)
	tts := config.Duration(cfg.TTS.Timeout, 3*time.Minute)
	return Set{
		Search:     FromConfig("search", r.Search, config.Duration(cfg.Search.Timeout, 15*time.Second)),
		Resolve:    FromConfig("resolve", r.Resolve, config.Duration(cfg.Resolve.Timeout, 10*time.Second)),
		Crawl:      FromConfig("crawl", r.Crawl, config.Duration(cfg.Crawl.Timeout, 20*time.Second)),
		Embed:      FromConfig("embed", r.Embed, gemini),
		Verify:     FromConfig("verify", r.Verify, gemini),
		Generate:   FromConfig("generate", r.Generate, gemini),
		Synthesize: FromConfig("synthesize", r.Synthesize, tts),
		Align:      FromConfig("align", r.Align, tts),
	}
}

// Once is a policy that makes a single attempt. Used by tests and dry runs.
func Once(name string) Policy {
	return Policy{Name: name, MaxAttempts: 1}
}
