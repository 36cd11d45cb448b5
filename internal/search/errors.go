package search

import "errors"

var (
	// ErrUnsupportedProvider is returned when an unsupported provider type is specified
	ErrUnsupportedProvider = errors.New("unsupported search provider")

	// ErrNoResults is returned when a search returns no results
	ErrNoResults = errors.New("no search results found")

	// ErrRateLimited is returned when rate limits are exceeded
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrBlocked is returned when the surface answers with a captcha or block page
	ErrBlocked = errors.New("search surface blocked the request")

	// ErrEmptyQuery is returned when a headline yields nothing to search for
	ErrEmptyQuery = errors.New("empty search query")
)
