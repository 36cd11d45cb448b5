package ingest

import (
	"html"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gosimple/slug"
	"github.com/microcosm-cc/bluemonday"
)

const (
	maxSlugLength    = 80
	maxSectionLength = 24
	defaultCategory  = "general"
)

var stripPolicy = bluemonday.StrictPolicy()

// CleanText strips markup and entities from feed text and collapses whitespace.
func CleanText(s string) string {
	s = html.UnescapeString(stripPolicy.Sanitize(s))
	return strings.Join(strings.Fields(s), " ")
}

// Slug builds a URL slug from a title, cut on a word boundary.
func Slug(title string) string {
	s := slug.Make(title)
	if len(s) <= maxSlugLength {
		return s
	}
	s = s[:maxSlugLength]
	if i := strings.LastIndexByte(s, '-'); i > maxSlugLength/2 {
		s = s[:i]
	}
	return strings.Trim(s, "-")
}

// Classify derives (category, subcategory) from the section segments of a link's
// path, e.g. /business/markets/fed-holds-rates gives ("business", "markets").
// When the path carries no subcategory the feed's own label is the category.
func Classify(link, feedLabel string) (string, string) {
	sections := sectionSegments(link)
	feedLabel = strings.ToLower(strings.TrimSpace(feedLabel))
	switch {
	case len(sections) >= 2:
		return sections[0], sections[1]
	case feedLabel != "":
		if len(sections) == 1 && sections[0] != feedLabel {
			return feedLabel, sections[0]
		}
		return feedLabel, ""
	case len(sections) == 1:
		return sections[0], ""
	}
	return defaultCategory, ""
}

// sectionSegments returns the leading path segments that look like site
// sections. Dates, ids and the article slug end the walk.
func sectionSegments(link string) []string {
	u, err := url.Parse(link)
	if err != nil {
		return nil
	}
	parts := strings.FieldsFunc(strings.ToLower(u.Path), func(r rune) bool { return r == '/' })
	if len(parts) > 1 {
		parts = parts[:len(parts)-1] // article slug
	}
	var out []string
	for _, p := range parts {
		if !isSection(p) {
			break
		}
		out = append(out, p)
	}
	return out
}

func isSection(seg string) bool {
	if seg == "" || utf8.RuneCountInString(seg) > maxSectionLength || strings.Count(seg, "-") > 1 {
		return false
	}
	for _, r := range seg {
		if r != '-' && !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// IsJunk reports whether the link's path contains one of the deny-listed
// fragments, e.g. "/video/".
func IsJunk(link string, junkPaths []string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	for _, frag := range junkPaths {
		if frag != "" && strings.Contains(path, strings.ToLower(frag)) {
			return true
		}
	}
	return false
}
