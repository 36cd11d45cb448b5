package narrative

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"storyline/internal/core"
)

var chapterMarker = regexp.MustCompile(`\[CHAPTER:\s*([^\]\n]*)\]`)

// ParseChapters strips inline chapter markers from raw narrative text. Each
// marker becomes a chapter whose position is the rune offset of the text that
// follows it, normalized by the length of the cleaned text. Paragraphs on either
// side of a marker are separated by a blank line. Markers with an empty title or
// with no text after them are dropped.
func ParseChapters(raw string) (string, []core.Chapter) {
	matches := chapterMarker.FindAllStringSubmatchIndex(raw, -1)
	if len(matches) == 0 {
		return strings.TrimSpace(raw), nil
	}

	type pending struct {
		title  string
		offset int
	}
	var (
		b        strings.Builder
		marks    []pending
		runes    int
		last     int
		titles   []string
		segments []string
	)

	// segments[i] is the text before marker i; the final segment follows the last marker.
	for _, m := range matches {
		segments = append(segments, raw[last:m[0]])
		titles = append(titles, strings.TrimSpace(raw[m[2]:m[3]]))
		last = m[1]
	}
	segments = append(segments, raw[last:])

	write := func(seg string) {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
			runes += 2
		}
		b.WriteString(seg)
		runes += utf8.RuneCountInString(seg)
	}

	write(segments[0])
	for i, title := range titles {
		next := strings.TrimSpace(segments[i+1])
		if title != "" && next != "" {
			offset := runes
			if b.Len() > 0 {
				offset += 2
			}
			marks = append(marks, pending{title: title, offset: offset})
		}
		write(next)
	}

	text := b.String()
	if runes == 0 {
		return "", nil
	}
	chapters := make([]core.Chapter, 0, len(marks))
	for _, p := range marks {
		chapters = append(chapters, core.Chapter{Title: p.title, Position: float64(p.offset) / float64(runes)})
	}
	return text, chapters
}

// CountMarkers reports how many chapter markers raw text carries.
func CountMarkers(raw string) int {
	return len(chapterMarker.FindAllStringIndex(raw, -1))
}

// SplitChapters cuts cleaned text back into sections at the chapter positions.
// Text before the first chapter is returned as an untitled section.
func SplitChapters(text string, chapters []core.Chapter) []Section {
	runes := []rune(text)
	total := len(runes)
	if total == 0 {
		return nil
	}

	var sections []Section
	start, title := 0, ""
	for _, ch := range chapters {
		at := int(ch.Position*float64(total) + 0.5)
		if at < start {
			at = start
		}
		if at > total {
			at = total
		}
		if body := strings.TrimSpace(string(runes[start:at])); body != "" || title != "" {
			sections = append(sections, Section{Title: title, Body: body})
		}
		start, title = at, ch.Title
	}
	sections = append(sections, Section{Title: title, Body: strings.TrimSpace(string(runes[start:]))})
	return sections
}

// Section is one titled span of a narrative.
type Section struct {
	Title string
	Body  string
}
