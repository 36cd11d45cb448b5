package tts

import (
	"strings"
	"unicode"

	"storyline/internal/core"
)

// closers may trail a sentence terminator.
const closers = `"'”’)]」』）`

// spacelessLocales join fragments without a space.
var spacelessLocales = map[string]bool{"ja": true, "zh": true}

// EndsSentence reports whether text ends with sentence-ending punctuation.
// Latin and full-width CJK terminators are recognized in every locale.
func EndsSentence(text string) bool {
	text = strings.TrimRightFunc(text, unicode.IsSpace)
	text = strings.TrimRight(text, closers)
	runes := []rune(text)
	return len(runes) > 0 && isTerminator(runes[len(runes)-1])
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '…', '。', '！', '？', '．':
		return true
	}
	return false
}

// MergeSentences joins timed fragments until each ends a sentence. The merged
// sentence starts where its first fragment starts and ends where its last ends.
// A trailing fragment without a terminator becomes its own sentence.
func MergeSentences(fragments []core.Sentence, locale string) []core.Sentence {
	sep := " "
	if spacelessLocales[languageCode(locale)] {
		sep = ""
	}

	var (
		out     []core.Sentence
		current core.Sentence
		open    bool
	)
	for _, f := range fragments {
		text := strings.TrimSpace(f.Text)
		if text == "" {
			continue
		}
		if !open {
			current = core.Sentence{Text: text, Start: f.Start, End: f.End}
			open = true
		} else {
			current.Text += sep + text
			current.End = f.End
		}
		if EndsSentence(text) {
			out = append(out, current)
			open = false
		}
	}
	if open {
		out = append(out, current)
	}
	return out
}

// SplitSentences splits plain text into sentences. A Latin terminator only ends
// a sentence when whitespace or the end of text follows it, so "3.5" stays whole;
// full-width terminators always end one.
func SplitSentences(text string) []string {
	runes := []rune(text)
	var out []string
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		j := i + 1
		for j < len(runes) && (isTerminator(runes[j]) || strings.ContainsRune(closers, runes[j])) {
			j++
		}
		if j < len(runes) && !unicode.IsSpace(runes[j]) && runes[i] < 0x3000 {
			i = j - 1
			continue
		}
		if s := strings.TrimSpace(string(runes[start:j])); s != "" {
			out = append(out, s)
		}
		start = j
		i = j - 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}
