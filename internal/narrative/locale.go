package narrative

import (
	"fmt"
	"strings"
)

// Locale describes how a briefing is written for one audience.
type Locale struct {
	Code     string
	Language string
	Greeting string
	// CJK locales are measured in characters rather than words.
	CJK bool
}

var locales = map[string]Locale{
	"en": {Code: "en", Language: "English", Greeting: "Good morning. Here is your briefing."},
	"es": {Code: "es", Language: "Spanish", Greeting: "Buenos días. Este es su resumen."},
	"fr": {Code: "fr", Language: "French", Greeting: "Bonjour. Voici votre briefing."},
	"de": {Code: "de", Language: "German", Greeting: "Guten Morgen. Hier ist Ihr Briefing."},
	"ko": {Code: "ko", Language: "Korean", Greeting: "좋은 아침입니다. 오늘의 브리핑입니다.", CJK: true},
	"ja": {Code: "ja", Language: "Japanese", Greeting: "おはようございます。本日のブリーフィングです。", CJK: true},
	"zh": {Code: "zh", Language: "Chinese", Greeting: "早上好。以下是今天的简报。", CJK: true},
}

// LookupLocale resolves a locale code such as "en" or "ko-KR".
func LookupLocale(code string) (Locale, error) {
	key := strings.ToLower(strings.TrimSpace(code))
	if i := strings.IndexAny(key, "-_"); i > 0 {
		key = key[:i]
	}
	l, ok := locales[key]
	if !ok {
		return Locale{}, fmt.Errorf("unsupported locale %q", code)
	}
	return l, nil
}

// Length measures narrative length in the unit the locale is budgeted in.
func (l Locale) Length(text string) int {
	if !l.CJK {
		return len(strings.Fields(text))
	}
	n := 0
	for _, r := range text {
		if r > ' ' {
			n++
		}
	}
	// Roughly two characters carry one word of meaning.
	return n / 2
}
