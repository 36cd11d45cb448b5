package search

import (
	"regexp"
	"strings"
	"unicode"

	"storyline/internal/core"
)

const defaultMaxTerms = 4

var (
	dollarTicker   = regexp.MustCompile(`\$([A-Z]{1,5})\b`)
	exchangeTicker = regexp.MustCompile(`\((?:NASDAQ|NYSE|AMEX|NYSEARCA|OTC|TSX|LSE|KRX|KOSDAQ|TSE)\s*:\s*([A-Z][A-Z.]{0,5})\)`)
	tokenPattern   = regexp.MustCompile(`[\p{L}\p{N}][\p{L}\p{N}'’.&-]*|[^\s\p{L}\p{N}]`)
)

// Upper-case words that are almost never tickers or named entities in headlines.
var commonAcronyms = map[string]bool{
	"AI": true, "CEO": true, "CFO": true, "CTO": true, "COO": true, "US": true, "USA": true,
	"UK": true, "EU": true, "UN": true, "IPO": true, "ETF": true, "GDP": true, "CPI": true,
	"PCE": true, "TV": true, "PC": true, "EV": true, "EVS": true, "LLM": true, "API": true,
	"Q1": true, "Q2": true, "Q3": true, "Q4": true, "YOY": true, "ESG": true, "M&A": true,
	"U.S.": true, "U.K.": true, "E.U.": true,
}

var entityStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true, "in": true,
	"on": true, "at": true, "to": true, "for": true, "with": true, "by": true, "from": true,
	"as": true, "after": true, "before": true, "over": true, "under": true, "is": true,
	"are": true, "was": true, "be": true, "new": true, "says": true, "said": true,
	"this": true, "that": true, "its": true, "how": true, "why": true, "what": true,
	"when": true, "who": true, "will": true, "can": true, "could": true, "would": true,
	"should": true, "may": true, "amid": true, "vs": true, "into": true, "than": true,
}

// QueryBuilder turns a headline into a short disjunctive search query.
type QueryBuilder struct {
	MaxTerms int
}

// NewQueryBuilder creates a builder capped at maxTerms terms.
func NewQueryBuilder(maxTerms int) *QueryBuilder {
	if maxTerms <= 0 {
		maxTerms = defaultMaxTerms
	}
	return &QueryBuilder{MaxTerms: maxTerms}
}

// Terms extracts ticker-like tokens first, then capitalized entity runs. A company
// name that spells its own ticker is dropped in favor of the ticker.
func (b *QueryBuilder) Terms(title string) []string {
	tickers, rest := explicitTickers(title)
	tokens := tokenPattern.FindAllString(rest, -1)
	hasLower := strings.IndexFunc(title, unicode.IsLower) >= 0

	var entities []string
	if hasLower {
		titleCase := isTitleCase(tokens)
		var run []string
		flush := func() {
			if len(run) > 0 && !titleCase {
				if len(run) > 3 {
					run = run[:3]
				}
				entities = append(entities, strings.Join(run, " "))
			}
			run = nil
		}
		for _, tok := range tokens {
			word := strings.TrimSuffix(strings.TrimSuffix(tok, "'s"), "’s")
			switch {
			case isBareTicker(word):
				flush()
				tickers = append(tickers, word)
			case isEntityWord(word):
				run = append(run, word)
			default:
				flush()
			}
		}
		flush()
	}

	var terms []string
	seen := make(map[string]bool)
	add := func(term string) {
		key := strings.ToLower(term)
		if term == "" || seen[key] || len(terms) >= b.MaxTerms {
			return
		}
		seen[key] = true
		terms = append(terms, term)
	}
	for _, t := range tickers {
		add(t)
	}
	for _, e := range entities {
		if !namesAnyTicker(e, tickers) {
			add(e)
		}
	}
	return terms
}

// Build returns the OR-joined quoted query for title, or "" when nothing qualifies.
func (b *QueryBuilder) Build(title string) string {
	return JoinTerms(b.Terms(title))
}

// Queries returns the queries to try for item, most specific first. The plain
// headline is always the last resort.
func (b *QueryBuilder) Queries(item core.FeedItem) []string {
	var queries []string
	if q := b.Build(item.Title); q != "" {
		queries = append(queries, q)
	}
	plain := strings.Join(strings.Fields(strings.ReplaceAll(item.Title, `"`, "")), " ")
	if plain != "" && (len(queries) == 0 || queries[0] != plain) {
		queries = append(queries, plain)
	}
	return queries
}

// JoinTerms quotes each term and joins them with OR.
func JoinTerms(terms []string) string {
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, "")+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// explicitTickers pulls $TICK and (EXCHANGE: TICK) forms and blanks them out of the text.
func explicitTickers(title string) ([]string, string) {
	var tickers []string
	rest := title
	for _, re := range []*regexp.Regexp{exchangeTicker, dollarTicker} {
		for _, m := range re.FindAllStringSubmatch(rest, -1) {
			tickers = append(tickers, strings.TrimSuffix(m[1], "."))
		}
		rest = re.ReplaceAllString(rest, " , ")
	}
	return tickers, rest
}

func isBareTicker(word string) bool {
	if len(word) < 2 || len(word) > 5 || commonAcronyms[word] {
		return false
	}
	for _, r := range word {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func isEntityWord(word string) bool {
	r := []rune(word)
	if len(r) == 0 || !unicode.IsUpper(r[0]) {
		return false
	}
	return !entityStopwords[strings.ToLower(word)] && !commonAcronyms[strings.ToUpper(word)]
}

// isTitleCase reports whether nearly every content word after the first is capitalized,
// in which case capitalization says nothing about entities.
func isTitleCase(tokens []string) bool {
	content, capitalized := 0, 0
	for i, tok := range tokens {
		r := []rune(tok)
		if i == 0 || !unicode.IsLetter(r[0]) || entityStopwords[strings.ToLower(tok)] {
			continue
		}
		content++
		if unicode.IsUpper(r[0]) {
			capitalized++
		}
	}
	return content >= 3 && float64(capitalized) >= 0.75*float64(content)
}

// namesAnyTicker reports whether entity spells one of the tickers: same first letter
// and the ticker's letters appear in order in the name (AAPL/Apple, AMD/Advanced Micro Devices).
func namesAnyTicker(entity string, tickers []string) bool {
	letters := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) {
			return unicode.ToUpper(r)
		}
		return -1
	}, entity)
	for _, t := range tickers {
		if tickerSpells(collapseRepeats(t), letters) {
			return true
		}
	}
	return false
}

func collapseRepeats(s string) string {
	var b strings.Builder
	var prev rune
	for i, r := range s {
		if i == 0 || r != prev {
			b.WriteRune(r)
		}
		prev = r
	}
	return b.String()
}

func tickerSpells(ticker, name string) bool {
	if ticker == "" || name == "" || ticker[0] != name[0] {
		return false
	}
	j := 0
	for i := 0; i < len(name) && j < len(ticker); i++ {
		if name[i] == ticker[j] {
			j++
		}
	}
	return j == len(ticker)
}
