package resort

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// MatchKind records which stage of the matcher resolved a name.
type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchExact
	MatchContains
	MatchPhonetic
	MatchFuzzy
)

// String returns the lower-case name of the kind.
func (k MatchKind) String() string {
	switch k {
	case MatchExact:
		return "exact"
	case MatchContains:
		return "contains"
	case MatchPhonetic:
		return "phonetic"
	case MatchFuzzy:
		return "fuzzy"
	default:
		return "none"
	}
}

// Match is the outcome of a name lookup.
type Match struct {
	Name  string
	Index int
	Score float64
	Kind  MatchKind
}

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a candidate
// that shares a Double Metaphone code with the query. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a candidate with
// no phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher resolves a query against a list of names in four stages:
//
//  1. Exact match after normalisation (case, punctuation, a leading "the").
//  2. Containment: the query contains exactly one name, or exactly one name
//     contains the query.
//  3. Phonetic: names sharing a Double Metaphone code with any query token,
//     ranked by Jaro-Winkler and accepted above the phonetic threshold.
//  4. Fuzzy: pure Jaro-Winkler against every name above the fuzzy threshold.
//
// Ties in stages 3 and 4 go to the higher full-string score, then to the
// earlier name. A Matcher is read-only after construction.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewMatcher returns a Matcher configured with opts.
func NewMatcher(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match resolves query against names.
func (m *Matcher) Match(query string, names []string) (Match, bool) {
	q := normalize(query)
	if q == "" || len(names) == 0 {
		return Match{Index: -1}, false
	}

	norm := make([]string, len(names))
	for i, n := range names {
		norm[i] = normalize(n)
		if norm[i] != "" && norm[i] == q {
			return Match{Name: names[i], Index: i, Score: 1, Kind: MatchExact}, true
		}
	}

	if i := uniqueContains(q, norm); i >= 0 {
		return Match{Name: names[i], Index: i, Score: 1, Kind: MatchContains}, true
	}

	qTokens := strings.Fields(q)
	qCodes := codesForTokens(qTokens)

	type candidate struct {
		index    int
		score    float64
		full     float64
		phonetic bool
	}
	best := candidate{index: -1}
	better := func(c candidate) bool {
		if best.index < 0 {
			return true
		}
		if c.phonetic != best.phonetic {
			return c.phonetic
		}
		if c.score != best.score {
			return c.score > best.score
		}
		return c.full > best.full
	}

	for i, n := range norm {
		if n == "" {
			continue
		}
		nTokens := strings.Fields(n)
		score := bestJWScore(qTokens, nTokens, q, n)
		c := candidate{
			index:    i,
			score:    score,
			full:     matchr.JaroWinkler(q, n, false),
			phonetic: codesOverlap(qCodes, codesForTokens(nTokens)),
		}
		threshold := m.fuzzyThreshold
		if c.phonetic {
			threshold = m.phoneticThreshold
		}
		if score >= threshold && better(c) {
			best = c
		}
	}

	if best.index < 0 {
		return Match{Index: -1}, false
	}
	kind := MatchFuzzy
	if best.phonetic {
		kind = MatchPhonetic
	}
	return Match{Name: names[best.index], Index: best.index, Score: best.score, Kind: kind}, true
}

// normalize lower-cases s, drops punctuation, collapses whitespace and strips
// a leading article.
func normalize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		case unicode.IsSpace(r), r == '-':
			return ' '
		}
		return -1
	}, s)
	fields := strings.Fields(s)
	if len(fields) > 1 && fields[0] == "the" {
		fields = fields[1:]
	}
	return strings.Join(fields, " ")
}

// uniqueContains returns the index of the only name that contains q or is
// contained in q on word boundaries, or -1.
func uniqueContains(q string, names []string) int {
	found := -1
	pq := " " + q + " "
	for i, n := range names {
		if n == "" {
			continue
		}
		pn := " " + n + " "
		if strings.Contains(pq, pn) || strings.Contains(pn, pq) {
			if found >= 0 {
				return -1
			}
			found = i
		}
	}
	return found
}

// codesForTokens returns the union of the Double Metaphone codes of tokens.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the highest Jaro-Winkler similarity over the full strings,
// the space-stripped strings, and every token pair of at least three letters.
func bestJWScore(qTokens, nTokens []string, qFull, nFull string) float64 {
	score := matchr.JaroWinkler(qFull, nFull, false)

	if len(qTokens) > 1 || len(nTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(qTokens, ""), strings.Join(nTokens, ""), false); s > score {
			score = s
		}
	}

	for _, qt := range qTokens {
		if len(qt) < 3 {
			continue
		}
		for _, nt := range nTokens {
			if len(nt) < 3 {
				continue
			}
			if s := matchr.JaroWinkler(qt, nt, false); s > score {
				score = s
			}
		}
	}
	return score
}
