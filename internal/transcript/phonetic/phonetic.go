// Package phonetic decides whether a finished user line calls the assistant
// by name. Speech recognition mangles unusual names ("Guru" comes back as
// "guroo" or "gurru"), so exact matching is not enough.
//
// A [Detector] is built once over the wake name and its aliases. Each name
// is folded, split into tokens and given its Double Metaphone codes up
// front. A phrase then matches a name when
//
//   - both fold to the same text (score 1), or
//   - they share a phonetic code and their Jaro-Winkler similarity reaches
//     the phonetic threshold, or
//   - no name is a phonetic candidate and similarity alone reaches the
//     stricter fuzzy threshold.
package phonetic

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// minFuzzyRunes is the shortest single word given a non-exact match.
	// Shorter words ("go", "to") collide with short names far too often.
	minFuzzyRunes = 3
)

// Option configures a [Detector].
type Option func(*Detector)

// WithPhoneticThreshold sets the similarity a phonetic candidate needs.
// Default 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(d *Detector) { d.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the similarity needed without a phonetic
// candidate. Default 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(d *Detector) { d.fuzzyThreshold = threshold }
}

// Detection is the outcome of [Detector.Detect].
type Detection struct {
	// Matched reports whether the line addresses the assistant.
	Matched bool

	// Name is the configured name that matched.
	Name string

	// Heard is the word or word pair from the line that matched.
	Heard string

	// Score is the Jaro-Winkler confidence, 1 for exact matches.
	Score float64
}

type nameForm struct {
	display string
	folded  string
	tokens  []string
	codes   map[string]struct{}
}

// Detector finds the assistant's name in transcript lines. It is read-only
// after construction and safe for concurrent use.
type Detector struct {
	names             []nameForm
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewDetector returns a Detector for names (the wake name plus aliases).
// Blank names are ignored.
func NewDetector(names []string, opts ...Option) *Detector {
	d := &Detector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(d)
	}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		f := fold(n)
		tokens := strings.Fields(f)
		d.names = append(d.names, nameForm{display: n, folded: f, tokens: tokens, codes: metaphones(tokens)})
	}
	return d
}

// Names returns the configured names.
func (d *Detector) Names() []string {
	out := make([]string, len(d.names))
	for i, n := range d.names {
		out[i] = n.display
	}
	return out
}

// Detect scans every word of line, then every adjacent word pair, and
// returns the best match. Pairs only catch names the recognizer split.
func (d *Detector) Detect(line string) Detection {
	if len(d.names) == 0 {
		return Detection{}
	}
	words := strings.FieldsFunc(line, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && !unicode.In(r, unicode.Mn, unicode.Mc)
	})

	var best Detection
	consider := func(phrase string) {
		if name, score, ok := d.Score(phrase); ok && score > best.Score {
			best = Detection{Matched: true, Name: name, Heard: phrase, Score: score}
		}
	}
	for _, w := range words {
		if utf8.RuneCountInString(w) < minFuzzyRunes {
			if n, ok := d.exact(fold(w)); ok {
				return Detection{Matched: true, Name: n, Heard: w, Score: 1}
			}
			continue
		}
		consider(w)
		if best.Score == 1 {
			return best
		}
	}
	if best.Matched {
		return best
	}
	for i := 0; i+1 < len(words); i++ {
		consider(words[i] + " " + words[i+1])
	}
	return best
}

// Score rates phrase against every configured name and returns the best
// accepted one. ok is false when no name clears its threshold.
func (d *Detector) Score(phrase string) (name string, score float64, ok bool) {
	f := fold(strings.TrimSpace(phrase))
	if f == "" {
		return "", 0, false
	}
	if n, ok := d.exact(f); ok {
		return n, 1, true
	}
	tokens := strings.Fields(f)
	codes := metaphones(tokens)

	var phonetic bool
	for _, n := range d.names {
		s := similarity(tokens, n.tokens, f, n.folded)
		switch {
		case sharesCode(codes, n.codes) && s >= d.phoneticThreshold:
			if !phonetic || s > score {
				name, score, phonetic = n.display, s, true
			}
		case !phonetic && s >= d.fuzzyThreshold && s > score:
			name, score = n.display, s
		}
	}
	return name, score, name != ""
}

func (d *Detector) exact(folded string) (string, bool) {
	for _, n := range d.names {
		if n.folded == folded {
			return n.display, true
		}
	}
	return "", false
}

// fold lowercases s with full Unicode case folding after NFC composition,
// so "GURÚ" typed with a combining accent equals "gurú".
func fold(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}

// metaphones returns the union of the Double Metaphone codes of tokens.
// Tokens without consonants produce no code.
func metaphones(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		primary, alternate := matchr.DoubleMetaphone(t)
		for _, c := range [...]string{primary, alternate} {
			if c != "" {
				codes[c] = struct{}{}
			}
		}
	}
	return codes
}

func sharesCode(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// similarity is the best Jaro-Winkler score over the whole phrases, the
// phrases with spaces removed ("goo roo" vs "guru") and every token pair.
func similarity(heard, name []string, heardFull, nameFull string) float64 {
	best := matchr.JaroWinkler(heardFull, nameFull, false)
	if len(heard) > 1 || len(name) > 1 {
		best = max(best, matchr.JaroWinkler(strings.Join(heard, ""), strings.Join(name, ""), false))
	}
	for _, h := range heard {
		for _, n := range name {
			best = max(best, matchr.JaroWinkler(h, n, false))
		}
	}
	return best
}
