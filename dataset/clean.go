package dataset

import (
	"strings"
	"unicode"

	"github.com/kljensen/snowball"
)

var stopwords = toSet(strings.Fields(`
a about above after again against all am an and any are as at be because been before
being below between both but by can could did do does doing down during each few for
from further had has have having he her here hers herself him himself his how i if in
into is it its itself just me more most my myself no nor not now of off on once only or
other our ours ourselves out over own same she should so some such than that the their
theirs them themselves then there these they this those through to too under until up
very was we were what when where which while who whom why will with would you your yours
yourself yourselves`))

func toSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Cleaner applies optional stop-word removal and lemmatization to essay text
type Cleaner struct {
	removeStopwords bool
	lemmatize       bool
}

// NewCleaner creates a cleaner. With both options off Clean is the identity.
func NewCleaner(removeStopwords, lemmatize bool) *Cleaner {
	return &Cleaner{removeStopwords: removeStopwords, lemmatize: lemmatize}
}

// Clean returns the cleaned text: lowercased words with surrounding punctuation
// dropped, joined by single spaces.
func (c *Cleaner) Clean(text string) string {
	if !c.removeStopwords && !c.lemmatize {
		return text
	}

	words := strings.Fields(text)
	out := make([]string, 0, len(words))
	for _, word := range words {
		bare := strings.ToLower(strings.TrimFunc(word, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		}))
		if bare == "" {
			continue
		}
		if c.removeStopwords {
			if _, stop := stopwords[bare]; stop {
				continue
			}
		}
		if c.lemmatize {
			if stem, err := snowball.Stem(bare, "english", true); err == nil && stem != "" {
				bare = stem
			}
		}
		out = append(out, bare)
	}
	return strings.Join(out, " ")
}
