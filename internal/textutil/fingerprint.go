package textutil

import (
	"math"
	"regexp"
	"strings"
)

var tokenSplitPattern = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// stopWords are spoken filler and function words that carry no topic.
var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {}, "you": {},
	"all": {}, "any": {}, "can": {}, "had": {}, "her": {}, "was": {}, "one": {},
	"our": {}, "out": {}, "has": {}, "have": {}, "him": {}, "his": {}, "how": {},
	"its": {}, "let": {}, "now": {}, "see": {}, "she": {}, "too": {}, "use": {},
	"that": {}, "this": {}, "with": {}, "they": {}, "from": {}, "what": {},
	"were": {}, "when": {}, "your": {}, "just": {}, "like": {}, "yeah": {},
	"okay": {}, "gonna": {}, "there": {}, "their": {}, "then": {}, "them": {},
	"will": {}, "would": {}, "could": {}, "about": {}, "really": {}, "right": {},
	"know": {}, "here": {}, "into": {}, "some": {}, "than": {}, "very": {},
	"been": {}, "also": {}, "don": {}, "going": {},
}

// Fingerprint is a weighted term vector.
type Fingerprint struct {
	terms map[string]float64
	norm  float64
}

// NewFingerprint builds a term-frequency fingerprint. It returns nil when the
// text has no usable tokens.
func NewFingerprint(text string) *Fingerprint {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	counts := make(map[string]float64, len(tokens))
	for _, token := range tokens {
		counts[token]++
	}
	return newWeighted(counts)
}

func newWeighted(terms map[string]float64) *Fingerprint {
	var sum float64
	for _, w := range terms {
		sum += w * w
	}
	if sum == 0 {
		return nil
	}
	return &Fingerprint{terms: terms, norm: math.Sqrt(sum)}
}

// Tokenize lowercases text and returns its topic-bearing tokens in order.
func Tokenize(text string) []string {
	raw := tokenSplitPattern.Split(strings.ToLower(text), -1)
	tokens := make([]string, 0, len(raw))
	for _, token := range raw {
		if len([]rune(token)) < 3 {
			continue
		}
		if _, skip := stopWords[token]; skip {
			continue
		}
		tokens = append(tokens, token)
	}
	return tokens
}

// Len returns the number of distinct terms.
func (f *Fingerprint) Len() int {
	if f == nil {
		return 0
	}
	return len(f.terms)
}

// Weight returns the weight of term, zero when absent.
func (f *Fingerprint) Weight(term string) float64 {
	if f == nil {
		return 0
	}
	return f.terms[term]
}

// WithIDF returns a copy reweighted by idf. Terms missing from idf keep their
// weight; terms whose weight drops to zero are removed.
func (f *Fingerprint) WithIDF(idf map[string]float64) *Fingerprint {
	if f == nil || len(idf) == 0 {
		return f
	}
	weighted := make(map[string]float64, len(f.terms))
	for term, count := range f.terms {
		w := count
		if v, ok := idf[term]; ok {
			w *= v
		}
		if w != 0 {
			weighted[term] = w
		}
	}
	return newWeighted(weighted)
}

// Corpus accumulates document frequencies.
type Corpus struct {
	docs    int
	docFreq map[string]int
}

func NewCorpus() *Corpus {
	return &Corpus{docFreq: make(map[string]int)}
}

// Add counts each distinct term of fp once. Nil fingerprints still count as
// a document.
func (c *Corpus) Add(fp *Fingerprint) {
	c.docs++
	if fp == nil {
		return
	}
	for term := range fp.terms {
		c.docFreq[term]++
	}
}

// IDF returns smoothed inverse document frequencies, log((N+1)/df). A term
// present in every document still keeps a small positive weight.
func (c *Corpus) IDF() map[string]float64 {
	if c.docs == 0 {
		return nil
	}
	n := float64(c.docs)
	idf := make(map[string]float64, len(c.docFreq))
	for term, df := range c.docFreq {
		idf[term] = math.Log((n + 1) / float64(df))
	}
	return idf
}
