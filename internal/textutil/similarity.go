package textutil

import "sort"

// CosineSimilarity returns the cosine of the angle between a and b, zero when
// either is empty.
func CosineSimilarity(a, b *Fingerprint) float64 {
	if a == nil || b == nil || a.norm == 0 || b.norm == 0 {
		return 0
	}
	if len(b.terms) < len(a.terms) {
		a, b = b, a
	}
	var dot float64
	for term, w := range a.terms {
		dot += w * b.terms[term]
	}
	return dot / (a.norm * b.norm)
}

// SharedTerms returns up to n terms present in both fingerprints, strongest
// first by the smaller of the two weights.
func SharedTerms(a, b *Fingerprint, n int) []string {
	if a == nil || b == nil {
		return nil
	}
	scores := make(map[string]float64)
	for term, wa := range a.terms {
		if wb, ok := b.terms[term]; ok {
			scores[term] = min(wa, wb)
		}
	}
	return top(scores, n)
}

// DistinctiveTerms returns up to n terms of a that b never uses, by weight.
func DistinctiveTerms(a, b *Fingerprint, n int) []string {
	if a == nil {
		return nil
	}
	scores := make(map[string]float64)
	for term, w := range a.terms {
		if b.Weight(term) == 0 {
			scores[term] = w
		}
	}
	return top(scores, n)
}

func top(scores map[string]float64, n int) []string {
	if n <= 0 || len(scores) == 0 {
		return nil
	}
	terms := make([]string, 0, len(scores))
	for term := range scores {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if scores[terms[i]] != scores[terms[j]] {
			return scores[terms[i]] > scores[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > n {
		terms = terms[:n]
	}
	return terms
}
