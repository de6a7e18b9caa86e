package textutil

import (
	"math"
	"slices"
	"testing"
)

func TestTokenizeDropsFillerAndShortWords(t *testing.T) {
	got := Tokenize("So, yeah, the GIVEAWAY starts at 9pm and it's huge!")
	want := []string{"giveaway", "starts", "9pm", "huge"}
	if !slices.Equal(got, want) {
		t.Fatalf("Tokenize() = %v, want %v", got, want)
	}
}

func TestNewFingerprintEmpty(t *testing.T) {
	if fp := NewFingerprint("uh ok so the and"); fp != nil {
		t.Fatalf("expected nil fingerprint, got %d terms", fp.Len())
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		min  float64
		max  float64
	}{
		{"identical", "discount lipstick bundle", "discount lipstick bundle", 1, 1},
		{"disjoint", "discount lipstick bundle", "camera tripod lens", 0, 0},
		{"partial", "discount lipstick bundle", "discount camera bundle", 0.01, 0.99},
		{"empty side", "discount lipstick", "", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(NewFingerprint(tt.a), NewFingerprint(tt.b))
			if got < tt.min-1e-9 || got > tt.max+1e-9 {
				t.Fatalf("CosineSimilarity() = %v, want within [%v, %v]", got, tt.min, tt.max)
			}
		})
	}
}

func TestCosineSimilaritySymmetric(t *testing.T) {
	a := NewFingerprint("flash sale on serum today serum serum")
	b := NewFingerprint("serum review and flash giveaway")
	if ab, ba := CosineSimilarity(a, b), CosineSimilarity(b, a); math.Abs(ab-ba) > 1e-12 {
		t.Fatalf("asymmetric similarity %v vs %v", ab, ba)
	}
}

func TestIDFDownweightsCommonTerms(t *testing.T) {
	self := NewFingerprint("welcome everyone serum discount serum")
	rival := NewFingerprint("welcome everyone giveaway tripod")
	corpus := NewCorpus()
	corpus.Add(self)
	corpus.Add(rival)
	idf := corpus.IDF()

	if idf["welcome"] >= idf["serum"] {
		t.Fatalf("shared term weight %v should be below unique term weight %v", idf["welcome"], idf["serum"])
	}
	raw := CosineSimilarity(self, rival)
	weighted := CosineSimilarity(self.WithIDF(idf), rival.WithIDF(idf))
	if weighted >= raw {
		t.Fatalf("IDF weighting should lower similarity: raw %v weighted %v", raw, weighted)
	}
}

func TestSharedAndDistinctiveTerms(t *testing.T) {
	self := NewFingerprint("serum serum serum discount bundle shipping")
	rival := NewFingerprint("serum discount discount giveaway tripod tripod")

	shared := SharedTerms(self, rival, 5)
	if !slices.Equal(shared, []string{"discount", "serum"}) {
		t.Fatalf("SharedTerms() = %v", shared)
	}
	only := DistinctiveTerms(rival, self, 1)
	if !slices.Equal(only, []string{"tripod"}) {
		t.Fatalf("DistinctiveTerms() = %v", only)
	}
	if got := DistinctiveTerms(nil, self, 3); got != nil {
		t.Fatalf("expected nil for empty fingerprint, got %v", got)
	}
}
