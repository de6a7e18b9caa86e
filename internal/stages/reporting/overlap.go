package reporting

import (
	"math"
	"sort"
	"strings"

	"rivalcast/internal/queue"
	"rivalcast/internal/textutil"
)

const overlapTerms = 8

// TopicOverlap compares the vocabulary of one competitor with self.
type TopicOverlap struct {
	Competitor     string   `json:"competitor"`
	Similarity     float64  `json:"similarity"`
	SharedTopics   []string `json:"shared_topics"`
	CompetitorOnly []string `json:"competitor_only"`
	SelfOnly       []string `json:"self_only"`
}

// topicOverlap weighs every participant's full transcript against the whole
// order, then compares self with each competitor. It returns nil when self
// has no transcript.
func topicOverlap(files []*queue.VideoFile, segments []*queue.Segment) []TopicOverlap {
	text := make(map[int64]*strings.Builder, len(files))
	for _, segment := range segments {
		b := text[segment.VideoFileID]
		if b == nil {
			b = &strings.Builder{}
			text[segment.VideoFileID] = b
		}
		b.WriteString(segment.Transcript)
		b.WriteByte('\n')
	}

	prints := make(map[string]*textutil.Fingerprint, len(files))
	corpus := textutil.NewCorpus()
	for _, file := range files {
		var fp *textutil.Fingerprint
		if b := text[file.ID]; b != nil {
			fp = textutil.NewFingerprint(b.String())
		}
		prints[file.Role] = fp
		corpus.Add(fp)
	}
	idf := corpus.IDF()

	self := prints[queue.RoleSelf].WithIDF(idf)
	if self == nil {
		return nil
	}
	roles := make([]string, 0, len(prints))
	for role := range prints {
		if role != queue.RoleSelf {
			roles = append(roles, role)
		}
	}
	sort.Slice(roles, func(i, j int) bool {
		ni, _ := queue.CompetitorIndex(roles[i])
		nj, _ := queue.CompetitorIndex(roles[j])
		return ni < nj
	})

	out := make([]TopicOverlap, 0, len(roles))
	for _, role := range roles {
		rival := prints[role].WithIDF(idf)
		out = append(out, TopicOverlap{
			Competitor:     role,
			Similarity:     math.Round(textutil.CosineSimilarity(self, rival)*1000) / 1000,
			SharedTopics:   textutil.SharedTerms(self, rival, overlapTerms),
			CompetitorOnly: textutil.DistinctiveTerms(rival, self, overlapTerms),
			SelfOnly:       textutil.DistinctiveTerms(self, rival, overlapTerms),
		})
	}
	return out
}
