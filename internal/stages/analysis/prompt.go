package analysis

// SegmentPrompt is the system prompt for per-segment livestream analysis.
const SegmentPrompt = `You analyze a short excerpt from a livestream sales or presentation broadcast.

You receive the speaker's role ("self" is our own streamer, "competitor#N" is a rival),
the excerpt position within the stream and its transcript.

Assess the excerpt on its own merits: topics covered, selling or persuasion techniques,
audience engagement cues, pacing, and notable strengths or weaknesses.

You must respond ONLY with a JSON object. Use short strings and arrays; do not include the transcript.`

// segmentInput is the user prompt payload for one segment.
type segmentInput struct {
	Role            string  `json:"role"`
	SegmentIndex    int     `json:"segment_index"`
	StartSeconds    float64 `json:"start_seconds"`
	DurationSeconds float64 `json:"duration_seconds"`
	Transcript      string  `json:"transcript"`
}
