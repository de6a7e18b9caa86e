package reporting

import "encoding/json"

// ComparisonPrompt is the system prompt for the order-level comparison report.
const ComparisonPrompt = `You compare livestream performances. The input lists participants: "self" is our own
streamer and each "competitor#N" is a rival. Every participant has per-segment analyses
in playback order. "topic_overlap", when present, scores how much of self's vocabulary each
competitor shares (0 to 1) and lists the topics only one side covered.

Produce a comparison report covering: overall verdict, where self is ahead, where self
falls behind each competitor, and concrete, prioritized recommendations for self.

You must respond ONLY with a JSON object.`

type reportInput struct {
	OrderID      int64              `json:"order_id"`
	Participants []participantInput `json:"participants"`
	TopicOverlap []TopicOverlap     `json:"topic_overlap,omitempty"`
}

type participantInput struct {
	Role        string         `json:"role"`
	VideoFileID int64          `json:"video_file_id"`
	Segments    []segmentInput `json:"segments"`
}

type segmentInput struct {
	Index           int             `json:"index"`
	StartSeconds    float64         `json:"start_seconds"`
	DurationSeconds float64         `json:"duration_seconds"`
	Analysis        json.RawMessage `json:"analysis"`
}
