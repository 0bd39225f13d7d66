package model

import "time"

// TrackedObject is the durable unit of identity for one physical object
// followed across frames. The pipeline orchestrator is its single
// writer; at most one live track exists per identity.
type TrackedObject struct {
	ID             string    `json:"id"`
	Label          string    `json:"label"`
	Region         Rect      `json:"region"`
	Confidence     float64   `json:"confidence"` // detector confidence, best seen
	FirstSeenAt    time.Time `json:"first_seen_at"`
	LastSeenAt     time.Time `json:"last_seen_at"`
	LastSeenFrame  int64     `json:"last_seen_frame"`
	DetectionCount int       `json:"detection_count"`
	Misses         int       `json:"misses"`

	// Best-known text reading. Improves monotonically; see ImproveText.
	BestText       string  `json:"best_text,omitempty"`
	BestConfidence float64 `json:"best_confidence"`

	Finalized bool `json:"finalized"`

	// RecordID links the track to its persisted detection record once
	// one exists.
	RecordID string `json:"record_id,omitempty"`
}

// ImproveText updates the best-known reading only if the new confidence
// is at least the stored one, and reports whether it did. A later,
// noisier frame can never regress the stored reading.
func (t *TrackedObject) ImproveText(text string, confidence float64) bool {
	if text == "" || confidence < t.BestConfidence {
		return false
	}
	if confidence == t.BestConfidence && t.BestText != "" {
		return false
	}
	t.BestText = text
	t.BestConfidence = confidence
	return true
}

// Expired reports whether the track has gone unseen longer than the
// liveness window.
func (t *TrackedObject) Expired(now time.Time, window time.Duration) bool {
	return now.Sub(t.LastSeenAt) > window
}
