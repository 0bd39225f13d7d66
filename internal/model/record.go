package model

import "time"

// RecordStatus represents the lifecycle state of a detection record.
type RecordStatus string

const (
	RecordStatusActive    RecordStatus = "active"
	RecordStatusFinalized RecordStatus = "finalized"
)

// DetectionRecord is the persisted unit: the best-known reading for one
// tracked object. Created when a track first yields an acceptable text
// result, updated in place as confidence improves, immutable once
// finalized.
type DetectionRecord struct {
	ID                 string       `json:"id"`
	TrackID            string       `json:"track_id"`
	Plate              string       `json:"plate"`
	Confidence         float64      `json:"confidence"`
	DetectorConfidence float64      `json:"detector_confidence"`
	TextConfidence     float64      `json:"text_confidence"`
	Region             Rect         `json:"region"`
	FrameIndex         int64        `json:"frame_index"`
	Timestamp          time.Time    `json:"timestamp"`
	Status             RecordStatus `json:"status"`
	ImagePath          string       `json:"image_path,omitempty"`
	VideoEvidenceID    string       `json:"video_evidence_id,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// VideoEvidence describes one annotated clip and the records observed
// during its span. Never mutated after creation except the archived
// flag.
type VideoEvidence struct {
	ID        string        `json:"id"`
	Path      string        `json:"path"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Duration  time.Duration `json:"duration"`
	SizeBytes int64         `json:"size_bytes"`
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	Archived  bool          `json:"archived"`
	RecordIDs []string      `json:"record_ids"`
}
