package model

// Detection is one object found by the detector in one frame. It lives
// only within a single frame-processing cycle.
type Detection struct {
	Region     Rect    `json:"region"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// TextCandidate is one raw text-recognition result for a crop, before
// scoring. Candidates are never persisted; only the scorer's winner is
// attached to a track or record.
type TextCandidate struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Region     Rect    `json:"region"`   // within the crop
	RelArea    float64 `json:"rel_area"` // fraction of crop area
}
