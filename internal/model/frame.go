package model

import (
	"time"

	"gocv.io/x/gocv"
)

// Frame is one captured video frame. The pixel buffer is owned
// transiently by the orchestrator and ring buffer and is never mutated
// after capture; components needing to keep pixels past the current
// cycle must Clone.
type Frame struct {
	Mat        gocv.Mat
	Index      int64
	CapturedAt time.Time
}

// Clone returns a deep copy of the frame with its own pixel buffer.
// The caller owns the copy and must Close it.
func (f *Frame) Clone() *Frame {
	return &Frame{
		Mat:        f.Mat.Clone(),
		Index:      f.Index,
		CapturedAt: f.CapturedAt,
	}
}

// Close releases the underlying pixel buffer.
func (f *Frame) Close() {
	if !f.Mat.Empty() {
		_ = f.Mat.Close()
	}
}

// Bounds returns the frame's pixel region.
func (f *Frame) Bounds() Rect {
	return Rect{X2: f.Mat.Cols(), Y2: f.Mat.Rows()}
}
