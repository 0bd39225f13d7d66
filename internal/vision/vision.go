// Package vision defines the collaborator boundary for the frame
// pipeline: object detection, text recognition, and frame acquisition.
// The pipeline consumes these as opaque capabilities; concrete
// implementations (gocv DNN, video files, cameras) live alongside so
// tests can substitute fakes.
package vision

import (
	"context"

	"gocv.io/x/gocv"

	"github.com/platewatch/platewatch/internal/model"
)

// Detector finds objects of interest in a frame. Implementations must
// not mutate the frame.
type Detector interface {
	Detect(ctx context.Context, frame *model.Frame) ([]model.Detection, error)
}

// Recognizer extracts text candidates from an image crop.
type Recognizer interface {
	Recognize(ctx context.Context, crop gocv.Mat) ([]model.TextCandidate, error)
}

// FrameSource produces frames in capture order. Next returns io.EOF at
// end-of-stream; a live camera never reaches it. The pipeline is
// agnostic to the source kind.
type FrameSource interface {
	Next(ctx context.Context) (*model.Frame, error)
	Close() error
}
