package vision

import (
	"context"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"gocv.io/x/gocv"

	"github.com/platewatch/platewatch/internal/model"
)

// CaptureSource reads frames from a video file or camera/RTSP URL via
// gocv.VideoCapture, assigning monotonic frame indexes and capture
// timestamps. It implements FrameSource.
type CaptureSource struct {
	cap   *gocv.VideoCapture
	next  int64
	clock func() time.Time
}

// OpenCapture opens a source by path or URL.
func OpenCapture(source string) (*CaptureSource, error) {
	cap, err := gocv.OpenVideoCapture(source)
	if err != nil {
		return nil, eris.Wrapf(err, "vision: open capture %s", source)
	}
	return &CaptureSource{cap: cap, clock: time.Now}, nil
}

// Next reads one frame. Returns io.EOF when the stream ends. The
// returned frame's buffer is owned by the caller.
func (s *CaptureSource) Next(ctx context.Context) (*model.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat := gocv.NewMat()
	if ok := s.cap.Read(&mat); !ok {
		mat.Close()
		return nil, io.EOF
	}
	if mat.Empty() {
		mat.Close()
		return nil, io.EOF
	}

	frame := &model.Frame{
		Mat:        mat,
		Index:      s.next,
		CapturedAt: s.clock(),
	}
	s.next++
	return frame, nil
}

// FPS reports the source's nominal frame rate, or 0 if unknown.
func (s *CaptureSource) FPS() float64 {
	return s.cap.Get(gocv.VideoCaptureFPS)
}

// Close releases the capture device.
func (s *CaptureSource) Close() error {
	return s.cap.Close()
}
