package recorder

import (
	"github.com/rotisserie/eris"
	"gocv.io/x/gocv"

	"github.com/platewatch/platewatch/internal/model"
)

// videoWriter adapts gocv.VideoWriter to the ClipWriter interface.
type videoWriter struct {
	w *gocv.VideoWriter
}

func openVideoWriter(path, codec string, fps float64, width, height int) (ClipWriter, error) {
	if codec == "" {
		codec = "MJPG"
	}
	w, err := gocv.VideoWriterFile(path, codec, fps, width, height, true)
	if err != nil {
		return nil, eris.Wrapf(err, "recorder: open video writer %s", path)
	}
	if !w.IsOpened() {
		_ = w.Close()
		return nil, eris.Errorf("recorder: video writer %s did not open", path)
	}
	return &videoWriter{w: w}, nil
}

func (v *videoWriter) Write(frame *model.Frame) error {
	if err := v.w.Write(frame.Mat); err != nil {
		return eris.Wrap(err, "recorder: write frame")
	}
	return nil
}

func (v *videoWriter) Close() error {
	return v.w.Close()
}
