package vision

import (
	"context"
	"image"
	"os"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/platewatch/platewatch/internal/config"
	"github.com/platewatch/platewatch/internal/model"
)

// DNNDetector runs a YOLO-style network through the OpenCV DNN module.
// Inference is serialized on an internal mutex; gocv.Net is not safe
// for concurrent Forward calls.
type DNNDetector struct {
	mu         sync.Mutex
	net        gocv.Net
	classNames []string
	inputSize  int
	minConf    float32
	nmsThresh  float32
}

// NewDNNDetector loads the network and class names. It prefers a CUDA
// backend and falls back to CPU when CUDA is unavailable.
func NewDNNDetector(cfg config.DetectorConfig) (*DNNDetector, error) {
	net := gocv.ReadNet(cfg.ModelPath, cfg.ConfigPath)
	if net.Empty() {
		return nil, eris.Errorf("vision: load network from %s", cfg.ModelPath)
	}

	if err := net.SetPreferableBackend(gocv.NetBackendCUDA); err != nil ||
		net.SetPreferableTarget(gocv.NetTargetCUDA) != nil {
		zap.L().Info("vision: CUDA backend unavailable, using CPU")
		_ = net.SetPreferableBackend(gocv.NetBackendDefault)
		_ = net.SetPreferableTarget(gocv.NetTargetCPU)
	}

	names, err := os.ReadFile(cfg.NamesPath)
	if err != nil {
		net.Close()
		return nil, eris.Wrap(err, "vision: read class names")
	}

	var classNames []string
	for _, line := range strings.Split(string(names), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			classNames = append(classNames, line)
		}
	}

	return &DNNDetector{
		net:        net,
		classNames: classNames,
		inputSize:  cfg.InputSize,
		minConf:    float32(cfg.MinConfidence),
		nmsThresh:  float32(cfg.NMSThreshold),
	}, nil
}

// Detect runs one forward pass and returns the surviving detections
// after confidence filtering and non-maximum suppression. The frame is
// read-only; the blob is a copy.
func (d *DNNDetector) Detect(ctx context.Context, frame *model.Frame) ([]model.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	sz := image.Pt(d.inputSize, d.inputSize)
	blob := gocv.BlobFromImage(frame.Mat, 1.0/255.0, sz, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	frameW := float32(frame.Mat.Cols())
	frameH := float32(frame.Mat.Rows())

	var boxes []image.Rectangle
	var scores []float32
	var classIDs []int

	for i := 0; i < output.Rows(); i++ {
		row := output.RowRange(i, i+1)
		data := row.Clone()
		cls := data.ColRange(5, data.Cols())
		_, maxVal, _, maxLoc := gocv.MinMaxLoc(cls)

		if maxVal >= d.minConf && maxLoc.X < len(d.classNames) {
			// YOLO emits normalized center/size.
			cx := data.GetFloatAt(0, 0) * frameW
			cy := data.GetFloatAt(0, 1) * frameH
			w := data.GetFloatAt(0, 2) * frameW
			h := data.GetFloatAt(0, 3) * frameH

			boxes = append(boxes, image.Rect(
				int(cx-w/2), int(cy-h/2), int(cx+w/2), int(cy+h/2),
			))
			scores = append(scores, maxVal)
			classIDs = append(classIDs, maxLoc.X)
		}

		cls.Close()
		data.Close()
		row.Close()
	}

	if len(boxes) == 0 {
		return nil, nil
	}

	// gocv v0.31 NMSBoxes fills a caller-provided slice instead of
	// returning the kept indices; -1 marks unused tail entries.
	keep := make([]int, len(boxes))
	for i := range keep {
		keep[i] = -1
	}
	gocv.NMSBoxes(boxes, scores, d.minConf, d.nmsThresh, keep)

	detections := make([]model.Detection, 0, len(keep))
	for _, idx := range keep {
		if idx < 0 {
			break
		}
		detections = append(detections, model.Detection{
			Region:     model.RectFromImage(boxes[idx]),
			Label:      d.classNames[classIDs[idx]],
			Confidence: float64(scores[idx]),
		})
	}
	return detections, nil
}

// Close releases the network.
func (d *DNNDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
