package vision

import (
	"context"
	"image"
	"math"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"gocv.io/x/gocv"

	"github.com/platewatch/platewatch/internal/config"
	"github.com/platewatch/platewatch/internal/model"
)

// CRNN input geometry, fixed by the model architecture.
const (
	crnnInputWidth  = 100
	crnnInputHeight = 32
)

// CRNNRecognizer reads text from a plate crop with a CRNN model via
// gocv. The network outputs per-timestep class logits decoded with
// greedy CTC. Forward passes are serialized; gocv nets are not
// goroutine-safe.
type CRNNRecognizer struct {
	mu       sync.Mutex
	net      gocv.Net
	alphabet string
}

// NewCRNNRecognizer loads the recognition model from cfg.ModelPath.
func NewCRNNRecognizer(cfg config.OCRConfig) (*CRNNRecognizer, error) {
	net := gocv.ReadNet(cfg.ModelPath, "")
	if net.Empty() {
		return nil, eris.Errorf("vision: failed to load ocr model %s", cfg.ModelPath)
	}

	alphabet := cfg.Alphabet
	if alphabet == "" {
		alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	}
	return &CRNNRecognizer{net: net, alphabet: alphabet}, nil
}

// Recognize runs one forward pass over the crop and returns at most
// one candidate spanning the whole crop.
func (r *CRNNRecognizer) Recognize(ctx context.Context, crop gocv.Mat) ([]model.TextCandidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(crop, &gray, gocv.ColorBGRToGray)

	blob := gocv.BlobFromImage(gray, 1.0/127.5,
		image.Pt(crnnInputWidth, crnnInputHeight),
		gocv.NewScalar(127.5, 0, 0, 0), false, false)
	defer blob.Close()

	r.net.SetInput(blob, "")
	out := r.net.Forward("")
	defer out.Close()

	steps, err := timestepLogits(out)
	if err != nil {
		return nil, err
	}

	text, conf := ctcGreedyDecode(steps, r.alphabet)
	if text == "" {
		return nil, nil
	}

	return []model.TextCandidate{{
		Text:       text,
		Confidence: conf,
		Region:     model.Rect{X2: crop.Cols(), Y2: crop.Rows()},
		RelArea:    1.0,
	}}, nil
}

// Close releases the network.
func (r *CRNNRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.net.Close()
}

// timestepLogits flattens the CRNN output (T x 1 x C) into per-step
// class logit rows.
func timestepLogits(out gocv.Mat) ([][]float32, error) {
	sizes := out.Size()
	if len(sizes) != 3 {
		return nil, eris.Errorf("vision: unexpected ocr output rank %d", len(sizes))
	}
	steps, classes := sizes[0], sizes[2]

	flat := out.Reshape(1, steps)
	defer flat.Close()

	rows := make([][]float32, steps)
	for t := 0; t < steps; t++ {
		row := make([]float32, classes)
		for c := 0; c < classes; c++ {
			row[c] = flat.GetFloatAt(t, c)
		}
		rows[t] = row
	}
	return rows, nil
}

// ctcGreedyDecode collapses per-timestep logits into text: argmax per
// step, merge repeats, drop blanks (class 0). Confidence is the mean
// softmax probability of the emitted characters.
func ctcGreedyDecode(steps [][]float32, alphabet string) (string, float64) {
	var b strings.Builder
	var probSum float64
	var emitted int
	prev := -1

	for _, logits := range steps {
		cls, prob := argmaxSoftmax(logits)
		if cls != prev && cls != 0 {
			idx := cls - 1
			if idx < len(alphabet) {
				b.WriteByte(alphabet[idx])
				probSum += prob
				emitted++
			}
		}
		prev = cls
	}

	if emitted == 0 {
		return "", 0
	}
	return b.String(), probSum / float64(emitted)
}

func argmaxSoftmax(logits []float32) (int, float64) {
	if len(logits) == 0 {
		return 0, 0
	}

	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}

	// Softmax with max subtraction for stability.
	var denom float64
	for _, v := range logits {
		denom += math.Exp(float64(v - logits[best]))
	}
	return best, 1 / denom
}
