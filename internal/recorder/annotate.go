package recorder

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/platewatch/platewatch/internal/model"
)

// Confidence tiers for overlay coloring.
var (
	colorHigh   = color.RGBA{G: 200, A: 0}         // >= 0.80
	colorMedium = color.RGBA{R: 220, G: 200, A: 0} // 0.60 - 0.79
	colorLow    = color.RGBA{R: 220, A: 0}         // < 0.60
	colorBanner = color.RGBA{R: 255, G: 255, B: 255, A: 0}
)

// Overlay describes one tracked region to draw on an evidence frame.
type Overlay struct {
	Region             model.Rect
	Text               string  // best-known reading, may be empty
	DetectorConfidence float64 // detector confidence, best seen
	TextConfidence     float64 // reading confidence
}

// overlayLabel renders the text and both confidence values for one
// region. Regions without a reading yet are marked "?" with the
// detector confidence alone.
func overlayLabel(o Overlay) string {
	if o.Text == "" {
		return fmt.Sprintf("? det:%.0f%%", o.DetectorConfidence*100)
	}
	return fmt.Sprintf("%s det:%.0f%% txt:%.0f%%", o.Text, o.DetectorConfidence*100, o.TextConfidence*100)
}

// Annotate draws overlays and a session banner onto the frame's pixel
// buffer in place. The caller must pass a clone it owns; the shared
// capture buffer is never drawn on.
func Annotate(frame *model.Frame, overlays []Overlay, banner string) {
	for _, o := range overlays {
		c := tierColor(o.TextConfidence)
		gocv.Rectangle(&frame.Mat, o.Region.ToImage(), c, 2)

		origin := image.Pt(o.Region.X1, o.Region.Y1-6)
		if origin.Y < 12 {
			origin.Y = o.Region.Y2 + 16
		}
		gocv.PutText(&frame.Mat, overlayLabel(o), origin, gocv.FontHersheySimplex, 0.5, c, 1)
	}

	if banner != "" {
		gocv.PutText(&frame.Mat, banner, image.Pt(8, 20), gocv.FontHersheySimplex, 0.5, colorBanner, 1)
	}
}

func tierColor(confidence float64) color.RGBA {
	switch {
	case confidence >= 0.80:
		return colorHigh
	case confidence >= 0.60:
		return colorMedium
	default:
		return colorLow
	}
}
