package model

import "image"

// Rect is an axis-aligned bounding region in frame pixel coordinates.
// It exists alongside image.Rectangle because persisted records need a
// JSON-stable shape; the vision boundary converts at the edges.
type Rect struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// RectFromImage converts an image.Rectangle to a Rect.
func RectFromImage(r image.Rectangle) Rect {
	return Rect{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y}
}

// ToImage converts the Rect to an image.Rectangle.
func (r Rect) ToImage() image.Rectangle {
	return image.Rect(r.X1, r.Y1, r.X2, r.Y2)
}

// Width returns the horizontal extent of the region.
func (r Rect) Width() int { return r.X2 - r.X1 }

// Height returns the vertical extent of the region.
func (r Rect) Height() int { return r.Y2 - r.Y1 }

// Area returns the region area in pixels.
func (r Rect) Area() float64 {
	w, h := r.Width(), r.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return float64(w) * float64(h)
}

// Center returns the region's center point.
func (r Rect) Center() (float64, float64) {
	return float64(r.X1+r.X2) / 2, float64(r.Y1+r.Y2) / 2
}

// IoU returns the intersection-over-union with another region, in [0,1].
func (r Rect) IoU(o Rect) float64 {
	ix1 := max(r.X1, o.X1)
	iy1 := max(r.Y1, o.Y1)
	ix2 := min(r.X2, o.X2)
	iy2 := min(r.Y2, o.Y2)
	if ix2 <= ix1 || iy2 <= iy1 {
		return 0
	}
	inter := float64(ix2-ix1) * float64(iy2-iy1)
	union := r.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
