package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIoU(t *testing.T) {
	a := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}

	assert.Equal(t, 1.0, a.IoU(a), "identical regions")
	assert.Zero(t, a.IoU(Rect{X1: 20, Y1: 20, X2: 30, Y2: 30}), "disjoint regions")
	assert.Zero(t, a.IoU(Rect{X1: 10, Y1: 0, X2: 20, Y2: 10}), "touching edges do not overlap")

	// 5x10 overlap over a 150px union.
	b := Rect{X1: 5, Y1: 0, X2: 15, Y2: 10}
	assert.InDelta(t, 50.0/150.0, a.IoU(b), 1e-9)
}

func TestIoU_DegenerateRegion(t *testing.T) {
	a := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
	empty := Rect{X1: 5, Y1: 5, X2: 5, Y2: 5}
	assert.Zero(t, a.IoU(empty))
	assert.Zero(t, empty.Area())
}

func TestRectImageRoundTrip(t *testing.T) {
	r := Rect{X1: 3, Y1: 4, X2: 30, Y2: 40}
	assert.Equal(t, r, RectFromImage(r.ToImage()))
	assert.Equal(t, 27, r.Width())
	assert.Equal(t, 36, r.Height())

	cx, cy := r.Center()
	assert.Equal(t, 16.5, cx)
	assert.Equal(t, 22.0, cy)
}
