package tracker

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platewatch/platewatch/internal/config"
	"github.com/platewatch/platewatch/internal/model"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	return New(config.TrackerConfig{
		ExpirySec:     60,
		MatchGate:     0.7,
		MotionWeight:  0.5,
		MinConfidence: 0.25,
	})
}

func frameAt(idx int64, at time.Time) *model.Frame {
	return &model.Frame{Index: idx, CapturedAt: at}
}

func TestUpdate_IdentityStableAcrossSmoothMotion(t *testing.T) {
	tr := newTestTracker(t)
	start := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	// One vehicle drifting right 10px per frame at 30fps.
	var id string
	for i := 0; i < 30; i++ {
		x := 100 + i*10
		det := model.Detection{
			Region:     model.Rect{X1: x, Y1: 200, X2: x + 120, Y2: 260},
			Label:      "license_plate",
			Confidence: 0.8,
		}
		at := start.Add(time.Duration(i) * 33 * time.Millisecond)
		asg := tr.Update([]model.Detection{det}, frameAt(int64(i), at))
		require.Len(t, asg, 1)

		if i == 0 {
			require.True(t, asg[0].Fresh)
			id = asg[0].Track.ID
			continue
		}
		assert.False(t, asg[0].Fresh, "frame %d opened a new track", i)
		assert.Equal(t, id, asg[0].Track.ID, "identity changed at frame %d", i)
	}

	obj, ok := tr.Get(id)
	require.True(t, ok)
	assert.Equal(t, 30, obj.DetectionCount)
	assert.Equal(t, 1, tr.Live())
}

func TestUpdate_LabelMismatchNeverMatches(t *testing.T) {
	tr := newTestTracker(t)
	start := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	region := model.Rect{X1: 100, Y1: 200, X2: 220, Y2: 260}

	asg := tr.Update([]model.Detection{{Region: region, Label: "license_plate", Confidence: 0.8}}, frameAt(0, start))
	require.Len(t, asg, 1)

	// Same box, different class: must open a fresh track.
	asg = tr.Update([]model.Detection{{Region: region, Label: "vehicle", Confidence: 0.8}}, frameAt(1, start.Add(33*time.Millisecond)))
	require.Len(t, asg, 1)
	assert.True(t, asg[0].Fresh)
	assert.Equal(t, 2, tr.Live())
}

func TestUpdate_DropsLowConfidenceDetections(t *testing.T) {
	tr := newTestTracker(t)
	start := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	asg := tr.Update([]model.Detection{
		{Region: model.Rect{X1: 0, Y1: 0, X2: 50, Y2: 30}, Label: "license_plate", Confidence: 0.1},
	}, frameAt(0, start))
	assert.Empty(t, asg)
	assert.Equal(t, 0, tr.Live())
}

func TestSweep_ExpiresUnseenTracksWithoutIDReuse(t *testing.T) {
	tr := newTestTracker(t)
	start := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	det := model.Detection{
		Region:     model.Rect{X1: 100, Y1: 200, X2: 220, Y2: 260},
		Label:      "license_plate",
		Confidence: 0.8,
	}

	asg := tr.Update([]model.Detection{det}, frameAt(0, start))
	require.Len(t, asg, 1)
	firstID := asg[0].Track.ID

	// Inside the window: nothing reaped.
	assert.Empty(t, tr.Sweep(start.Add(59*time.Second)))
	assert.Equal(t, 1, tr.Live())

	// Past the window: the track is reaped and returned for finalization.
	expired := tr.Sweep(start.Add(61 * time.Second))
	require.Len(t, expired, 1)
	assert.Equal(t, firstID, expired[0].ID)
	assert.Equal(t, 0, tr.Live())

	// The same object reappearing gets a brand-new identity.
	asg = tr.Update([]model.Detection{det}, frameAt(1, start.Add(61*time.Second)))
	require.Len(t, asg, 1)
	assert.True(t, asg[0].Fresh)
	assert.NotEqual(t, firstID, asg[0].Track.ID)
}

func TestUpdate_MissesAccrueForUnmatchedTracks(t *testing.T) {
	tr := newTestTracker(t)
	start := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	det := model.Detection{
		Region:     model.Rect{X1: 100, Y1: 200, X2: 220, Y2: 260},
		Label:      "license_plate",
		Confidence: 0.8,
	}

	asg := tr.Update([]model.Detection{det}, frameAt(0, start))
	require.Len(t, asg, 1)
	id := asg[0].Track.ID

	tr.Update(nil, frameAt(1, start.Add(33*time.Millisecond)))
	tr.Update(nil, frameAt(2, start.Add(66*time.Millisecond)))

	obj, ok := tr.Get(id)
	require.True(t, ok)
	assert.Equal(t, 2, obj.Misses)

	// A match resets the counter.
	tr.Update([]model.Detection{det}, frameAt(3, start.Add(99*time.Millisecond)))
	obj, _ = tr.Get(id)
	assert.Equal(t, 0, obj.Misses)
}

func TestSyntheticAssignments_NamespacedIDs(t *testing.T) {
	start := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	dets := []model.Detection{
		{Region: model.Rect{X1: 10, Y1: 10, X2: 50, Y2: 30}, Label: "license_plate", Confidence: 0.7},
		{Region: model.Rect{X1: 60, Y1: 10, X2: 100, Y2: 30}, Label: "license_plate", Confidence: 0.5},
	}

	asg := syntheticAssignments(dets, frameAt(42, start))
	require.Len(t, asg, 2)
	for i, a := range asg {
		assert.Equal(t, fmt.Sprintf("frame-42-%d", i), a.Track.ID)
		assert.True(t, a.Synthetic)
		assert.True(t, a.Fresh)
	}
}

func TestKalman_PredictsConstantVelocity(t *testing.T) {
	kf := newKalmanFilter()
	start := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	// Feed a point moving +100px/s in x for two seconds.
	for i := 0; i <= 20; i++ {
		kf.Update(float64(i*10), 50, start.Add(time.Duration(i)*100*time.Millisecond))
	}

	px, py := kf.PredictAt(start.Add(2500 * time.Millisecond))
	assert.InDelta(t, 250, px, 25)
	assert.InDelta(t, 50, py, 5)
}
