package recorder

import (
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/platewatch/platewatch/internal/config"
	"github.com/platewatch/platewatch/internal/model"
	"github.com/platewatch/platewatch/internal/monitoring"
)

type fakeWriter struct {
	frames   int
	closed   bool
	writeErr error
}

func (f *fakeWriter) Write(*model.Frame) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.frames++
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestRecorder(t *testing.T, w *fakeWriter, clock *testClock) (*Recorder, *monitoring.Metrics) {
	t.Helper()
	metrics := monitoring.NewMetrics()
	cfg := config.RecorderConfig{
		Dir:          t.TempDir(),
		PreEventSec:  5,
		PostEventSec: 15,
		Codec:        "MJPG",
	}
	r := New(cfg, 10, metrics,
		WithClock(clock.Now),
		WithWriterFactory(func(string, float64, int, int) (ClipWriter, error) {
			return w, nil
		}))
	t.Cleanup(func() { _ = r.Close() })
	return r, metrics
}

func makeFrame(t *testing.T, idx int64, at time.Time) *model.Frame {
	t.Helper()
	f := &model.Frame{
		Mat:        gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3),
		Index:      idx,
		CapturedAt: at,
	}
	t.Cleanup(f.Close)
	return f
}

func testTrack() *model.TrackedObject {
	return &model.TrackedObject{
		ID:     "track-1",
		Label:  "license_plate",
		Region: model.Rect{X1: 10, Y1: 10, X2: 74, Y2: 58},
	}
}

func TestTrigger_SplicesPreEventWindow(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)}
	w := &fakeWriter{}
	r, _ := newTestRecorder(t, w, clock)

	for i := int64(0); i < 3; i++ {
		r.Observe(makeFrame(t, i, clock.now))
		clock.Advance(100 * time.Millisecond)
	}
	require.False(t, r.Recording())

	r.Trigger(testTrack(), "rec-1")
	require.True(t, r.Recording())
	assert.Equal(t, 3, w.frames, "buffered frames must open the clip")
}

func TestTrigger_ExtendsWindowFromLastQualifyingDetection(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)}
	w := &fakeWriter{}
	r, metrics := newTestRecorder(t, w, clock)

	var finalized []model.VideoEvidence
	r.OnFinalized = func(ev model.VideoEvidence) { finalized = append(finalized, ev) }

	r.Trigger(testTrack(), "rec-1")
	require.True(t, r.Recording())

	// A second trigger 10s in pushes the deadline out; the 15s window
	// runs from this detection, not the first.
	clock.Advance(10 * time.Second)
	r.Observe(makeFrame(t, 100, clock.now))
	r.Trigger(testTrack(), "rec-2")

	// 16s after the first trigger would have finalized the original
	// window; the extension keeps the clip open.
	clock.Advance(6 * time.Second)
	r.Observe(makeFrame(t, 160, clock.now))
	require.True(t, r.Recording())
	assert.Empty(t, finalized)

	// 15s past the second trigger the clip closes.
	clock.Advance(10 * time.Second)
	r.Observe(makeFrame(t, 260, clock.now))
	require.False(t, r.Recording())

	require.Len(t, finalized, 1, "overlapping triggers must produce one clip")
	assert.ElementsMatch(t, []string{"rec-1", "rec-2"}, finalized[0].RecordIDs)
	assert.False(t, finalized[0].EndedAt.IsZero())
	assert.True(t, w.closed)
	assert.Equal(t, int64(1), metrics.ClipsWritten.Load())
}

func TestObserve_AbandonsClipOnWriteFailure(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)}
	w := &fakeWriter{}
	r, metrics := newTestRecorder(t, w, clock)

	r.Trigger(testTrack(), "rec-1")
	require.True(t, r.Recording())

	w.writeErr = eris.New("disk full")
	clock.Advance(time.Second)
	r.Observe(makeFrame(t, 10, clock.now))

	assert.False(t, r.Recording())
	assert.True(t, w.closed)
	assert.Equal(t, int64(1), metrics.ClipsAbandoned.Load())
	assert.Equal(t, int64(0), metrics.ClipsWritten.Load())

	// A later trigger starts over cleanly.
	w.writeErr = nil
	w.closed = false
	r.Trigger(testTrack(), "rec-2")
	assert.True(t, r.Recording())
}

func TestRingBuffer_EvictsOldestAndSnapshotsInOrder(t *testing.T) {
	b := NewRingBuffer(3)
	t.Cleanup(b.Close)
	start := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	for i := int64(0); i < 5; i++ {
		b.Push(makeFrame(t, i, start.Add(time.Duration(i)*time.Second)))
	}
	assert.Equal(t, 3, b.Len())

	frames := b.Snapshot()
	require.Len(t, frames, 3)
	assert.Equal(t, int64(2), frames[0].Index)
	assert.Equal(t, int64(3), frames[1].Index)
	assert.Equal(t, int64(4), frames[2].Index)
	for _, f := range frames {
		f.Close()
	}

	assert.Equal(t, 0, b.Len(), "snapshot transfers ownership and empties the buffer")
}
