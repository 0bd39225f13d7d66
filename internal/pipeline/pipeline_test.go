package pipeline

import (
	"context"
	"io"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/platewatch/platewatch/internal/config"
	"github.com/platewatch/platewatch/internal/model"
	"github.com/platewatch/platewatch/internal/monitoring"
	"github.com/platewatch/platewatch/internal/recorder"
	"github.com/platewatch/platewatch/internal/scorer"
	"github.com/platewatch/platewatch/internal/store"
	"github.com/platewatch/platewatch/internal/tracker"
)

// fakeSource emits n synthetic frames 100ms apart, then io.EOF.
type fakeSource struct {
	n     int64
	next  int64
	start time.Time
}

func (s *fakeSource) Next(ctx context.Context) (*model.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= s.n {
		return nil, io.EOF
	}
	f := &model.Frame{
		Mat:        gocv.NewMatWithSize(240, 320, gocv.MatTypeCV8UC3),
		Index:      s.next,
		CapturedAt: s.start.Add(time.Duration(s.next) * 100 * time.Millisecond),
	}
	s.next++
	return f, nil
}

func (s *fakeSource) Close() error { return nil }

// fakeDetector reports one slowly drifting plate during two visibility
// windows separated by a 2s gap.
type fakeDetector struct{}

func (fakeDetector) Detect(_ context.Context, frame *model.Frame) ([]model.Detection, error) {
	idx := frame.Index
	visible := (idx >= 0 && idx <= 30) || (idx >= 51 && idx <= 80)
	if !visible {
		return nil, nil
	}
	x := 100 + int(idx)
	return []model.Detection{{
		Region:     model.Rect{X1: x, Y1: 100, X2: x + 120, Y2: 160},
		Label:      "license_plate",
		Confidence: 0.9,
	}}, nil
}

// fakeRecognizer returns a decorative high-confidence string alongside
// a grammar-valid reading whose confidence climbs toward 0.9.
type fakeRecognizer struct {
	calls int
}

func (r *fakeRecognizer) Recognize(context.Context, gocv.Mat) ([]model.TextCandidate, error) {
	r.calls++
	conf := math.Min(0.5+0.01*float64(r.calls), 0.9)
	return []model.TextCandidate{
		{Text: "DEALER", Confidence: 0.95, Region: model.Rect{X1: 5, Y1: 2, X2: 40, Y2: 10}, RelArea: 0.05},
		{Text: "ABC 1234", Confidence: conf, Region: model.Rect{X1: 10, Y1: 20, X2: 110, Y2: 45}, RelArea: 0.35},
	}, nil
}

type countingClipWriter struct {
	frames int
	last   *model.Frame
}

func (w *countingClipWriter) Write(f *model.Frame) error {
	w.frames++
	w.last = f
	return nil
}

func (w *countingClipWriter) Close() error { return nil }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Stream: config.StreamConfig{
			Source: "synthetic", FPS: 10, SkipFactor: 1,
			DeadlineMs: 500, SweepEverySec: 30,
		},
		Detector: config.DetectorConfig{
			MinConfidence: 0.4,
			PlateClasses:  []string{"license_plate"},
		},
		OCR: config.OCRConfig{TimeoutMs: 400},
		Scoring: config.ScoringConfig{
			Patterns:      []string{"LLL NNNN", "LLLNNNN"},
			Exclusions:    []string{"DEALER"},
			MinConfidence: 0.3,
		},
		Tracker: config.TrackerConfig{
			ExpirySec: 60, MatchGate: 0.7, MotionWeight: 0.5, MinConfidence: 0.25,
		},
		Recorder: config.RecorderConfig{
			Dir: t.TempDir(), PreEventSec: 5, PostEventSec: 15,
			TriggerThreshold: 0.6, Codec: "MJPG",
		},
	}
}

func TestOrchestrator_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	metrics := monitoring.NewMetrics()

	primary, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, primary.Migrate(context.Background()))

	sink, err := store.NewJSONLSink(t.TempDir())
	require.NoError(t, err)

	writer := store.NewDualWriter(primary, sink, metrics)

	clip := &countingClipWriter{}
	rec := recorder.New(cfg.Recorder, cfg.Stream.FPS, metrics,
		recorder.WithWriterFactory(func(string, float64, int, int) (recorder.ClipWriter, error) {
			return clip, nil
		}))

	o := New(cfg, Deps{
		Source:     &fakeSource{n: 100, start: time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)},
		Detector:   fakeDetector{},
		Recognizer: &fakeRecognizer{},
		Tracker:    tracker.New(cfg.Tracker),
		Scorer:     scorer.New(cfg.Scoring),
		Recorder:   rec,
		Writer:     writer,
		Query:      primary,
		Metrics:    metrics,
	})

	updates, cancelSub := o.StreamUpdates()

	require.NoError(t, o.Run(context.Background()))

	// One physical object across a 2s visibility gap shorter than the
	// expiry window yields exactly one record.
	records, err := primary.ListRecords(context.Background(), store.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := records[0]
	assert.Equal(t, "ABC1234", got.Plate)
	assert.InDelta(t, 0.9, got.Confidence, 1e-9,
		"stored confidence must equal the best grammar-valid reading")
	assert.Equal(t, model.RecordStatusFinalized, got.Status,
		"end-of-stream flush finalizes open records")

	// Exactly one evidence clip, linked to the record.
	evidence, err := primary.ListEvidence(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, evidence, 1)
	assert.Contains(t, evidence[0].RecordIDs, got.ID)
	assert.Positive(t, clip.frames)

	// At least one live update reached the subscriber before shutdown
	// closed the channel.
	var sawUpdate bool
	for rec := range updates {
		if rec.Plate != "" {
			sawUpdate = true
		}
	}
	assert.True(t, sawUpdate)
	cancelSub()

	s := o.MetricsSnapshot()
	assert.Equal(t, int64(100), s.FramesIn)
	assert.Equal(t, int64(100), s.FramesProcessed)
	assert.Equal(t, int64(0), s.FramesDropped)
	assert.Equal(t, int64(0), s.RecordsLost)
	assert.Equal(t, 0, s.LiveTracks)
}

func TestObserve_AnnotatesSkippedFramesWhileRecording(t *testing.T) {
	cfg := testConfig(t)
	metrics := monitoring.NewMetrics()

	primary, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, primary.Migrate(context.Background()))

	sink, err := store.NewJSONLSink(t.TempDir())
	require.NoError(t, err)

	clip := &countingClipWriter{}
	rec := recorder.New(cfg.Recorder, cfg.Stream.FPS, metrics,
		recorder.WithWriterFactory(func(string, float64, int, int) (recorder.ClipWriter, error) {
			return clip, nil
		}))

	o := New(cfg, Deps{
		Source:     &fakeSource{n: 0, start: time.Now()},
		Detector:   fakeDetector{},
		Recognizer: &fakeRecognizer{},
		Tracker:    tracker.New(cfg.Tracker),
		Scorer:     scorer.New(cfg.Scoring),
		Recorder:   rec,
		Writer:     store.NewDualWriter(primary, sink, metrics),
		Query:      primary,
		Metrics:    metrics,
	})

	newFrame := func(idx int64) *model.Frame {
		return &model.Frame{Mat: gocv.NewMatWithSize(240, 320, gocv.MatTypeCV8UC3), Index: idx}
	}

	// Idle: the raw frame rolls into the pre-event ring, nothing written.
	idle := newFrame(0)
	o.observe(idle)
	idle.Close()
	assert.Zero(t, clip.frames)

	rec.Trigger(&model.TrackedObject{
		ID: "track-1", BestText: "ABC1234", BestConfidence: 0.9, Confidence: 0.95,
	}, "rec-1")
	require.True(t, rec.Recording())
	written := clip.frames
	assert.Positive(t, written, "trigger splices the buffered pre-event frames")

	// Recording: a frame that skips the detection cycle is still written,
	// and as an annotated clone rather than the raw capture buffer.
	skipped := newFrame(1)
	o.observe(skipped)
	assert.Equal(t, written+1, clip.frames)
	assert.NotSame(t, skipped, clip.last)
	skipped.Close()

	require.NoError(t, rec.Close())
}

func TestOrchestrator_ContextCancelStopsLoop(t *testing.T) {
	cfg := testConfig(t)
	metrics := monitoring.NewMetrics()

	primary, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, primary.Migrate(context.Background()))

	sink, err := store.NewJSONLSink(t.TempDir())
	require.NoError(t, err)

	rec := recorder.New(cfg.Recorder, cfg.Stream.FPS, metrics,
		recorder.WithWriterFactory(func(string, float64, int, int) (recorder.ClipWriter, error) {
			return &countingClipWriter{}, nil
		}))

	o := New(cfg, Deps{
		Source:     &fakeSource{n: 1 << 30, start: time.Now()},
		Detector:   fakeDetector{},
		Recognizer: &fakeRecognizer{},
		Tracker:    tracker.New(cfg.Tracker),
		Scorer:     scorer.New(cfg.Scoring),
		Recorder:   rec,
		Writer:     store.NewDualWriter(primary, sink, metrics),
		Query:      primary,
		Metrics:    metrics,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not stop on cancel")
	}
}

func TestBroadcaster_SlowSubscriberNeverBlocks(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe()
	defer cancel()

	// Publish far more than the buffer holds; extra updates are dropped,
	// not queued, and Publish never stalls.
	for i := 0; i < subscriberBuffer*4; i++ {
		b.Publish(model.DetectionRecord{ID: "rec", Plate: "ABC1234"})
	}

	assert.Len(t, ch, subscriberBuffer)
}
