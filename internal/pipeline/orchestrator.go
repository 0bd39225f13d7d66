// Package pipeline orchestrates the per-frame detection cycle: ingest,
// detect, track, read, score, persist, record. One Orchestrator owns
// one stream and all of that stream's mutable state; nothing is shared
// across streams.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/platewatch/platewatch/internal/config"
	"github.com/platewatch/platewatch/internal/model"
	"github.com/platewatch/platewatch/internal/monitoring"
	"github.com/platewatch/platewatch/internal/recorder"
	"github.com/platewatch/platewatch/internal/resilience"
	"github.com/platewatch/platewatch/internal/scorer"
	"github.com/platewatch/platewatch/internal/store"
	"github.com/platewatch/platewatch/internal/tracker"
	"github.com/platewatch/platewatch/internal/vision"
)

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Source     vision.FrameSource
	Detector   vision.Detector
	Recognizer vision.Recognizer
	Tracker    *tracker.Tracker
	Scorer     *scorer.Engine
	Recorder   *recorder.Recorder
	Writer     *store.DualWriter
	Query      store.Store // primary store, read path only
	Metrics    *monitoring.Metrics
}

// Orchestrator runs the frame loop for one stream.
type Orchestrator struct {
	cfg          *config.Config
	deps         Deps
	broadcaster  *Broadcaster
	collector    *monitoring.Collector
	plateClasses map[string]struct{}
	startedAt    time.Time
	logger       *zap.Logger
}

// New builds an Orchestrator. The recorder's finalize hook is wired to
// the dual writer here so completed clips are persisted.
func New(cfg *config.Config, deps Deps) *Orchestrator {
	o := &Orchestrator{
		cfg:          cfg,
		deps:         deps,
		broadcaster:  NewBroadcaster(),
		collector:    monitoring.NewCollector(deps.Metrics, deps.Tracker.Live),
		plateClasses: make(map[string]struct{}, len(cfg.Detector.PlateClasses)),
		startedAt:    time.Now(),
		logger:       zap.L().With(zap.String("component", "pipeline")),
	}
	for _, c := range cfg.Detector.PlateClasses {
		o.plateClasses[c] = struct{}{}
	}

	deps.Recorder.OnFinalized = func(ev model.VideoEvidence) {
		err := resilience.WithTimeout(context.Background(), 5*time.Second, func(ctx context.Context) error {
			return deps.Writer.WriteEvidence(ctx, &ev)
		})
		if err != nil {
			o.logger.Error("failed to persist evidence", zap.String("evidence_id", ev.ID), zap.Error(err))
		}
	}
	return o
}

// Run processes frames until the source ends or ctx is canceled. No
// collaborator failure terminates the loop; every error is absorbed,
// counted, and the next frame is attempted.
func (o *Orchestrator) Run(ctx context.Context) error {
	var limiter *rate.Limiter
	if o.cfg.Stream.MaxRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(o.cfg.Stream.MaxRate), 1)
	}

	sweepTick := time.NewTicker(o.cfg.Stream.SweepInterval())
	defer sweepTick.Stop()

	skip := o.cfg.Stream.SkipFactor
	if skip < 1 {
		skip = 1
	}

	o.logger.Info("stream started",
		zap.String("source", o.cfg.Stream.Source),
		zap.Int("skip_factor", skip))

	for {
		select {
		case <-ctx.Done():
			o.shutdown(context.WithoutCancel(ctx))
			return ctx.Err()
		case <-sweepTick.C:
			o.sweep(ctx)
		default:
		}

		frame, err := o.deps.Source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				o.logger.Info("stream ended")
				o.shutdown(context.WithoutCancel(ctx))
				return nil
			}
			if ctx.Err() != nil {
				o.shutdown(context.WithoutCancel(ctx))
				return ctx.Err()
			}
			o.logger.Warn("frame read failed", zap.Error(err))
			continue
		}

		o.deps.Metrics.FramesIn.Add(1)

		if frame.Index%int64(skip) != 0 || (limiter != nil && !limiter.Allow()) {
			o.deps.Metrics.FramesSkipped.Add(1)
			o.observe(frame)
			frame.Close()
			continue
		}

		o.processFrame(ctx, frame)
		frame.Close()
	}
}

// processFrame runs one full detection cycle under the per-frame
// deadline. The frame is observed by the recorder even when detection
// fails, so evidence clips have no holes.
func (o *Orchestrator) processFrame(ctx context.Context, frame *model.Frame) {
	dctx, cancel := context.WithTimeout(ctx, o.cfg.Stream.Deadline())
	defer cancel()

	retryCfg := resilience.FrameRetryConfig()
	retryCfg.OnRetry = resilience.RetryLogger("pipeline", "detect")

	detections, err := resilience.DoVal(dctx, retryCfg, func(ctx context.Context) ([]model.Detection, error) {
		return o.deps.Detector.Detect(ctx, frame)
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || dctx.Err() != nil {
			o.deps.Metrics.FramesDropped.Add(1)
			o.logger.Warn("frame dropped, deadline exceeded", zap.Int64("frame", frame.Index))
		} else {
			o.deps.Metrics.DetectorErrors.Add(1)
			o.logger.Warn("detector failed", zap.Int64("frame", frame.Index), zap.Error(err))
		}
		o.observe(frame)
		return
	}

	assignments := o.deps.Tracker.Update(detections, frame)

	overlays := make([]recorder.Overlay, 0, len(assignments))
	for _, a := range assignments {
		if a.Synthetic {
			o.deps.Metrics.TrackerFallbacks.Add(1)
		}
		if _, isPlate := o.plateClasses[a.Detection.Label]; isPlate {
			o.readPlate(dctx, frame, a)
		}
		overlays = append(overlays, recorder.Overlay{
			Region:             a.Track.Region,
			Text:               a.Track.BestText,
			DetectorConfidence: a.Track.Confidence,
			TextConfidence:     a.Track.BestConfidence,
		})
	}

	annotated := frame.Clone()
	recorder.Annotate(annotated, overlays, o.banner())
	o.deps.Recorder.Observe(annotated)
	annotated.Close()

	o.deps.Metrics.FramesProcessed.Add(1)
}

// observe forwards a frame that skipped the detection cycle to the
// recorder. While a clip is open the frame is annotated from the
// last-known track state first, so the written clip never mixes in raw
// frames; when idle the raw frame just rolls through the ring.
func (o *Orchestrator) observe(frame *model.Frame) {
	if !o.deps.Recorder.Recording() {
		o.deps.Recorder.Observe(frame)
		return
	}
	annotated := frame.Clone()
	recorder.Annotate(annotated, o.liveOverlays(), o.banner())
	o.deps.Recorder.Observe(annotated)
	annotated.Close()
}

func (o *Orchestrator) liveOverlays() []recorder.Overlay {
	tracks := o.deps.Tracker.Tracks()
	overlays := make([]recorder.Overlay, 0, len(tracks))
	for _, track := range tracks {
		overlays = append(overlays, recorder.Overlay{
			Region:             track.Region,
			Text:               track.BestText,
			DetectorConfidence: track.Confidence,
			TextConfidence:     track.BestConfidence,
		})
	}
	return overlays
}

// readPlate crops the detection, recognizes text, scores candidates,
// and persists an improvement if one emerged.
func (o *Orchestrator) readPlate(ctx context.Context, frame *model.Frame, a tracker.Assignment) {
	region := clampRect(a.Detection.Region, frame.Bounds())
	if region.Width() < 2 || region.Height() < 2 {
		return
	}

	crop := frame.Mat.Region(region.ToImage())
	defer crop.Close()

	octx, cancel := context.WithTimeout(ctx, o.cfg.OCR.Timeout())
	defer cancel()

	retryCfg := resilience.FrameRetryConfig()
	retryCfg.OnRetry = resilience.RetryLogger("pipeline", "recognize")

	candidates, err := resilience.DoVal(octx, retryCfg, func(ctx context.Context) ([]model.TextCandidate, error) {
		return o.deps.Recognizer.Recognize(ctx, crop)
	})
	if err != nil {
		o.deps.Metrics.OCRErrors.Add(1)
		o.logger.Debug("recognizer failed", zap.String("track_id", a.Track.ID), zap.Error(err))
		return
	}

	cropRect := model.Rect{X2: region.Width(), Y2: region.Height()}
	res, ok := o.deps.Scorer.SelectBest(candidates, cropRect)
	if !ok || res.Confidence < o.cfg.Scoring.MinConfidence {
		return
	}

	if !a.Track.ImproveText(res.Text, res.Confidence) {
		// No improvement, but a qualifying re-sighting still extends the
		// recording window.
		o.maybeTrigger(a.Track, res.Confidence)
		return
	}

	o.persist(ctx, frame, a, res)
}

func (o *Orchestrator) persist(ctx context.Context, frame *model.Frame, a tracker.Assignment, res scorer.Result) {
	track := a.Track
	if track.RecordID == "" {
		track.RecordID = uuid.NewString()
	}

	rec := &model.DetectionRecord{
		ID:                 track.RecordID,
		TrackID:            track.ID,
		Plate:              res.Text,
		Confidence:         res.Confidence,
		DetectorConfidence: track.Confidence,
		TextConfidence:     res.Confidence,
		Region:             a.Detection.Region,
		FrameIndex:         frame.Index,
		Timestamp:          frame.CapturedAt,
		Status:             model.RecordStatusActive,
	}

	err := o.deps.Writer.WriteRecord(ctx, rec)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrPartialWrite):
		// Degraded but durable; the retry queue owns the failed side.
	default:
		o.logger.Error("record write failed", zap.String("record_id", rec.ID), zap.Error(err))
		return
	}

	o.broadcaster.Publish(*rec)
	o.logger.Info("plate recorded",
		zap.String("plate", res.Text),
		zap.Float64("confidence", res.Confidence),
		zap.String("track_id", track.ID),
		zap.Bool("corrected", res.Corrected))

	o.maybeTrigger(track, res.Confidence)
}

func (o *Orchestrator) maybeTrigger(track *model.TrackedObject, confidence float64) {
	if confidence >= o.cfg.Recorder.TriggerThreshold {
		o.deps.Recorder.Trigger(track, track.RecordID)
	}
}

// sweep reaps expired tracks, finalizes their records, and drains the
// dual-write retry queue.
func (o *Orchestrator) sweep(ctx context.Context) {
	expired := o.deps.Tracker.Sweep(time.Now())
	for _, track := range expired {
		o.finalizeTrack(ctx, track)
	}
	o.deps.Writer.Drain(ctx)
}

func (o *Orchestrator) finalizeTrack(ctx context.Context, track *model.TrackedObject) {
	track.Finalized = true
	if track.RecordID == "" {
		return
	}
	if err := o.deps.Writer.FinalizeRecord(ctx, track.RecordID); err != nil {
		o.logger.Error("failed to finalize record",
			zap.String("record_id", track.RecordID),
			zap.String("track_id", track.ID),
			zap.Error(err))
	}
}

// shutdown flushes every live track, closes the recorder, and drains
// pending writes.
func (o *Orchestrator) shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, track := range o.deps.Tracker.Flush() {
		o.finalizeTrack(ctx, track)
	}
	if err := o.deps.Recorder.Close(); err != nil {
		o.logger.Error("recorder close failed", zap.Error(err))
	}
	o.deps.Writer.Drain(ctx)
	o.broadcaster.Close()

	s := o.collector.Collect()
	o.logger.Info("stream shut down",
		zap.Int64("frames_in", s.FramesIn),
		zap.Int64("frames_processed", s.FramesProcessed),
		zap.Int64("records_persisted", s.RecordsPersisted),
		zap.Int64("clips_written", s.ClipsWritten))
}

func (o *Orchestrator) banner() string {
	return fmt.Sprintf("elapsed %s | frame %d",
		time.Since(o.startedAt).Round(time.Second),
		o.deps.Metrics.FramesIn.Load())
}

// RecentRecords returns persisted records from the primary store.
func (o *Orchestrator) RecentRecords(ctx context.Context, limit, offset int, minConfidence float64) ([]model.DetectionRecord, error) {
	return o.deps.Query.ListRecords(ctx, store.RecordFilter{
		Limit:         limit,
		Offset:        offset,
		MinConfidence: minConfidence,
	})
}

// Evidence looks up one evidence clip's metadata.
func (o *Orchestrator) Evidence(ctx context.Context, id string) (*model.VideoEvidence, error) {
	return o.deps.Query.GetEvidence(ctx, id)
}

// StreamUpdates subscribes to live record updates.
func (o *Orchestrator) StreamUpdates() (<-chan model.DetectionRecord, func()) {
	return o.broadcaster.Subscribe()
}

// MetricsSnapshot returns current pipeline health counters.
func (o *Orchestrator) MetricsSnapshot() monitoring.Snapshot {
	return o.collector.Collect()
}

func clampRect(r, bounds model.Rect) model.Rect {
	if r.X1 < bounds.X1 {
		r.X1 = bounds.X1
	}
	if r.Y1 < bounds.Y1 {
		r.Y1 = bounds.Y1
	}
	if r.X2 > bounds.X2 {
		r.X2 = bounds.X2
	}
	if r.Y2 > bounds.Y2 {
		r.Y2 = bounds.Y2
	}
	return r
}
