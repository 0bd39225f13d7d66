// Package recorder produces annotated video evidence clips. A rolling
// ring buffer holds the pre-event window; a trigger splices that
// history onto the front of a new clip and keeps writing until a
// post-event window elapses with no further qualifying activity.
package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/platewatch/platewatch/internal/config"
	"github.com/platewatch/platewatch/internal/model"
	"github.com/platewatch/platewatch/internal/monitoring"
)

type state int

const (
	stateIdle state = iota
	stateRecording
	stateClosed
)

// ClipWriter writes frames to one evidence file.
type ClipWriter interface {
	Write(frame *model.Frame) error
	Close() error
}

// WriterFactory opens a clip file for writing.
type WriterFactory func(path string, fps float64, width, height int) (ClipWriter, error)

// Recorder manages at most one active evidence clip per stream. All
// methods are called from the orchestrator goroutine; the recorder is
// not safe for concurrent use.
type Recorder struct {
	cfg     config.RecorderConfig
	fps     float64
	ring    *RingBuffer
	factory WriterFactory
	clock   func() time.Time
	metrics *monitoring.Metrics
	logger  *zap.Logger

	state    state
	writer   ClipWriter
	evidence *model.VideoEvidence
	deadline time.Time
	records  map[string]struct{} // record ids seen during the clip

	// OnFinalized, when set, receives each completed clip's metadata.
	OnFinalized func(model.VideoEvidence)
}

// Option customizes a Recorder.
type Option func(*Recorder)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(r *Recorder) { r.clock = clock }
}

// WithWriterFactory overrides how clip files are opened.
func WithWriterFactory(f WriterFactory) Option {
	return func(r *Recorder) { r.factory = f }
}

// New builds a Recorder. The ring buffer is sized to hold the
// configured pre-event window at the given frame rate.
func New(cfg config.RecorderConfig, fps float64, metrics *monitoring.Metrics, opts ...Option) *Recorder {
	if fps <= 0 {
		fps = 30
	}
	r := &Recorder{
		cfg:     cfg,
		fps:     fps,
		ring: NewRingBuffer(int(float64(cfg.PreEventSec)*fps) + 1),
		factory: func(path string, fps float64, width, height int) (ClipWriter, error) {
			return openVideoWriter(path, cfg.Codec, fps, width, height)
		},
		clock:   time.Now,
		metrics: metrics,
		logger:  zap.L().With(zap.String("component", "recorder")),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Observe feeds one frame through the recorder: buffered while idle,
// written to the active clip while recording. Call once per processed
// frame, after annotation.
func (r *Recorder) Observe(frame *model.Frame) {
	switch r.state {
	case stateIdle:
		r.ring.Push(frame)
	case stateRecording:
		if r.clock().After(r.deadline) {
			r.finalize()
			r.ring.Push(frame)
			return
		}
		if err := r.writer.Write(frame); err != nil {
			r.abandon(err)
			return
		}
	case stateClosed:
	}
}

// Trigger starts a new clip, or extends the active one's post-event
// deadline. Repeated triggers on the same stream never open a second
// clip; the window stretches from the most recent qualifying
// detection. recordID, when non-empty, is attached to the clip's
// metadata.
func (r *Recorder) Trigger(track *model.TrackedObject, recordID string) {
	if r.state == stateClosed {
		return
	}

	now := r.clock()
	if r.state == stateRecording {
		r.deadline = now.Add(r.cfg.PostEvent())
		r.noteRecord(recordID)
		return
	}

	if err := r.start(track, now); err != nil {
		r.logger.Error("failed to start evidence clip",
			zap.String("track_id", track.ID),
			zap.Error(err))
		r.metrics.ClipsAbandoned.Add(1)
		return
	}
	r.noteRecord(recordID)
}

func (r *Recorder) start(track *model.TrackedObject, now time.Time) error {
	pre := r.ring.Snapshot()
	defer func() {
		for _, f := range pre {
			f.Close()
		}
	}()

	width, height := track.Region.Width(), track.Region.Height()
	startedAt := now
	if len(pre) > 0 {
		width = pre[0].Mat.Cols()
		height = pre[0].Mat.Rows()
		startedAt = pre[0].CapturedAt
	}

	dir := filepath.Join(r.cfg.Dir, now.Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrap(err, "recorder: create evidence dir")
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.avi", track.ID, now.Format("150405")))

	w, err := r.factory(path, r.fps, width, height)
	if err != nil {
		return eris.Wrapf(err, "recorder: open clip %s", path)
	}

	for _, f := range pre {
		if err := w.Write(f); err != nil {
			_ = w.Close()
			_ = os.Remove(path)
			return eris.Wrap(err, "recorder: write pre-event frame")
		}
	}

	r.writer = w
	r.evidence = &model.VideoEvidence{
		ID:        uuid.NewString(),
		Path:      path,
		StartedAt: startedAt,
		Width:     width,
		Height:    height,
	}
	r.records = make(map[string]struct{})
	r.deadline = now.Add(r.cfg.PostEvent())
	r.state = stateRecording

	r.logger.Info("recording evidence clip",
		zap.String("evidence_id", r.evidence.ID),
		zap.String("path", path),
		zap.Int("pre_event_frames", len(pre)))
	return nil
}

func (r *Recorder) noteRecord(recordID string) {
	if recordID == "" || r.evidence == nil {
		return
	}
	if _, seen := r.records[recordID]; seen {
		return
	}
	r.records[recordID] = struct{}{}
	r.evidence.RecordIDs = append(r.evidence.RecordIDs, recordID)
}

func (r *Recorder) finalize() {
	if err := r.writer.Close(); err != nil {
		r.logger.Error("failed to close clip", zap.Error(err))
	}

	ev := *r.evidence
	ev.EndedAt = r.clock()
	ev.Duration = ev.EndedAt.Sub(ev.StartedAt)
	if fi, err := os.Stat(ev.Path); err == nil {
		ev.SizeBytes = fi.Size()
	}

	r.metrics.ClipsWritten.Add(1)
	r.logger.Info("finalized evidence clip",
		zap.String("evidence_id", ev.ID),
		zap.Duration("duration", ev.Duration),
		zap.Int("records", len(ev.RecordIDs)))

	r.writer = nil
	r.evidence = nil
	r.records = nil
	r.state = stateIdle

	if r.OnFinalized != nil {
		r.OnFinalized(ev)
	}
}

// abandon drops the active clip after an unrecoverable write failure.
// The partial file is removed; recording resumes on the next trigger.
func (r *Recorder) abandon(err error) {
	r.logger.Error("abandoning evidence clip",
		zap.String("evidence_id", r.evidence.ID),
		zap.Error(err))

	_ = r.writer.Close()
	_ = os.Remove(r.evidence.Path)
	r.metrics.ClipsAbandoned.Add(1)

	r.writer = nil
	r.evidence = nil
	r.records = nil
	r.state = stateIdle
}

// Recording reports whether a clip is currently being written.
func (r *Recorder) Recording() bool {
	return r.state == stateRecording
}

// Close finalizes any active clip and releases the ring buffer.
func (r *Recorder) Close() error {
	if r.state == stateRecording {
		r.finalize()
	}
	r.state = stateClosed
	r.ring.Close()
	return nil
}
