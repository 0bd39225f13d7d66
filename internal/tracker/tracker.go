// Package tracker maintains durable object identities across frames.
// Detections are matched to known tracks by a blend of Kalman-predicted
// motion and bounding-box overlap; unmatched detections open new
// tracks, and tracks unseen past the liveness window are reaped by a
// periodic sweep. The registry has a single writer (the pipeline
// orchestrator) and every mutation happens under one mutex.
package tracker

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/platewatch/platewatch/internal/config"
	"github.com/platewatch/platewatch/internal/model"
)

// Assignment binds one detection from the current frame to a track.
type Assignment struct {
	Detection model.Detection
	Track     *model.TrackedObject
	Fresh     bool // the track was created this frame
	Synthetic bool // fallback identity, not registered
}

type trackState struct {
	obj    *model.TrackedObject
	filter *kalmanFilter
}

// Tracker matches per-frame detections to durable identities.
type Tracker struct {
	mu     sync.Mutex
	cfg    config.TrackerConfig
	tracks map[string]*trackState
	logger *zap.Logger
}

// New builds a Tracker from tracker configuration.
func New(cfg config.TrackerConfig) *Tracker {
	return &Tracker{
		cfg:    cfg,
		tracks: make(map[string]*trackState),
		logger: zap.L().With(zap.String("component", "tracker")),
	}
}

// Update matches the frame's detections against live tracks and returns
// one assignment per accepted detection. Matched tracks absorb the new
// observation; unmatched detections open fresh tracks; unmatched tracks
// accrue a miss. If matching itself fails, Update degrades to stateless
// synthetic identities so the frame still produces evidence.
func (t *Tracker) Update(detections []model.Detection, frame *model.Frame) (assignments []Assignment) {
	t.mu.Lock()
	defer t.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			t.logger.Warn("matcher failed, falling back to synthetic identities",
				zap.Int64("frame", frame.Index),
				zap.Any("panic", r))
			assignments = syntheticAssignments(detections, frame)
		}
	}()

	return t.match(detections, frame)
}

func (t *Tracker) match(detections []model.Detection, frame *model.Frame) []Assignment {
	accepted := detections[:0:0]
	for _, d := range detections {
		if d.Confidence >= t.cfg.MinConfidence {
			accepted = append(accepted, d)
		}
	}

	// Cost of pairing each accepted detection with each live track.
	type pair struct {
		det   int
		track string
		cost  float64
	}
	var pairs []pair
	for i, d := range accepted {
		for id, ts := range t.tracks {
			c := t.cost(d, ts, frame.CapturedAt)
			if c <= t.cfg.MatchGate {
				pairs = append(pairs, pair{det: i, track: id, cost: c})
			}
		}
	}

	// Greedy globally-cheapest-first assignment. Plate scenes carry a
	// handful of objects at once; optimal assignment buys nothing here.
	detUsed := make(map[int]bool, len(accepted))
	trackUsed := make(map[string]bool, len(t.tracks))
	matched := make(map[int]string, len(accepted))
	for len(pairs) > 0 {
		bestIdx := -1
		for i, p := range pairs {
			if detUsed[p.det] || trackUsed[p.track] {
				continue
			}
			if bestIdx < 0 || p.cost < pairs[bestIdx].cost {
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			break
		}
		p := pairs[bestIdx]
		detUsed[p.det] = true
		trackUsed[p.track] = true
		matched[p.det] = p.track
		pairs = append(pairs[:bestIdx], pairs[bestIdx+1:]...)
	}

	assignments := make([]Assignment, 0, len(accepted))
	for i, d := range accepted {
		if id, ok := matched[i]; ok {
			ts := t.tracks[id]
			t.observe(ts, d, frame)
			assignments = append(assignments, Assignment{Detection: d, Track: ts.obj})
			continue
		}

		obj := &model.TrackedObject{
			ID:             uuid.NewString(),
			Label:          d.Label,
			Region:         d.Region,
			Confidence:     d.Confidence,
			FirstSeenAt:    frame.CapturedAt,
			LastSeenAt:     frame.CapturedAt,
			LastSeenFrame:  frame.Index,
			DetectionCount: 1,
		}
		ts := &trackState{obj: obj, filter: newKalmanFilter()}
		cx, cy := d.Region.Center()
		ts.filter.Update(cx, cy, frame.CapturedAt)
		t.tracks[obj.ID] = ts
		assignments = append(assignments, Assignment{Detection: d, Track: obj, Fresh: true})
	}

	// Tracks nothing claimed this frame accrue a miss.
	for id, ts := range t.tracks {
		if !trackUsed[id] && !isFreshThisFrame(ts.obj, frame.Index) {
			ts.obj.Misses++
		}
	}

	return assignments
}

func isFreshThisFrame(obj *model.TrackedObject, frameIdx int64) bool {
	return obj.LastSeenFrame == frameIdx
}

// cost blends predicted-center distance, normalized by the detection's
// own diagonal so near and far objects are gated alike, with
// bounding-box disagreement. Label mismatch is never assignable.
func (t *Tracker) cost(d model.Detection, ts *trackState, at time.Time) float64 {
	if d.Label != ts.obj.Label {
		return math.Inf(1)
	}

	diag := math.Hypot(float64(d.Region.Width()), float64(d.Region.Height()))
	if diag <= 0 {
		diag = 1
	}
	px, py := ts.filter.PredictAt(at)
	cx, cy := d.Region.Center()
	motion := math.Hypot(cx-px, cy-py) / diag
	overlap := 1 - d.Region.IoU(ts.obj.Region)

	w := t.cfg.MotionWeight
	return w*motion + (1-w)*overlap
}

func (t *Tracker) observe(ts *trackState, d model.Detection, frame *model.Frame) {
	obj := ts.obj
	obj.Region = d.Region
	if d.Confidence > obj.Confidence {
		obj.Confidence = d.Confidence
	}
	obj.LastSeenAt = frame.CapturedAt
	obj.LastSeenFrame = frame.Index
	obj.DetectionCount++
	obj.Misses = 0

	cx, cy := d.Region.Center()
	ts.filter.Update(cx, cy, frame.CapturedAt)
}

// syntheticAssignments produces stateless per-frame identities. The
// "frame-" namespace cannot collide with registered UUID identities.
func syntheticAssignments(detections []model.Detection, frame *model.Frame) []Assignment {
	out := make([]Assignment, 0, len(detections))
	for i, d := range detections {
		obj := &model.TrackedObject{
			ID:             fmt.Sprintf("frame-%d-%d", frame.Index, i),
			Label:          d.Label,
			Region:         d.Region,
			Confidence:     d.Confidence,
			FirstSeenAt:    frame.CapturedAt,
			LastSeenAt:     frame.CapturedAt,
			LastSeenFrame:  frame.Index,
			DetectionCount: 1,
		}
		out = append(out, Assignment{Detection: d, Track: obj, Fresh: true, Synthetic: true})
	}
	return out
}

// Sweep removes tracks unseen longer than the expiry window and returns
// them for finalization. Identities are never reused: a reaped id is
// gone, and any later sighting of the same object opens a new track.
func (t *Tracker) Sweep(now time.Time) []*model.TrackedObject {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []*model.TrackedObject
	for id, ts := range t.tracks {
		if ts.obj.Expired(now, t.cfg.Expiry()) {
			expired = append(expired, ts.obj)
			delete(t.tracks, id)
		}
	}
	if len(expired) > 0 {
		t.logger.Debug("reaped expired tracks", zap.Int("count", len(expired)))
	}
	return expired
}

// Flush removes and returns every live track, regardless of age. Used
// at end-of-stream so open records can still be finalized.
func (t *Tracker) Flush() []*model.TrackedObject {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*model.TrackedObject, 0, len(t.tracks))
	for id, ts := range t.tracks {
		out = append(out, ts.obj)
		delete(t.tracks, id)
	}
	return out
}

// Tracks returns the live tracked objects, in no particular order.
func (t *Tracker) Tracks() []*model.TrackedObject {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*model.TrackedObject, 0, len(t.tracks))
	for _, ts := range t.tracks {
		out = append(out, ts.obj)
	}
	return out
}

// Live returns the number of active tracks.
func (t *Tracker) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracks)
}

// Get returns the live track with the given id, if any.
func (t *Tracker) Get(id string) (*model.TrackedObject, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.tracks[id]
	if !ok {
		return nil, false
	}
	return ts.obj, true
}
