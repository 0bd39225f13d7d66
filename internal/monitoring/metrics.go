// Package monitoring tracks pipeline health counters. Counters are
// updated from hot paths and read by the collector, so everything is
// atomic and allocation-free on the write side.
package monitoring

import (
	"sync/atomic"
	"time"
)

// Metrics holds the pipeline's health counters.
type Metrics struct {
	FramesIn         atomic.Int64
	FramesProcessed  atomic.Int64
	FramesSkipped    atomic.Int64
	FramesDropped    atomic.Int64 // deadline exceeded
	DetectorErrors   atomic.Int64
	OCRErrors        atomic.Int64
	TrackerFallbacks atomic.Int64
	RecordsPersisted atomic.Int64
	PartialWrites    atomic.Int64
	RecordsLost      atomic.Int64 // both sinks failed
	ClipsWritten     atomic.Int64
	ClipsAbandoned   atomic.Int64
	RetryQueueDepth  atomic.Int64

	startedAt time.Time
}

// NewMetrics returns a zeroed metrics set.
func NewMetrics() *Metrics {
	return &Metrics{startedAt: time.Now()}
}

// Snapshot is a point-in-time copy of all counters, safe to serialize.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	FramesIn         int64  `json:"frames_in"`
	FramesProcessed  int64  `json:"frames_processed"`
	FramesSkipped    int64  `json:"frames_skipped"`
	FramesDropped    int64  `json:"frames_dropped"`
	DetectorErrors   int64  `json:"detector_errors"`
	OCRErrors        int64  `json:"ocr_errors"`
	TrackerFallbacks int64  `json:"tracker_fallbacks"`
	RecordsPersisted int64  `json:"records_persisted"`
	PartialWrites    int64  `json:"partial_writes"`
	RecordsLost      int64  `json:"records_lost"`
	ClipsWritten     int64  `json:"clips_written"`
	ClipsAbandoned   int64  `json:"clips_abandoned"`
	RetryQueueDepth  int64  `json:"retry_queue_depth"`
	LiveTracks       int    `json:"live_tracks"`
}

// Collector assembles snapshots, pulling the live-track count from the
// tracker on demand.
type Collector struct {
	metrics    *Metrics
	liveTracks func() int
}

// NewCollector builds a collector. liveTracks may be nil.
func NewCollector(m *Metrics, liveTracks func() int) *Collector {
	return &Collector{metrics: m, liveTracks: liveTracks}
}

// Collect returns a point-in-time snapshot of all counters.
func (c *Collector) Collect() Snapshot {
	m := c.metrics
	s := Snapshot{
		Uptime:           time.Since(m.startedAt).Round(time.Second).String(),
		FramesIn:         m.FramesIn.Load(),
		FramesProcessed:  m.FramesProcessed.Load(),
		FramesSkipped:    m.FramesSkipped.Load(),
		FramesDropped:    m.FramesDropped.Load(),
		DetectorErrors:   m.DetectorErrors.Load(),
		OCRErrors:        m.OCRErrors.Load(),
		TrackerFallbacks: m.TrackerFallbacks.Load(),
		RecordsPersisted: m.RecordsPersisted.Load(),
		PartialWrites:    m.PartialWrites.Load(),
		RecordsLost:      m.RecordsLost.Load(),
		ClipsWritten:     m.ClipsWritten.Load(),
		ClipsAbandoned:   m.ClipsAbandoned.Load(),
		RetryQueueDepth:  m.RetryQueueDepth.Load(),
	}
	if c.liveTracks != nil {
		s.LiveTracks = c.liveTracks()
	}
	return s
}
