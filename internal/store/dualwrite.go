package store

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/platewatch/platewatch/internal/model"
	"github.com/platewatch/platewatch/internal/monitoring"
	"github.com/platewatch/platewatch/internal/resilience"
)

// Dual-write outcome sentinels. Callers distinguish a degraded write
// (one sink has the data) from a lost one (neither does).
var (
	ErrPartialWrite    = eris.New("store: partial write, one sink failed")
	ErrBothSinksFailed = eris.New("store: write lost, all sinks failed")
)

const maxRetryAttempts = 5

type pendingWrite struct {
	describe string
	attempts int
	op       func(ctx context.Context) error
}

// DualWriter writes every record and evidence entry to both the
// primary database and the secondary export sink. Both writes are
// always attempted; a failure on one side never short-circuits the
// other. Failed sides are queued and retried by Drain.
type DualWriter struct {
	primary   Store
	secondary Sink
	metrics   *monitoring.Metrics
	logger    *zap.Logger

	mu    sync.Mutex
	queue []pendingWrite
}

// NewDualWriter builds a DualWriter over the given sinks.
func NewDualWriter(primary Store, secondary Sink, metrics *monitoring.Metrics) *DualWriter {
	return &DualWriter{
		primary:   primary,
		secondary: secondary,
		metrics:   metrics,
		logger:    zap.L().With(zap.String("component", "dualwrite")),
	}
}

// WriteRecord upserts the record into the primary store and appends it
// to the export sink concurrently. Returns nil when both succeed,
// ErrPartialWrite when exactly one side failed (the failed side is
// queued for retry), and ErrBothSinksFailed when the record reached
// neither sink.
func (d *DualWriter) WriteRecord(ctx context.Context, rec *model.DetectionRecord) error {
	recCopy := *rec

	var primErr, secErr error
	var g errgroup.Group
	g.Go(func() error {
		primErr = d.primary.UpsertRecord(ctx, &recCopy)
		return nil
	})
	g.Go(func() error {
		secErr = d.secondary.AppendRecord(ctx, &recCopy)
		return nil
	})
	_ = g.Wait()

	return d.classify(ctx, "record "+rec.ID, primErr, secErr,
		func(ctx context.Context) error { return d.primary.UpsertRecord(ctx, &recCopy) },
		func(ctx context.Context) error { return d.secondary.AppendRecord(ctx, &recCopy) },
	)
}

// WriteEvidence persists evidence metadata to both sinks, with the
// same outcome contract as WriteRecord.
func (d *DualWriter) WriteEvidence(ctx context.Context, ev *model.VideoEvidence) error {
	evCopy := *ev

	var primErr, secErr error
	var g errgroup.Group
	g.Go(func() error {
		primErr = d.primary.PutEvidence(ctx, &evCopy)
		return nil
	})
	g.Go(func() error {
		secErr = d.secondary.AppendEvidence(ctx, &evCopy)
		return nil
	})
	_ = g.Wait()

	return d.classify(ctx, "evidence "+ev.ID, primErr, secErr,
		func(ctx context.Context) error { return d.primary.PutEvidence(ctx, &evCopy) },
		func(ctx context.Context) error { return d.secondary.AppendEvidence(ctx, &evCopy) },
	)
}

func (d *DualWriter) classify(ctx context.Context, what string, primErr, secErr error,
	primOp, secOp func(ctx context.Context) error) error {

	switch {
	case primErr == nil && secErr == nil:
		d.metrics.RecordsPersisted.Add(1)
		return nil

	case primErr != nil && secErr != nil:
		d.metrics.RecordsLost.Add(1)
		d.logger.Error("write lost on both sinks",
			zap.String("what", what),
			zap.NamedError("primary", primErr),
			zap.NamedError("secondary", secErr))
		return eris.Wrapf(ErrBothSinksFailed, "%s: primary: %v, secondary: %v", what, primErr, secErr)

	case primErr != nil:
		d.enqueue(pendingWrite{describe: what + " (primary)", op: primOp})
		d.metrics.PartialWrites.Add(1)
		d.logger.Warn("primary sink failed, queued for retry",
			zap.String("what", what), zap.Error(primErr))
		return eris.Wrapf(ErrPartialWrite, "%s: primary: %v", what, primErr)

	default:
		d.enqueue(pendingWrite{describe: what + " (secondary)", op: secOp})
		d.metrics.PartialWrites.Add(1)
		d.logger.Warn("secondary sink failed, queued for retry",
			zap.String("what", what), zap.Error(secErr))
		return eris.Wrapf(ErrPartialWrite, "%s: secondary: %v", what, secErr)
	}
}

func (d *DualWriter) enqueue(w pendingWrite) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, w)
	d.metrics.RetryQueueDepth.Store(int64(len(d.queue)))
}

// Drain retries every queued write once, with backoff inside each
// attempt. Writes still failing go back on the queue until they exceed
// the attempt cap; the other sink already holds their data, so capped
// entries are dropped with an error log rather than counted lost.
func (d *DualWriter) Drain(ctx context.Context) {
	d.mu.Lock()
	pending := d.queue
	d.queue = nil
	d.metrics.RetryQueueDepth.Store(0)
	d.mu.Unlock()

	cfg := resilience.FrameRetryConfig()
	cfg.ShouldRetry = func(error) bool { return true } // sink errors are worth a second try regardless of class

	for _, w := range pending {
		err := resilience.Do(ctx, cfg, w.op)
		if err == nil {
			d.logger.Info("queued write recovered", zap.String("what", w.describe))
			continue
		}

		w.attempts++
		if w.attempts >= maxRetryAttempts {
			d.logger.Error("dropping queued write after repeated failures",
				zap.String("what", w.describe),
				zap.Int("attempts", w.attempts),
				zap.Error(err))
			continue
		}
		d.enqueue(w)
	}
}

// QueueDepth returns the number of writes awaiting retry.
func (d *DualWriter) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// FinalizeRecord marks the record immutable in the primary store and
// re-appends its final state to the export sink.
func (d *DualWriter) FinalizeRecord(ctx context.Context, recordID string) error {
	if err := d.primary.FinalizeRecord(ctx, recordID); err != nil {
		return err
	}
	rec, err := d.primary.GetRecord(ctx, recordID)
	if err != nil {
		return err
	}
	return d.secondary.AppendRecord(ctx, rec)
}

// Close closes both sinks, reporting the first error.
func (d *DualWriter) Close() error {
	primErr := d.primary.Close()
	secErr := d.secondary.Close()
	if primErr != nil {
		return primErr
	}
	return secErr
}
