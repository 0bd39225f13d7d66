package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/platewatch/platewatch/internal/monitoring"
	"github.com/platewatch/platewatch/internal/pipeline"
	"github.com/platewatch/platewatch/internal/recorder"
	"github.com/platewatch/platewatch/internal/scorer"
	"github.com/platewatch/platewatch/internal/store"
	"github.com/platewatch/platewatch/internal/tracker"
	"github.com/platewatch/platewatch/internal/vision"
)

// initStore opens the configured primary store and runs migrations.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	case "sqlite", "":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// pipelineEnv holds the wired pipeline and everything it owns.
type pipelineEnv struct {
	Orchestrator *pipeline.Orchestrator
	Store        store.Store
	closers      []func() error
}

func (e *pipelineEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Warn("close failed", zap.Error(err))
		}
	}
}

// initPipeline wires the full per-stream pipeline from configuration.
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	env := &pipelineEnv{}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env.Store = st
	env.closers = append(env.closers, st.Close)

	sink, err := store.NewJSONLSink(cfg.Store.ExportDir)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.closers = append(env.closers, sink.Close)

	detector, err := vision.NewDNNDetector(cfg.Detector)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.closers = append(env.closers, detector.Close)

	recognizer, err := vision.NewCRNNRecognizer(cfg.OCR)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.closers = append(env.closers, recognizer.Close)

	source, err := vision.OpenCapture(cfg.Stream.Source)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.closers = append(env.closers, source.Close)

	fps := cfg.Stream.FPS
	if nominal := source.FPS(); nominal > 0 {
		fps = nominal
	}

	metrics := monitoring.NewMetrics()
	env.Orchestrator = pipeline.New(cfg, pipeline.Deps{
		Source:     source,
		Detector:   detector,
		Recognizer: recognizer,
		Tracker:    tracker.New(cfg.Tracker),
		Scorer:     scorer.New(cfg.Scoring),
		Recorder:   recorder.New(cfg.Recorder, fps, metrics),
		Writer:     store.NewDualWriter(st, sink, metrics),
		Query:      st,
		Metrics:    metrics,
	})
	return env, nil
}
