package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var watchSource string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a video stream and record plate detections",
	Long:  "Runs the full pipeline against one stream: detect, track, read, score, persist, and record evidence clips until the stream ends or the process is interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if watchSource != "" {
			cfg.Stream.Source = watchSource
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		err = env.Orchestrator.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}

		s := env.Orchestrator.MetricsSnapshot()
		zap.L().Info("watch finished",
			zap.Int64("frames_in", s.FramesIn),
			zap.Int64("frames_processed", s.FramesProcessed),
			zap.Int64("frames_dropped", s.FramesDropped),
			zap.Int64("records_persisted", s.RecordsPersisted),
			zap.Int64("records_lost", s.RecordsLost),
			zap.Int64("clips_written", s.ClipsWritten),
		)
		return nil
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchSource, "source", "", "video file path or RTSP URL (default from config)")
	rootCmd.AddCommand(watchCmd)
}
