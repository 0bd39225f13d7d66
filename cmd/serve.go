package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/platewatch/platewatch/internal/model"
	"github.com/platewatch/platewatch/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline with a JSON API for records, evidence, and live updates",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		// Run the stream alongside the server. A finished stream keeps
		// the API up so recorded results stay queryable.
		go func() {
			if err := env.Orchestrator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				zap.L().Error("pipeline stopped", zap.Error(err))
			}
		}()

		mux := http.NewServeMux()

		mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		mux.HandleFunc("GET /records", func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			filter := store.RecordFilter{
				Plate:         q.Get("plate"),
				TrackID:       q.Get("track_id"),
				Status:        model.RecordStatus(q.Get("status")),
				MinConfidence: floatParam(q.Get("min_confidence")),
				Limit:         intParam(q.Get("limit"), 50),
				Offset:        intParam(q.Get("offset"), 0),
			}

			records, err := env.Store.ListRecords(r.Context(), filter)
			if err != nil {
				zap.L().Error("list records failed", zap.Error(err))
				http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, records)
		})

		mux.HandleFunc("GET /records/{id}", func(w http.ResponseWriter, r *http.Request) {
			rec, err := env.Store.GetRecord(r.Context(), r.PathValue("id"))
			if err != nil {
				http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusOK, rec)
		})

		mux.HandleFunc("GET /evidence", func(w http.ResponseWriter, r *http.Request) {
			limit := intParam(r.URL.Query().Get("limit"), 50)
			clips, err := env.Store.ListEvidence(r.Context(), limit)
			if err != nil {
				zap.L().Error("list evidence failed", zap.Error(err))
				http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, clips)
		})

		mux.HandleFunc("GET /evidence/{id}", func(w http.ResponseWriter, r *http.Request) {
			ev, err := env.Orchestrator.Evidence(r.Context(), r.PathValue("id"))
			if err != nil {
				http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusOK, ev)
		})

		mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, env.Orchestrator.MetricsSnapshot())
		})

		mux.HandleFunc("GET /stream", func(w http.ResponseWriter, r *http.Request) {
			flusher, ok := w.(http.Flusher)
			if !ok {
				http.Error(w, `{"error":"streaming unsupported"}`, http.StatusInternalServerError)
				return
			}

			updates, cancel := env.Orchestrator.StreamUpdates()
			defer cancel()

			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
			flusher.Flush()

			enc := json.NewEncoder(w)
			for {
				select {
				case <-r.Context().Done():
					return
				case rec, open := <-updates:
					if !open {
						return
					}
					if err := enc.Encode(rec); err != nil {
						return
					}
					flusher.Flush()
				}
			}
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(context.WithoutCancel(ctx))
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func intParam(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func floatParam(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}
