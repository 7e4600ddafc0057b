package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ItemsTotal counts videos by outcome: success, failure or skipped
	ItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidclassify_items_total",
			Help: "Total number of videos handled by outcome",
		},
		[]string{"outcome"},
	)

	// RetriesTotal counts retry sleeps per strategy and reason
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidclassify_retries_total",
			Help: "Total number of classification retries",
		},
		[]string{"strategy", "reason"},
	)

	// ClassifyDuration tracks how long one video takes to classify, retries included
	ClassifyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vidclassify_classify_seconds",
			Help:    "Classification latency in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"strategy"},
	)

	// CheckpointWrites counts full checkpoint rewrites per backend
	CheckpointWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidclassify_checkpoint_writes_total",
			Help: "Total number of checkpoint rewrites",
		},
		[]string{"backend"},
	)
)

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listener started", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
