// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	CyclesRun          prometheus.Counter
	CyclesFailed       prometheus.Counter
	DownloadsSucceeded prometheus.Counter
	DownloadsFailed    prometheus.Counter
	UploadsSucceeded   prometheus.Counter
	UploadsFailed      prometheus.Counter
	VODsDiscovered     prometheus.Counter

	// Histograms (seconds)
	DownloadDuration prometheus.Observer
	UploadDuration   prometheus.Observer
	CycleDuration    prometheus.Observer

	// Gauges
	PendingGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		CyclesRun = promauto.NewCounter(prometheus.CounterOpts{Name: "archiver_cycles_total", Help: "Number of polling cycles run"})
		CyclesFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "archiver_cycles_failed_total", Help: "Number of cycles aborted by a Twitch listing failure"})
		DownloadsSucceeded = promauto.NewCounter(prometheus.CounterOpts{Name: "archiver_downloads_succeeded_total", Help: "Number of VOD downloads succeeded"})
		DownloadsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "archiver_downloads_failed_total", Help: "Number of VOD downloads failed"})
		UploadsSucceeded = promauto.NewCounter(prometheus.CounterOpts{Name: "archiver_uploads_succeeded_total", Help: "Number of YouTube uploads succeeded"})
		UploadsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "archiver_uploads_failed_total", Help: "Number of YouTube uploads failed"})
		VODsDiscovered = promauto.NewCounter(prometheus.CounterOpts{Name: "archiver_vods_discovered_total", Help: "Number of new VODs added to the ledger"})
		DownloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "archiver_download_duration_seconds", Help: "Download duration seconds", Buckets: prometheus.DefBuckets})
		UploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "archiver_upload_duration_seconds", Help: "Upload duration seconds", Buckets: prometheus.DefBuckets})
		CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "archiver_cycle_duration_seconds", Help: "Full cycle duration seconds", Buckets: prometheus.DefBuckets})
		PendingGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "archiver_pending_vods", Help: "Ledger records not yet uploaded"})
	})
}

// SetPending records the current count of not-yet-uploaded records.
func SetPending(n int) {
	if PendingGauge != nil {
		PendingGauge.Set(float64(n))
	}
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with a corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
