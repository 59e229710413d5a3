// Package metrics provides Prometheus metrics for the diskbot process.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	actionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diskbot_actions_total",
			Help: "Browser actions handled, by kind and outcome",
		},
		[]string{"action", "result"},
	)

	unauthorizedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "diskbot_unauthorized_total",
			Help: "Updates dropped because the sender is not the owner",
		},
	)

	archivesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diskbot_archives_total",
			Help: "Archive requests, by outcome",
		},
		[]string{"result"},
	)

	archiveBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "diskbot_archive_bytes",
			Help:    "Compressed size of delivered archives",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)

	archiveBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "diskbot_archive_build_seconds",
			Help:    "Time spent building archives",
			Buckets: prometheus.DefBuckets,
		},
	)

	sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "diskbot_sessions",
			Help: "Chat sessions held in memory",
		},
	)
)

// Action outcomes
const (
	ResultChanged   = "changed"
	ResultUnchanged = "unchanged"
	ResultError     = "error"
)

// Archive outcomes
const (
	ArchiveSent      = "sent"
	ArchiveOverLimit = "over_limit"
	ArchiveEmpty     = "empty"
	ArchiveFailed    = "build_failed"
	ArchiveSendError = "send_failed"
)

// RecordAction counts one applied action.
func RecordAction(kind, result string) {
	actionsTotal.WithLabelValues(kind, result).Inc()
}

// RecordUnauthorized counts one dropped update.
func RecordUnauthorized() {
	unauthorizedTotal.Inc()
}

// RecordArchive counts one fetch request.
func RecordArchive(result string) {
	archivesTotal.WithLabelValues(result).Inc()
}

// ObserveArchive records a built archive.
func ObserveArchive(size int64, took time.Duration) {
	archiveBytes.Observe(float64(size))
	archiveBuildDuration.Observe(took.Seconds())
}

// SetSessions updates the session gauge.
func SetSessions(n int) {
	sessionsActive.Set(float64(n))
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
