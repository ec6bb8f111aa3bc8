// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Channel labels.
const (
	ChannelHTTP   = "http"
	ChannelSocket = "socket"
)

// Eviction path labels.
const (
	EvictLazy  = "lazy"
	EvictSweep = "sweep"
)

var (
	Uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "slashbin",
		Name:      "uploads_total",
		Help:      "Objects and collections created, by ingestion channel and kind.",
	}, []string{"channel", "kind"})

	UploadBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "slashbin",
		Name:      "upload_bytes_total",
		Help:      "Bytes stored, by ingestion channel.",
	}, []string{"channel"})

	Evictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "slashbin",
		Name:      "evictions_total",
		Help:      "Expired entries removed, by eviction path.",
	}, []string{"path"})

	AdmissionsDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "slashbin",
		Name:      "admissions_denied_total",
		Help:      "Requests rejected by the rate limiter, by channel.",
	}, []string{"channel"})

	PasteSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "slashbin",
		Name:      "paste_sessions_total",
		Help:      "Raw-socket connections by terminal outcome.",
	}, []string{"outcome"})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "slashbin",
		Name:      "sweep_duration_seconds",
		Help:      "Duration of expiry sweeps.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
