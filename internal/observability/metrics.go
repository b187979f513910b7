// Package observability registers the process Prometheus metrics.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	scoreBatchSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hotness_score_batch_seconds",
			Help:    "Wall time of one batch hotness scoring pass.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 100µs to ~26s
		},
	)

	scoreBatchKeys = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hotness_score_batch_keys",
			Help:    "Number of keys scored per batch.",
			Buckets: prometheus.ExponentialBuckets(10, 10, 7), // 10 to 10M
		},
	)

	trackedPagesGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hotness_tracked_pages",
			Help: "Pages currently tracked by the access tracker.",
		},
	)

	hotPagesGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hotness_hot_pages",
			Help: "Pages at or above the hot threshold in the last scoring pass.",
		},
	)

	transferBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "device_transfer_bytes_total",
			Help: "Bytes moved by device transfers.",
		},
		[]string{"dst"},
	)

	transferSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "device_transfer_seconds",
			Help:    "Duration of device transfers in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"dst", "outcome"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveScoreBatch(keys int, durationSeconds float64) {
	scoreBatchKeys.Observe(float64(keys))
	scoreBatchSeconds.Observe(durationSeconds)
}

func SetTrackedPages(n int) {
	trackedPagesGauge.Set(float64(n))
}

func SetHotPages(n int) {
	hotPagesGauge.Set(float64(n))
}

func ObserveTransfer(dstDevice int, bytes int, durationSeconds float64, err error) {
	dst := strconv.Itoa(dstDevice)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	} else {
		transferBytesTotal.WithLabelValues(dst).Add(float64(bytes))
	}
	transferSeconds.WithLabelValues(dst, outcome).Observe(durationSeconds)
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
