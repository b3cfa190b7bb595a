// Package metrics provides Prometheus instrumentation for PixSqueeze.
//
// All metrics are prefixed with "pixsqueeze_" and registered with the default
// registry, which the web server exposes at /metrics.
//
// # Metric Categories
//
// Compression: CompressionsTotal, CompressionDuration, BytesIn, BytesOut, LadderStepsTotal.
// HEIC decode cache: HEICCacheHits, HEICCacheMisses, HEICCacheEvictions.
// Memory: MemoryFreesTotal, MemoryAvailableBytes.
// HTTP: HTTPRequestsTotal, HTTPRequestDuration.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Compression metrics
var (
	CompressionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixsqueeze_compressions_total",
			Help: "Total number of compressions by output format and status",
		},
		[]string{"format", "status"}, // status: compressed, optimized, error
	)

	CompressionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pixsqueeze_compression_duration_seconds",
			Help:    "Time spent rendering and encoding one image",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"}, // compress, preview, crop
	)

	LadderStepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixsqueeze_ladder_steps_total",
			Help: "Encode attempts by retry ladder step",
		},
		[]string{"step"},
	)

	BytesIn = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pixsqueeze_bytes_in_total",
			Help: "Total size of source images processed",
		},
	)

	BytesOut = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pixsqueeze_bytes_out_total",
			Help: "Total size of encoded results",
		},
	)

	BatchItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixsqueeze_batch_items_total",
			Help: "Batch items by outcome",
		},
		[]string{"outcome"}, // done, error, invalid
	)
)

// HEIC decode cache metrics
var (
	HEICCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pixsqueeze_heic_cache_hits_total",
			Help: "HEIC decodes served from the cache",
		},
	)

	HEICCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pixsqueeze_heic_cache_misses_total",
			Help: "HEIC decodes that called the decoder",
		},
	)

	HEICCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pixsqueeze_heic_cache_evictions_total",
			Help: "HEIC decodes evicted to make room for newer ones",
		},
	)

	HEICDirectDecodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixsqueeze_heic_direct_decodes_total",
			Help: "Direct HEIC decode probes by result",
		},
		[]string{"result"}, // ok, failed, timeout
	)
)

// Memory metrics
var (
	MemoryFreesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pixsqueeze_memory_frees_total",
			Help: "Number of memory mitigation passes",
		},
	)

	MemoryAvailableBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pixsqueeze_memory_available_bytes",
			Help: "Estimated heap headroom at the last check (-1 when unknown)",
		},
	)
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixsqueeze_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pixsqueeze_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
