// Package metrics exposes Prometheus collectors for the blog backend.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	articlesPublishedTotal     *prometheus.CounterVec
	imageVariantsTotal         *prometheus.CounterVec
	submissionsTotal           *prometheus.CounterVec
	submissionWritesTotal      *prometheus.CounterVec
	geoLookupsTotal            *prometheus.CounterVec
	statIncrementsTotal        *prometheus.CounterVec
	rateLimitedTotal           *prometheus.CounterVec
	publishDurationSeconds     prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		articlesPublishedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kblog_articles_published_total",
				Help: "Total number of publish attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		imageVariantsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kblog_image_variants_total",
				Help: "Total number of responsive image variants attempted, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		submissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kblog_submissions_total",
				Help: "Total number of form submissions, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		submissionWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kblog_submission_writes_total",
				Help: "Best-effort submission writes, labeled by kind, target and outcome.",
			},
			[]string{"kind", "target", "outcome"},
		)

		geoLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kblog_geo_lookups_total",
				Help: "IP geolocation lookups, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		statIncrementsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kblog_stat_increments_total",
				Help: "Article stat increments, labeled by stat.",
			},
			[]string{"stat"},
		)

		rateLimitedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kblog_rate_limited_total",
				Help: "Requests rejected by the submission rate limiter, labeled by path.",
			},
			[]string{"path"},
		)

		publishDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kblog_publish_duration_seconds",
				Help:    "Histogram of article publish latencies, including image processing.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObservePublish records one publish attempt.
func ObservePublish(outcome string, duration time.Duration) {
	Init()
	articlesPublishedTotal.WithLabelValues(outcome).Inc()
	publishDurationSeconds.Observe(duration.Seconds())
}

// ObserveImageVariants records generated and failed variants for one source image.
func ObserveImageVariants(generated, failed int) {
	Init()
	if generated > 0 {
		imageVariantsTotal.WithLabelValues(OutcomeSuccess).Add(float64(generated))
	}
	if failed > 0 {
		imageVariantsTotal.WithLabelValues(OutcomeFailure).Add(float64(failed))
	}
}

// ObserveSubmission records the caller-visible outcome of a form submission.
func ObserveSubmission(kind, outcome string) {
	Init()
	submissionsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveSubmissionWrite records one best-effort write ("db" or "sheets").
func ObserveSubmissionWrite(kind, target, outcome string) {
	Init()
	submissionWritesTotal.WithLabelValues(kind, target, outcome).Inc()
}

// ObserveGeoLookup records a geolocation lookup. source is a provider name or "cache".
func ObserveGeoLookup(source, outcome string) {
	Init()
	geoLookupsTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveStatIncrement records an article stat increment.
func ObserveStatIncrement(stat string) {
	Init()
	statIncrementsTotal.WithLabelValues(stat).Inc()
}

// ObserveRateLimited records a request rejected by the rate limiter.
func ObserveRateLimited(path string) {
	Init()
	rateLimitedTotal.WithLabelValues(path).Inc()
}
