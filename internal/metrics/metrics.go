// Package metrics exposes Prometheus collectors for the image picker service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	resolutionsTotal           *prometheus.CounterVec
	resolutionTierTotal        *prometheus.CounterVec
	candidatesExtracted        prometheus.Histogram
	validationsTotal           *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	outboundWaitSeconds        *prometheus.HistogramVec

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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30},
			},
			[]string{"method", "route"},
		)

		resolutionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "randimg_resolutions_total",
				Help: "Total number of page resolutions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		resolutionTierTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "randimg_resolution_tier",
				Help: "Number of successful resolutions, labeled by the tier that accepted.",
			},
			[]string{"tier"},
		)

		candidatesExtracted = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "randimg_candidates_extracted",
				Help:    "Histogram of candidate image URLs extracted per page.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 200, 400},
			},
		)

		validationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "randimg_validations_total",
				Help: "Total number of candidate validations, labeled by result reason.",
			},
			[]string{"reason"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "randimg_fetch_bytes_total",
				Help: "Total number of bytes fetched from upstream, labeled by site.",
			},
			[]string{"site"},
		)

		outboundWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "randimg_outbound_wait_seconds",
				Help:    "Histogram of outbound rate limit wait durations.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveResolution counts a finished resolution. Tier is recorded only for
// accepted resolutions.
func ObserveResolution(outcome, tier string) {
	Init()
	resolutionsTotal.WithLabelValues(outcome).Inc()
	if tier != "" {
		resolutionTierTotal.WithLabelValues(tier).Inc()
	}
}

// ObserveCandidates records how many candidates a page yielded.
func ObserveCandidates(n int) {
	Init()
	candidatesExtracted.Observe(float64(n))
}

// ObserveValidation counts one candidate validation. An empty reason means accepted.
func ObserveValidation(reason string) {
	Init()
	if reason == "" {
		reason = "accepted"
	}
	validationsTotal.WithLabelValues(reason).Inc()
}

// ObserveFetch adds fetched bytes for the site of rawURL.
func ObserveFetch(rawURL string, bytesFetched int) {
	if bytesFetched <= 0 {
		return
	}
	Init()
	fetchBytesTotal.WithLabelValues(SanitizeSite(rawURL)).Add(float64(bytesFetched))
}

// ObserveOutboundWait records the duration of an outbound rate limit wait.
func ObserveOutboundWait(domain string, duration time.Duration) {
	Init()
	outboundWaitSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
