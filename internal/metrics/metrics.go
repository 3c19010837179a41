// Package metrics provides Prometheus collectors for the lab range backend.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	// Lab lifecycle
	ActiveLabsGauge  prometheus.Gauge
	LabStartsTotal   *prometheus.CounterVec
	LabCleanupsTotal *prometheus.CounterVec

	// Security perimeter
	RequestsDeniedTotal *prometheus.CounterVec

	// Scoring
	FlagSubmissionsTotal *prometheus.CounterVec

	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// Get returns the singleton metrics instance, registering collectors once.
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			ActiveLabsGauge: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "ctfrange_active_labs",
				Help: "Number of lab instances currently starting or running",
			}),
			LabStartsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "ctfrange_lab_starts_total",
				Help: "Total lab starts by lab type",
			}, []string{"lab_type"}),
			LabCleanupsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "ctfrange_lab_cleanups_total",
				Help: "Total lab teardowns by trigger",
			}, []string{"trigger"}),
			RequestsDeniedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "ctfrange_requests_denied_total",
				Help: "Requests rejected by the security perimeter, by reason",
			}, []string{"reason"}),
			FlagSubmissionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "ctfrange_flag_submissions_total",
				Help: "Flag submissions by outcome",
			}, []string{"outcome"}),
			HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "ctfrange_http_requests_total",
				Help: "HTTP requests by method, path, and status",
			}, []string{"method", "path", "status"}),
			HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "ctfrange_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			}, []string{"method", "path"}),
		}
	})
	return instance
}
