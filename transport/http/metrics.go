package http

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the backend counters exposed on /metrics
type Metrics struct {
	registrations *prometheus.CounterVec
	redirects     *prometheus.CounterVec
	requests      *prometheus.HistogramVec
}

// NewMetrics registers the backend metrics with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "passport",
			Name:      "registrations_total",
			Help:      "Identity registrations by provider and result.",
		}, []string{"provider", "result"}),
		redirects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "passport",
			Name:      "oauth_redirects_total",
			Help:      "OAuth authorization URLs issued by vendor.",
		}, []string{"provider"}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "passport",
			Name:      "http_request_duration_seconds",
			Help:      "Backend request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
	reg.MustRegister(m.registrations, m.redirects, m.requests)
	return m
}
