package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "janus_http_requests_total",
		Help: "Total number of proxied HTTP requests by listener and status class.",
	}, []string{"listener", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "janus_http_request_duration_seconds",
		Help:    "Latency of proxied HTTP requests by listener.",
		Buckets: prometheus.DefBuckets,
	}, []string{"listener"})

	upstreamErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "janus_upstream_errors_total",
		Help: "Total number of upstream connection failures answered with 502.",
	})

	misdirectedCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "janus_misdirected_requests_total",
		Help: "Total number of requests for hosts absent from the route table.",
	})
)
