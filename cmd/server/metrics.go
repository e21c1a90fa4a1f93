package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	parses        *prometheus.CounterVec
	parseDuration *prometheus.HistogramVec
	parseWarnings *prometheus.CounterVec
	merges        *prometheus.CounterVec
	duplicates    prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docstruct_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docstruct_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		parses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docstruct_parse_total",
			Help: "Parse requests by format and outcome.",
		}, []string{"format", "outcome"}),
		parseDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docstruct_parse_duration_seconds",
			Help:    "Time spent parsing one document.",
			Buckets: prometheus.DefBuckets,
		}, []string{"format"}),
		parseWarnings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docstruct_parse_warnings_total",
			Help: "Warnings attached to successful parses, by kind.",
		}, []string{"kind"}),
		merges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docstruct_merge_total",
			Help: "Merge requests by mode.",
		}, []string{"mode"}),
		duplicates: f.NewCounter(prometheus.CounterOpts{
			Name: "docstruct_merge_duplicates_removed_total",
			Help: "Elements dropped by merge deduplication.",
		}),
	}
}
