// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// =============================================================================
// Prometheus Exposition
// =============================================================================

// Collector adapts Stats to the Prometheus exposition format. One scrape
// takes one Snapshot, so every series in a scrape is internally
// consistent.
//
// Exposed series:
//
//	llm_proxy_requests_total
//	llm_proxy_errors_total
//	llm_proxy_latency_avg_ms
//	llm_proxy_requests_by_backend{backend=...}
//	llm_proxy_requests_by_status{status=...}
//	llm_proxy_tokens_input_total
//	llm_proxy_tokens_output_total
//	llm_proxy_tokens_by_backend_input{backend=...}
//	llm_proxy_tokens_by_backend_output{backend=...}
type Collector struct {
	stats *Stats

	requestsTotal     *prometheus.Desc
	errorsTotal       *prometheus.Desc
	latencyAvgMs      *prometheus.Desc
	requestsByBackend *prometheus.Desc
	requestsByStatus  *prometheus.Desc
	tokensInputTotal  *prometheus.Desc
	tokensOutputTotal *prometheus.Desc
	tokensByBackendIn *prometheus.Desc
	tokensByBackendOut *prometheus.Desc
}

// NewCollector builds a Collector over the given counter set.
func NewCollector(stats *Stats) *Collector {
	return &Collector{
		stats: stats,
		requestsTotal: prometheus.NewDesc(
			"llm_proxy_requests_total",
			"Total proxied requests.", nil, nil),
		errorsTotal: prometheus.NewDesc(
			"llm_proxy_errors_total",
			"Total requests that ended in a proxy error.", nil, nil),
		latencyAvgMs: prometheus.NewDesc(
			"llm_proxy_latency_avg_ms",
			"Average end-to-end latency in milliseconds.", nil, nil),
		requestsByBackend: prometheus.NewDesc(
			"llm_proxy_requests_by_backend",
			"Proxied requests per backend.", []string{"backend"}, nil),
		requestsByStatus: prometheus.NewDesc(
			"llm_proxy_requests_by_status",
			"Proxied requests per response status.", []string{"status"}, nil),
		tokensInputTotal: prometheus.NewDesc(
			"llm_proxy_tokens_input_total",
			"Total input tokens across all backends.", nil, nil),
		tokensOutputTotal: prometheus.NewDesc(
			"llm_proxy_tokens_output_total",
			"Total output tokens across all backends.", nil, nil),
		tokensByBackendIn: prometheus.NewDesc(
			"llm_proxy_tokens_by_backend_input",
			"Input tokens per backend.", []string{"backend"}, nil),
		tokensByBackendOut: prometheus.NewDesc(
			"llm_proxy_tokens_by_backend_output",
			"Output tokens per backend.", []string{"backend"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requestsTotal
	ch <- c.errorsTotal
	ch <- c.latencyAvgMs
	ch <- c.requestsByBackend
	ch <- c.requestsByStatus
	ch <- c.tokensInputTotal
	ch <- c.tokensOutputTotal
	ch <- c.tokensByBackendIn
	ch <- c.tokensByBackendOut
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.stats.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.requestsTotal, prometheus.CounterValue, float64(snap.RequestsTotal))
	ch <- prometheus.MustNewConstMetric(c.errorsTotal, prometheus.CounterValue, float64(snap.ErrorsTotal))
	ch <- prometheus.MustNewConstMetric(c.latencyAvgMs, prometheus.GaugeValue, snap.LatencyAvgMs)
	ch <- prometheus.MustNewConstMetric(c.tokensInputTotal, prometheus.CounterValue, float64(snap.TokensInputTotal))
	ch <- prometheus.MustNewConstMetric(c.tokensOutputTotal, prometheus.CounterValue, float64(snap.TokensOutputTotal))

	for backend, n := range snap.RequestsByBackend {
		ch <- prometheus.MustNewConstMetric(c.requestsByBackend, prometheus.CounterValue, float64(n), backend)
	}
	for status, n := range snap.RequestsByStatus {
		ch <- prometheus.MustNewConstMetric(c.requestsByStatus, prometheus.CounterValue, float64(n), status)
	}
	for backend, n := range snap.TokensByBackendIn {
		ch <- prometheus.MustNewConstMetric(c.tokensByBackendIn, prometheus.CounterValue, float64(n), backend)
	}
	for backend, n := range snap.TokensByBackendOut {
		ch <- prometheus.MustNewConstMetric(c.tokensByBackendOut, prometheus.CounterValue, float64(n), backend)
	}
}

var _ prometheus.Collector = (*Collector)(nil)

// MetricsHandler returns an http.Handler exposing the llm_proxy_* series
// plus Go runtime and process collectors on a dedicated registry. Served
// on the metrics port, separate from the proxy listener.
func MetricsHandler(stats *Stats) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(stats),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
