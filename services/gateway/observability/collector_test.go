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
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_ExposesSeries(t *testing.T) {
	stats := NewStats()
	stats.RecordRequest("local", "200", 100, false)
	stats.RecordRequest("premium", "502", 300, true)
	stats.RecordTokens("local", 120, 60)

	expected := `
# HELP llm_proxy_requests_total Total proxied requests.
# TYPE llm_proxy_requests_total counter
llm_proxy_requests_total 2
# HELP llm_proxy_errors_total Total requests that ended in a proxy error.
# TYPE llm_proxy_errors_total counter
llm_proxy_errors_total 1
# HELP llm_proxy_latency_avg_ms Average end-to-end latency in milliseconds.
# TYPE llm_proxy_latency_avg_ms gauge
llm_proxy_latency_avg_ms 200
# HELP llm_proxy_requests_by_backend Proxied requests per backend.
# TYPE llm_proxy_requests_by_backend counter
llm_proxy_requests_by_backend{backend="local"} 1
llm_proxy_requests_by_backend{backend="premium"} 1
# HELP llm_proxy_requests_by_status Proxied requests per response status.
# TYPE llm_proxy_requests_by_status counter
llm_proxy_requests_by_status{status="200"} 1
llm_proxy_requests_by_status{status="502"} 1
# HELP llm_proxy_tokens_input_total Total input tokens across all backends.
# TYPE llm_proxy_tokens_input_total counter
llm_proxy_tokens_input_total 120
# HELP llm_proxy_tokens_output_total Total output tokens across all backends.
# TYPE llm_proxy_tokens_output_total counter
llm_proxy_tokens_output_total 60
# HELP llm_proxy_tokens_by_backend_input Input tokens per backend.
# TYPE llm_proxy_tokens_by_backend_input counter
llm_proxy_tokens_by_backend_input{backend="local"} 120
# HELP llm_proxy_tokens_by_backend_output Output tokens per backend.
# TYPE llm_proxy_tokens_by_backend_output counter
llm_proxy_tokens_by_backend_output{backend="local"} 60
`
	require.NoError(t, testutil.CollectAndCompare(NewCollector(stats), strings.NewReader(expected)))
}

func TestCollector_RegistersCleanly(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(NewStats())))

	// Empty stats still expose the scalar series.
	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "llm_proxy_requests_total")
	assert.Contains(t, names, "llm_proxy_errors_total")
	assert.Contains(t, names, "llm_proxy_latency_avg_ms")
}

func TestMetricsHandler_ServesExposition(t *testing.T) {
	stats := NewStats()
	stats.RecordRequest("local", "200", 42, false)

	rec := httptest.NewRecorder()
	MetricsHandler(stats).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "llm_proxy_requests_total 1")
	assert.Contains(t, body, "go_goroutines")
}
