// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyIntent(t *testing.T) {
	tests := []struct {
		query   string
		intent  searchIntent
		subject string
	}{
		{"weather in Paris", intentWeather, "Paris"},
		{"do I need an umbrella in Oslo today", intentWeather, "Oslo"},
		{"is it raining", intentWeather, "?"},
		{"BTC price", intentCrypto, "bitcoin"},
		{"what is ethereum worth", intentCrypto, "ethereum"},
		{"doge trading volume and value", intentCrypto, "dogecoin"},
		{"gold price per ounce", intentMetals, "gold"},
		{"silver spot worth", intentMetals, "silver"},
		{"is github.com down", intentStatus, "github.com"},
		{"status of example.org", intentStatus, "example.org"},
		{"best pizza recipe", intentGeneral, ""},
		{"bitcoin whitepaper summary", intentGeneral, ""},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			intent, subject := classifyIntent(tt.query)
			assert.Equal(t, tt.intent, intent)
			assert.Equal(t, tt.subject, subject)
		})
	}
}

func TestWebSearch_Weather(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Bergen", r.URL.Path)
		assert.Equal(t, "j1", r.URL.Query().Get("format"))
		w.Write([]byte(`{
			"current_condition": [{
				"temp_C": "8", "FeelsLikeC": "5", "humidity": "90",
				"precipMM": "2.1", "windspeedKmph": "25",
				"observation_time": "10:00 AM",
				"weatherDesc": [{"value": "Light rain"}]
			}],
			"nearest_area": [{"areaName": [{"value": "Bergen"}]}]
		}`))
	}))
	defer srv.Close()

	ws := &WebSearch{Client: srv.Client(), WeatherBaseURL: srv.URL}
	out, err := ws.Handle(context.Background(), json.RawMessage(`{"query":"weather in Bergen"}`))
	require.NoError(t, err)
	assert.Contains(t, out, "Current weather for Bergen")
	assert.Contains(t, out, "Light rain")
	assert.Contains(t, out, "8°C (feels like 5°C)")
}

func TestWebSearch_Crypto(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bitcoin", r.URL.Query().Get("ids"))
		w.Write([]byte(`{"bitcoin": {"usd": 97123.45, "usd_24h_change": -2.31}}`))
	}))
	defer srv.Close()

	ws := &WebSearch{Client: srv.Client(), CryptoBaseURL: srv.URL}
	out, err := ws.Handle(context.Background(), json.RawMessage(`{"query":"BTC price"}`))
	require.NoError(t, err)
	assert.Contains(t, out, "$97123.45")
	assert.Contains(t, out, "-2.31%")
}

func TestWebSearch_Metals(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"gold": 2655.20}, {"silver": 31.44}, {"timestamp": 1}]`))
	}))
	defer srv.Close()

	ws := &WebSearch{Client: srv.Client(), MetalsBaseURL: srv.URL}
	out, err := ws.Handle(context.Background(), json.RawMessage(`{"query":"gold price today"}`))
	require.NoError(t, err)
	assert.Contains(t, out, "gold spot price")
	assert.Contains(t, out, "$2655.20")
}

func TestWebSearch_ServiceStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "github.com", r.URL.Query().Get("domain"))
		w.Write([]byte(`<div class="statusup">Github.com is UP and reachable.</div>`))
	}))
	defer srv.Close()

	ws := &WebSearch{Client: srv.Client(), StatusBaseURL: srv.URL}
	out, err := ws.Handle(context.Background(), json.RawMessage(`{"query":"is github.com down"}`))
	require.NoError(t, err)
	assert.Contains(t, out, "github.com")
	assert.Contains(t, out, "status: up")
}

func TestWebSearch_GeneralQueryReturnsGuidance(t *testing.T) {
	ws := &WebSearch{Client: &http.Client{}}
	out, err := ws.Handle(context.Background(), json.RawMessage(`{"query":"latest news about space"}`))
	require.NoError(t, err)
	assert.Contains(t, out, "news")

	out, err = ws.Handle(context.Background(), json.RawMessage(`{"query":"oil futures price outlook"}`))
	require.NoError(t, err)
	assert.Contains(t, out, "commodity")
}

func TestWebSearch_BadArguments(t *testing.T) {
	ws := &WebSearch{Client: &http.Client{}}

	_, err := ws.Handle(context.Background(), json.RawMessage(`{"query":""}`))
	assert.Error(t, err)

	_, err = ws.Handle(context.Background(), json.RawMessage(`{broken`))
	assert.Error(t, err)
}

func TestWebSearch_UpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ws := &WebSearch{Client: srv.Client(), WeatherBaseURL: srv.URL}
	_, err := ws.Handle(context.Background(), json.RawMessage(`{"query":"weather in Oslo"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weather lookup failed")
}
