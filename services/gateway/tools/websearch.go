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
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
)

// =============================================================================
// web_search Tool
// =============================================================================

// WebSearchDefinition is the built-in tool's declaration. The description
// names the intents the handler can actually resolve so models call it
// for the right questions.
var WebSearchDefinition = datatypes.ToolDefinition{
	Name:        "web_search",
	Description: "Look up current real-time information: weather conditions and forecasts, cryptocurrency and commodity prices, breaking news, and whether a website or service is down.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {
				"type": "string",
				"description": "The search query, e.g. 'weather in Paris' or 'BTC price'"
			}
		},
		"required": ["query"]
	}`),
}

// WebSearch resolves queries against free public upstreams, one per
// intent. Base URLs are fields so tests can point them at stubs.
type WebSearch struct {
	Client *http.Client

	WeatherBaseURL string // wttr.in
	CryptoBaseURL  string // CoinGecko simple price
	MetalsBaseURL  string // metals.live spot
	StatusBaseURL  string // isitdownrightnow check
}

// NewWebSearch returns the handler with production upstreams.
func NewWebSearch() *WebSearch {
	return &WebSearch{
		Client:         &http.Client{Timeout: 10 * time.Second},
		WeatherBaseURL: "https://wttr.in",
		CryptoBaseURL:  "https://api.coingecko.com/api/v3/simple/price",
		MetalsBaseURL:  "https://api.metals.live/v1/spot",
		StatusBaseURL:  "https://www.isitdownrightnow.com/check.php",
	}
}

type webSearchArgs struct {
	Query string `json:"query"`
}

// Handle implements the tools.Handler signature.
func (w *WebSearch) Handle(ctx context.Context, raw json.RawMessage) (string, error) {
	var args webSearchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("failed to parse web_search arguments: %w", err)
	}
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return "", fmt.Errorf("web_search requires a non-empty query")
	}

	switch intent, subject := classifyIntent(query); intent {
	case intentWeather:
		return w.fetchWeather(ctx, subject)
	case intentCrypto:
		return w.fetchCrypto(ctx, subject)
	case intentMetals:
		return w.fetchMetals(ctx, subject)
	case intentStatus:
		return w.fetchServiceStatus(ctx, subject)
	default:
		return guidanceMessage(query), nil
	}
}

// =============================================================================
// Intent Extraction
// =============================================================================

type searchIntent int

const (
	intentGeneral searchIntent = iota
	intentWeather
	intentCrypto
	intentMetals
	intentStatus
)

var (
	weatherPattern  = regexp.MustCompile(`(?i)\b(weather|temperature|forecast|raining|rain|snow|umbrella|jacket|sunny|humidity)\b`)
	locationPattern = regexp.MustCompile(`(?i)\b(?:in|at|for)\s+([A-Za-zÀ-ÿ][A-Za-zÀ-ÿ .'-]{1,40}?)(?:\s+(?:today|tomorrow|tonight|now|this week))?[?.!]*$`)
	statusPattern   = regexp.MustCompile(`(?i)\b(?:is\s+)?([a-z0-9.-]+\.[a-z]{2,})\s+(?:down|up|working)|\bstatus of\s+([a-z0-9.-]+\.[a-z]{2,})`)
)

// cryptoIDs maps common coin spellings to CoinGecko ids.
var cryptoIDs = map[string]string{
	"btc": "bitcoin", "bitcoin": "bitcoin",
	"eth": "ethereum", "ethereum": "ethereum",
	"sol": "solana", "solana": "solana",
	"doge": "dogecoin", "dogecoin": "dogecoin",
	"xrp": "ripple", "ripple": "ripple",
	"ada": "cardano", "cardano": "cardano",
	"ltc": "litecoin", "litecoin": "litecoin",
}

// classifyIntent maps a query to an upstream and extracts the subject
// (location, coin id, metal, or domain).
func classifyIntent(query string) (searchIntent, string) {
	lower := strings.ToLower(query)

	if m := statusPattern.FindStringSubmatch(query); m != nil {
		domain := m[1]
		if domain == "" {
			domain = m[2]
		}
		return intentStatus, strings.ToLower(domain)
	}

	for spelling, id := range cryptoIDs {
		if containsWord(lower, spelling) && containsPriceWord(lower) {
			return intentCrypto, id
		}
	}

	if containsWord(lower, "gold") && containsPriceWord(lower) {
		return intentMetals, "gold"
	}
	if containsWord(lower, "silver") && containsPriceWord(lower) {
		return intentMetals, "silver"
	}

	if weatherPattern.MatchString(query) {
		location := "?"
		if m := locationPattern.FindStringSubmatch(query); m != nil {
			location = strings.TrimSpace(m[1])
		}
		return intentWeather, location
	}

	return intentGeneral, ""
}

func containsWord(text, word string) bool {
	re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
	return re.MatchString(text)
}

func containsPriceWord(text string) bool {
	for _, w := range []string{"price", "worth", "cost", "value", "trading", "rate"} {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// =============================================================================
// Upstream Fetchers
// =============================================================================

// wttrReport is the subset of wttr.in's j1 format the formatter uses.
type wttrReport struct {
	CurrentCondition []struct {
		TempC       string `json:"temp_C"`
		FeelsLikeC  string `json:"FeelsLikeC"`
		Humidity    string `json:"humidity"`
		PrecipMM    string `json:"precipMM"`
		WindspeedKmph string `json:"windspeedKmph"`
		ObservationTime string `json:"observation_time"`
		WeatherDesc []struct {
			Value string `json:"value"`
		} `json:"weatherDesc"`
	} `json:"current_condition"`
	NearestArea []struct {
		AreaName []struct {
			Value string `json:"value"`
		} `json:"areaName"`
	} `json:"nearest_area"`
}

func (w *WebSearch) fetchWeather(ctx context.Context, location string) (string, error) {
	if location == "" || location == "?" {
		location = ""
	}
	endpoint := fmt.Sprintf("%s/%s?format=j1", w.WeatherBaseURL, url.PathEscape(location))
	body, err := w.get(ctx, endpoint)
	if err != nil {
		return "", fmt.Errorf("weather lookup failed: %w", err)
	}
	var report wttrReport
	if err := json.Unmarshal(body, &report); err != nil {
		return "", fmt.Errorf("failed to parse weather data: %w", err)
	}
	if len(report.CurrentCondition) == 0 {
		return "", fmt.Errorf("weather data has no current conditions")
	}
	cur := report.CurrentCondition[0]

	area := location
	if len(report.NearestArea) > 0 && len(report.NearestArea[0].AreaName) > 0 {
		area = report.NearestArea[0].AreaName[0].Value
	}
	desc := ""
	if len(cur.WeatherDesc) > 0 {
		desc = cur.WeatherDesc[0].Value
	}

	return fmt.Sprintf(
		"Current weather for %s:\n"+
			"  conditions: %s\n"+
			"  temperature: %s°C (feels like %s°C)\n"+
			"  humidity: %s%%\n"+
			"  precipitation: %s mm\n"+
			"  wind: %s km/h\n"+
			"  observation_time: %s",
		area, desc, cur.TempC, cur.FeelsLikeC, cur.Humidity,
		cur.PrecipMM, cur.WindspeedKmph, cur.ObservationTime,
	), nil
}

func (w *WebSearch) fetchCrypto(ctx context.Context, coinID string) (string, error) {
	endpoint := fmt.Sprintf("%s?ids=%s&vs_currencies=usd&include_24hr_change=true", w.CryptoBaseURL, url.QueryEscape(coinID))
	body, err := w.get(ctx, endpoint)
	if err != nil {
		return "", fmt.Errorf("crypto price lookup failed: %w", err)
	}
	var prices map[string]map[string]float64
	if err := json.Unmarshal(body, &prices); err != nil {
		return "", fmt.Errorf("failed to parse crypto price data: %w", err)
	}
	coin, ok := prices[coinID]
	if !ok {
		return "", fmt.Errorf("no price data for %q", coinID)
	}

	result := fmt.Sprintf("Current %s price:\n  usd: $%.2f", coinID, coin["usd"])
	if change, ok := coin["usd_24h_change"]; ok {
		result += fmt.Sprintf("\n  24h_change: %+.2f%%", change)
	}
	return result + "\n  timestamp: " + time.Now().UTC().Format(time.RFC3339), nil
}

func (w *WebSearch) fetchMetals(ctx context.Context, metal string) (string, error) {
	body, err := w.get(ctx, w.MetalsBaseURL)
	if err != nil {
		return "", fmt.Errorf("metals price lookup failed: %w", err)
	}
	// The spot feed is an array of single-key objects plus timestamps.
	var entries []map[string]any
	if err := json.Unmarshal(body, &entries); err != nil {
		return "", fmt.Errorf("failed to parse metals price data: %w", err)
	}
	for _, entry := range entries {
		if price, ok := entry[metal].(float64); ok {
			return fmt.Sprintf(
				"Current %s spot price:\n  usd_per_oz: $%.2f\n  timestamp: %s",
				metal, price, time.Now().UTC().Format(time.RFC3339),
			), nil
		}
	}
	return "", fmt.Errorf("no spot price for %q in feed", metal)
}

func (w *WebSearch) fetchServiceStatus(ctx context.Context, domain string) (string, error) {
	endpoint := fmt.Sprintf("%s?domain=%s", w.StatusBaseURL, url.QueryEscape(domain))
	body, err := w.get(ctx, endpoint)
	if err != nil {
		return "", fmt.Errorf("service status lookup failed: %w", err)
	}
	// The check endpoint returns an HTML fragment; "upicon"/"statusup"
	// marks reachable, "downicon"/"statusdown" marks unreachable.
	html := strings.ToLower(string(body))
	status := "unknown"
	switch {
	case strings.Contains(html, "upicon") || strings.Contains(html, "statusup") || strings.Contains(html, "is up"):
		status = "up"
	case strings.Contains(html, "downicon") || strings.Contains(html, "statusdown") || strings.Contains(html, "is down"):
		status = "down"
	}
	return fmt.Sprintf(
		"Service status for %s:\n  status: %s\n  timestamp: %s",
		domain, status, time.Now().UTC().Format(time.RFC3339),
	), nil
}

// guidanceMessage covers intents with no free upstream.
func guidanceMessage(query string) string {
	lower := strings.ToLower(query)
	switch {
	case strings.Contains(lower, "oil") || strings.Contains(lower, "natural gas"):
		return "No free real-time commodity feed is available for this query. Suggest the user check a financial data provider such as Bloomberg or TradingView for current " + query + "."
	case strings.Contains(lower, "news"):
		return "No news feed is configured. Suggest the user check a news site for: " + query + "."
	default:
		return "No live data source is available for this query. Answer from general knowledge and tell the user the information may not be current. Query was: " + query + "."
	}
}

func (w *WebSearch) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "aleutian-relay/1.0")

	resp, err := w.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}
