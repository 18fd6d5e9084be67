// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// requestTimeout bounds one control-plane call.
const requestTimeout = 15 * time.Second

// debugGet fetches a /debug endpoint and decodes the JSON reply into out.
// When --json is set the raw body is printed instead and out is skipped.
func debugGet(path string, out any) error {
	return debugCall(http.MethodGet, path, nil, out)
}

// debugPost sends a JSON body to a /debug endpoint.
func debugPost(path string, body, out any) error {
	return debugCall(http.MethodPost, path, body, out)
}

func debugCall(method, path string, body, out any) error {
	url := strings.TrimRight(serverURL, "/") + path
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: requestTimeout}
	logger.Debug("calling gateway", "method", method, "url", url)
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("is the gateway running at %s? %w", serverURL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if jsonOutput {
		fmt.Println(string(raw))
		return nil
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
