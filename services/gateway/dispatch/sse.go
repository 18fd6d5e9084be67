// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dispatch

import (
	"bufio"
	"io"
	"strings"

	"github.com/AleutianAI/AleutianRelay/services/gateway/translator"
)

// sseBufferSize accommodates single SSE lines carrying large deltas.
const sseBufferSize = 1 << 20

// SSEStream iterates server-sent events off an upstream response body.
// Chunk order is preserved; backpressure is inherited from the reader.
type SSEStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func newSSEStream(body io.ReadCloser) *SSEStream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 64<<10), sseBufferSize)
	return &SSEStream{body: body, scanner: sc}
}

// Next returns the next complete event. io.EOF signals a clean end of
// stream; any other error is a transport failure.
//
// Multi-line data fields are joined with newlines per the SSE format.
// Comment lines (leading ':') and unknown fields are skipped.
func (s *SSEStream) Next() (translator.Event, error) {
	var ev translator.Event
	var data []string

	for s.scanner.Scan() {
		line := s.scanner.Text()
		if line == "" {
			if len(data) == 0 && ev.Name == "" {
				continue
			}
			ev.Data = []byte(strings.Join(data, "\n"))
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Name = value
		case "data":
			data = append(data, value)
		}
	}
	if err := s.scanner.Err(); err != nil {
		return translator.Event{}, err
	}
	// A final event without a trailing blank line still counts.
	if len(data) > 0 {
		ev.Data = []byte(strings.Join(data, "\n"))
		return ev, nil
	}
	return translator.Event{}, io.EOF
}

// Close releases the underlying response body.
func (s *SSEStream) Close() error {
	return s.body.Close()
}
