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
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseFrom(s string) *SSEStream {
	return newSSEStream(io.NopCloser(strings.NewReader(s)))
}

func TestSSEStream_NamedAndUnnamedEvents(t *testing.T) {
	s := sseFrom("event: message_start\ndata: {\"a\":1}\n\ndata: {\"b\":2}\n\n")

	ev, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "message_start", ev.Name)
	assert.Equal(t, `{"a":1}`, string(ev.Data))

	ev, err = s.Next()
	require.NoError(t, err)
	assert.Empty(t, ev.Name)
	assert.Equal(t, `{"b":2}`, string(ev.Data))

	_, err = s.Next()
	assert.Equal(t, io.EOF, err)
}

func TestSSEStream_MultiLineDataJoined(t *testing.T) {
	s := sseFrom("data: line one\ndata: line two\n\n")
	ev, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", string(ev.Data))
}

func TestSSEStream_CommentsAndBlankLeadersSkipped(t *testing.T) {
	s := sseFrom(": keep-alive\n\n: another comment\ndata: x\n\n")
	ev, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "x", string(ev.Data))
}

func TestSSEStream_ValueWithColons(t *testing.T) {
	s := sseFrom("data: {\"url\":\"http://example.com\"}\n\n")
	ev, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"url":"http://example.com"}`, string(ev.Data))
}

func TestSSEStream_TrailingEventWithoutBlankLine(t *testing.T) {
	s := sseFrom("data: last")
	ev, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "last", string(ev.Data))

	_, err = s.Next()
	assert.Equal(t, io.EOF, err)
}

func TestSSEStream_EmptyStream(t *testing.T) {
	s := sseFrom("")
	_, err := s.Next()
	assert.Equal(t, io.EOF, err)
}

func TestSSEStream_LargeLine(t *testing.T) {
	// A delta bigger than the scanner's initial buffer but inside the cap.
	payload := strings.Repeat("x", 200<<10)
	s := sseFrom("data: " + payload + "\n\n")
	ev, err := s.Next()
	require.NoError(t, err)
	assert.Len(t, ev.Data, 200<<10)
}
