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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStats_RecordAndSnapshot(t *testing.T) {
	s := NewStats()
	s.RecordRequest("local", "200", 100, false)
	s.RecordRequest("local", "200", 300, false)
	s.RecordRequest("premium", "502", 50, true)
	s.RecordTokens("local", 100, 40)
	s.RecordTokens("premium", 10, 5)

	snap := s.Snapshot()
	assert.Equal(t, int64(3), snap.RequestsTotal)
	assert.Equal(t, int64(1), snap.ErrorsTotal)
	assert.Equal(t, int64(450), snap.LatencySumMs)
	assert.Equal(t, int64(3), snap.LatencyCount)
	assert.Equal(t, 150.0, snap.LatencyAvgMs)
	assert.Equal(t, int64(110), snap.TokensInputTotal)
	assert.Equal(t, int64(45), snap.TokensOutputTotal)
	assert.Equal(t, int64(2), snap.RequestsByBackend["local"])
	assert.Equal(t, int64(1), snap.RequestsByBackend["premium"])
	assert.Equal(t, int64(2), snap.RequestsByStatus["200"])
	assert.Equal(t, int64(1), snap.RequestsByStatus["502"])
}

func TestStats_SumInvariants(t *testing.T) {
	s := NewStats()
	backends := []string{"a", "b", "c"}
	for i := 0; i < 30; i++ {
		b := backends[i%len(backends)]
		s.RecordRequest(b, "200", int64(i), i%7 == 0)
		s.RecordTokens(b, i, i*2)
	}

	snap := s.Snapshot()
	var byBackend, byStatus, tokIn, tokOut int64
	for _, n := range snap.RequestsByBackend {
		byBackend += n
	}
	for _, n := range snap.RequestsByStatus {
		byStatus += n
	}
	for _, n := range snap.TokensByBackendIn {
		tokIn += n
	}
	for _, n := range snap.TokensByBackendOut {
		tokOut += n
	}
	assert.Equal(t, snap.RequestsTotal, byBackend)
	assert.Equal(t, snap.RequestsTotal, byStatus)
	assert.Equal(t, snap.TokensInputTotal, tokIn)
	assert.Equal(t, snap.TokensOutputTotal, tokOut)
}

func TestStats_NegativeAndZeroTokensIgnored(t *testing.T) {
	s := NewStats()
	s.RecordTokens("b", -5, -1)
	s.RecordTokens("b", 0, 0)

	snap := s.Snapshot()
	assert.Zero(t, snap.TokensInputTotal)
	assert.Zero(t, snap.TokensOutputTotal)
	assert.Empty(t, snap.TokensByBackendIn)
}

func TestStats_EmptySnapshotHasNoAverage(t *testing.T) {
	snap := NewStats().Snapshot()
	assert.Zero(t, snap.LatencyAvgMs)
	assert.NotNil(t, snap.RequestsByBackend)
}

func TestStats_SnapshotIsACopy(t *testing.T) {
	s := NewStats()
	s.RecordRequest("local", "200", 1, false)

	snap := s.Snapshot()
	snap.RequestsByBackend["local"] = 999

	require.Equal(t, int64(1), s.Snapshot().RequestsByBackend["local"])
}

func TestStats_ConcurrentRecording(t *testing.T) {
	s := NewStats()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.RecordRequest("b", "200", 1, false)
				s.RecordTokens("b", 1, 1)
			}
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Equal(t, int64(800), snap.RequestsTotal)
	assert.Equal(t, int64(800), snap.TokensInputTotal)
	assert.Equal(t, int64(800), snap.RequestsByBackend["b"])
}
