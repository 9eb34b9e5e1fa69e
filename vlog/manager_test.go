// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vlog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIncStaleAddsCandidateOnceThresholdReached(t *testing.T) {
	m := NewManager(2)
	m.AddVlog(1, nil)
	m.SetNow(2)

	require.False(t, m.HasCandidate())
	m.IncStale(1)
	require.False(t, m.HasCandidate())
	m.IncStale(1)
	require.True(t, m.HasCandidate())
}

func TestIncStaleIgnoresUnknownVlog(t *testing.T) {
	m := NewManager(1)
	require.NotPanics(t, func() { m.IncStale(99) })
	require.False(t, m.HasCandidate())
}

func TestSetNowExcludesActiveVlogFromCandidacy(t *testing.T) {
	m := NewManager(1)
	m.AddVlog(1, nil)
	m.SetNow(1)
	m.IncStale(1)
	require.False(t, m.HasCandidate(), "the active vlog must never be a cleaning candidate")
}

func TestSetNowPromotesFormerlyActiveVlogToCandidate(t *testing.T) {
	m := NewManager(1)
	m.AddVlog(1, nil)
	m.SetNow(1)
	m.IncStale(1)
	require.False(t, m.HasCandidate())

	m.AddVlog(2, nil)
	m.SetNow(2)
	require.True(t, m.HasCandidate(), "vlog 1 met the threshold while active and must become a candidate once it is no longer now")
}

func TestPickForCleaningPicksSmallestAndErrorsWithoutCandidates(t *testing.T) {
	m := NewManager(1)
	_, err := m.PickForCleaning()
	require.Error(t, err)

	m.AddVlog(3, nil)
	m.AddVlog(1, nil)
	m.AddVlog(2, nil)
	m.IncStale(3)
	m.IncStale(1)
	m.IncStale(2)

	got, err := m.PickForCleaning()
	require.NoError(t, err)
	require.Equal(t, uint32(1), got)

	_, err = m.PickForCleaning()
	require.Error(t, err, "a second cleaning pass may not start while one is in progress")
}

func TestPauseReturnsVlogToCandidatesIfStillEligible(t *testing.T) {
	m := NewManager(1)
	m.AddVlog(1, nil)
	m.IncStale(1)
	vlogNumber, err := m.PickForCleaning()
	require.NoError(t, err)
	require.False(t, m.HasCandidate())

	require.NoError(t, m.Pause(vlogNumber, 42))
	require.True(t, m.HasCandidate())
	require.Equal(t, uint64(42), m.CleanPos(vlogNumber))
}

func TestFinishDeleteRemovesVlogEntirely(t *testing.T) {
	m := NewManager(1)
	m.AddVlog(1, nil)
	m.IncStale(1)
	vlogNumber, err := m.PickForCleaning()
	require.NoError(t, err)

	require.NoError(t, m.FinishDelete(vlogNumber))
	_, ok := m.GetReader(vlogNumber)
	require.False(t, ok)
	require.False(t, m.HasCandidate())
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	src := NewManager(1)
	src.AddVlog(1, nil)
	src.AddVlog(2, nil)
	src.IncStale(1)
	src.IncStale(1)
	src.IncStale(2)

	data := src.Serialize()

	dst := NewManager(1)
	dst.AddVlog(1, nil)
	dst.AddVlog(2, nil)
	require.NoError(t, dst.Deserialize(data))
	require.True(t, dst.HasCandidate())

	vlogNumber, err := dst.PickForCleaning()
	require.NoError(t, err)
	require.Contains(t, []uint32{1, 2}, vlogNumber)
}

func TestDeserializeIgnoresUnknownVlogTokens(t *testing.T) {
	src := NewManager(1)
	src.AddVlog(5, nil)
	src.IncStale(5)
	data := src.Serialize()

	dst := NewManager(1)
	require.NoError(t, dst.Deserialize(data))
	require.False(t, dst.HasCandidate())
}

func TestDeserializeRejectsTruncatedData(t *testing.T) {
	m := NewManager(1)
	err := m.Deserialize([]byte{1, 2, 3})
	require.Error(t, err)
}
