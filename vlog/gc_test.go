// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vlog

import (
	"sync"
	"testing"

	"github.com/kr/pretty"
	"github.com/stretchr/testify/require"
)

// requirePointerEqual compares two Pointers and, on mismatch, includes a
// field-by-field diff in the failure message rather than the raw structs.
func requirePointerEqual(t *testing.T, want, got Pointer, msg string) {
	t.Helper()
	if want != got {
		t.Fatalf("%s:\n%s", msg, pretty.Diff(want, got))
	}
}

// fakeIndex is a minimal in-memory vlog.Index used to exercise the
// garbage collector without pulling in a real LSM store.
type fakeIndex struct {
	mu       sync.Mutex
	pointers map[string]Pointer
	raw      map[string][]byte
	shutdown bool
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{pointers: map[string]Pointer{}, raw: map[string][]byte{}}
}

func (idx *fakeIndex) GetPointer(key []byte) (Pointer, bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	p, ok := idx.pointers[string(key)]
	return p, ok, nil
}

func (idx *fakeIndex) Write(batch *PointerBatch) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, e := range batch.Entries() {
		idx.pointers[string(e.Key)] = e.Ptr
	}
	return nil
}

func (idx *fakeIndex) DeletePointer(key []byte) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.pointers, string(key))
	return nil
}

func (idx *fakeIndex) Put(key, value []byte) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.raw[string(key)] = append([]byte(nil), value...)
	return nil
}

func (idx *fakeIndex) Get(key []byte) ([]byte, bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	v, ok := idx.raw[string(key)]
	return v, ok, nil
}

func (idx *fakeIndex) IsShutdown() bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.shutdown
}

func (idx *fakeIndex) setShutdown(v bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.shutdown = v
}

// S5: k1=v1, k2=v2, k1=v3 all land in vlog 1. With threshold 1, v1 is
// dead (superseded by v3) and should be dropped; v2 and v3 are live and
// should be re-inserted into vlog 2; vlog 1 should be deleted entirely.
func TestGarbageCollectReclaimsDeadValues(t *testing.T) {
	env, _ := newTestVlog(t)
	idx := newFakeIndex()
	store, err := Open(env, idx, 1, 1<<20, 1<<30, nil, true)
	require.NoError(t, err)

	require.NoError(t, store.Put([]byte("k1"), []byte("v1")))
	require.NoError(t, store.Put([]byte("k2"), []byte("v2")))
	require.NoError(t, store.Put([]byte("k1"), []byte("v3")))
	require.NoError(t, store.Close())

	// Roll to a fresh active vlog so the collector has somewhere to
	// re-insert live records; vlog 1 is now eligible for cleaning.
	require.NoError(t, store.rollover(2))

	require.True(t, store.manager.HasCandidate())
	ran, err := store.RunGC()
	require.NoError(t, err)
	require.True(t, ran)

	v1, ok, err := idx.GetPointer([]byte("k1"))
	require.NoError(t, err)
	require.True(t, ok)
	requirePointerEqual(t, Pointer{VlogNumber: 2, Offset: v1.Offset, Size: v1.Size}, v1, "k1 pointer after GC")

	v2, ok, err := idx.GetPointer([]byte("k2"))
	require.NoError(t, err)
	require.True(t, ok)
	requirePointerEqual(t, Pointer{VlogNumber: 2, Offset: v2.Offset, Size: v2.Size}, v2, "k2 pointer after GC")

	got1, err := store.Get([]byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v3"), got1)

	got2, err := store.Get([]byte("k2"))
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), got2)

	_, err = env.FileSize(VlogFileName(1))
	require.Error(t, err)
}

func TestGarbageCollectDeletesFullyCleanedVlog(t *testing.T) {
	env, _ := newTestVlog(t)
	idx := newFakeIndex()
	store, err := Open(env, idx, 1, 1<<20, 1<<30, nil, true)
	require.NoError(t, err)

	require.NoError(t, store.Put([]byte("k1"), []byte("v1")))
	require.NoError(t, store.Put([]byte("k1"), []byte("v2")))
	require.NoError(t, store.Close())
	require.NoError(t, store.rollover(2))

	require.NoError(t, store.RunGCUntilClean())

	_, err = env.FileSize(VlogFileName(1))
	require.Error(t, err)
}

// S6: a crash mid-GC is recovered by persisting and replaying the Tail.
// After resuming from a persisted tail that already reflects k2's
// re-insertion, re-scanning the untouched range must not double-count
// k2 as live (its pointer already points elsewhere) while k1's value
// is re-inserted again, exactly as an uninterrupted run would.
func TestGarbageCollectResumesFromPersistedTail(t *testing.T) {
	env, _ := newTestVlog(t)
	idx := newFakeIndex()
	store, err := Open(env, idx, 1, 1<<20, 1<<30, nil, true)
	require.NoError(t, err)

	require.NoError(t, store.Put([]byte("k1"), []byte("v1")))
	require.NoError(t, store.Put([]byte("k2"), []byte("v2")))
	require.NoError(t, store.Put([]byte("k1"), []byte("v3")))
	require.NoError(t, store.Close())
	require.NoError(t, store.rollover(2))

	// Simulate a crash after k2 was re-inserted into vlog 2 but before
	// any tail was persisted: the resumption point is still zero.
	require.NoError(t, store.Put([]byte("k2"), []byte("v2")))
	require.NoError(t, store.manager.Recover(1, 0))
	require.NoError(t, store.RunGCUntilClean())

	got1, err := store.Get([]byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v3"), got1)

	got2, err := store.Get([]byte("k2"))
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), got2)

	_, err = env.FileSize(VlogFileName(1))
	require.Error(t, err)
}
