// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vlog

// Index is the external collaborator the garbage collector consults for
// liveness and updates as it reclaims a vlog. It is a small slice of
// whatever LSM-backed index owns the key space; the vlog subsystem never
// reaches further into it than this.
type Index interface {
	// GetPointer returns the Pointer currently stored for key, and
	// whether key exists at all.
	GetPointer(key []byte) (ptr Pointer, ok bool, err error)

	// Write atomically applies every key -> Pointer update in batch.
	Write(batch *PointerBatch) error

	// DeletePointer removes key's pointer entry, if any.
	DeletePointer(key []byte) error

	// Put stores an arbitrary key/value pair, used by the collector to
	// persist its resumption Tail.
	Put(key, value []byte) error

	// Get retrieves an arbitrary key/value pair previously stored with
	// Put.
	Get(key []byte) (value []byte, ok bool, err error)

	// IsShutdown reports whether the index -- and by extension the
	// whole store -- is in the process of shutting down. The collector
	// polls this as its sole cancellation signal.
	IsShutdown() bool
}

// Appender is the single serialized append path onto the active vlog.
// Both foreground writes (Store.Put, Store.Delete) and the collector's
// re-insertion of still-live values during cleaning go through it, so
// the two can run concurrently without racing on the underlying
// Writer's file offset. Every append is framed as a RecordBatch, the
// only frame shape a vlog file ever contains, so a vlog written by one
// path is indistinguishable on disk from one written by the other.
type Appender interface {
	AppendBatch(batch *RecordBatch) ([]BatchResult, error)
}
