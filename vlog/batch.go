// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vlog

import (
	"encoding/binary"

	"github.com/paullcm/WiscKey/errors"
)

// RecordBatch is the payload format written to a vlog file: a sequence of
// (key, value) puts and key deletes. This format is owned by whatever
// write-ahead log feeds the vlog -- the index keeps its own record of
// which of a batch's keys were deletes, so the collector only needs to
// know how to skip over them.
type RecordBatch struct {
	buf   []byte
	count int
}

// NewRecordBatch returns an empty RecordBatch.
func NewRecordBatch() *RecordBatch {
	return &RecordBatch{}
}

// Put appends a key/value put to the batch.
func (b *RecordBatch) Put(key, value []byte) {
	b.buf = append(b.buf, 0)
	b.buf = appendUvarint(b.buf, uint64(len(key)))
	b.buf = append(b.buf, key...)
	b.buf = appendUvarint(b.buf, uint64(len(value)))
	b.buf = append(b.buf, value...)
	b.count++
}

// Delete appends a key delete to the batch.
func (b *RecordBatch) Delete(key []byte) {
	b.buf = append(b.buf, 1)
	b.buf = appendUvarint(b.buf, uint64(len(key)))
	b.buf = append(b.buf, key...)
	b.count++
}

// Len returns the number of entries in the batch.
func (b *RecordBatch) Len() int { return b.count }

// ByteSize returns the size, in bytes, of the batch's wire encoding so
// far, for write-buffer threshold checks.
func (b *RecordBatch) ByteSize() int { return len(b.buf) }

// Marshal returns the wire encoding of the batch.
func (b *RecordBatch) Marshal() []byte { return b.buf }

func appendUvarint(b []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(b, tmp[:n]...)
}

// WalkRecordBatch parses a RecordBatch payload, calling fn once per entry.
// payloadStart is the absolute file offset of data[0], used to compute
// valueEnd, the absolute offset immediately following the value bytes (or
// immediately following the key, for a delete). This lets the garbage
// collector compare valueEnd against a Pointer's End() without needing to
// re-marshal anything.
func WalkRecordBatch(payloadStart uint64, data []byte, fn func(key, value []byte, isDel bool, valueEnd uint64) error) error {
	const op errors.Op = "vlog.WalkRecordBatch"
	i := 0
	for i < len(data) {
		if i >= len(data) {
			break
		}
		isDel := data[i] != 0
		i++
		klen, n := binary.Uvarint(data[i:])
		if n <= 0 {
			return errors.E(op, errors.Corruption, errors.Str("bad batch encoding: key length"))
		}
		i += n
		if i+int(klen) > len(data) {
			return errors.E(op, errors.Corruption, errors.Str("bad batch encoding: short key"))
		}
		key := data[i : i+int(klen)]
		i += int(klen)

		var value []byte
		var valueEnd uint64
		if isDel {
			valueEnd = payloadStart + uint64(i)
		} else {
			vlen, n2 := binary.Uvarint(data[i:])
			if n2 <= 0 {
				return errors.E(op, errors.Corruption, errors.Str("bad batch encoding: value length"))
			}
			i += n2
			if i+int(vlen) > len(data) {
				return errors.E(op, errors.Corruption, errors.Str("bad batch encoding: short value"))
			}
			value = data[i : i+int(vlen)]
			i += int(vlen)
			valueEnd = payloadStart + uint64(i)
		}
		if err := fn(key, value, isDel, valueEnd); err != nil {
			return err
		}
	}
	return nil
}

// BatchResult describes one entry of a RecordBatch after it has been
// appended to a vlog: its key, whether it was a delete, and (for puts)
// the Pointer at which its value now lives.
type BatchResult struct {
	Key   []byte
	Ptr   Pointer
	IsDel bool
}

// AddBatch appends batch as a single framed record and returns, for each
// entry, the Pointer at which its value now lives (for deletes, Ptr is
// the zero value).
func (w *Writer) AddBatch(batch *RecordBatch) ([]BatchResult, error) {
	const op errors.Op = "vlog.Writer.AddBatch"
	payload := batch.Marshal()
	payloadStart := w.pos + HeaderSize
	if _, err := w.AddRecord(payload); err != nil {
		return nil, errors.E(op, err)
	}
	results := make([]BatchResult, 0, batch.Len())
	err := WalkRecordBatch(payloadStart, payload, func(key, value []byte, isDel bool, valueEnd uint64) error {
		r := BatchResult{Key: append([]byte(nil), key...), IsDel: isDel}
		if !isDel {
			r.Ptr = Pointer{
				VlogNumber: w.vlog,
				Offset:     valueEnd - uint64(len(value)),
				Size:       uint32(len(value)),
			}
		}
		results = append(results, r)
		return nil
	})
	if err != nil {
		return nil, errors.E(op, err)
	}
	return results, nil
}

// PointerBatch accumulates key -> Pointer updates for a single atomic
// Index.Write call, the form the garbage collector uses to re-point
// still-live keys at their new locations after cleaning a vlog.
type PointerBatch struct {
	entries []PointerBatchEntry
	bytes   int
}

// PointerBatchEntry is one update in a PointerBatch.
type PointerBatchEntry struct {
	Key []byte
	Ptr Pointer
}

// NewPointerBatch returns an empty PointerBatch.
func NewPointerBatch() *PointerBatch {
	return &PointerBatch{}
}

// Put adds a key -> Pointer update to the batch.
func (b *PointerBatch) Put(key []byte, ptr Pointer) {
	b.entries = append(b.entries, PointerBatchEntry{Key: key, Ptr: ptr})
	b.bytes += len(key) + PointerSize
}

// Len returns the number of entries in the batch.
func (b *PointerBatch) Len() int { return len(b.entries) }

// ByteSize estimates the batch's size for write-buffer threshold checks.
func (b *PointerBatch) ByteSize() int { return b.bytes }

// Entries returns the batch's entries.
func (b *PointerBatch) Entries() []PointerBatchEntry { return b.entries }

// Reset empties the batch for reuse.
func (b *PointerBatch) Reset() {
	b.entries = b.entries[:0]
	b.bytes = 0
}
