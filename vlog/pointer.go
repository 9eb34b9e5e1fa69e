// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vlog

import (
	"encoding/binary"

	"github.com/paullcm/WiscKey/errors"
)

// PointerSize is the width, in bytes, of a marshaled Pointer.
const PointerSize = 16

// Pointer locates a value's payload within a vlog file. It is the value
// half of an index entry: the index maps a key to a Pointer instead of to
// the value itself.
//
// Earlier revisions of this format packed Offset, VlogNumber and Size into
// a single 8-byte token (32/8/24 bits respectively), which could not
// address more than 256 vlog files -- a width the manager's own persisted
// counters never agreed on. Pointer instead uses one full-width field per
// component so both sides of the format share a single notion of how big
// a vlog number can get.
type Pointer struct {
	VlogNumber uint32
	Offset     uint64
	Size       uint32
}

// End returns the absolute offset one past the payload this pointer
// addresses. For a value stored inside a batch this is the end of that
// entry within the frame, not necessarily the next record's header.
func (p Pointer) End() uint64 {
	return p.Offset + uint64(p.Size)
}

// Marshal appends the wire encoding of p to b and returns the extended
// slice.
func (p Pointer) Marshal(b []byte) []byte {
	var buf [PointerSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], p.VlogNumber)
	binary.LittleEndian.PutUint64(buf[4:12], p.Offset)
	binary.LittleEndian.PutUint32(buf[12:16], p.Size)
	return append(b, buf[:]...)
}

// UnmarshalPointer parses a Pointer from the front of b.
func UnmarshalPointer(b []byte) (Pointer, error) {
	const op errors.Op = "vlog.UnmarshalPointer"
	if len(b) < PointerSize {
		return Pointer{}, errors.E(op, errors.Invalid, errors.Str("short pointer"))
	}
	return Pointer{
		VlogNumber: binary.LittleEndian.Uint32(b[0:4]),
		Offset:     binary.LittleEndian.Uint64(b[4:12]),
		Size:       binary.LittleEndian.Uint32(b[12:16]),
	}, nil
}

// TailKey is the reserved index key under which the garbage collector
// persists its resumption point.
const TailKey = "tail"

// Tail is the resumption point the collector persists after reclaiming a
// range of a vlog: the vlog being cleaned and the offset immediately past
// the last reclaimed record.
type Tail struct {
	VlogNumber uint32
	Offset     uint64
}

// TailSize is the width, in bytes, of a marshaled Tail.
const TailSize = 12

// Marshal appends the wire encoding of t to b and returns the extended
// slice.
func (t Tail) Marshal(b []byte) []byte {
	var buf [TailSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], t.VlogNumber)
	binary.LittleEndian.PutUint64(buf[4:12], t.Offset)
	return append(b, buf[:]...)
}

// UnmarshalTail parses a Tail from the front of b.
func UnmarshalTail(b []byte) (Tail, error) {
	const op errors.Op = "vlog.UnmarshalTail"
	if len(b) < TailSize {
		return Tail{}, errors.E(op, errors.Invalid, errors.Str("short tail"))
	}
	return Tail{
		VlogNumber: binary.LittleEndian.Uint32(b[0:4]),
		Offset:     binary.LittleEndian.Uint64(b[4:12]),
	}, nil
}
