// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vlog

import (
	"github.com/paullcm/WiscKey/errors"
	"github.com/paullcm/WiscKey/storage"
)

// Writer appends records to a single vlog file. A Writer owns the only
// file handle that may write to its vlog; callers are responsible for
// ensuring at most one goroutine calls AddRecord on a given Writer at a
// time.
type Writer struct {
	fd   storage.WritableFile
	pos  uint64 // current end of file, i.e. the offset the next record will land at.
	vlog uint32

	closed bool
}

// NewWriter returns a Writer appending to fd, whose current length is
// size, for the given vlog number.
func NewWriter(fd storage.WritableFile, vlog uint32, size uint64) *Writer {
	return &Writer{fd: fd, pos: size, vlog: vlog}
}

// AddRecord frames payload and appends it to the vlog, returning a
// Pointer describing where it landed.
func (w *Writer) AddRecord(payload []byte) (Pointer, error) {
	const op errors.Op = "vlog.Writer.AddRecord"
	frame, err := Encode(nil, payload)
	if err != nil {
		return Pointer{}, errors.E(op, err)
	}
	if err := w.fd.Append(frame); err != nil {
		return Pointer{}, errors.E(op, errors.IO, err)
	}
	if err := w.fd.Flush(); err != nil {
		return Pointer{}, errors.E(op, errors.IO, err)
	}
	ptr := Pointer{
		VlogNumber: w.vlog,
		Offset:     w.pos + HeaderSize,
		Size:       uint32(len(payload)),
	}
	w.pos += uint64(len(frame))
	return ptr, nil
}

// Size returns the current length of the vlog file, including all
// records written through this Writer.
func (w *Writer) Size() uint64 {
	return w.pos
}

// Close closes the underlying file. Calling Close on an already closed
// Writer does nothing.
func (w *Writer) Close() error {
	const op errors.Op = "vlog.Writer.Close"
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.fd.Close(); err != nil {
		return errors.E(op, errors.IO, err)
	}
	return nil
}
