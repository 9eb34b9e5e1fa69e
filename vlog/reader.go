// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vlog

import (
	"io"
	"sync"

	"github.com/paullcm/WiscKey/errors"
	"github.com/paullcm/WiscKey/storage"
)

// blockSize is the size of the internal buffer used for sequential reads.
// It is purely a buffering granularity; unlike a classic WAL format,
// records here are not padded or split at block boundaries, so a record
// may straddle any number of blocks.
const blockSize = 32 * 1024

// Reporter is notified when the sequential reader encounters corrupted
// data that is not simply a truncated final record.
type Reporter interface {
	// Corruption is called with an approximate count of bytes dropped
	// and the error describing why.
	Corruption(bytes int, err error)
}

// Reader reads records from a vlog file two ways: ReadRecord walks the
// file sequentially and is meant for a single owner (the garbage
// collector); Read performs a positioned read and is safe for concurrent
// use by many goroutines. The two paths use independent locking: the
// sequential path is documented as single-owner and unsynchronized, while
// the random path is guarded by its own mutex.
type Reader struct {
	seq      storage.SequentialFile
	reporter Reporter
	verify   bool

	block [blockSize]byte
	buf   []byte // unread suffix of the most recently filled block
	eof   bool   // sticky: once a short read occurs, the file is exhausted

	scratch []byte // reused for records that straddle a block boundary

	mu sync.Mutex // serializes Read calls on ra; independent of the sequential path above
	ra storage.RandomAccessFile
}

// NewReader returns a Reader over the given sequential and random-access
// handles onto the same vlog file. ra may be nil if only sequential
// scanning is needed.
func NewReader(seq storage.SequentialFile, ra storage.RandomAccessFile, reporter Reporter, verify bool) *Reader {
	return &Reader{seq: seq, ra: ra, reporter: reporter, verify: verify}
}

// ReadRecord returns the next record's payload, or io.EOF once the file
// is exhausted. A truncated final record -- a short header or a payload
// cut off before the file ends -- is reported as io.EOF with zero bytes
// dropped, since it is the expected shape of a log that was still open
// when the process crashed. A record whose CRC does not match, when the
// rest of its bytes are present, is reported through Reporter and
// returned as a Corruption error.
//
// The returned slice is valid only until the next call to ReadRecord.
func (r *Reader) ReadRecord() ([]byte, error) {
	const op errors.Op = "vlog.Reader.ReadRecord"
	for {
		if len(r.buf) < HeaderSize {
			if r.eof {
				r.buf = nil
				return nil, io.EOF
			}
			if err := r.refill(); err != nil {
				return nil, errors.E(op, errors.IO, err)
			}
			continue
		}

		// Decode the header -- and in particular extract the expected
		// CRC -- before touching the buffer again. Reusing or growing
		// the buffer first and decoding the header from the new
		// location is a correctness bug: the header bytes must be
		// read from where they actually are, not from wherever the
		// buffer ends up after a refill.
		hdr := decodeHeader(r.buf[:HeaderSize])
		total := HeaderSize + hdr.length

		var payload []byte
		if len(r.buf) >= total {
			payload = r.buf[HeaderSize:total]
			r.buf = r.buf[total:]
		} else {
			var err error
			payload, err = r.readStraddling(hdr)
			if err != nil {
				return nil, errors.E(op, err)
			}
			if payload == nil {
				// Truncated tail: fewer bytes remain than the header
				// promised. Silently treated as end of log.
				return nil, io.EOF
			}
		}

		if r.verify && !hdr.verify(payload) {
			if r.reporter != nil {
				r.reporter.Corruption(total, errors.Str("checksum mismatch"))
			}
			return nil, errors.E(op, errors.Corruption, errors.Str("checksum mismatch"))
		}
		return payload, nil
	}
}

// refill tops up r.buf from the underlying file, preserving any bytes
// already in r.buf at the front of the block.
func (r *Reader) refill() error {
	n := copy(r.block[:], r.buf)
	for n < len(r.block) && !r.eof {
		m, err := r.seq.Read(r.block[n:])
		n += m
		if err != nil {
			if err == io.EOF {
				r.eof = true
				break
			}
			return err
		}
		if m == 0 {
			r.eof = true
			break
		}
	}
	r.buf = r.block[:n]
	return nil
}

// readStraddling assembles a record whose payload spans more than the
// bytes currently buffered, growing r.scratch to hold it. It returns a
// nil slice, nil error if the file ends before the full record arrives.
func (r *Reader) readStraddling(hdr decodedHeader) ([]byte, error) {
	need := hdr.length
	if cap(r.scratch) < need {
		r.scratch = make([]byte, need)
	} else {
		r.scratch = r.scratch[:need]
	}
	have := copy(r.scratch, r.buf[HeaderSize:])
	r.buf = nil

	for have < need {
		remaining := need - have
		if remaining > blockSize/2 {
			// Large enough to skip the block buffer and land directly
			// in the tail of scratch.
			n, err := r.seq.Read(r.scratch[have:])
			if err != nil && err != io.EOF {
				return nil, err
			}
			if err == io.EOF {
				r.eof = true
			}
			if n == 0 {
				return nil, nil
			}
			have += n
			continue
		}
		if err := r.refill(); err != nil {
			return nil, err
		}
		if len(r.buf) == 0 {
			return nil, nil
		}
		take := remaining
		if take > len(r.buf) {
			take = len(r.buf)
		}
		copy(r.scratch[have:], r.buf[:take])
		have += take
		r.buf = r.buf[take:]
	}
	return r.scratch[:need], nil
}

// SkipToPos repositions the sequential cursor to offset, discarding any
// buffered data and clearing the sticky EOF flag.
func (r *Reader) SkipToPos(offset int64) error {
	const op errors.Op = "vlog.Reader.SkipToPos"
	if err := r.seq.SkipFromHead(offset); err != nil {
		return errors.E(op, errors.IO, err)
	}
	r.buf = nil
	r.eof = false
	return nil
}

// Read performs a positioned read of len(buf) bytes starting at offset.
// It is safe to call concurrently with other calls to Read, and with
// DeallocateRange, from multiple goroutines; it does not interact with
// the sequential ReadRecord/SkipToPos path.
func (r *Reader) Read(offset int64, buf []byte) (int, error) {
	const op errors.Op = "vlog.Reader.Read"
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.ra.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return n, errors.E(op, errors.IO, err)
	}
	return n, nil
}

// ReadValue reads the value addressed by ptr using the random-access
// path. A Pointer's Offset names the value's own bytes -- which, for a
// value written through a batch, sit inside the enclosing frame after
// its [isDel][keylen][key][vallen] prefix -- not a record frame of its
// own, so this is a plain positioned read of ptr.Size bytes with no
// header to decode and no CRC to check: the frame's CRC covers the
// whole batch payload, not any one value within it, and checksumming
// is scoped to the sequential scan (ReadRecord) only.
func (r *Reader) ReadValue(ptr Pointer) ([]byte, error) {
	const op errors.Op = "vlog.Reader.ReadValue"
	value := make([]byte, ptr.Size)
	n, err := r.Read(int64(ptr.Offset), value)
	if err != nil {
		return nil, errors.E(op, err)
	}
	if n < len(value) {
		return nil, errors.E(op, errors.Corruption, errors.Str("short read for value pointer"))
	}
	return value, nil
}

// DeallocateRange punches a hole in the underlying file over
// [offset, offset+length). Safe to call concurrently with Read.
func (r *Reader) DeallocateRange(offset, length int64) error {
	const op errors.Op = "vlog.Reader.DeallocateRange"
	if err := r.ra.DeallocateRange(offset, length); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// Close closes the underlying file handles.
func (r *Reader) Close() error {
	const op errors.Op = "vlog.Reader.Close"
	var errs []error
	if r.seq != nil {
		if err := r.seq.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.ra != nil {
		if err := r.ra.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.E(op, errors.IO, errs[0])
	}
	return nil
}
