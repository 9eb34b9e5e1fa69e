// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package storage defines the filesystem capabilities the vlog subsystem
// needs from its environment: sequential and random file access, deletion,
// and disk-space reclamation via hole punching.
package storage

import "io"

// SequentialFile supports reading a file from front to back, with the
// ability to skip forward to an absolute offset.
type SequentialFile interface {
	io.Closer

	// Read reads up to len(buf) bytes into buf, returning the number of
	// bytes read. Like io.Reader, it may return n > 0 and a non-nil
	// error, including io.EOF, in the same call.
	Read(buf []byte) (n int, err error)

	// SkipFromHead repositions the file so the next Read starts at
	// offset bytes from the beginning of the file.
	SkipFromHead(offset int64) error
}

// WritableFile supports append-only writes.
type WritableFile interface {
	io.Closer

	// Append writes data to the end of the file.
	Append(data []byte) error

	// Flush ensures previously appended data has reached stable storage.
	Flush() error
}

// RandomAccessFile supports positioned reads and disk-space reclamation.
type RandomAccessFile interface {
	io.Closer

	// ReadAt reads len(buf) bytes starting at offset, matching the
	// semantics of io.ReaderAt.
	ReadAt(buf []byte, offset int64) (n int, err error)

	// DeallocateRange releases the disk space backing [offset,
	// offset+length) back to the filesystem without changing the file's
	// apparent size (a hole punch). It is safe to call concurrently with
	// reads elsewhere in the file.
	DeallocateRange(offset, length int64) error
}

// Env is the environment capability set the vlog subsystem requires of its
// filesystem. A single file may be opened simultaneously through more than
// one of these interfaces (a writer and a random-access reader on the same
// vlog file, for instance).
type Env interface {
	// NewSequentialFile opens name for sequential reading from the start.
	NewSequentialFile(name string) (SequentialFile, error)

	// NewWritableFile opens name for append-only writing, creating it if
	// it does not exist. Existing contents are kept.
	NewWritableFile(name string) (WritableFile, error)

	// NewRandomAccessFile opens name for positioned reads and hole
	// punching.
	NewRandomAccessFile(name string) (RandomAccessFile, error)

	// DeleteFile removes name. It is not an error if name does not
	// exist.
	DeleteFile(name string) error

	// FileSize returns the current size of name in bytes.
	FileSize(name string) (int64, error)
}
