// Copyright 2017 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package disk provides a storage.Env that operates on the local
// filesystem.
package disk

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/paullcm/WiscKey/errors"
	"github.com/paullcm/WiscKey/storage"
)

// Env is a storage.Env backed by the local filesystem, rooted at base.
type Env struct {
	base string
}

var _ storage.Env = (*Env)(nil)

// New returns an Env rooted at base, creating the directory if necessary.
func New(base string) (*Env, error) {
	const op errors.Op = "disk.New"
	if err := os.MkdirAll(base, 0700); err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	return &Env{base: base}, nil
}

func (e *Env) path(name string) string {
	return filepath.Join(e.base, name)
}

// NewSequentialFile implements storage.Env.
func (e *Env) NewSequentialFile(name string) (storage.SequentialFile, error) {
	const op errors.Op = "disk.Env.NewSequentialFile"
	f, err := os.Open(e.path(name))
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	return &sequentialFile{fd: f}, nil
}

// NewWritableFile implements storage.Env.
func (e *Env) NewWritableFile(name string) (storage.WritableFile, error) {
	const op errors.Op = "disk.Env.NewWritableFile"
	f, err := os.OpenFile(e.path(name), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	return &writableFile{fd: f}, nil
}

// NewRandomAccessFile implements storage.Env.
func (e *Env) NewRandomAccessFile(name string) (storage.RandomAccessFile, error) {
	const op errors.Op = "disk.Env.NewRandomAccessFile"
	f, err := os.OpenFile(e.path(name), os.O_RDWR, 0600)
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	return &randomAccessFile{fd: f}, nil
}

// DeleteFile implements storage.Env.
func (e *Env) DeleteFile(name string) error {
	const op errors.Op = "disk.Env.DeleteFile"
	if err := os.Remove(e.path(name)); err != nil && !os.IsNotExist(err) {
		return errors.E(op, errors.IO, err)
	}
	return nil
}

// FileSize implements storage.Env.
func (e *Env) FileSize(name string) (int64, error) {
	const op errors.Op = "disk.Env.FileSize"
	fi, err := os.Stat(e.path(name))
	if err != nil {
		return 0, errors.E(op, errors.IO, err)
	}
	return fi.Size(), nil
}

type sequentialFile struct {
	fd *os.File
}

func (s *sequentialFile) Read(buf []byte) (int, error) {
	return s.fd.Read(buf)
}

func (s *sequentialFile) SkipFromHead(offset int64) error {
	const op errors.Op = "disk.sequentialFile.SkipFromHead"
	if _, err := s.fd.Seek(offset, os.SEEK_SET); err != nil {
		return errors.E(op, errors.IO, err)
	}
	return nil
}

func (s *sequentialFile) Close() error {
	return s.fd.Close()
}

type writableFile struct {
	fd *os.File
}

func (w *writableFile) Append(data []byte) error {
	const op errors.Op = "disk.writableFile.Append"
	if _, err := w.fd.Write(data); err != nil {
		return errors.E(op, errors.IO, err)
	}
	return nil
}

func (w *writableFile) Flush() error {
	const op errors.Op = "disk.writableFile.Flush"
	if err := w.fd.Sync(); err != nil {
		return errors.E(op, errors.IO, err)
	}
	return nil
}

func (w *writableFile) Close() error {
	return w.fd.Close()
}

type randomAccessFile struct {
	fd *os.File
}

func (r *randomAccessFile) ReadAt(buf []byte, offset int64) (int, error) {
	return r.fd.ReadAt(buf, offset)
}

// DeallocateRange punches a hole in [offset, offset+length) using
// FALLOC_FL_PUNCH_HOLE|FALLOC_FL_KEEP_SIZE, so the file's apparent length
// is unchanged and only the backing blocks are released.
func (r *randomAccessFile) DeallocateRange(offset, length int64) error {
	const op errors.Op = "disk.randomAccessFile.DeallocateRange"
	if length <= 0 {
		return nil
	}
	mode := uint32(unix.FALLOC_FL_PUNCH_HOLE | unix.FALLOC_FL_KEEP_SIZE)
	if err := unix.Fallocate(int(r.fd.Fd()), mode, offset, length); err != nil {
		return errors.E(op, errors.IO, err)
	}
	return nil
}

func (r *randomAccessFile) Close() error {
	return r.fd.Close()
}
