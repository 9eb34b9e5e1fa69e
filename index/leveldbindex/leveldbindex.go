// Copyright IBM Corp. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package leveldbindex implements vlog.Index on top of an embedded
// goleveldb database, giving the vlog subsystem a real, if minimal, LSM
// index collaborator to run against.
package leveldbindex

import (
	"sync"
	"sync/atomic"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/paullcm/WiscKey/errors"
	"github.com/paullcm/WiscKey/vlog"
)

// Two key-space prefixes keep pointer entries and arbitrary auxiliary
// key/value pairs (such as the GC resumption Tail) from colliding.
const (
	pointerPrefix = 'p'
	rawPrefix     = 'r'
)

// DB wraps a goleveldb database as a vlog.Index.
type DB struct {
	mu sync.RWMutex
	db *leveldb.DB

	writeOptsNoSync *opt.WriteOptions
	writeOptsSync   *opt.WriteOptions

	shutdown int32
}

var _ vlog.Index = (*DB)(nil)

// Open opens (creating if necessary) a goleveldb database at path.
func Open(path string) (*DB, error) {
	const op errors.Op = "leveldbindex.Open"
	ldb, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	return &DB{
		db:              ldb,
		writeOptsNoSync: &opt.WriteOptions{},
		writeOptsSync:   &opt.WriteOptions{Sync: true},
	}, nil
}

func pointerKey(key []byte) []byte {
	return append([]byte{pointerPrefix}, key...)
}

func rawKey(key []byte) []byte {
	return append([]byte{rawPrefix}, key...)
}

// GetPointer implements vlog.Index.
func (d *DB) GetPointer(key []byte) (vlog.Pointer, bool, error) {
	const op errors.Op = "leveldbindex.DB.GetPointer"
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, err := d.db.Get(pointerKey(key), nil)
	if err == leveldb.ErrNotFound {
		return vlog.Pointer{}, false, nil
	}
	if err != nil {
		return vlog.Pointer{}, false, errors.E(op, errors.IO, err)
	}
	ptr, err := vlog.UnmarshalPointer(v)
	if err != nil {
		return vlog.Pointer{}, false, errors.E(op, err)
	}
	return ptr, true, nil
}

// Write implements vlog.Index.
func (d *DB) Write(batch *vlog.PointerBatch) error {
	const op errors.Op = "leveldbindex.DB.Write"
	d.mu.RLock()
	defer d.mu.RUnlock()
	lb := new(leveldb.Batch)
	for _, e := range batch.Entries() {
		lb.Put(pointerKey(e.Key), e.Ptr.Marshal(nil))
	}
	if err := d.db.Write(lb, d.writeOptsSync); err != nil {
		return errors.E(op, errors.IO, err)
	}
	return nil
}

// DeletePointer implements vlog.Index.
func (d *DB) DeletePointer(key []byte) error {
	const op errors.Op = "leveldbindex.DB.DeletePointer"
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.db.Delete(pointerKey(key), d.writeOptsSync); err != nil {
		return errors.E(op, errors.IO, err)
	}
	return nil
}

// Put implements vlog.Index.
func (d *DB) Put(key, value []byte) error {
	const op errors.Op = "leveldbindex.DB.Put"
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.db.Put(rawKey(key), value, d.writeOptsSync); err != nil {
		return errors.E(op, errors.IO, err)
	}
	return nil
}

// Get implements vlog.Index.
func (d *DB) Get(key []byte) ([]byte, bool, error) {
	const op errors.Op = "leveldbindex.DB.Get"
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, err := d.db.Get(rawKey(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.E(op, errors.IO, err)
	}
	return v, true, nil
}

// IsShutdown implements vlog.Index.
func (d *DB) IsShutdown() bool {
	return atomic.LoadInt32(&d.shutdown) != 0
}

// Shutdown marks the index as shutting down, the sole signal the garbage
// collector polls to stop mid-scan.
func (d *DB) Shutdown() {
	atomic.StoreInt32(&d.shutdown, 1)
}

// Close closes the underlying database. It is an error to call it while
// a Collector may still be reading or writing through this Index.
func (d *DB) Close() error {
	const op errors.Op = "leveldbindex.DB.Close"
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.db.Close(); err != nil {
		return errors.E(op, errors.IO, err)
	}
	return nil
}
