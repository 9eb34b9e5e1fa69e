// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vlog

import (
	"sort"
	"sync"

	"github.com/paullcm/WiscKey/errors"
	"github.com/paullcm/WiscKey/storage"
)

// Store ties a vlog writer, its Manager, a Collector, and an Index
// together into the value-log half of a WiscKey-style key-value store.
// The LSM index itself, and the decision of what counts as a "large"
// value worth storing this way, live outside this package.
type Store struct {
	mu sync.Mutex

	env       storage.Env
	index     Index
	manager   *Manager
	collector *Collector
	reporter  Reporter
	verify    bool

	writer     *Writer
	vlogNumber uint32
	maxSize    uint64
}

// Open creates a Store whose active vlog is file number 1, creating that
// file or appending to it if it already exists. To resume an interrupted
// cleaning pass, call RecoverGC afterward; it reads the persisted
// resumption Tail from the index.
func Open(env storage.Env, index Index, threshold, writeBufferSize int, maxVlogSize uint64, reporter Reporter, verify bool) (*Store, error) {
	const op errors.Op = "vlog.Open"
	s := &Store{
		env:      env,
		index:    index,
		manager:  NewManager(threshold),
		reporter: reporter,
		verify:   verify,
		maxSize:  maxVlogSize,
	}
	s.collector = NewCollector(env, s.manager, index, writeBufferSize, reporter, s)
	if err := s.rollover(1); err != nil {
		return nil, errors.E(op, err)
	}
	return s, nil
}

func (s *Store) rollover(vlogNumber uint32) error {
	const op errors.Op = "vlog.Store.rollover"
	name := VlogFileName(vlogNumber)
	wf, err := s.env.NewWritableFile(name)
	if err != nil {
		return errors.E(op, err)
	}
	size, err := s.env.FileSize(name)
	if err != nil {
		return errors.E(op, err)
	}
	seq, err := s.env.NewSequentialFile(name)
	if err != nil {
		return errors.E(op, err)
	}
	ra, err := s.env.NewRandomAccessFile(name)
	if err != nil {
		return errors.E(op, err)
	}
	reader := NewReader(seq, ra, s.reporter, s.verify)

	if s.writer != nil {
		if err := s.writer.Close(); err != nil {
			return errors.E(op, err)
		}
	}
	s.manager.AddVlog(vlogNumber, reader)
	s.manager.SetNow(vlogNumber)
	s.writer = NewWriter(wf, vlogNumber, uint64(size))
	s.vlogNumber = vlogNumber
	return nil
}

// AppendBatch appends batch to the active vlog under s.mu, making Store
// the single serialization point for every append -- foreground writes
// and the collector's re-insertion of live values during cleaning alike
// -- so the two never race on the writer's file offset. It satisfies
// vlog.Appender.
func (s *Store) AppendBatch(batch *RecordBatch) ([]BatchResult, error) {
	const op errors.Op = "vlog.Store.AppendBatch"
	s.mu.Lock()
	defer s.mu.Unlock()
	results, err := s.appendLocked(batch)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return results, nil
}

// appendLocked appends batch to the active writer and rolls over to a
// fresh vlog if that pushed it past maxSize. Callers must hold s.mu.
func (s *Store) appendLocked(batch *RecordBatch) ([]BatchResult, error) {
	const op errors.Op = "vlog.Store.appendLocked"
	results, err := s.writer.AddBatch(batch)
	if err != nil {
		return nil, errors.E(op, err)
	}
	if s.writer.Size() >= s.maxSize {
		if err := s.rollover(s.vlogNumber + 1); err != nil {
			return nil, errors.E(op, err)
		}
	}
	return results, nil
}

// Put stores value under key, marking whatever it replaces as stale so
// the vlog holding the old value becomes a cleaning candidate once
// enough of its records are superseded.
func (s *Store) Put(key, value []byte) error {
	const op errors.Op = "vlog.Store.Put"
	s.mu.Lock()
	defer s.mu.Unlock()

	old, hadOld, err := s.index.GetPointer(key)
	if err != nil {
		return errors.E(op, err)
	}

	batch := NewRecordBatch()
	batch.Put(key, value)
	results, err := s.appendLocked(batch)
	if err != nil {
		return errors.E(op, err)
	}
	pb := NewPointerBatch()
	for _, r := range results {
		if !r.IsDel {
			pb.Put(r.Key, r.Ptr)
		}
	}
	if err := s.index.Write(pb); err != nil {
		return errors.E(op, err)
	}
	if hadOld {
		s.manager.IncStale(old.VlogNumber)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(key []byte) error {
	const op errors.Op = "vlog.Store.Delete"
	s.mu.Lock()
	defer s.mu.Unlock()

	old, hadOld, err := s.index.GetPointer(key)
	if err != nil {
		return errors.E(op, err)
	}
	if !hadOld {
		return nil
	}
	batch := NewRecordBatch()
	batch.Delete(key)
	if _, err := s.appendLocked(batch); err != nil {
		return errors.E(op, err)
	}
	if err := s.index.DeletePointer(key); err != nil {
		return errors.E(op, err)
	}
	s.manager.IncStale(old.VlogNumber)
	return nil
}

// Get retrieves the value stored under key.
func (s *Store) Get(key []byte) ([]byte, error) {
	const op errors.Op = "vlog.Store.Get"
	ptr, ok, err := s.index.GetPointer(key)
	if err != nil {
		return nil, errors.E(op, err)
	}
	if !ok {
		return nil, errors.E(op, errors.NotExist)
	}
	reader, ok := s.manager.GetReader(ptr.VlogNumber)
	if !ok {
		return nil, errors.E(op, errors.Internal, errors.Str("pointer names an unknown vlog"))
	}
	value, err := reader.ReadValue(ptr)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return value, nil
}

// VlogStat describes one vlog file's bookkeeping state, for reporting by
// callers such as wisckeyctl's list command.
type VlogStat struct {
	VlogNumber uint32
	Size       uint64
	Stale      int
	Candidate  bool
	Active     bool
}

// ListVlogs returns a VlogStat for every vlog file the store currently
// knows about, ordered by vlog number.
func (s *Store) ListVlogs() ([]VlogStat, error) {
	const op errors.Op = "vlog.Store.ListVlogs"
	numbers := s.manager.VlogNumbers()
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	stats := make([]VlogStat, 0, len(numbers))
	for _, n := range numbers {
		size, err := s.env.FileSize(VlogFileName(n))
		if err != nil {
			return nil, errors.E(op, err)
		}
		stats = append(stats, VlogStat{
			VlogNumber: n,
			Size:       uint64(size),
			Stale:      s.manager.StaleCount(n),
			Candidate:  s.manager.IsCandidate(n),
			Active:     s.manager.IsNow(n),
		})
	}
	return stats, nil
}

// RunGC performs one garbage collection pass, reporting whether a
// candidate vlog was found and processed.
func (s *Store) RunGC() (bool, error) {
	const op errors.Op = "vlog.Store.RunGC"
	ran, err := s.collector.Run()
	if err != nil {
		return ran, errors.E(op, err)
	}
	return ran, nil
}

// RunGCUntilClean runs garbage collection passes until no vlog remains a
// cleaning candidate.
func (s *Store) RunGCUntilClean() error {
	const op errors.Op = "vlog.Store.RunGCUntilClean"
	if err := s.collector.RunUntilClean(); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// OpenVlogForCleaning registers vlogNumber's Reader with the manager if
// it is not already known, so a vlog left over from a previous run can be
// resumed or cleaned.
func (s *Store) OpenVlogForCleaning(vlogNumber uint32) error {
	const op errors.Op = "vlog.Store.OpenVlogForCleaning"
	if _, ok := s.manager.GetReader(vlogNumber); ok {
		return nil
	}
	name := VlogFileName(vlogNumber)
	seq, err := s.env.NewSequentialFile(name)
	if err != nil {
		return errors.E(op, err)
	}
	ra, err := s.env.NewRandomAccessFile(name)
	if err != nil {
		return errors.E(op, err)
	}
	s.manager.AddVlog(vlogNumber, NewReader(seq, ra, s.reporter, s.verify))
	return nil
}

// RecoverGC restores a persisted GC resumption Tail, reopening its vlog
// if necessary and repositioning the manager to continue cleaning it.
// It is a no-op if no Tail has ever been persisted.
func (s *Store) RecoverGC() error {
	const op errors.Op = "vlog.Store.RecoverGC"
	data, ok, err := s.index.Get([]byte(TailKey))
	if err != nil {
		return errors.E(op, err)
	}
	if !ok {
		return nil
	}
	tail, err := UnmarshalTail(data)
	if err != nil {
		return errors.E(op, err)
	}
	if err := s.OpenVlogForCleaning(tail.VlogNumber); err != nil {
		return errors.E(op, err)
	}
	if err := s.manager.Recover(tail.VlogNumber, tail.Offset); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// LoadManagerState restores stale-record counters previously produced by
// Manager.Serialize.
func (s *Store) LoadManagerState(data []byte) error {
	const op errors.Op = "vlog.Store.LoadManagerState"
	if err := s.manager.Deserialize(data); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// SaveManagerState returns the current stale-record counters for
// persistence alongside the index.
func (s *Store) SaveManagerState() []byte {
	return s.manager.Serialize()
}

// Close closes the active vlog writer.
func (s *Store) Close() error {
	const op errors.Op = "vlog.Store.Close"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writer.Close(); err != nil {
		return errors.E(op, err)
	}
	return nil
}
