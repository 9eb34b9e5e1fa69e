// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vlog

import (
	"encoding/binary"
	"sync"

	"github.com/paullcm/WiscKey/errors"
)

type vlogEntry struct {
	reader   *Reader
	stale    int
	cleanPos uint64
}

// Manager tracks every open vlog file: which one is "now" (the active
// append target, never a cleaning candidate), how many stale records
// each other one has accumulated, and which single vlog, if any, is
// currently being cleaned. A single mutex guards all of it, matching the
// modest concurrency this bookkeeping actually needs.
type Manager struct {
	mu         sync.Mutex
	vlogs      map[uint32]*vlogEntry
	candidates map[uint32]struct{}
	now        uint32
	hasNow     bool
	cleaning   *uint32
	threshold  int
}

// NewManager returns an empty Manager. A vlog becomes a cleaning
// candidate once its stale counter reaches threshold.
func NewManager(threshold int) *Manager {
	return &Manager{
		vlogs:      make(map[uint32]*vlogEntry),
		candidates: make(map[uint32]struct{}),
		threshold:  threshold,
	}
}

// AddVlog registers a newly opened vlog and its Reader.
func (m *Manager) AddVlog(vlogNumber uint32, reader *Reader) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vlogs[vlogNumber] = &vlogEntry{reader: reader}
}

// SetNow marks vlogNumber as the active append target, removing it from
// candidacy for cleaning.
func (m *Manager) SetNow(vlogNumber uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	previous, hadPrevious := m.now, m.hasNow
	m.now = vlogNumber
	m.hasNow = true
	delete(m.candidates, vlogNumber)
	// The vlog that was "now" until this call may already have
	// accumulated enough stale records to be a candidate; it was
	// ineligible only because it was the active append target.
	if hadPrevious {
		if e, ok := m.vlogs[previous]; ok && e.stale >= m.threshold && (m.cleaning == nil || *m.cleaning != previous) {
			m.candidates[previous] = struct{}{}
		}
	}
}

// GetReader returns the Reader registered for vlogNumber, if any.
func (m *Manager) GetReader(vlogNumber uint32) (*Reader, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.vlogs[vlogNumber]
	if !ok {
		return nil, false
	}
	return e.reader, true
}

// IncStale records that one more record in vlogNumber has become stale
// (overwritten or deleted). If vlogNumber is unknown -- it may already
// have been cleaned away -- the call is silently ignored.
func (m *Manager) IncStale(vlogNumber uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.vlogs[vlogNumber]
	if !ok {
		return
	}
	e.stale++
	if e.stale >= m.threshold && (!m.hasNow || vlogNumber != m.now) && (m.cleaning == nil || *m.cleaning != vlogNumber) {
		m.candidates[vlogNumber] = struct{}{}
	}
}

// HasCandidate reports whether at least one vlog is eligible for
// cleaning right now.
func (m *Manager) HasCandidate() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.candidates) > 0
}

// PickForCleaning selects one candidate vlog, marks it as the vlog
// currently being cleaned, and returns its number. Calling it while a
// cleaning pass is already in progress, or with no candidates available,
// is a programmer error.
func (m *Manager) PickForCleaning() (uint32, error) {
	const op errors.Op = "vlog.Manager.PickForCleaning"
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cleaning != nil {
		return 0, errors.E(op, errors.Invalid, errors.Str("a cleaning pass is already in progress"))
	}
	if len(m.candidates) == 0 {
		return 0, errors.E(op, errors.Invalid, errors.Str("no candidate vlog to clean"))
	}
	var pick uint32
	first := true
	for v := range m.candidates {
		if first || v < pick {
			pick = v
			first = false
		}
	}
	delete(m.candidates, pick)
	m.cleaning = &pick
	return pick, nil
}

// CleaningVlog returns the vlog currently marked as being cleaned, if
// any -- either picked by PickForCleaning or reinstated by Recover.
func (m *Manager) CleaningVlog() (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cleaning == nil {
		return 0, false
	}
	return *m.cleaning, true
}

// VlogNumbers returns the numbers of every vlog the manager currently
// knows about, in no particular order.
func (m *Manager) VlogNumbers() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	numbers := make([]uint32, 0, len(m.vlogs))
	for n := range m.vlogs {
		numbers = append(numbers, n)
	}
	return numbers
}

// StaleCount returns how many of vlogNumber's records have been
// superseded or deleted so far.
func (m *Manager) StaleCount(vlogNumber uint32) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.vlogs[vlogNumber]
	if !ok {
		return 0
	}
	return e.stale
}

// IsCandidate reports whether vlogNumber is currently eligible for
// cleaning.
func (m *Manager) IsCandidate(vlogNumber uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.candidates[vlogNumber]
	return ok
}

// IsNow reports whether vlogNumber is the active append target.
func (m *Manager) IsNow(vlogNumber uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasNow && m.now == vlogNumber
}

// CleanPos returns the offset the collector should resume scanning
// vlogNumber from.
func (m *Manager) CleanPos(vlogNumber uint32) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.vlogs[vlogNumber]
	if !ok {
		return 0
	}
	return e.cleanPos
}

// Pause records that a cleaning pass over vlogNumber stopped before
// reaching end of file (typically because of a shutdown request),
// remembering scanPos as the resumption point and, if its stale count
// still meets the threshold and it is not the active vlog, returning it
// to the candidate set so a later pass can finish it.
func (m *Manager) Pause(vlogNumber uint32, scanPos uint64) error {
	const op errors.Op = "vlog.Manager.Pause"
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cleaning == nil || *m.cleaning != vlogNumber {
		return errors.E(op, errors.Invalid, errors.Str("vlog is not the one being cleaned"))
	}
	m.cleaning = nil
	e, ok := m.vlogs[vlogNumber]
	if !ok {
		return errors.E(op, errors.Internal, errors.Str("cleaning vlog has no entry"))
	}
	e.cleanPos = scanPos
	if e.stale >= m.threshold && (!m.hasNow || vlogNumber != m.now) {
		m.candidates[vlogNumber] = struct{}{}
	}
	return nil
}

// FinishDelete records that vlogNumber was cleaned all the way to end of
// file and its underlying file has been deleted, removing all trace of
// it from the manager.
func (m *Manager) FinishDelete(vlogNumber uint32) error {
	const op errors.Op = "vlog.Manager.FinishDelete"
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cleaning == nil || *m.cleaning != vlogNumber {
		return errors.E(op, errors.Invalid, errors.Str("vlog is not the one being cleaned"))
	}
	m.cleaning = nil
	delete(m.vlogs, vlogNumber)
	delete(m.candidates, vlogNumber)
	return nil
}

// Recover reinstates vlogNumber as the vlog being cleaned after a
// restart, repositioning its Reader to resume scanning at tail.
func (m *Manager) Recover(vlogNumber uint32, tail uint64) error {
	const op errors.Op = "vlog.Manager.Recover"
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.vlogs[vlogNumber]
	if !ok {
		return errors.E(op, errors.NotExist, errors.Str("unknown vlog"))
	}
	if err := e.reader.SkipToPos(int64(tail)); err != nil {
		return errors.E(op, err)
	}
	e.cleanPos = tail
	m.cleaning = &vlogNumber
	delete(m.candidates, vlogNumber)
	return nil
}

// serializedTokenSize is the width, in bytes, of one Serialize token:
// a vlog number and its stale count, both full 32-bit fields sharing one
// canonical width instead of the 8-bit/16-bit split earlier revisions of
// this format used for the same two quantities in two different places.
const serializedTokenSize = 8

// Serialize encodes the stale counters of every vlog that has accrued at
// least one stale record, for persistence alongside the index.
func (m *Manager) Serialize() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, 0, serializedTokenSize*len(m.vlogs))
	for vlogNumber, e := range m.vlogs {
		if e.stale == 0 {
			continue
		}
		var tok [serializedTokenSize]byte
		binary.LittleEndian.PutUint32(tok[0:4], vlogNumber)
		binary.LittleEndian.PutUint32(tok[4:8], uint32(e.stale))
		buf = append(buf, tok[:]...)
	}
	return buf
}

// Deserialize restores stale counters previously produced by Serialize.
// Tokens naming a vlog that is no longer registered are ignored: the
// vlog was fully cleaned and deleted since the counters were saved.
func (m *Manager) Deserialize(data []byte) error {
	const op errors.Op = "vlog.Manager.Deserialize"
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(data)%serializedTokenSize != 0 {
		return errors.E(op, errors.Corruption, errors.Str("truncated manager state"))
	}
	for len(data) > 0 {
		vlogNumber := binary.LittleEndian.Uint32(data[0:4])
		count := binary.LittleEndian.Uint32(data[4:8])
		data = data[serializedTokenSize:]
		e, ok := m.vlogs[vlogNumber]
		if !ok {
			continue
		}
		e.stale = int(count)
		if e.stale >= m.threshold && (!m.hasNow || vlogNumber != m.now) {
			m.candidates[vlogNumber] = struct{}{}
		}
	}
	return nil
}
