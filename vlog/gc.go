// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vlog

import (
	"io"

	"github.com/paullcm/WiscKey/errors"
	"github.com/paullcm/WiscKey/log"
	"github.com/paullcm/WiscKey/storage"
)

// Collector reclaims disk space from vlog files whose stale-record count
// has reached the manager's threshold. Exactly one Collector should
// be running against a given Manager/Index pair at a time; the manager's
// single "cleaning" slot enforces that at the bookkeeping level. Live
// values are re-inserted through appender, the same serialized append
// path foreground writes use, so a concurrent Put can never race a GC
// re-insertion onto the underlying vlog file.
type Collector struct {
	env      storage.Env
	manager  *Manager
	index    Index
	bufBytes int
	reporter Reporter
	appender Appender
}

// NewCollector returns a Collector that flushes re-inserted live records
// back through index in batches of about writeBufferSize bytes, appending
// them through appender.
func NewCollector(env storage.Env, manager *Manager, index Index, writeBufferSize int, reporter Reporter, appender Appender) *Collector {
	return &Collector{env: env, manager: manager, index: index, bufBytes: writeBufferSize, reporter: reporter, appender: appender}
}

// Run performs one cleaning pass: it picks a candidate vlog from the
// manager, scans it from its last resumption point, re-inserts every
// still-live value into the active vlog, and either deletes the
// candidate (if the scan reached end of file) or hole-punches the
// reclaimed range and persists a resumption Tail (if the scan stopped
// early because the index is shutting down).
//
// It returns false, nil if there was no candidate to clean.
func (c *Collector) Run() (bool, error) {
	const op errors.Op = "vlog.Collector.Run"
	// A vlog reinstated by Manager.Recover after a restart is already
	// marked as being cleaned; it never re-enters the candidate set, so
	// it must be checked for before HasCandidate.
	if vlogNumber, ok := c.manager.CleaningVlog(); ok {
		if err := c.clean(vlogNumber); err != nil {
			return true, errors.E(op, err)
		}
		return true, nil
	}
	if !c.manager.HasCandidate() {
		return false, nil
	}
	vlogNumber, err := c.manager.PickForCleaning()
	if err != nil {
		return false, errors.E(op, err)
	}
	if err := c.clean(vlogNumber); err != nil {
		return true, errors.E(op, err)
	}
	return true, nil
}

func (c *Collector) clean(vlogNumber uint32) error {
	const op errors.Op = "vlog.Collector.clean"
	reader, ok := c.manager.GetReader(vlogNumber)
	if !ok {
		return errors.E(op, errors.Internal, errors.Str("picked vlog has no reader"))
	}
	startPos := c.manager.CleanPos(vlogNumber)
	if startPos > 0 {
		if err := reader.SkipToPos(int64(startPos)); err != nil {
			return errors.E(op, err)
		}
	}
	scanPos := startPos
	live := NewRecordBatch()

	// flushLive appends the accumulated live values as a single
	// RecordBatch through the shared appender -- the same framing and
	// append path Store.Put uses -- then re-points each key at its new
	// Pointer via the index in one atomic write.
	flushLive := func() error {
		if live.Len() == 0 {
			return nil
		}
		results, err := c.appender.AppendBatch(live)
		if err != nil {
			return err
		}
		pending := NewPointerBatch()
		for _, r := range results {
			if !r.IsDel {
				pending.Put(r.Key, r.Ptr)
			}
		}
		if err := c.index.Write(pending); err != nil {
			return err
		}
		live = NewRecordBatch()
		return nil
	}

	var loopErr error
loop:
	for {
		if c.index.IsShutdown() {
			break loop
		}
		payload, err := reader.ReadRecord()
		if err == io.EOF {
			loopErr = io.EOF
			break loop
		}
		if err != nil {
			return errors.E(op, err)
		}
		frameStart := scanPos
		payloadStart := frameStart + HeaderSize
		frameEnd := payloadStart + uint64(len(payload))

		err = WalkRecordBatch(payloadStart, payload, func(key, value []byte, isDel bool, valueEnd uint64) error {
			if isDel {
				// The index's own write-ahead log already recorded the
				// delete; nothing here can still be live.
				return nil
			}
			ptr, ok, err := c.index.GetPointer(key)
			if err != nil {
				return err
			}
			if !ok || ptr.VlogNumber != vlogNumber || ptr.End() != valueEnd {
				// Superseded by a later write, or already reclaimed.
				return nil
			}
			live.Put(key, value)
			if live.ByteSize() >= c.bufBytes {
				if err := flushLive(); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return errors.E(op, err)
		}
		scanPos = frameEnd
	}

	if err := flushLive(); err != nil {
		return errors.E(op, err)
	}

	if loopErr == io.EOF {
		if err := c.env.DeleteFile(VlogFileName(vlogNumber)); err != nil {
			return errors.E(op, err)
		}
		if err := reader.Close(); err != nil {
			log.Error.Printf("vlog: closing reader for deleted vlog %d: %v", vlogNumber, err)
		}
		return c.manager.FinishDelete(vlogNumber)
	}

	// Stopped early because of a shutdown request. The reclaimed range
	// must be punched, and the tail persisted, in that order: if the
	// process dies between the two, a restart replays this same range
	// and finds it already dealt with -- re-scanning it is safe, it just
	// costs an extra pass.
	if scanPos > startPos {
		if err := reader.DeallocateRange(int64(startPos), int64(scanPos-startPos)); err != nil {
			return errors.E(op, err)
		}
	}
	tail := Tail{VlogNumber: vlogNumber, Offset: scanPos}
	if err := c.index.Put([]byte(TailKey), tail.Marshal(nil)); err != nil {
		// The index may be mid-shutdown, in which case this write can
		// legitimately fail. Losing the persisted tail only costs a
		// repeat scan of [startPos, scanPos) on the next run; it does
		// not risk treating already-reclaimed bytes as still live.
		log.Error.Printf("vlog: persisting GC tail for vlog %d: %v", vlogNumber, err)
	}
	return c.manager.Pause(vlogNumber, scanPos)
}

// RunUntilClean repeatedly calls Run until no candidate remains, driving
// the manager's candidate set to empty in one call instead of requiring
// the caller to poll HasCandidate between passes.
func (c *Collector) RunUntilClean() error {
	const op errors.Op = "vlog.Collector.RunUntilClean"
	for {
		ran, err := c.Run()
		if err != nil {
			return errors.E(op, err)
		}
		if !ran {
			return nil
		}
	}
}
