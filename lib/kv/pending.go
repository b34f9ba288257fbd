package kv

import (
	"runtime"
	"sync"

	"github.com/aspenkv/aspen/lib/device"
	"github.com/aspenkv/aspen/lib/hlog"
	"github.com/aspenkv/aspen/lib/index"
)

// --------------------------------------------------------------------------
// Spilling (log budget reclamation)
// --------------------------------------------------------------------------

// reclaim tries to free log budget by spilling cold records to the device,
// then refreshes the caller's epoch slot so the deferred payload release can
// actually run. Returns false when nothing could be freed.
func (s *Store[K]) reclaim(slotIdx int) bool {
	before := s.log.UsedBytes()
	spilled := s.spill()
	s.epoch.Refresh(slotIdx)
	return spilled || s.log.UsedBytes() < before
}

// spill makes the whole log read-only, flushes every in-memory record below
// the new boundary to the device and shifts the head over them. Payload
// buffers are released through an epoch trigger action once no protected
// session can still hold a view of them. Returns false when there was
// nothing to spill.
func (s *Store[K]) spill() bool {
	s.spillMu.Lock()
	defer s.spillMu.Unlock()

	s.log.ShiftReadOnlyAddress(s.log.TailAddress())
	oldHead := s.log.HeadAddress()
	newHead := s.log.ReadOnlyAddress()
	if newHead <= oldHead {
		return false
	}

	s.flushRange(oldHead, newHead)
	s.log.ShiftHeadAddress(newHead)

	s.epoch.BumpWithAction(func() {
		for a := oldHead; a < newHead; a++ {
			rec := s.log.Resolve(a)
			if rec == nil {
				continue
			}
			// Keep payloads whose flush failed; they stay readable from
			// memory instead of silently losing the value.
			if _, ok := rec.FlushedOffset(); ok {
				s.log.ReleasePayload(a)
			}
		}
	})
	s.logger.Debugf("spilled log region [%d, %d)", oldHead, newHead)
	return true
}

// flushRange writes one frame per live record in [lo, hi) and waits for all
// of them to land. Each record is encoded under its generation lock, so in
// flight in-place writers finish first and the frame is final. Records whose
// replacement already won are skipped; they can never be served again.
func (s *Store[K]) flushRange(lo, hi hlog.Address) {
	var wg sync.WaitGroup
	for a := lo; a < hi; a++ {
		rec := s.log.Resolve(a)
		if rec == nil || !rec.Resident() {
			continue
		}
		if _, done := rec.FlushedOffset(); done {
			continue
		}
		lock := rec.GenLock()
		if !lock.Lock() {
			continue
		}
		v := rec.Value()
		if v == nil {
			lock.Unlock(false)
			continue
		}
		frame := device.EncodeFrame(v)
		lock.Unlock(false)

		off := s.devOffset.Add(uint64(len(frame))) - uint64(len(frame))
		wg.Add(1)
		r := rec
		s.dev.WriteAsync(frame, off, func(err error, _ uint32) {
			if err != nil {
				s.logger.Errorf("flush of address %d failed: %v", a, err)
			} else {
				r.MarkFlushed(off)
			}
			wg.Done()
		})
	}
	wg.Wait()
}

// --------------------------------------------------------------------------
// Pending reads
// --------------------------------------------------------------------------

// pendRead fetches a relocated payload from the device and completes the
// read through the cloned context. rec's header is always resident; only
// the payload lives on the device.
func (s *Store[K]) pendRead(rctx ReadContext[K], cb CompletionFunc, rec *hlog.Record[K]) Status {
	off, ok := rec.FlushedOffset()
	if !ok {
		return StatusIOError
	}
	clone := rctx.Clone()
	buf := make([]byte, device.FrameSize(int(rec.Length())))
	s.mtr.pending.Inc()

	s.dev.ReadAsync(off, buf, func(err error, _ uint32) {
		go func() {
			if err != nil {
				s.complete(cb, StatusIOError)
				return
			}
			payload, derr := device.DecodeFrame(buf)
			if derr != nil {
				s.logger.Errorf("pending read at offset %d: %v", off, derr)
				s.complete(cb, StatusIOError)
				return
			}
			clone.Get(payload)
			s.complete(cb, StatusOk)
		}()
	})
	return StatusPending
}

// --------------------------------------------------------------------------
// Pending RMWs
// --------------------------------------------------------------------------

// pendRmw fetches the old value from the device, then finishes the
// read-modify-write as a copy-on-write against whatever the chain looks
// like when the read lands.
func (s *Store[K]) pendRmw(mctx RmwContext[K], cb CompletionFunc, rec *hlog.Record[K], addr hlog.Address) Status {
	off, ok := rec.FlushedOffset()
	if !ok {
		return StatusIOError
	}
	clone := mctx.Clone()
	buf := make([]byte, device.FrameSize(int(rec.Length())))
	s.mtr.pending.Inc()

	s.dev.ReadAsync(off, buf, func(err error, _ uint32) {
		go func() {
			if err != nil {
				s.complete(cb, StatusIOError)
				return
			}
			old, derr := device.DecodeFrame(buf)
			if derr != nil {
				s.logger.Errorf("pending rmw at offset %d: %v", off, derr)
				s.complete(cb, StatusIOError)
				return
			}
			s.completeRmw(clone, cb, addr, old)
		}()
	})
	return StatusPending
}

// completeRmw runs the modify-write half of a pending RMW on a completion
// goroutine with a temporary epoch slot.
func (s *Store[K]) completeRmw(mctx RmwContext[K], cb CompletionFunc, fetchedAddr hlog.Address, old []byte) {
	slotIdx := s.acquireSlot()
	s.epoch.Protect(slotIdx)

	st := s.rmwWithFetched(slotIdx, mctx, cb, fetchedAddr, old)

	s.epoch.Unprotect(slotIdx)
	s.epoch.Release(slotIdx)

	if st != StatusPending {
		s.complete(cb, st)
	}
}

// rmwWithFetched installs the modification derived from a device-read old
// value, provided the fetched record is still the key's live version. If a
// newer version appeared while the read was in flight, the operation is
// re-driven against memory (and may pend again on an even newer relocated
// record).
func (s *Store[K]) rmwWithFetched(slotIdx int, mctx RmwContext[K], cb CompletionFunc, fetchedAddr hlog.Address, old []byte) Status {
	key := mctx.Key()
	hash := key.Hash()
	tag := index.TagOf(hash)

	for attempt := 0; attempt < maxRetries; attempt++ {
		slot, entry := s.index.FindOrCreateEntry(hash)
		head := entry.Address()
		rec, addr := s.traceBack(head, key)

		if rec == nil || addr != fetchedAddr {
			// The chain moved under the I/O; the fetched value is stale.
			// Re-driving may pend again, in which case the callback stays
			// armed for the next completion.
			return s.internalRmw(slotIdx, mctx, cb)
		}

		newAddr, newRec, err := s.allocate(key, head, mctx.ValueSize(old))
		if err != nil {
			if !s.reclaim(slotIdx) {
				return StatusOutOfMemory
			}
			continue
		}
		mctx.RmwCopy(old, newRec)

		lock := rec.GenLock()
		if !lock.Lock() {
			s.log.Discard(newAddr)
			continue
		}
		swapped := slot.Update(entry, index.NewEntry(newAddr, tag))
		lock.Unlock(swapped)
		if swapped {
			s.mtr.rmws.Inc()
			return StatusOk
		}
		s.log.Discard(newAddr)
	}

	s.mtr.aborts.Inc()
	return StatusAborted
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// complete invokes a completion callback, tolerating nil.
func (s *Store[K]) complete(cb CompletionFunc, st Status) {
	if cb != nil {
		cb(st)
	}
}

// acquireSlot grabs a temporary epoch slot, waiting out transient
// exhaustion. Completion goroutines hold slots only briefly, so the spin is
// short-lived.
func (s *Store[K]) acquireSlot() int {
	for {
		if idx, ok := s.epoch.Acquire(); ok {
			return idx
		}
		runtime.Gosched()
	}
}
