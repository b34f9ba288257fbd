package kv

import (
	"github.com/aspenkv/aspen/lib/hlog"
	"github.com/aspenkv/aspen/lib/index"
)

// maxRetries bounds the optimistic retry loops. A loop that runs this long
// is livelocked beyond hope; the operation aborts and the previously visible
// value stays untouched.
const maxRetries = 10000

// allocate reserves a record and feeds the payload size histogram.
func (s *Store[K]) allocate(key K, prev hlog.Address, capacity uint32) (hlog.Address, *hlog.Record[K], error) {
	a, r, err := s.log.Allocate(key, prev, capacity)
	if err == nil {
		s.sizes.AddSample(int(capacity))
	}
	return a, r, err
}

// --------------------------------------------------------------------------
// Chain walk
// --------------------------------------------------------------------------

// traceBack walks the record chain from head until a record whose key Equals
// key. Chains are newest-first, so the first match is the live version.
// Returns (nil, InvalidAddress) when the key has no record on the chain.
func (s *Store[K]) traceBack(head hlog.Address, key K) (*hlog.Record[K], hlog.Address) {
	a := head
	for a.Valid() {
		rec := s.log.Resolve(a)
		if rec == nil {
			break
		}
		if rec.Key().Equal(key) {
			return rec, a
		}
		a = rec.PreviousAddress()
	}
	return nil, hlog.InvalidAddress
}

// --------------------------------------------------------------------------
// Upsert
// --------------------------------------------------------------------------

func (s *Store[K]) internalUpsert(slotIdx int, uctx UpsertContext[K]) Status {
	key := uctx.Key()
	hash := key.Hash()
	tag := index.TagOf(hash)

	for attempt := 0; attempt < maxRetries; attempt++ {
		slot, entry := s.index.FindOrCreateEntry(hash)
		head := entry.Address()
		rec, addr := s.traceBack(head, key)

		// In-place fast path. The region check repeats under the lock:
		// a read-only shift between check and lock must not let a write
		// slip into a record that is being flushed.
		if rec != nil && s.log.IsMutable(addr) {
			done := rec.AtomicUpdate(func(r *hlog.Record[K]) bool {
				if !s.log.IsMutable(addr) {
					return false
				}
				return uctx.PutAtomic(r)
			})
			if done {
				s.mtr.upserts.Inc()
				return StatusOk
			}
		}

		// Copy-on-write: allocate, fill, swap the index entry.
		newAddr, newRec, err := s.allocate(key, head, uctx.ValueSize())
		if err != nil {
			if !s.reclaim(slotIdx) {
				return StatusOutOfMemory
			}
			continue
		}
		uctx.Put(newRec)

		if rec == nil {
			if slot.Update(entry, index.NewEntry(newAddr, tag)) {
				s.mtr.upserts.Inc()
				return StatusOk
			}
			s.log.Discard(newAddr)
			continue
		}

		// Retire the old version under its lock so no in-place update
		// lands on it concurrently with the swap.
		lock := rec.GenLock()
		if !lock.Lock() {
			// Someone else already replaced it; chase the new version.
			s.log.Discard(newAddr)
			continue
		}
		swapped := slot.Update(entry, index.NewEntry(newAddr, tag))
		lock.Unlock(swapped)
		if swapped {
			s.mtr.upserts.Inc()
			return StatusOk
		}
		s.log.Discard(newAddr)
	}

	s.mtr.aborts.Inc()
	return StatusAborted
}

// --------------------------------------------------------------------------
// Read
// --------------------------------------------------------------------------

func (s *Store[K]) internalRead(rctx ReadContext[K], cb CompletionFunc) Status {
	key := rctx.Key()
	_, entry, ok := s.index.FindEntry(key.Hash())
	if !ok || !entry.Address().Valid() {
		return StatusNotFound
	}
	rec, addr := s.traceBack(entry.Address(), key)
	if rec == nil {
		return StatusNotFound
	}
	s.mtr.reads.Inc()

	if s.log.IsMutable(addr) {
		if rec.AtomicRead(rctx.GetAtomic) {
			return StatusOk
		}
		// The region shifted and the payload was dropped between the lookup
		// and the read; serve it from the device like any stable record.
		return s.pendRead(rctx, cb, rec)
	}
	// Immutable, but a writer that entered before the region shift may still
	// be finishing; the seqlock snapshot costs two counter loads when the
	// record is quiet.
	if rec.AtomicRead(rctx.Get) {
		return StatusOk
	}
	return s.pendRead(rctx, cb, rec)
}

// --------------------------------------------------------------------------
// RMW
// --------------------------------------------------------------------------

func (s *Store[K]) internalRmw(slotIdx int, mctx RmwContext[K], cb CompletionFunc) Status {
	key := mctx.Key()
	hash := key.Hash()
	tag := index.TagOf(hash)

	for attempt := 0; attempt < maxRetries; attempt++ {
		slot, entry := s.index.FindOrCreateEntry(hash)
		head := entry.Address()
		rec, addr := s.traceBack(head, key)

		// Initial write.
		if rec == nil {
			newAddr, newRec, err := s.allocate(key, head, mctx.ValueSize(nil))
			if err != nil {
				if !s.reclaim(slotIdx) {
					return StatusOutOfMemory
				}
				continue
			}
			mctx.RmwInitial(newRec)
			if slot.Update(entry, index.NewEntry(newAddr, tag)) {
				s.mtr.rmws.Inc()
				return StatusOk
			}
			s.log.Discard(newAddr)
			continue
		}

		// In-place fast path.
		if s.log.IsMutable(addr) {
			done := rec.AtomicUpdate(func(r *hlog.Record[K]) bool {
				if !s.log.IsMutable(addr) {
					return false
				}
				return mctx.RmwAtomic(r)
			})
			if done {
				s.mtr.rmws.Inc()
				return StatusOk
			}
		}

		// The old value left memory: fetch it from the device, finish as a
		// copy-on-write when the read lands.
		if !rec.Resident() {
			return s.pendRmw(mctx, cb, rec, addr)
		}

		// Copy-on-write. The old value is read under the old record's lock
		// so the copy can not miss a concurrent in-place update.
		lock := rec.GenLock()
		if !lock.Lock() {
			continue
		}
		old := rec.Value()
		if old == nil {
			// The payload was dropped between the residency check and the
			// lock; fetch it back from the device instead.
			lock.Unlock(false)
			return s.pendRmw(mctx, cb, rec, addr)
		}
		newAddr, newRec, err := s.allocate(key, head, mctx.ValueSize(old))
		if err != nil {
			lock.Unlock(false)
			if !s.reclaim(slotIdx) {
				return StatusOutOfMemory
			}
			continue
		}
		mctx.RmwCopy(old, newRec)
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
// Growth
// --------------------------------------------------------------------------

func (s *Store[K]) growIndex(cb func(newSize uint64)) bool {
	if !s.growing.CompareAndSwap(false, true) {
		return false
	}
	rs, ok := s.index.StartResize()
	if !ok {
		s.growing.Store(false)
		return false
	}
	s.logger.Infof("index growth started: %d buckets", s.index.Size())

	// The coordinator runs on its own goroutine with its own epoch slot;
	// sessions keep operating and help migrate the entries they touch.
	go func() {
		slotIdx := s.acquireSlot()
		s.epoch.Protect(slotIdx)
		s.index.Migrate(rs, 64, func() {
			s.epoch.Refresh(slotIdx)
		})
		s.index.FinishResize(rs)
		newSize := s.index.Size()
		s.epoch.Unprotect(slotIdx)

		// The completion fires only after every session has crossed into
		// the new table; the old table becomes garbage at the same moment.
		s.epoch.BumpWithAction(func() {
			s.mtr.grows.Inc()
			s.growing.Store(false)
			s.logger.Infof("index growth complete: %d buckets", newSize)
			if cb != nil {
				cb(newSize)
			}
		})
		s.epoch.Release(slotIdx)
		s.epoch.Drain()
	}()
	return true
}
