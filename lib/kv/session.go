package kv

import "sync/atomic"

// --------------------------------------------------------------------------
// Session
// --------------------------------------------------------------------------

// Session is a thread's handle to the store. It carries the epoch slot that
// protects the thread's view of shared structures. A session must not be
// shared between goroutines; open one per worker.
//
// Operations take a caller-assigned serial number for the caller's own
// sequencing; the engine does not interpret it.
type Session[K Key[K]] struct {
	id    uint64
	store *Store[K]

	// slot is this session's index into the epoch table.
	slot int

	closed atomic.Bool
}

// Upsert writes the value described by uctx, blindly replacing any previous
// version. cb is unused today (upserts never go pending) but accepted for
// signature symmetry with Read and Rmw.
//
// Thread-safety: sessions are single-threaded; concurrent use of one session
// is a caller bug.
func (s *Session[K]) Upsert(uctx UpsertContext[K], cb CompletionFunc, serial uint64) Status {
	if s.closed.Load() {
		return StatusAborted
	}
	s.store.epoch.Protect(s.slot)
	st := s.store.internalUpsert(s.slot, uctx)
	s.store.epoch.Unprotect(s.slot)
	return st
}

// Read delivers the current value for rctx's key through the context's Get
// or GetAtomic hook. StatusPending means the payload lives on the device;
// the cloned context's Get and then cb fire when the read completes.
func (s *Session[K]) Read(rctx ReadContext[K], cb CompletionFunc, serial uint64) Status {
	if s.closed.Load() {
		return StatusAborted
	}
	s.store.epoch.Protect(s.slot)
	st := s.store.internalRead(rctx, cb)
	s.store.epoch.Unprotect(s.slot)
	return st
}

// Rmw applies mctx's read-modify-write. StatusPending means the old value
// had to be fetched from the device; the operation completes through cb.
func (s *Session[K]) Rmw(mctx RmwContext[K], cb CompletionFunc, serial uint64) Status {
	if s.closed.Load() {
		return StatusAborted
	}
	s.store.epoch.Protect(s.slot)
	st := s.store.internalRmw(s.slot, mctx, cb)
	s.store.epoch.Unprotect(s.slot)
	return st
}

// GrowIndex kicks off an online doubling of the hash index. Returns false
// when a growth is already in flight. cb fires with the new bucket count
// once every thread has observed the new table; sessions that stop issuing
// operations must call Refresh for that to happen.
func (s *Session[K]) GrowIndex(cb func(newSize uint64)) bool {
	if s.closed.Load() {
		return false
	}
	return s.store.growIndex(cb)
}

// Refresh bumps this session's epoch view and runs any deferred work that
// has become safe. Call it periodically from loops that otherwise issue no
// operations.
func (s *Session[K]) Refresh() {
	if s.closed.Load() {
		return
	}
	s.store.epoch.Refresh(s.slot)
}

// Close releases the session's epoch slot. Double close is safe.
func (s *Session[K]) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.store.epoch.Release(s.slot)
	s.store.sessions.Delete(s.id)
}
