package hlog

import (
	"fmt"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	pageBits = 12 // records per page directory entry
	pageSize = 1 << pageBits
	pageMask = pageSize - 1

	// recordOverhead is the accounted per-record header cost, charged
	// against the byte budget in addition to the payload capacity.
	recordOverhead = 64
)

// ErrLogFull is returned by Allocate when the configured byte budget is
// exhausted.
var ErrLogFull = fmt.Errorf("hlog: byte budget exhausted")

// --------------------------------------------------------------------------
// Log
// --------------------------------------------------------------------------

// page holds a fixed number of record slots. Slots are published with an
// atomic store after the record is fully initialized.
type page[K any] struct {
	slots [pageSize]atomic.Pointer[Record[K]]
}

// Log is the hybrid record log: a monotonic bump allocator over a growable
// page directory plus the two region boundaries.
//
// Region layout by address a:
//
//	a <  head           stable region (relocated to the device, read-only)
//	a <  readOnly       immutable in memory (read-only)
//	a >= readOnly       mutable region (in-place updates permitted)
//
// Both boundaries only move forward.
type Log[K any] struct {
	budget int64
	used   atomic.Int64

	tail     atomic.Uint64 // next record number to hand out (0-based)
	head     atomic.Uint64 // first address not in the stable region
	readOnly atomic.Uint64 // first address in the mutable region

	dir atomic.Pointer[[]*page[K]]
}

// NewLog creates a hybrid log bounded by budget bytes.
//
// Thread-safety: the returned log is safe for concurrent use; this
// constructor itself is not.
func NewLog[K any](budget int64) *Log[K] {
	l := &Log[K]{budget: budget}
	l.head.Store(1)
	l.readOnly.Store(1)
	dir := make([]*page[K], 0)
	l.dir.Store(&dir)
	return l
}

// --------------------------------------------------------------------------
// Allocation
// --------------------------------------------------------------------------

// Allocate reserves the next monotonic address and creates a record for key
// with the given payload capacity, chained over prev. The record is fully
// resolvable once Allocate returns; it becomes logically visible only when
// the caller installs its address in the index.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (l *Log[K]) Allocate(key K, prev Address, capacity uint32) (Address, *Record[K], error) {
	cost := int64(recordOverhead) + int64((capacity+7)&^7)
	if l.used.Add(cost) > l.budget {
		l.used.Add(-cost)
		return InvalidAddress, nil, ErrLogFull
	}

	n := l.tail.Add(1) - 1 // 0-based record number
	rec := newRecord(key, prev, capacity)
	l.place(n, rec)
	return Address(n + 1), rec, nil
}

// place publishes a record under its record number, growing the page
// directory as needed.
func (l *Log[K]) place(n uint64, rec *Record[K]) {
	pi := int(n >> pageBits)
	for {
		dir := l.dir.Load()
		if pi < len(*dir) {
			(*dir)[pi].slots[n&pageMask].Store(rec)
			return
		}

		// Extend the directory. Losers of the CAS simply retry against
		// the winner's directory.
		grown := make([]*page[K], pi+1)
		copy(grown, *dir)
		for i := len(*dir); i <= pi; i++ {
			grown[i] = &page[K]{}
		}
		l.dir.CompareAndSwap(dir, &grown)
	}
}

// Resolve maps an address to its record. Returns nil for an invalid or
// not-yet-published address; callers discovering addresses through the index
// always observe a fully published record.
func (l *Log[K]) Resolve(a Address) *Record[K] {
	if !a.Valid() {
		return nil
	}
	n := uint64(a) - 1
	dir := l.dir.Load()
	pi := int(n >> pageBits)
	if pi >= len(*dir) {
		return nil
	}
	return (*dir)[pi].slots[n&pageMask].Load()
}

// Discard releases a record that lost its install race before it ever became
// visible through the index. The address stays burned (addresses are never
// reused); the slot is cleared and the byte budget credited back.
//
// Thread-safety: This method is thread-safe, but must only be called by the
// allocator of the record, before publication.
func (l *Log[K]) Discard(a Address) {
	rec := l.Resolve(a)
	if rec == nil {
		return
	}
	n := uint64(a) - 1
	dir := l.dir.Load()
	(*dir)[n>>pageBits].slots[n&pageMask].Store(nil)
	l.used.Add(-(int64(recordOverhead) + int64(rec.Capacity())))
}

// ReleasePayload drops the in-memory payload of a record that has been
// relocated to the device, crediting the record's full accounted cost
// (header overhead plus capacity) back to the budget. The record header
// (key, chain link, length, flush offset) stays resident so lookups can
// route to the device; its footprint is no longer charged, so spilling
// always recovers exactly what Allocate charged and continued writing can
// never be starved by accumulated headers.
//
// Callers must defer this through the epoch manager so no protected thread
// still holds an unloaded view of the payload.
func (l *Log[K]) ReleasePayload(a Address) {
	rec := l.Resolve(a)
	if rec == nil || !rec.Resident() {
		return
	}
	l.used.Add(-(int64(recordOverhead) + int64(rec.Capacity())))
	rec.dropPayload()
}

// --------------------------------------------------------------------------
// Region boundaries
// --------------------------------------------------------------------------

// TailAddress returns the address the next allocation will receive.
func (l *Log[K]) TailAddress() Address {
	return Address(l.tail.Load() + 1)
}

// HeadAddress returns the first address not in the stable region.
func (l *Log[K]) HeadAddress() Address {
	return Address(l.head.Load())
}

// ReadOnlyAddress returns the first address in the mutable region.
func (l *Log[K]) ReadOnlyAddress() Address {
	return Address(l.readOnly.Load())
}

// IsMutable reports whether a record may be mutated in place.
func (l *Log[K]) IsMutable(a Address) bool {
	return uint64(a) >= l.readOnly.Load()
}

// IsStable reports whether a record lies in the stable region and must be
// accessed through the storage device.
func (l *Log[K]) IsStable(a Address) bool {
	return uint64(a) < l.head.Load()
}

// ShiftReadOnlyAddress moves the read-only boundary forward to a. Records
// below the boundary become immutable; in-place writers that already hold a
// record's generation lock finish their update first, which is safe because
// copy-on-write retirement serializes on the same lock.
func (l *Log[K]) ShiftReadOnlyAddress(a Address) {
	target := uint64(a)
	if limit := l.tail.Load() + 1; target > limit {
		target = limit
	}
	monotonicAdvance(&l.readOnly, target)
}

// ShiftHeadAddress moves the head boundary forward to a, placing every
// record below it in the stable region. The boundary never overtakes the
// read-only boundary.
func (l *Log[K]) ShiftHeadAddress(a Address) {
	limit := l.readOnly.Load()
	target := uint64(a)
	if target > limit {
		target = limit
	}
	monotonicAdvance(&l.head, target)
}

// UsedBytes returns the accounted allocation total.
func (l *Log[K]) UsedBytes() int64 {
	return l.used.Load()
}

// BudgetBytes returns the configured byte budget.
func (l *Log[K]) BudgetBytes() int64 {
	return l.budget
}

// monotonicAdvance raises an atomic value to target unless it is already
// greater.
func monotonicAdvance(v *atomic.Uint64, target uint64) {
	for {
		cur := v.Load()
		if target <= cur {
			return
		}
		if v.CompareAndSwap(cur, target) {
			return
		}
	}
}
