package index

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/aspenkv/aspen/lib/hlog"
)

// --------------------------------------------------------------------------
// Index
// --------------------------------------------------------------------------

// Index maps key hashes to record chain heads. It holds one active table,
// plus a second table during online growth. All methods are safe for
// concurrent use; callers must hold epoch protection so that the retired
// table of a finished resize is not reclaimed under them.
type Index struct {
	active atomic.Pointer[table]
	resize atomic.Pointer[ResizeState]
}

// ResizeState is published for the duration of one doubling. pending counts
// in-flight entry migrations so the coordinator can wait for helpers before
// retiring the prior table.
type ResizeState struct {
	prior   *table
	next    *table
	pending atomic.Int64
}

// NewIndex allocates an index with the given bucket count, which must be a
// power of two.
func NewIndex(size uint64) (*Index, error) {
	if size == 0 || size&(size-1) != 0 {
		return nil, fmt.Errorf("index: table size %d is not a power of two", size)
	}
	x := &Index{}
	x.active.Store(newTable(size))
	return x, nil
}

// Size returns the active table's bucket count.
func (x *Index) Size() uint64 {
	return x.active.Load().size()
}

// EntryCount counts established entries in the active table. Approximate
// while a resize is in flight.
func (x *Index) EntryCount() uint64 {
	return x.active.Load().entryCount()
}

// Growing reports whether a resize is currently in flight.
func (x *Index) Growing() bool {
	return x.resize.Load() != nil
}

// FindEntry returns the entry for the hash, without creating one. During a
// resize the new table is consulted first, then the sealed prior table.
// The returned entry may carry an invalid address; callers treat that the
// same as a miss on the record chain.
func (x *Index) FindEntry(hash uint64) (Slot, Entry, bool) {
	if rs := x.resize.Load(); rs != nil {
		if s, e, ok := rs.next.find(hash); ok {
			return s, e, true
		}
		return rs.prior.find(hash)
	}
	return x.active.Load().find(hash)
}

// FindOrCreateEntry returns the entry for the hash, creating it when absent.
// During a resize the caller helps migrate its own entry out of the prior
// table before creating in the new one, so no (bucket, tag) ever has two
// live entries.
func (x *Index) FindOrCreateEntry(hash uint64) (Slot, Entry) {
	for {
		rs := x.resize.Load()
		if rs == nil {
			t := x.active.Load()
			if s, e, ok := t.findOrCreate(hash); ok {
				return s, e
			}
			// Table frozen under us; a resize is being published.
			runtime.Gosched()
			continue
		}

		if s, e, ok := rs.next.find(hash); ok {
			return s, e
		}
		if s, e, ok := rs.prior.find(hash); ok {
			rs.migrateSlot(hash&rs.prior.mask, s, e)
			if s, e, ok := rs.next.find(hash); ok {
				return s, e
			}
			// The prior entry carried no valid address and was dropped;
			// fall through and create fresh.
		}
		if s, e, ok := rs.next.findOrCreate(hash); ok {
			return s, e
		}
		// New table frozen already: a second resize raced in. Loop and
		// pick up the fresh state.
		runtime.Gosched()
	}
}

// --------------------------------------------------------------------------
// Migration
// --------------------------------------------------------------------------

// migrateSlot moves one prior-table entry into the new table. Whoever wins
// the seal CAS performs the insert; losers wait until the entry is visible
// in the new table. Entries without a valid address are sealed and dropped.
func (rs *ResizeState) migrateSlot(oldBucket uint64, s Slot, e Entry) {
	for {
		w := s.Load()
		if w.Sealed() {
			if w.Tentative() || !w.Address().Valid() {
				return
			}
			rs.waitVisible(oldBucket, w.Tag())
			return
		}
		rs.pending.Add(1)
		if s.w.CompareAndSwap(uint64(w), uint64(w.sealed())) {
			if !w.Tentative() && w.Address().Valid() {
				// A prior-table entry's keys land in one of two new
				// buckets; the shared record chain disambiguates, so the
				// entry goes into both.
				rs.insert(oldBucket, w.Tag(), w.Address())
				rs.insert(oldBucket+rs.prior.size(), w.Tag(), w.Address())
			}
			rs.pending.Add(-1)
			return
		}
		rs.pending.Add(-1)
	}
}

// waitVisible spins until the seal winner's insert for (oldBucket, tag)
// shows up in the new table.
func (rs *ResizeState) waitVisible(oldBucket, tag uint64) {
	// Reconstruct a hash that lands on oldBucket with the right tag; the
	// winner always inserts into the low sibling, so probing it suffices.
	h := tag<<(64-entryTagBits) | oldBucket
	for {
		if _, _, ok := rs.next.find(h); ok {
			return
		}
		runtime.Gosched()
	}
}

// insert places an established entry into a specific new-table bucket. No
// tentative phase is needed: only the seal winner inserts this (bucket, tag)
// and fresh claimers wait on the prior entry first.
func (rs *ResizeState) insert(bucketIdx, tag uint64, addr hlog.Address) {
	t := rs.next
	b := &t.buckets[bucketIdx]
	entry := NewEntry(addr, tag)
	for {
		var free *atomic.Uint64
		for i := range b.slots {
			e := Entry(b.slots[i].Load())
			if e.Empty() {
				if free == nil {
					free = &b.slots[i]
				}
				continue
			}
			if !e.Tentative() && e.Tag() == tag {
				return // already present
			}
		}
		if free != nil {
			if free.CompareAndSwap(0, uint64(entry)) {
				return
			}
			continue
		}
		h := b.overflow.Load()
		if h == noOverflow {
			nh := t.arena.alloc()
			if b.overflow.CompareAndSwap(noOverflow, nh) {
				h = nh
			} else {
				t.arena.freeBucket(nh)
				h = b.overflow.Load()
			}
		}
		b = t.arena.bucketAt(h)
	}
}

// --------------------------------------------------------------------------
// Grow coordination
// --------------------------------------------------------------------------

// StartResize publishes a doubling of the active table. Returns false when
// another resize is already in flight.
func (x *Index) StartResize() (*ResizeState, bool) {
	prior := x.active.Load()
	rs := &ResizeState{prior: prior, next: newTable(prior.size() * 2)}
	if !x.resize.CompareAndSwap(nil, rs) {
		return nil, false
	}
	return rs, true
}

// Migrate seals and moves every prior-table entry. yield is invoked between
// chunks so the coordinator can refresh its epoch; it may be nil.
func (x *Index) Migrate(rs *ResizeState, chunk uint64, yield func()) {
	if chunk == 0 {
		chunk = 64
	}
	for idx := uint64(0); idx < rs.prior.size(); idx++ {
		migrateBucketChain(rs, idx)
		if idx%chunk == chunk-1 && yield != nil {
			yield()
		}
	}
	// Helpers may still be mid-insert.
	for rs.pending.Load() != 0 {
		if yield != nil {
			yield()
		}
		runtime.Gosched()
	}
}

// migrateBucketChain seals every slot in the bucket chain rooted at idx,
// migrating live entries, then seals the trailing overflow handle so the
// chain cannot be extended afterwards.
func migrateBucketChain(rs *ResizeState, idx uint64) {
	b := &rs.prior.buckets[idx]
	for {
		for i := range b.slots {
			s := Slot{w: &b.slots[i]}
			rs.migrateSlot(idx, s, s.Load())
		}
		h := b.overflow.Load()
		if h == noOverflow {
			if b.overflow.CompareAndSwap(noOverflow, sealedOverflow) {
				return
			}
			// An extender raced the seal; walk the fresh bucket.
			h = b.overflow.Load()
			if h == sealedOverflow || h == noOverflow {
				return
			}
		}
		b = rs.prior.arena.bucketAt(h)
	}
}

// FinishResize installs the new table as active and retracts the resize
// state. The caller is responsible for reclaiming the prior table only
// after all epoch-protected threads have observed the swap.
func (x *Index) FinishResize(rs *ResizeState) {
	x.active.Store(rs.next)
	x.resize.Store(nil)
}
