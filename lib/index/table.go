package index

import (
	"sync/atomic"

	"github.com/aspenkv/aspen/lib/hlog"
)

// --------------------------------------------------------------------------
// Hash table (one generation of the index)
// --------------------------------------------------------------------------

// table is one generation of the index: a power-of-two bucket array plus its
// private overflow arena. During growth two tables coexist; the arena is
// per-table so overflow handles never cross generations.
type table struct {
	mask    uint64
	buckets []bucket
	arena   *arena
}

func newTable(size uint64) *table {
	return &table{
		mask:    size - 1,
		buckets: make([]bucket, size),
		arena:   newArena(),
	}
}

func (t *table) size() uint64 {
	return t.mask + 1
}

// find scans the primary bucket's slots by tag match, then follows the
// overflow chain. Tentative entries are invisible; sealed entries remain
// readable. Tags may alias distinct keys, so callers verify full key
// equality against the record chain at the returned address.
func (t *table) find(hash uint64) (Slot, Entry, bool) {
	tag := TagOf(hash)
	b := &t.buckets[hash&t.mask]
	for {
		for i := range b.slots {
			e := Entry(b.slots[i].Load())
			if e.Empty() || e.Tentative() {
				continue
			}
			if e.Tag() == tag {
				return Slot{w: &b.slots[i]}, e, true
			}
		}
		h := b.chainNext()
		if h == noOverflow {
			return Slot{}, EmptyEntry, false
		}
		b = t.arena.bucketAt(h)
	}
}

// findOrCreate returns the established entry for the hash's (bucket, tag),
// creating one with an invalid address when absent. ok is false when the
// table has been frozen by a resize; the caller must retry through the
// resize path.
func (t *table) findOrCreate(hash uint64) (Slot, Entry, bool) {
	for {
		if s, e, ok := t.find(hash); ok {
			return s, e, true
		}
		s, frozen := t.claim(hash)
		if frozen {
			return Slot{}, EmptyEntry, false
		}
		if s.w != nil {
			return s, s.Load(), true
		}
		// Lost a duplicate-tag race; the winner's entry shows up on the
		// next find pass.
	}
}

// claim installs a fresh entry for the hash's tag using the two-phase
// tentative protocol: grab a free slot with the tentative bit set, rescan
// the whole chain for a concurrent claim of the same tag, then establish the
// slot. Returns a zero Slot (and frozen=false) when the claim must be
// retried from find, or frozen=true when a resize froze the table.
func (t *table) claim(hash uint64) (Slot, bool) {
	tag := TagOf(hash)
	b := &t.buckets[hash&t.mask]
	for {
		var free *atomic.Uint64
		for i := range b.slots {
			e := Entry(b.slots[i].Load())
			if e.Sealed() {
				return Slot{}, true
			}
			if e.Empty() && free == nil {
				free = &b.slots[i]
			}
		}

		if free != nil {
			claimed := NewEntry(hlog.InvalidAddress, tag).tentative()
			if !free.CompareAndSwap(0, uint64(claimed)) {
				continue // slot taken under us; rescan this bucket
			}
			if t.duplicateTag(hash, tag, free) {
				// Another claimer raced us with the same tag. Back off;
				// one of us will find the other's entry on retry.
				free.CompareAndSwap(uint64(claimed), 0)
				return Slot{}, false
			}
			established := NewEntry(hlog.InvalidAddress, tag)
			if !free.CompareAndSwap(uint64(claimed), uint64(established)) {
				// A resize sealed the slot mid-claim.
				return Slot{}, true
			}
			return Slot{w: free}, false
		}

		// No free slot: walk (extending if needed) the overflow chain.
		h := b.overflow.Load()
		if h == sealedOverflow {
			return Slot{}, true
		}
		if h == noOverflow {
			nh := t.arena.alloc()
			if b.overflow.CompareAndSwap(noOverflow, nh) {
				h = nh
			} else {
				t.arena.freeBucket(nh)
				h = b.overflow.Load()
				if h == sealedOverflow {
					return Slot{}, true
				}
				if h == noOverflow {
					continue
				}
			}
		}
		b = t.arena.bucketAt(h)
	}
}

// duplicateTag reports whether any slot other than mine holds the tag,
// tentative claims included.
func (t *table) duplicateTag(hash, tag uint64, mine *atomic.Uint64) bool {
	b := &t.buckets[hash&t.mask]
	for {
		for i := range b.slots {
			if &b.slots[i] == mine {
				continue
			}
			e := Entry(b.slots[i].Load())
			if !e.Empty() && e.Tag() == tag {
				return true
			}
		}
		h := b.chainNext()
		if h == noOverflow {
			return false
		}
		b = t.arena.bucketAt(h)
	}
}

// entryCount walks the table and counts established entries with a valid
// address. Used for statistics only.
func (t *table) entryCount() uint64 {
	var count uint64
	for i := range t.buckets {
		b := &t.buckets[i]
		for {
			for j := range b.slots {
				e := Entry(b.slots[j].Load())
				if !e.Empty() && !e.Tentative() && e.Address().Valid() {
					count++
				}
			}
			h := b.chainNext()
			if h == noOverflow {
				break
			}
			b = t.arena.bucketAt(h)
		}
	}
	return count
}
