package index

import (
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Buckets
// --------------------------------------------------------------------------

const (
	// slotsPerBucket keeps a bucket (7 entry words + overflow handle) on a
	// single 64-byte cache line.
	slotsPerBucket = 7

	// noOverflow marks a bucket without an overflow chain.
	noOverflow uint32 = 0

	// sealedOverflow freezes an empty overflow handle of an outgoing table
	// during a resize so no chain can be attached to it anymore.
	sealedOverflow uint32 = ^uint32(0)
)

// bucket is one hash bucket: a fixed number of entry slots plus the handle
// of the first overflow bucket in the chain. Overflow buckets share the
// same shape.
type bucket struct {
	slots    [slotsPerBucket]atomic.Uint64
	overflow atomic.Uint32
	_        [4]byte
}

// chainNext returns the next overflow bucket handle, treating a sealed
// handle as end-of-chain.
func (b *bucket) chainNext() uint32 {
	h := b.overflow.Load()
	if h == sealedOverflow {
		return noOverflow
	}
	return h
}

// --------------------------------------------------------------------------
// Overflow bucket arena
// --------------------------------------------------------------------------

const (
	slabBits = 8 // overflow buckets per slab
	slabSize = 1 << slabBits
	slabMask = slabSize - 1
)

type overflowSlab struct {
	buckets [slabSize]bucket
}

// arena hands out overflow buckets addressed by uint32 handles (1-based,
// handle 0 is noOverflow). Freed buckets are recycled through a freelist
// whose head carries a version counter to sidestep ABA on the pop path.
// The freelist chains free buckets through their overflow field.
type arena struct {
	slabs atomic.Pointer[[]*overflowSlab]
	next  atomic.Uint32 // next never-used handle
	free  atomic.Uint64 // packed {version:32, head handle:32}
}

func newArena() *arena {
	a := &arena{}
	slabs := make([]*overflowSlab, 0)
	a.slabs.Store(&slabs)
	a.next.Store(1)
	return a
}

// bucketAt resolves a handle to its bucket.
func (a *arena) bucketAt(h uint32) *bucket {
	n := h - 1
	slabs := a.slabs.Load()
	return &(*slabs)[n>>slabBits].buckets[n&slabMask]
}

// alloc returns a zeroed overflow bucket handle.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (a *arena) alloc() uint32 {
	// Recycle from the freelist first.
	for {
		f := a.free.Load()
		h := uint32(f)
		if h == noOverflow {
			break
		}
		next := a.bucketAt(h).overflow.Load()
		if a.free.CompareAndSwap(f, packFree(uint32(f>>32)+1, next)) {
			a.bucketAt(h).overflow.Store(noOverflow)
			return h
		}
	}

	h := a.next.Add(1) - 1
	a.ensure(h)
	return h
}

// freeBucket returns a bucket to the freelist. The caller must have made it
// unreachable first.
func (a *arena) freeBucket(h uint32) {
	b := a.bucketAt(h)
	for i := range b.slots {
		b.slots[i].Store(0)
	}
	for {
		f := a.free.Load()
		b.overflow.Store(uint32(f))
		if a.free.CompareAndSwap(f, packFree(uint32(f>>32)+1, h)) {
			return
		}
	}
}

// ensure grows the slab directory until handle h is resolvable.
func (a *arena) ensure(h uint32) {
	si := int((h - 1) >> slabBits)
	for {
		slabs := a.slabs.Load()
		if si < len(*slabs) {
			return
		}
		grown := make([]*overflowSlab, si+1)
		copy(grown, *slabs)
		for i := len(*slabs); i <= si; i++ {
			grown[i] = &overflowSlab{}
		}
		a.slabs.CompareAndSwap(slabs, &grown)
	}
}

func packFree(version, head uint32) uint64 {
	return uint64(version)<<32 | uint64(head)
}
