package index

import (
	"sync/atomic"

	"github.com/aspenkv/aspen/lib/hlog"
)

// --------------------------------------------------------------------------
// Packed entry word
// --------------------------------------------------------------------------

const (
	entryAddressBits        = 48
	entryAddressMask uint64 = (1 << entryAddressBits) - 1

	entryTagShift        = 48
	entryTagBits         = 14
	entryTagMask  uint64 = (1 << entryTagBits) - 1

	entryTentativeBit uint64 = 1 << 62
	entrySealedBit    uint64 = 1 << 63
)

// Entry is one packed index entry word: {address:48, tag:14, tentative:1,
// sealed:1}. The zero value is a free slot.
type Entry uint64

// EmptyEntry is a free slot.
const EmptyEntry Entry = 0

// NewEntry packs an address and tag into an established entry word.
func NewEntry(addr hlog.Address, tag uint64) Entry {
	return Entry(uint64(addr)&entryAddressMask | (tag&entryTagMask)<<entryTagShift)
}

// TagOf derives the 14-bit slot tag from a key hash. The high bits are used
// so the tag stays independent of the bucket index no matter how large the
// table grows. Tag 0 is remapped to 1 so a zero entry word always means
// "free".
func TagOf(hash uint64) uint64 {
	tag := hash >> (64 - entryTagBits)
	if tag == 0 {
		tag = 1
	}
	return tag
}

// Address returns the record address stored in the entry.
func (e Entry) Address() hlog.Address {
	return hlog.Address(uint64(e) & entryAddressMask)
}

// Tag returns the entry's tag fragment.
func (e Entry) Tag() uint64 {
	return uint64(e) >> entryTagShift & entryTagMask
}

// Tentative reports whether the slot is mid-claim and must be ignored by
// lookups.
func (e Entry) Tentative() bool {
	return uint64(e)&entryTentativeBit != 0
}

// Sealed reports whether the slot belongs to an outgoing table frozen by a
// resize. Sealed entries stay readable but every update against them fails.
func (e Entry) Sealed() bool {
	return uint64(e)&entrySealedBit != 0
}

// Empty reports whether the slot is free.
func (e Entry) Empty() bool {
	return e == EmptyEntry
}

func (e Entry) tentative() Entry {
	return e | Entry(entryTentativeBit)
}

func (e Entry) sealed() Entry {
	return e | Entry(entrySealedBit)
}

// --------------------------------------------------------------------------
// Slot reference
// --------------------------------------------------------------------------

// Slot references one entry location in the index. Callers hold it across a
// lookup so they can attempt a compare-and-swap update afterwards.
type Slot struct {
	w *atomic.Uint64
}

// Load returns the entry currently stored in the slot.
func (s Slot) Load() Entry {
	return Entry(s.w.Load())
}

// Update atomically swaps the slot from old to new. A false return means the
// entry is stale: another session advanced it (or a resize sealed it) and
// the caller must retry its lookup. This compare-and-swap is the core of
// lock-free versioning.
func (s Slot) Update(old, new Entry) bool {
	return s.w.CompareAndSwap(uint64(old), uint64(new))
}
