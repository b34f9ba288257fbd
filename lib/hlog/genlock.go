package hlog

import (
	"runtime"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Generation lock
// --------------------------------------------------------------------------

// Bit layout of the packed lock word. The generation counter lives in the
// high 62 bits so every unlock bumps it with a single add.
const (
	lockedBit   uint64 = 1 << 0
	replacedBit uint64 = 1 << 1
	genShift           = 2
)

// GenLock is a per-record spin lock packed into one atomic word together
// with a monotonically increasing generation counter and a permanent
// "replaced" flag.
//
// Invariants:
//   - Only one holder at a time; acquisition is a compare-and-swap.
//   - Every Unlock increments the generation, whether or not the record was
//     replaced, so readers can detect concurrent mutation.
//   - Once replaced is set the record can never be locked again; attempts
//     observe the flag and fail without spinning.
type GenLock struct {
	word atomic.Uint64
}

// TryLock attempts to acquire the lock once. ok is false either because
// another holder is active (retry is sensible) or because the record was
// permanently replaced (reported separately; retrying is futile).
func (g *GenLock) TryLock() (ok, replaced bool) {
	w := g.word.Load()
	if w&replacedBit != 0 {
		return false, true
	}
	if w&lockedBit != 0 {
		return false, false
	}
	return g.word.CompareAndSwap(w, w|lockedBit), false
}

// Lock spins until the lock is acquired or the record is observed as
// replaced. Returns false in the latter case.
func (g *GenLock) Lock() bool {
	for {
		ok, replaced := g.TryLock()
		if replaced {
			return false
		}
		if ok {
			return true
		}
		runtime.Gosched()
	}
}

// Unlock releases the lock and bumps the generation counter. markReplaced
// permanently retires the record; it is only legal while the holder is
// superseding the record with a new version.
func (g *GenLock) Unlock(markReplaced bool) {
	w := g.word.Load()
	next := (w &^ lockedBit) + (1 << genShift)
	if markReplaced {
		next |= replacedBit
	}
	g.word.Store(next)
}

// Generation returns the current generation counter. stable is false while
// a holder is active, in which case the counter must not be trusted as a
// read fence.
func (g *GenLock) Generation() (gen uint64, stable bool) {
	w := g.word.Load()
	return w >> genShift, w&lockedBit == 0
}

// Replaced reports whether the record was permanently retired.
func (g *GenLock) Replaced() bool {
	return g.word.Load()&replacedBit != 0
}
