package epoch

import (
	"runtime"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Drain list of deferred trigger actions
// --------------------------------------------------------------------------

// Action states. An action is pushed ready, claimed by exactly one draining
// session and marked done after it ran.
const (
	actionReady uint32 = iota
	actionClaimed
	actionDone
)

// action is a single deferred trigger action, registered at the epoch that
// was retired when it was queued.
type action struct {
	epoch uint64
	fn    func()
	state atomic.Uint32
	next  atomic.Pointer[action]
}

// drainList is an unbounded lock-free linked list of actions. Pushes use the
// same CAS-append loop as a multi-producer queue; draining is cooperative,
// performed by whichever session calls drain next.
type drainList struct {
	head atomic.Pointer[action] // sentinel; nodes after it are live
	tail atomic.Pointer[action]
}

func (l *drainList) init() {
	sentinel := &action{}
	sentinel.state.Store(actionDone)
	l.head.Store(sentinel)
	l.tail.Store(sentinel)
}

// push appends an action to the list.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (l *drainList) push(a *action) {
	var backoff uint8
	for {
		tailNode := l.tail.Load()
		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, a) {
				// Appended; tail may lag but another producer will
				// help it forward.
				l.tail.CompareAndSwap(tailNode, a)
				return
			}
		} else {
			// Help a stalled producer update the tail pointer.
			l.tail.CompareAndSwap(tailNode, next)
		}

		// Exponential backoff to avoid a thundering herd of retries.
		if backoff < 6 {
			backoff++
		}
		for i := 0; i < 1<<backoff; i++ {
			runtime.Gosched()
		}
	}
}

// drain claims and runs every action whose epoch satisfies the safe
// predicate, then unlinks completed nodes from the front of the list.
//
// Thread-safety: This method is thread-safe and can be called concurrently;
// each action still runs exactly once.
func (l *drainList) drain(safe func(epoch uint64) bool) {
	for n := l.head.Load().next.Load(); n != nil; n = n.next.Load() {
		if n.state.Load() != actionReady || !safe(n.epoch) {
			continue
		}
		if n.state.CompareAndSwap(actionReady, actionClaimed) {
			n.fn()
			n.fn = nil // help the go gc
			n.state.Store(actionDone)
		}
	}

	// Advance the sentinel past completed nodes so the list does not grow
	// without bound. Nodes stay chained, so concurrent walkers remain valid.
	for {
		head := l.head.Load()
		next := head.next.Load()
		if next == nil || next.state.Load() != actionDone {
			return
		}
		l.head.CompareAndSwap(head, next)
	}
}
