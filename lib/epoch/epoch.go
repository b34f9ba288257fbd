package epoch

import (
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	// unprotected marks a slot whose owner is currently outside any
	// protected operation. Epoch values published by sessions start at 1,
	// so 0 is free to act as the sentinel.
	unprotected uint64 = 0

	// DefaultTableSize is the default number of sessions that can be
	// registered concurrently.
	DefaultTableSize = 128
)

// --------------------------------------------------------------------------
// Epoch table
// --------------------------------------------------------------------------

// slot is one session's entry in the epoch table. Each slot is padded onto
// its own cache line so that refreshes by different sessions never contend
// on the same line.
type slot struct {
	local atomic.Uint64 // epoch the owner last published, or unprotected
	used  atomic.Uint32 // slot ownership flag
	_     [52]byte
}

// Manager tracks the global epoch, the per-session epoch table and the
// drain list of deferred trigger actions.
type Manager struct {
	current atomic.Uint64
	table   []slot
	drain   drainList
}

// NewManager creates an epoch manager with capacity for tableSize
// concurrently registered sessions (DefaultTableSize if <= 0).
//
// Thread-safety: the returned manager is safe for concurrent use; this
// constructor itself is not.
func NewManager(tableSize int) *Manager {
	if tableSize <= 0 {
		tableSize = DefaultTableSize
	}
	m := &Manager{
		table: make([]slot, tableSize),
	}
	m.current.Store(1)
	m.drain.init()
	return m
}

// --------------------------------------------------------------------------
// Slot lifecycle
// --------------------------------------------------------------------------

// Acquire claims a free slot in the epoch table for a new session.
// The boolean is false when the table is full.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (m *Manager) Acquire() (int, bool) {
	for i := range m.table {
		if m.table[i].used.CompareAndSwap(0, 1) {
			return i, true
		}
	}
	return -1, false
}

// Release returns a slot to the free pool. The owner must not be inside a
// protected operation.
func (m *Manager) Release(idx int) {
	m.table[idx].local.Store(unprotected)
	m.table[idx].used.Store(0)
}

// --------------------------------------------------------------------------
// Protection
// --------------------------------------------------------------------------

// Current returns the current global epoch.
func (m *Manager) Current() uint64 {
	return m.current.Load()
}

// Protect publishes the current epoch into the session's slot, marking the
// session as inside a protected operation. Returns the published epoch.
//
// Thread-safety: safe for concurrent use, but each slot has a single owner.
func (m *Manager) Protect(idx int) uint64 {
	e := m.current.Load()
	m.table[idx].local.Store(e)
	return e
}

// Unprotect marks the session as outside any protected operation.
func (m *Manager) Unprotect(idx int) {
	m.table[idx].local.Store(unprotected)
}

// Refresh re-publishes the current epoch for a protected session and gives
// queued trigger actions a chance to run. Long-running or spin-waiting
// sessions must call this periodically so deferred maintenance can progress.
func (m *Manager) Refresh(idx int) {
	if m.table[idx].local.Load() != unprotected {
		m.Protect(idx)
	}
	m.Drain()
}

// --------------------------------------------------------------------------
// Deferred actions
// --------------------------------------------------------------------------

// SafeToReclaim reports whether every session has moved past epoch e: no
// slot is still protected at an epoch <= e. Structures retired at epoch e
// may be reclaimed once this returns true.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (m *Manager) SafeToReclaim(e uint64) bool {
	for i := range m.table {
		if local := m.table[i].local.Load(); local != unprotected && local <= e {
			return false
		}
	}
	return true
}

// BumpWithAction advances the global epoch and queues fn to run once every
// session has crossed the boundary. fn runs at most once, on whichever
// session drains it. Returns the new epoch.
func (m *Manager) BumpWithAction(fn func()) uint64 {
	prior := m.current.Add(1) - 1
	m.drain.push(&action{epoch: prior, fn: fn})
	m.Drain()
	return prior + 1
}

// Drain runs every queued action whose registration epoch is safely behind
// all protected sessions.
func (m *Manager) Drain() {
	m.drain.drain(m.SafeToReclaim)
}
