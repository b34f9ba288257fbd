package kv

import "github.com/aspenkv/aspen/lib/hlog"

// --------------------------------------------------------------------------
// Operation contexts
// --------------------------------------------------------------------------

// UpsertContext drives one blind write. The store picks the hook:
//
//   - PutAtomic when the target record is in the mutable region. It runs
//     under the record's generation lock, so plain stores into the payload
//     are safe; returning false (e.g. the new value does not fit the
//     record's capacity) makes the store fall back to copy-on-write.
//   - Put when the store allocated a fresh record (no prior version, or
//     copy-on-write). The record is invisible until the index swap, so Put
//     needs no synchronization.
//
// Upsert never takes the pending path; a blind write does not need the old
// value.
type UpsertContext[K Key[K]] interface {
	Key() K

	// ValueSize sizes the payload of a freshly allocated record.
	ValueSize() uint32

	Put(r *hlog.Record[K])
	PutAtomic(r *hlog.Record[K]) bool
}

// ReadContext drives one read. GetAtomic sees records in the mutable region;
// it is handed a snapshot already validated against the record's generation
// counter, captured word by word so concurrent in-place writers cannot tear
// it. Get sees immutable and device-recovered payloads.
//
// Clone is invoked once if the operation goes pending; the returned context
// receives the completion-side Get call and may simply be the receiver when
// the context is already heap-allocated and not reused by the caller.
type ReadContext[K Key[K]] interface {
	Key() K

	Get(value []byte)
	GetAtomic(value []byte)

	Clone() ReadContext[K]
}

// RmwContext drives one read-modify-write.
//
//   - RmwAtomic mutates a mutable-region record in place under its
//     generation lock; returning false forces copy-on-write.
//   - RmwCopy derives the new record's payload from the old value. old
//     aliases store memory (or an I/O buffer on the pending path) and must
//     not be retained.
//   - RmwInitial fills the record when no prior version exists.
//
// ValueSize sizes a fresh allocation; old is nil for an initial write.
// For the modification to converge under mixed in-place and copy-on-write
// interleavings, RmwAtomic and RmwCopy must express the same commutative
// update.
type RmwContext[K Key[K]] interface {
	Key() K

	ValueSize(old []byte) uint32

	RmwInitial(r *hlog.Record[K])
	RmwCopy(old []byte, r *hlog.Record[K])
	RmwAtomic(r *hlog.Record[K]) bool

	Clone() RmwContext[K]
}
