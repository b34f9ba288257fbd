// Package kv implements the aspen store: an embedded, in-process concurrent
// key-value engine built from the epoch manager (lib/epoch), the hybrid
// record log (lib/hlog), the lock-free hash index (lib/index) and an
// asynchronous storage collaborator (lib/device).
//
// # Model
//
// The store does not interpret values. Callers drive every operation through
// a context object (UpsertContext, ReadContext, RmwContext) that supplies the
// key, sizes the payload, and implements the value semantics; the store
// decides which context hook applies based on where the target record lives:
//
//   - mutable region: in-place hooks (PutAtomic, GetAtomic, RmwAtomic) run
//     against the live record under its generation lock or seqlock
//   - immutable region: reads serve from memory, writes fall back to
//     copy-on-write with an index compare-and-swap
//   - stable region: the payload has been relocated to the device; reads and
//     RMWs return Pending and complete through a callback
//
// # Sessions
//
// All operations go through a Session obtained from Store.StartSession. A
// session owns one epoch slot and is NOT safe for concurrent use; each
// goroutine takes its own. Long-lived sessions that pause issuing operations
// should call Refresh so deferred reclamation and growth completion can make
// progress.
//
// # Keys
//
// Any type implementing Key (Hash plus Equal) works as a key. Hash equality
// is only a pre-filter; Equal is authoritative, so imperfect hash functions
// cost performance, never correctness. StringKey and Uint64Key are provided
// for the common cases.
//
// # Growth
//
// Session.GrowIndex doubles the hash index online. Ongoing operations help
// migrate the entries they touch; the completion callback fires once every
// thread has left the old table.
package kv
