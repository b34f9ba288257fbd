// Package hlog implements the hybrid record log: a logically append-only
// sequence of records partitioned into a stable region (relocated to the
// storage device), an immutable-in-memory region and a mutable head region
// where in-place atomic updates are permitted.
//
// The package focuses on:
//   - Monotonic, thread-safe bump allocation of record addresses that are
//     never reused while a record is live
//   - A per-record generation lock packed into one atomic word {generation,
//     locked, replaced} that guards in-place mutation and lets readers detect
//     torn reads without blocking writers
//   - Region boundaries (head and read-only addresses) that only ever move
//     forward, deciding whether an operation may mutate a record in place
//
// Key Components:
//
//   - Address: a 1-based monotonic record position. Addresses increase with
//     creation order, giving a total order used for tie-breaking and
//     reclamation boundaries. Address 0 is invalid.
//
//   - GenLock: the packed generation lock. TryLock acquires via
//     compare-and-swap; Unlock always increments the generation counter;
//     the replaced flag is permanent and may only be set by the lock holder
//     while retiring the record during a copy-on-write.
//
//   - Record: control header plus key and a variable-length payload with a
//     fixed allocated capacity. The payload lives behind an atomic pointer
//     in 8-byte words, so it can be dropped after a flush while readers
//     still hold views, and callers can layer atomic 8-byte views on top of
//     it. AtomicRead and AtomicUpdate implement the seqlock read and locked
//     write protocols; SetValue is the only way to mutate a published
//     payload.
//
//   - Log: the page-directory allocator. Pages are appended with a
//     compare-and-swap on the directory pointer; a byte budget bounds total
//     allocation. Resolve maps an address back to its record.
//
// Thread-safety: all exported operations are safe for concurrent use and are
// implemented exclusively with atomic primitives.
package hlog
