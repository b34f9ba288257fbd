// Package index implements the lock-free, epoch-protected hash index that
// maps a key's hash to the address of its most recent record in the hybrid
// log.
//
// The package focuses on:
//   - Cache-aligned buckets of packed (tag, address) entry words plus an
//     overflow handle forming a chain of overflow buckets
//   - A freelist-managed overflow-bucket arena addressed by index handles
//     instead of raw pointers, so chains stay safe across a concurrent resize
//   - Entry updates exclusively through compare-and-swap: a failed swap means
//     another session advanced the entry and the caller must retry its lookup
//   - Online growth to a double-capacity table while operations continue
//
// Key Components:
//
//   - Entry: one uint64 packing {address:48, tag:14, tentative:1, sealed:1}.
//     The tag is a 14-bit fragment of the key hash used to pre-filter slots;
//     full key equality against the record chain is authoritative. A zero
//     word is a free slot (tag 0 is remapped to 1). Tentative marks a slot
//     mid-claim during the two-phase insertion protocol; sealed freezes a
//     slot of the outgoing table during growth.
//
//   - Index: the two-table front. Outside a resize all traffic hits the
//     active table. During a resize, lookups consult the new table first and
//     fall back to the old one; creates land in the new table after ensuring
//     any matching old entry has been migrated (sessions help migrate their
//     own entries instead of waiting for the coordinator).
//
//   - Growth: the coordinator seals every slot of the old table (making
//     updater compare-and-swaps fail so they retry against the new table)
//     and re-inserts each live entry into both candidate buckets of the
//     doubled table. Record chains are shared, so key equality keeps lookups
//     exact even though a chain may contain records that re-hash to the
//     sibling bucket.
//
// Thread-safety: every operation is safe for concurrent use; no mutex guards
// any index state.
package index
