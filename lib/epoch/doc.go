// Package epoch implements the global epoch protection mechanism used by the
// store to make structural changes (index growth, region reclamation) safe
// without stopping the world.
//
// The package focuses on:
//   - A process-wide monotonic epoch counter advanced with atomic operations
//   - A fixed table of per-session slots into which each session publishes the
//     epoch it observed while inside a protected operation
//   - A lock-free drain list of deferred trigger actions that may only run once
//     every protected session has crossed the epoch they were registered at
//
// Key Components:
//
//   - Manager: The central epoch structure. Sessions acquire a slot once
//     (Acquire), publish the current epoch around every operation
//     (Protect/Unprotect) and periodically call Refresh so that queued trigger
//     actions can make progress. BumpWithAction advances the global epoch and
//     queues an action that runs once no session can still observe the prior
//     epoch.
//
//   - Drain List: An unbounded lock-free linked list of (epoch, action) pairs.
//     Producers push with a compare-and-swap loop; any session draining the
//     list claims runnable actions with a compare-and-swap on the action state,
//     so each action runs exactly once. Completed nodes are unlinked from the
//     front lazily.
//
// The table of slots and the drain list are the only shared state; both are
// manipulated exclusively through atomic primitives, never a mutex.
package epoch
