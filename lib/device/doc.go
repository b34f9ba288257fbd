// Package device defines the asynchronous storage collaborator used by the
// engine to spill and recover record payloads that have left the in-memory
// region of the hybrid log.
//
// A Device is a flat, byte-addressable store with asynchronous reads and
// writes. Completion is signalled through a callback rather than a blocking
// return so that the engine can surface a Pending status to its caller and
// keep serving other operations while the I/O is in flight. Callbacks may
// run inline (before the Async call returns) when the device can complete
// immediately; callers must not assume a separate goroutine.
//
// Three implementations are provided:
//
//   - NullDevice completes every operation inline with success and retains
//     no data. It backs stores that never shift their head address, and
//     benchmarks that must exclude I/O cost.
//
//   - MemoryDevice keeps all written frames in process memory. It behaves
//     like a real device (data written is data read) and is the default
//     collaborator in tests.
//
//   - FileDevice persists frames to a single file and dispatches each
//     operation on its own goroutine via ReadAt/WriteAt.
//
// Payloads cross the device boundary as checksummed frames, see
// EncodeFrame and DecodeFrame. A frame that fails its checksum on the way
// back is reported as ErrChecksum so the engine can fail the pending
// operation instead of serving torn data.
package device
