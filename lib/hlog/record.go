package hlog

import (
	"encoding/binary"
	"runtime"
	"sync/atomic"
	"unsafe"
)

// --------------------------------------------------------------------------
// Record
// --------------------------------------------------------------------------

// Record is one immutable-until-superseded unit in the hybrid log: a control
// header (generation lock, previous-version link, logical payload length),
// the key and a payload buffer of fixed allocated capacity.
//
// The payload backing store is a []uint64 held behind an atomic pointer:
// word alignment lets Uint64View hand out atomic views and lets SetValue and
// AtomicRead copy word-wise with atomic stores and loads, and the pointer
// indirection lets the spill path drop the buffer while late readers keep
// whatever snapshot of it they already loaded. After a record is published
// through the index, its payload must only be mutated via SetValue or
// Uint64View (under the generation lock); plain writes through Payload are
// reserved for records not yet visible to any reader.
type Record[K any] struct {
	lock     GenLock
	prev     Address
	length   atomic.Uint32 // logical payload length in bytes
	capacity uint32        // allocated payload capacity, rounded to words
	key      K
	payload  atomic.Pointer[[]uint64]

	// flushed holds deviceOffset+1 of the frame this record was written to
	// when it was relocated below the head boundary, 0 when never flushed.
	flushed atomic.Uint64
}

func newRecord[K any](key K, prev Address, capacity uint32) *Record[K] {
	r := &Record[K]{
		prev:     prev,
		capacity: (capacity + 7) &^ 7,
		key:      key,
	}
	words := make([]uint64, int(r.capacity)/8)
	r.payload.Store(&words)
	return r
}

// Key returns the record's key.
func (r *Record[K]) Key() K {
	return r.key
}

// PreviousAddress returns the backward link to the prior version chain this
// record was installed over (InvalidAddress for a chain head).
func (r *Record[K]) PreviousAddress() Address {
	return r.prev
}

// GenLock exposes the record's generation lock for callers that implement
// the atomic update protocol themselves.
func (r *Record[K]) GenLock() *GenLock {
	return &r.lock
}

// Capacity returns the allocated payload capacity in bytes. It stays valid
// after the payload buffer has been dropped.
func (r *Record[K]) Capacity() uint32 {
	return r.capacity
}

// Length returns the logical payload length in bytes.
func (r *Record[K]) Length() uint32 {
	return r.length.Load()
}

// SetLength updates the logical payload length. Callers must either hold
// the generation lock or be initializing a record that is not yet visible.
func (r *Record[K]) SetLength(n uint32) {
	if n > r.Capacity() {
		n = r.Capacity()
	}
	r.length.Store(n)
}

// Payload returns the full-capacity payload buffer, nil when the payload has
// been dropped. Plain writes through it are only safe on records that are
// not yet published.
func (r *Record[K]) Payload() []byte {
	w := r.payload.Load()
	if w == nil {
		return nil
	}
	if len(*w) == 0 {
		return []byte{}
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&(*w)[0])), len(*w)*8)
}

// Value returns the logical payload, Payload truncated to Length. nil when
// the payload has been dropped.
func (r *Record[K]) Value() []byte {
	p := r.Payload()
	if p == nil {
		return nil
	}
	return p[:r.Length()]
}

// SetValue copies v into the payload with word-wise atomic stores and sets
// the logical length. Returns false when v exceeds the allocated capacity or
// the payload buffer is gone, in which case nothing is written. Callers must
// either hold the generation lock or own a record that is not yet visible.
func (r *Record[K]) SetValue(v []byte) bool {
	if len(v) > int(r.Capacity()) {
		return false
	}
	w := r.payload.Load()
	if w == nil {
		return false
	}
	for i := 0; i*8 < len(v); i++ {
		var b [8]byte
		copy(b[:], v[i*8:])
		(*atomic.Uint64)(unsafe.Pointer(&(*w)[i])).Store(binary.LittleEndian.Uint64(b[:]))
	}
	r.SetLength(uint32(len(v)))
	return true
}

// Uint64View returns an atomic view of the 8 payload bytes at word index i.
// Callers use this for commutative in-place deltas (fetch-add) under the
// generation lock, which also guarantees the payload cannot be dropped
// underneath them (the spill path takes every record's lock before its
// buffer becomes droppable).
func (r *Record[K]) Uint64View(i int) *atomic.Uint64 {
	w := r.payload.Load()
	return (*atomic.Uint64)(unsafe.Pointer(&(*w)[i]))
}

// MarkFlushed records the device offset the record's payload frame was
// written to.
func (r *Record[K]) MarkFlushed(deviceOffset uint64) {
	r.flushed.Store(deviceOffset + 1)
}

// FlushedOffset returns the device offset of the record's payload frame, and
// whether the record has been flushed at all.
func (r *Record[K]) FlushedOffset() (uint64, bool) {
	v := r.flushed.Load()
	if v == 0 {
		return 0, false
	}
	return v - 1, true
}

// Resident reports whether the payload is still held in memory. The answer
// can go stale immediately; paths that dereference the payload afterwards
// must tolerate it being gone (AtomicRead and Value report that themselves).
func (r *Record[K]) Resident() bool {
	return r.payload.Load() != nil
}

// dropPayload releases the payload buffer. Only called through the log's
// epoch-deferred reclamation; readers that loaded the buffer pointer earlier
// keep their snapshot alive.
func (r *Record[K]) dropPayload() {
	r.payload.Store(nil)
}

// --------------------------------------------------------------------------
// Atomic access protocols
// --------------------------------------------------------------------------

// AtomicRead invokes fn once with a consistent snapshot of the logical
// payload. The snapshot is copied out word-wise with atomic loads while the
// generation counter is stable, retrying while a concurrent in-place writer
// holds the lock or changed the generation, so fn never observes a value
// mixing two generations. Returns false without invoking fn when the payload
// has been dropped from memory.
func (r *Record[K]) AtomicRead(fn func(value []byte)) bool {
	var buf []byte
	for {
		gen, stable := r.lock.Generation()
		if !stable {
			runtime.Gosched()
			continue
		}
		w := r.payload.Load()
		if w == nil {
			return false
		}
		if buf == nil {
			buf = make([]byte, len(*w)*8)
		}
		n := int(r.Length())
		for i := 0; i*8 < n; i++ {
			binary.LittleEndian.PutUint64(buf[i*8:], (*atomic.Uint64)(unsafe.Pointer(&(*w)[i])).Load())
		}
		if after, ok := r.lock.Generation(); ok && after == gen {
			fn(buf[:n])
			return true
		}
		runtime.Gosched()
	}
}

// AtomicUpdate acquires the generation lock, applies fn and releases.
// It returns false without invoking fn when the record was permanently
// replaced, and propagates fn's result otherwise (fn returns false when the
// in-place path is infeasible, e.g. the new logical size exceeds the
// allocated capacity).
func (r *Record[K]) AtomicUpdate(fn func(r *Record[K]) bool) bool {
	if !r.lock.Lock() {
		return false
	}
	ok := fn(r)
	r.lock.Unlock(false)
	return ok
}
