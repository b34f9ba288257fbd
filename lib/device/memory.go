package device

import "sync"

// --------------------------------------------------------------------------
// MemoryDevice
// --------------------------------------------------------------------------

// MemoryDevice is a Device backed by a growable in-process byte buffer.
// Operations complete inline. It exists for tests and for stores whose
// spilled region must survive head shifts without touching disk.
type MemoryDevice struct {
	mu     sync.RWMutex
	data   []byte
	begin  uint64
	closed bool
}

var _ Device = (*MemoryDevice)(nil)

// NewMemoryDevice returns an empty MemoryDevice.
func NewMemoryDevice() *MemoryDevice {
	return &MemoryDevice{}
}

func (d *MemoryDevice) ReadAsync(source uint64, dest []byte, cb CompletionFunc) {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		cb(ErrClosed, 0)
		return
	}
	end := source + uint64(len(dest))
	if source < d.begin || end > uint64(len(d.data)) {
		d.mu.RUnlock()
		cb(ErrOutOfRange, 0)
		return
	}
	n := copy(dest, d.data[source:end])
	d.mu.RUnlock()
	cb(nil, uint32(n))
}

func (d *MemoryDevice) WriteAsync(src []byte, dest uint64, cb CompletionFunc) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		cb(ErrClosed, 0)
		return
	}
	end := dest + uint64(len(src))
	if end > uint64(len(d.data)) {
		grown := make([]byte, end)
		copy(grown, d.data)
		d.data = grown
	}
	n := copy(d.data[dest:end], src)
	d.mu.Unlock()
	cb(nil, uint32(n))
}

func (d *MemoryDevice) Alignment() uint32 { return 1 }

func (d *MemoryDevice) Truncate(newBegin uint64, cb CompletionFunc) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		cb(ErrClosed, 0)
		return
	}
	if newBegin > d.begin {
		d.begin = newBegin
		// Release the truncated prefix; offsets stay absolute.
		for i := range d.data[:min(newBegin, uint64(len(d.data)))] {
			d.data[i] = 0
		}
	}
	d.mu.Unlock()
	cb(nil, 0)
}

func (d *MemoryDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.data = nil
	d.mu.Unlock()
	return nil
}
