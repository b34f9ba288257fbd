package device

// --------------------------------------------------------------------------
// NullDevice
// --------------------------------------------------------------------------

// NullDevice acknowledges every operation inline with success and retains
// nothing. Reads return zeroed buffers. It is the collaborator of choice
// when the in-memory region covers the whole log.
type NullDevice struct{}

var _ Device = NullDevice{}

// NewNullDevice returns a NullDevice.
func NewNullDevice() NullDevice { return NullDevice{} }

func (NullDevice) ReadAsync(_ uint64, dest []byte, cb CompletionFunc) {
	for i := range dest {
		dest[i] = 0
	}
	cb(nil, uint32(len(dest)))
}

func (NullDevice) WriteAsync(src []byte, _ uint64, cb CompletionFunc) {
	cb(nil, uint32(len(src)))
}

func (NullDevice) Alignment() uint32 { return 1 }

func (NullDevice) Truncate(_ uint64, cb CompletionFunc) { cb(nil, 0) }

func (NullDevice) Close() error { return nil }
