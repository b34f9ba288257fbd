package device

import "errors"

// --------------------------------------------------------------------------
// Device interface
// --------------------------------------------------------------------------

var (
	// ErrClosed is passed to completion callbacks for operations issued
	// against a closed device.
	ErrClosed = errors.New("device: closed")

	// ErrOutOfRange is passed to read callbacks when the source range was
	// never written.
	ErrOutOfRange = errors.New("device: read beyond written extent")
)

// CompletionFunc receives the outcome of an asynchronous device operation.
// bytes is the number of bytes transferred; it is 0 on error.
type CompletionFunc func(err error, bytes uint32)

// Device is a flat byte store with asynchronous I/O. Implementations must
// be safe for concurrent use. Callbacks may run inline.
type Device interface {
	// ReadAsync fills dest from the device starting at source and invokes
	// cb exactly once when the transfer settles.
	ReadAsync(source uint64, dest []byte, cb CompletionFunc)

	// WriteAsync copies src to the device starting at dest and invokes cb
	// exactly once when the transfer settles. src must not be mutated
	// until the callback fires.
	WriteAsync(src []byte, dest uint64, cb CompletionFunc)

	// Alignment returns the required alignment, in bytes, of offsets and
	// transfer sizes. In-memory devices report 1.
	Alignment() uint32

	// Truncate discards data below newBegin. Reads under the new begin
	// offset fail with ErrOutOfRange.
	Truncate(newBegin uint64, cb CompletionFunc)

	// Close releases the device. Operations issued after Close complete
	// with ErrClosed.
	Close() error
}
