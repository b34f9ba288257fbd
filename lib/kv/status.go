package kv

import "fmt"

// --------------------------------------------------------------------------
// Status
// --------------------------------------------------------------------------

// Status is the immediate result of a store operation.
type Status uint8

const (
	// StatusOk: the operation completed synchronously.
	StatusOk Status = iota
	// StatusPending: the operation needs the device; the completion
	// callback fires exactly once when it settles.
	StatusPending
	// StatusNotFound: no live record exists for the key.
	StatusNotFound
	// StatusOutOfMemory: the log's byte budget is exhausted and spilling
	// freed nothing.
	StatusOutOfMemory
	// StatusAborted: the internal retry budget ran out under contention.
	// The previously visible value is unchanged.
	StatusAborted
	// StatusIOError: the device failed the transfer or returned a frame
	// that did not verify.
	StatusIOError
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "Ok"
	case StatusPending:
		return "Pending"
	case StatusNotFound:
		return "NotFound"
	case StatusOutOfMemory:
		return "OutOfMemory"
	case StatusAborted:
		return "Aborted"
	case StatusIOError:
		return "IOError"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// CompletionFunc receives the final status of an operation that returned
// StatusPending. It is invoked exactly once, from a goroutine owned by the
// store.
type CompletionFunc func(Status)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error wraps a Status and a message for the construction and session
// surface, where Go callers expect an error value rather than a bare code.
type Error struct {
	Code Status // the status code
	Msg  string // the error message
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("KVError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new Error with the given status and message.
func NewError(code Status, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}
