package device

import (
	"encoding/binary"
	"errors"

	"github.com/cespare/xxhash/v2"
)

// --------------------------------------------------------------------------
// Frame codec
// --------------------------------------------------------------------------

// Frames carry one record payload across the device boundary:
//
//	[ 0: 8]  checksum  xxhash64 over the remaining frame bytes
//	[ 8:12]  length    payload length in bytes
//	[12:16]  reserved  zero
//	[16:  ]  payload
const frameHeaderSize = 16

var (
	// ErrChecksum is returned when a decoded frame fails verification.
	ErrChecksum = errors.New("device: frame checksum mismatch")

	// ErrShortFrame is returned when a buffer is too small to hold the
	// frame it claims to contain.
	ErrShortFrame = errors.New("device: truncated frame")
)

// FrameSize returns the encoded size of a frame carrying payloadLen bytes.
func FrameSize(payloadLen int) int {
	return frameHeaderSize + payloadLen
}

// EncodeFrame serializes the payload into a checksummed frame.
func EncodeFrame(payload []byte) []byte {
	buf := make([]byte, FrameSize(len(payload)))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(payload)))
	copy(buf[frameHeaderSize:], payload)
	binary.LittleEndian.PutUint64(buf[0:8], xxhash.Sum64(buf[8:]))
	return buf
}

// DecodeFrame verifies and unwraps a frame, returning the payload. The
// returned slice aliases buf.
func DecodeFrame(buf []byte) ([]byte, error) {
	if len(buf) < frameHeaderSize {
		return nil, ErrShortFrame
	}
	length := binary.LittleEndian.Uint32(buf[8:12])
	end := frameHeaderSize + int(length)
	if len(buf) < end {
		return nil, ErrShortFrame
	}
	sum := binary.LittleEndian.Uint64(buf[0:8])
	if xxhash.Sum64(buf[8:end]) != sum {
		return nil, ErrChecksum
	}
	return buf[frameHeaderSize:end], nil
}
