package util

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/cespare/xxhash/v2"
)

// --------------------------------------------------------------------------
// General Utility Functions
// --------------------------------------------------------------------------

// GenerateSeed creates a random seed for hash distribution.
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// Last-resort fallback on the clock.
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

// HashBytes hashes b under the given seed. The seed is mixed in as a prefix
// so equal byte strings hash differently across store instances.
func HashBytes(b []byte, seed uint64) uint64 {
	var d xxhash.Digest
	d.Reset()
	var s [8]byte
	binary.LittleEndian.PutUint64(s[:], seed)
	_, _ = d.Write(s[:])
	_, _ = d.Write(b)
	return d.Sum64()
}

// HashString hashes s under the given seed without copying it to a byte
// slice.
func HashString(s string, seed uint64) uint64 {
	var d xxhash.Digest
	d.Reset()
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], seed)
	_, _ = d.Write(b[:])
	_, _ = d.WriteString(s)
	return d.Sum64()
}

// HashUint64 mixes a fixed-width value with the seed. Used by integer keys
// where a full digest is overkill but distribution still matters.
func HashUint64(v, seed uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return xxhash.Sum64(b[:]) ^ seed*0x9e3779b97f4a7c15
}
