package kv

import "github.com/aspenkv/aspen/lib/util"

// --------------------------------------------------------------------------
// Key contract
// --------------------------------------------------------------------------

// Key is the contract a key type must satisfy. Hash picks the index bucket
// and tag; Equal is the authoritative identity check performed while walking
// a record chain. Hash must be stable for the lifetime of the store and
// consistent with Equal (equal keys hash equally).
type Key[K any] interface {
	Hash() uint64
	Equal(other K) bool
}

// keySeed randomizes the provided key types' hash placement per process.
var keySeed = util.GenerateSeed()

// StringKey is a ready-made string key.
type StringKey string

func (k StringKey) Hash() uint64 {
	return util.HashString(string(k), keySeed)
}

func (k StringKey) Equal(other StringKey) bool {
	return k == other
}

// Uint64Key is a ready-made fixed-width key.
type Uint64Key uint64

func (k Uint64Key) Hash() uint64 {
	return util.HashUint64(uint64(k), keySeed)
}

func (k Uint64Key) Equal(other Uint64Key) bool {
	return k == other
}
