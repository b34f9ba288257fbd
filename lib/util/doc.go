// Package util provides small shared helpers for the engine: seeded key
// hashing and lightweight statistics used by store introspection and the
// benchmark command.
//
// Hashing is built on xxhash with a per-store random seed so that bucket
// placement differs between store instances. This keeps adversarial or
// accidental hash clustering from following a deployment around.
package util
