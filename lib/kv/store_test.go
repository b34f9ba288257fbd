package kv

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/aspenkv/aspen/lib/hlog"
)

// --------------------------------------------------------------------------
// Test contexts
// --------------------------------------------------------------------------

// sliceUpsert writes an opaque byte value.
type sliceUpsert struct {
	key Uint64Key
	val []byte
}

func (c *sliceUpsert) Key() Uint64Key    { return c.key }
func (c *sliceUpsert) ValueSize() uint32 { return uint32(len(c.val)) }
func (c *sliceUpsert) Put(r *hlog.Record[Uint64Key]) {
	r.SetValue(c.val)
}
func (c *sliceUpsert) PutAtomic(r *hlog.Record[Uint64Key]) bool {
	return r.SetValue(c.val)
}

// sliceRead copies the value out.
type sliceRead struct {
	key Uint64Key
	got []byte
}

func (c *sliceRead) Key() Uint64Key { return c.key }
func (c *sliceRead) Get(v []byte) {
	c.got = append(c.got[:0], v...)
}
func (c *sliceRead) GetAtomic(v []byte) {
	c.got = append(c.got[:0], v...)
}
func (c *sliceRead) Clone() ReadContext[Uint64Key] { return c }

// addRmw adds a delta to an 8-byte little-endian counter.
type addRmw struct {
	key   Uint64Key
	delta uint64
}

func (c *addRmw) Key() Uint64Key               { return c.key }
func (c *addRmw) ValueSize(_ []byte) uint32    { return 8 }
func (c *addRmw) Clone() RmwContext[Uint64Key] { return c }

func (c *addRmw) RmwInitial(r *hlog.Record[Uint64Key]) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], c.delta)
	r.SetValue(b[:])
}

func (c *addRmw) RmwCopy(old []byte, r *hlog.Record[Uint64Key]) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], binary.LittleEndian.Uint64(old)+c.delta)
	r.SetValue(b[:])
}

func (c *addRmw) RmwAtomic(r *hlog.Record[Uint64Key]) bool {
	r.Uint64View(0).Add(c.delta)
	return true
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func mustOpen(t *testing.T, cfg Config) *Store[Uint64Key] {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = NewLogger("kv-test", LogError)
	}
	s, err := Open[Uint64Key](cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustSession(t *testing.T, s *Store[Uint64Key]) *Session[Uint64Key] {
	t.Helper()
	sess, err := s.StartSession()
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	t.Cleanup(sess.Close)
	return sess
}

func valueFor(i uint64, fill byte) []byte {
	v := make([]byte, 23)
	binary.LittleEndian.PutUint64(v, i)
	for j := 8; j < len(v); j++ {
		v[j] = fill
	}
	return v
}

func readValue(t *testing.T, sess *Session[Uint64Key], key Uint64Key) ([]byte, Status) {
	t.Helper()
	rctx := &sliceRead{key: key}
	st := sess.Read(rctx, nil, 0)
	return rctx.got, st
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestOpenValidation(t *testing.T) {
	if _, err := Open[Uint64Key](Config{TableSize: 100, LogBytes: 1 << 20}); err == nil {
		t.Fatal("Open accepted a non-power-of-two table size")
	}
	if _, err := Open[Uint64Key](Config{TableSize: 64, LogBytes: 0}); err == nil {
		t.Fatal("Open accepted a zero byte budget")
	}
}

func TestUpsertRead(t *testing.T) {
	s := mustOpen(t, Config{TableSize: 1 << 10, LogBytes: 1 << 24})
	sess := mustSession(t, s)

	const keys = 256
	for i := uint64(0); i < keys; i++ {
		st := sess.Upsert(&sliceUpsert{key: Uint64Key(i), val: valueFor(i, 0x23)}, nil, i)
		if st != StatusOk {
			t.Fatalf("Upsert(%d) = %v", i, st)
		}
	}
	for i := uint64(0); i < keys; i++ {
		got, st := readValue(t, sess, Uint64Key(i))
		if st != StatusOk {
			t.Fatalf("Read(%d) = %v", i, st)
		}
		if !bytes.Equal(got, valueFor(i, 0x23)) {
			t.Fatalf("Read(%d) returned wrong value", i)
		}
	}
}

func TestUpdateVisibility(t *testing.T) {
	s := mustOpen(t, Config{TableSize: 64, LogBytes: 1 << 22})
	sess := mustSession(t, s)

	key := Uint64Key(7)
	sess.Upsert(&sliceUpsert{key: key, val: valueFor(0, 0x23)}, nil, 0)
	sess.Upsert(&sliceUpsert{key: key, val: valueFor(1, 0x42)}, nil, 1)

	got, st := readValue(t, sess, key)
	if st != StatusOk || !bytes.Equal(got, valueFor(1, 0x42)) {
		t.Fatalf("Read after update = (%v, %q)", st, got)
	}
}

func TestReadMissingKey(t *testing.T) {
	s := mustOpen(t, Config{TableSize: 64, LogBytes: 1 << 20})
	sess := mustSession(t, s)

	if _, st := readValue(t, sess, Uint64Key(999)); st != StatusNotFound {
		t.Fatalf("Read of absent key = %v, want NotFound", st)
	}

	// A key sharing the bucket and tag with an existing one must still
	// miss: the chain walk compares full keys.
	sess.Upsert(&sliceUpsert{key: Uint64Key(1), val: valueFor(1, 0x01)}, nil, 0)
	if _, st := readValue(t, sess, Uint64Key(2)); st != StatusNotFound {
		t.Fatalf("Read of absent sibling key = %v, want NotFound", st)
	}
}

func TestGrowingValueFallsBackToCopy(t *testing.T) {
	s := mustOpen(t, Config{TableSize: 64, LogBytes: 1 << 22})
	sess := mustSession(t, s)

	key := Uint64Key(3)
	small := bytes.Repeat([]byte{0x11}, 8)
	large := bytes.Repeat([]byte{0x22}, 200)

	if st := sess.Upsert(&sliceUpsert{key: key, val: small}, nil, 0); st != StatusOk {
		t.Fatalf("small upsert = %v", st)
	}
	// Exceeds the record's capacity; PutAtomic refuses and the store must
	// install a new record instead.
	if st := sess.Upsert(&sliceUpsert{key: key, val: large}, nil, 1); st != StatusOk {
		t.Fatalf("large upsert = %v", st)
	}
	got, st := readValue(t, sess, key)
	if st != StatusOk || !bytes.Equal(got, large) {
		t.Fatalf("Read after growth = (%v, %d bytes)", st, len(got))
	}

	// Shrinking fits in place.
	if st := sess.Upsert(&sliceUpsert{key: key, val: small}, nil, 2); st != StatusOk {
		t.Fatalf("shrink upsert = %v", st)
	}
	got, _ = readValue(t, sess, key)
	if !bytes.Equal(got, small) {
		t.Fatal("Read after shrink returned wrong value")
	}
}

func TestRmwInitialAndUpdate(t *testing.T) {
	s := mustOpen(t, Config{TableSize: 64, LogBytes: 1 << 22})
	sess := mustSession(t, s)

	key := Uint64Key(11)
	for i := 0; i < 5; i++ {
		if st := sess.Rmw(&addRmw{key: key, delta: 3}, nil, uint64(i)); st != StatusOk {
			t.Fatalf("Rmw #%d = %v", i, st)
		}
	}
	got, st := readValue(t, sess, key)
	if st != StatusOk {
		t.Fatalf("Read = %v", st)
	}
	if v := binary.LittleEndian.Uint64(got); v != 15 {
		t.Fatalf("counter = %d, want 15", v)
	}
}

// dummyKey pins every key to one hash, collapsing the index to a single
// entry with one long chain.
type dummyKey struct {
	v uint64
}

func (k dummyKey) Hash() uint64          { return 42 }
func (k dummyKey) Equal(o dummyKey) bool { return k.v == o.v }

type dummyUpsert struct {
	key dummyKey
	val []byte
}

func (c *dummyUpsert) Key() dummyKey     { return c.key }
func (c *dummyUpsert) ValueSize() uint32 { return uint32(len(c.val)) }
func (c *dummyUpsert) Put(r *hlog.Record[dummyKey]) {
	r.SetValue(c.val)
}
func (c *dummyUpsert) PutAtomic(r *hlog.Record[dummyKey]) bool {
	return r.SetValue(c.val)
}

type dummyRead struct {
	key dummyKey
	got []byte
}

func (c *dummyRead) Key() dummyKey                { return c.key }
func (c *dummyRead) Get(v []byte)                 { c.got = append(c.got[:0], v...) }
func (c *dummyRead) GetAtomic(v []byte)           { c.got = append(c.got[:0], v...) }
func (c *dummyRead) Clone() ReadContext[dummyKey] { return c }

func TestDegenerateHashStaysCorrect(t *testing.T) {
	s, err := Open[dummyKey](Config{
		TableSize: 64,
		LogBytes:  1 << 26,
		Logger:    NewLogger("kv-test", LogError),
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()
	sess, err := s.StartSession()
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	defer sess.Close()

	const keys = 10000
	for i := uint64(0); i < keys; i++ {
		val := []byte(fmt.Sprintf("value-%d", i))
		if st := sess.Upsert(&dummyUpsert{key: dummyKey{v: i}, val: val}, nil, i); st != StatusOk {
			t.Fatalf("Upsert(%d) = %v", i, st)
		}
	}
	for i := uint64(0); i < keys; i++ {
		rctx := &dummyRead{key: dummyKey{v: i}}
		if st := sess.Read(rctx, nil, 0); st != StatusOk {
			t.Fatalf("Read(%d) = %v", i, st)
		}
		if want := fmt.Sprintf("value-%d", i); string(rctx.got) != want {
			t.Fatalf("Read(%d) = %q, want %q", i, rctx.got, want)
		}
	}
}

func TestOutOfMemoryWhenNothingToSpill(t *testing.T) {
	s := mustOpen(t, Config{TableSize: 64, LogBytes: 256})
	sess := mustSession(t, s)

	big := make([]byte, 4096)
	st := sess.Upsert(&sliceUpsert{key: Uint64Key(1), val: big}, nil, 0)
	if st != StatusOutOfMemory {
		t.Fatalf("oversized upsert = %v, want OutOfMemory", st)
	}
}

func TestSessionLimit(t *testing.T) {
	s := mustOpen(t, Config{TableSize: 64, LogBytes: 1 << 20, MaxSessions: 2})

	a, err := s.StartSession()
	if err != nil {
		t.Fatalf("first session: %v", err)
	}
	b, err := s.StartSession()
	if err != nil {
		t.Fatalf("second session: %v", err)
	}
	if _, err := s.StartSession(); err == nil {
		t.Fatal("third session succeeded past the limit")
	}
	a.Close()
	c, err := s.StartSession()
	if err != nil {
		t.Fatalf("session after close: %v", err)
	}
	b.Close()
	c.Close()
}

func TestStatsSnapshot(t *testing.T) {
	s := mustOpen(t, Config{TableSize: 64, LogBytes: 1 << 22})
	sess := mustSession(t, s)

	for i := uint64(0); i < 32; i++ {
		sess.Upsert(&sliceUpsert{key: Uint64Key(i), val: valueFor(i, 0x01)}, nil, i)
	}

	st := s.Stats()
	if st.IndexBuckets != 64 {
		t.Fatalf("IndexBuckets = %d, want 64", st.IndexBuckets)
	}
	if st.IndexEntries == 0 || st.IndexEntries > 32 {
		t.Fatalf("IndexEntries = %d, want in (0, 32]", st.IndexEntries)
	}
	if st.TailAddress != 33 {
		t.Fatalf("TailAddress = %d, want 33", st.TailAddress)
	}
	if st.UsedBytes <= 0 || st.UsedBytes > st.BudgetBytes {
		t.Fatalf("UsedBytes = %d out of range", st.UsedBytes)
	}
	if st.ActiveSessions != 1 {
		t.Fatalf("ActiveSessions = %d, want 1", st.ActiveSessions)
	}
	if st.AvgValueSize == 0 {
		t.Fatal("AvgValueSize = 0 after 32 allocations")
	}

	var buf bytes.Buffer
	s.WritePrometheus(&buf)
	if !bytes.Contains(buf.Bytes(), []byte(`aspen_ops_total{op="upsert"}`)) {
		t.Fatal("Prometheus dump missing upsert counter")
	}
}
