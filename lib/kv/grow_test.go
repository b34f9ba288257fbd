package kv

import (
	"bytes"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGrowIndexPreservesEntries(t *testing.T) {
	s := mustOpen(t, Config{TableSize: 16, LogBytes: 1 << 22})
	sess := mustSession(t, s)

	const keys = 500
	for i := uint64(0); i < keys; i++ {
		if st := sess.Upsert(&sliceUpsert{key: Uint64Key(i), val: valueFor(i, 0x5c)}, nil, i); st != StatusOk {
			t.Fatalf("Upsert(%d) = %v", i, st)
		}
	}
	before := s.index.Size()

	var done atomic.Bool
	var newSize atomic.Uint64
	if !sess.GrowIndex(func(n uint64) {
		newSize.Store(n)
		done.Store(true)
	}) {
		t.Fatal("GrowIndex refused to start")
	}

	// Migration needs this session to pass through epoch boundaries.
	deadline := time.Now().Add(10 * time.Second)
	for !done.Load() {
		if time.Now().After(deadline) {
			t.Fatal("grow never completed")
		}
		sess.Refresh()
	}

	if got := newSize.Load(); got != before*2 {
		t.Fatalf("grow callback reported %d buckets, want %d", got, before*2)
	}
	if got := s.index.Size(); got != before*2 {
		t.Fatalf("index size = %d, want %d", got, before*2)
	}
	if s.index.Growing() {
		t.Fatal("index still reports an active resize")
	}

	for i := uint64(0); i < keys; i++ {
		got, st := readValue(t, sess, Uint64Key(i))
		if st != StatusOk {
			t.Fatalf("Read(%d) after grow = %v", i, st)
		}
		if !bytes.Equal(got, valueFor(i, 0x5c)) {
			t.Fatalf("Read(%d) after grow returned wrong value", i)
		}
	}
}

func TestGrowIndexRejectsConcurrentGrow(t *testing.T) {
	s := mustOpen(t, Config{TableSize: 16, LogBytes: 1 << 20})
	sess := mustSession(t, s)

	var wg sync.WaitGroup
	wg.Add(1)
	if !sess.GrowIndex(func(uint64) { wg.Done() }) {
		t.Fatal("first GrowIndex refused to start")
	}
	// At most one resize runs at a time. The second request may race with
	// the completion of the first, so it is only required to fail while
	// the first is still in flight.
	if s.growing.Load() && sess.GrowIndex(nil) {
		t.Fatal("second GrowIndex started while the first was in flight")
	}
	wg.Wait()
	for stop := time.Now().Add(10 * time.Second); s.growing.Load(); {
		sess.Refresh()
		if time.Now().After(stop) {
			t.Fatal("grow never completed")
		}
	}
}

func TestGrowIndexUnderRmwTraffic(t *testing.T) {
	s := mustOpen(t, Config{TableSize: 32, LogBytes: 1 << 23, MaxSessions: 8})
	coord := mustSession(t, s)

	const (
		workers = 4
		keys    = 128
		rounds  = 512
	)

	// Seed every counter so in-place and copy paths both get exercised
	// while buckets are mid-migration.
	for i := uint64(0); i < keys; i++ {
		if st := coord.Rmw(&addRmw{key: Uint64Key(i), delta: 1}, nil, i); st != StatusOk {
			t.Fatalf("seed Rmw(%d) = %v", i, st)
		}
	}

	var done atomic.Bool
	if !coord.GrowIndex(func(uint64) { done.Store(true) }) {
		t.Fatal("GrowIndex refused to start")
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			sess, err := s.StartSession()
			if err != nil {
				t.Errorf("worker %d: StartSession: %v", w, err)
				return
			}
			defer sess.Close()
			for r := 0; r < rounds; r++ {
				key := Uint64Key(uint64((w*rounds + r) % keys))
				if st := sess.Rmw(&addRmw{key: key, delta: 1}, nil, uint64(r)); st != StatusOk {
					t.Errorf("worker %d: Rmw = %v", w, st)
					return
				}
				if r%64 == 0 {
					sess.Refresh()
				}
			}
		}(w)
	}
	wg.Wait()

	deadline := time.Now().Add(10 * time.Second)
	for !done.Load() {
		if time.Now().After(deadline) {
			t.Fatal("grow never completed")
		}
		coord.Refresh()
	}

	if got := s.index.Size(); got != 64 {
		t.Fatalf("index size = %d, want 64", got)
	}

	// Every key was seeded once and bumped workers*rounds/keys times.
	want := uint64(1 + workers*rounds/keys)
	for i := uint64(0); i < keys; i++ {
		got, st := readValue(t, coord, Uint64Key(i))
		if st != StatusOk {
			t.Fatalf("Read(%d) = %v", i, st)
		}
		if v := binary.LittleEndian.Uint64(got); v != want {
			t.Fatalf("counter %d = %d, want %d", i, v, want)
		}
	}
}
