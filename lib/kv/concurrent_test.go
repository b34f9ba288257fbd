package kv

import (
	"bytes"
	"encoding/binary"
	"sync"
	"testing"
)

func TestRmwConvergesAcrossThreads(t *testing.T) {
	const (
		workers = 8
		rmws    = 2048
		keys    = 512
	)
	s := mustOpen(t, Config{TableSize: 1 << 8, LogBytes: 1 << 26})

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			sess, err := s.StartSession()
			if err != nil {
				t.Errorf("StartSession: %v", err)
				return
			}
			defer sess.Close()
			delta := uint64(2 * w)
			for i := 0; i < rmws; i++ {
				key := Uint64Key(i % keys)
				if st := sess.Rmw(&addRmw{key: key, delta: delta}, nil, uint64(i)); st != StatusOk {
					t.Errorf("Rmw(%d) = %v", key, st)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	// Each key receives rmws/keys rounds of sum(2w) = workers*(workers-1).
	want := uint64(workers*(workers-1)) * (rmws / keys)
	sess := mustSession(t, s)
	for i := 0; i < keys; i++ {
		got, st := readValue(t, sess, Uint64Key(i))
		if st != StatusOk {
			t.Fatalf("Read(%d) = %v", i, st)
		}
		if v := binary.LittleEndian.Uint64(got); v != want {
			t.Fatalf("key %d = %d, want %d", i, v, want)
		}
	}
}

func TestNoTornReadsUnderInPlaceWrites(t *testing.T) {
	const (
		keys   = 16
		rounds = 2000
	)
	s := mustOpen(t, Config{TableSize: 64, LogBytes: 1 << 24})

	// Seed each key with a uniform fill so every snapshot must be uniform.
	seed := mustSession(t, s)
	for i := 0; i < keys; i++ {
		seed.Upsert(&sliceUpsert{key: Uint64Key(i), val: bytes.Repeat([]byte{1}, 32)}, nil, 0)
	}

	stop := make(chan struct{})
	var writers, readers sync.WaitGroup

	// Writers alternate uniform fills in place (same capacity, so the
	// in-place path stays hot).
	for w := 0; w < 4; w++ {
		writers.Add(1)
		go func(w int) {
			defer writers.Done()
			sess, _ := s.StartSession()
			defer sess.Close()
			for r := 0; ; r++ {
				select {
				case <-stop:
					return
				default:
				}
				fill := byte(r%250 + 1)
				key := Uint64Key(r % keys)
				sess.Upsert(&sliceUpsert{key: key, val: bytes.Repeat([]byte{fill}, 32)}, nil, uint64(r))
			}
		}(w)
	}

	// Readers verify every snapshot is a single fill byte.
	for w := 0; w < 4; w++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			sess, _ := s.StartSession()
			defer sess.Close()
			rctx := &sliceRead{}
			for r := 0; r < rounds; r++ {
				rctx.key = Uint64Key(r % keys)
				if st := sess.Read(rctx, nil, 0); st != StatusOk {
					t.Errorf("Read = %v", st)
					return
				}
				if len(rctx.got) != 32 {
					t.Errorf("snapshot length = %d", len(rctx.got))
					return
				}
				fill := rctx.got[0]
				for _, b := range rctx.got {
					if b != fill {
						t.Errorf("torn read: %v", rctx.got)
						return
					}
				}
			}
		}()
	}

	// Writers keep mutating until every reader has finished its rounds.
	readers.Wait()
	close(stop)
	writers.Wait()
}

func TestConcurrentUpsertAndRead(t *testing.T) {
	const (
		workers = 8
		keys    = 1024
	)
	s := mustOpen(t, Config{TableSize: 1 << 8, LogBytes: 1 << 26})

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			sess, err := s.StartSession()
			if err != nil {
				t.Errorf("StartSession: %v", err)
				return
			}
			defer sess.Close()
			// Interleave writes of this worker's keys with reads of
			// everyone's; a read may miss but must never misdeliver.
			rctx := &sliceRead{}
			for i := 0; i < keys; i++ {
				key := Uint64Key(w*keys + i)
				if st := sess.Upsert(&sliceUpsert{key: key, val: valueFor(uint64(key), 0x42)}, nil, uint64(i)); st != StatusOk {
					t.Errorf("Upsert = %v", st)
					return
				}
				rctx.key = Uint64Key(i)
				if st := sess.Read(rctx, nil, 0); st == StatusOk {
					if got := binary.LittleEndian.Uint64(rctx.got); got != uint64(i) {
						t.Errorf("Read(%d) delivered value of key %d", i, got)
						return
					}
				}
			}
		}(w)
	}
	wg.Wait()

	sess := mustSession(t, s)
	for w := 0; w < workers; w++ {
		for i := 0; i < keys; i++ {
			key := Uint64Key(w*keys + i)
			got, st := readValue(t, sess, key)
			if st != StatusOk || !bytes.Equal(got, valueFor(uint64(key), 0x42)) {
				t.Fatalf("Read(%d) = %v after the dust settled", key, st)
			}
		}
	}
}
