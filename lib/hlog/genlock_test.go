package hlog

import (
	"sync"
	"testing"
)

func TestTryLockExclusive(t *testing.T) {
	var g GenLock

	ok, replaced := g.TryLock()
	if !ok || replaced {
		t.Fatalf("expected first TryLock to succeed, got ok=%v replaced=%v", ok, replaced)
	}

	ok, replaced = g.TryLock()
	if ok || replaced {
		t.Fatalf("expected second TryLock to fail while held, got ok=%v replaced=%v", ok, replaced)
	}

	g.Unlock(false)
	if ok, _ := g.TryLock(); !ok {
		t.Fatalf("expected TryLock to succeed after unlock")
	}
	g.Unlock(false)
}

func TestUnlockBumpsGeneration(t *testing.T) {
	var g GenLock

	before, stable := g.Generation()
	if !stable {
		t.Fatalf("fresh lock should be stable")
	}

	for i := 0; i < 3; i++ {
		if ok, _ := g.TryLock(); !ok {
			t.Fatalf("lock attempt %d failed", i)
		}
		if _, stable := g.Generation(); stable {
			t.Fatalf("generation must be unstable while locked")
		}
		g.Unlock(false)
	}

	after, _ := g.Generation()
	if after != before+3 {
		t.Errorf("expected generation %d, got %d", before+3, after)
	}
}

func TestReplacedIsPermanent(t *testing.T) {
	var g GenLock

	if ok, _ := g.TryLock(); !ok {
		t.Fatalf("initial lock failed")
	}
	g.Unlock(true)

	if !g.Replaced() {
		t.Fatalf("expected replaced flag to be set")
	}

	ok, replaced := g.TryLock()
	if ok {
		t.Fatalf("a replaced record must never be lockable again")
	}
	if !replaced {
		t.Fatalf("lock attempt must report the replaced flag")
	}
	if g.Lock() {
		t.Fatalf("Lock must fail without spinning on a replaced record")
	}
}

func TestLockContention(t *testing.T) {
	const (
		numGoroutines = 8
		numIncrements = 5000
	)

	var g GenLock
	counter := 0

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < numIncrements; j++ {
				if !g.Lock() {
					t.Errorf("lock unexpectedly reported replaced")
					return
				}
				counter++
				g.Unlock(false)
			}
		}()
	}
	wg.Wait()

	if counter != numGoroutines*numIncrements {
		t.Errorf("expected %d increments, got %d", numGoroutines*numIncrements, counter)
	}

	gen, stable := g.Generation()
	if !stable || gen != uint64(numGoroutines*numIncrements) {
		t.Errorf("expected generation %d stable, got %d (stable=%v)", numGoroutines*numIncrements, gen, stable)
	}
}
