package epoch

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestAcquireRelease(t *testing.T) {
	m := NewManager(4)

	slots := make(map[int]bool)
	for i := 0; i < 4; i++ {
		idx, ok := m.Acquire()
		if !ok {
			t.Fatalf("expected slot %d to be available", i)
		}
		if slots[idx] {
			t.Fatalf("slot %d handed out twice", idx)
		}
		slots[idx] = true
	}

	if _, ok := m.Acquire(); ok {
		t.Errorf("expected acquire to fail on a full table")
	}

	for idx := range slots {
		m.Release(idx)
	}

	if _, ok := m.Acquire(); !ok {
		t.Errorf("expected acquire to succeed after release")
	}
}

func TestBumpActionDeferredUntilRefresh(t *testing.T) {
	m := NewManager(4)

	idx, _ := m.Acquire()
	m.Protect(idx)

	var ran atomic.Bool
	m.BumpWithAction(func() { ran.Store(true) })

	// The session is still protected at the prior epoch, so the action
	// must not run yet.
	m.Drain()
	if ran.Load() {
		t.Fatalf("action ran while a session was still protected at the old epoch")
	}

	// After the session refreshes to the new epoch the action is runnable.
	m.Refresh(idx)
	if !ran.Load() {
		t.Fatalf("action did not run after all sessions refreshed")
	}

	m.Unprotect(idx)
	m.Release(idx)
}

func TestBumpActionRunsImmediatelyWithoutSessions(t *testing.T) {
	m := NewManager(4)

	var ran atomic.Bool
	m.BumpWithAction(func() { ran.Store(true) })
	if !ran.Load() {
		t.Fatalf("action should run immediately when no session is protected")
	}
}

func TestActionsRunExactlyOnce(t *testing.T) {
	const (
		numActions  = 256
		numDrainers = 8
	)

	m := NewManager(numDrainers)

	var counter atomic.Int64
	for i := 0; i < numActions; i++ {
		m.drain.push(&action{epoch: 0, fn: func() { counter.Add(1) }})
	}

	var wg sync.WaitGroup
	wg.Add(numDrainers)
	for i := 0; i < numDrainers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < 64; j++ {
				m.Drain()
			}
		}()
	}
	wg.Wait()

	if got := counter.Load(); got != numActions {
		t.Errorf("expected %d action executions, got %d", numActions, got)
	}
}

func TestSafeToReclaim(t *testing.T) {
	m := NewManager(4)

	idx, _ := m.Acquire()
	e := m.Protect(idx)

	if m.SafeToReclaim(e) {
		t.Errorf("epoch %d must not be reclaimable while a session is protected at it", e)
	}
	if !m.SafeToReclaim(e - 1) {
		t.Errorf("epoch %d should be reclaimable", e-1)
	}

	m.Unprotect(idx)
	if !m.SafeToReclaim(e) {
		t.Errorf("epoch %d should be reclaimable after unprotect", e)
	}
}

func TestConcurrentProtectAndBump(t *testing.T) {
	const (
		numSessions = 8
		numOps      = 2000
	)

	m := NewManager(numSessions + 1)

	var executed atomic.Int64
	var wg sync.WaitGroup
	wg.Add(numSessions + 1)

	for i := 0; i < numSessions; i++ {
		go func() {
			defer wg.Done()
			idx, ok := m.Acquire()
			if !ok {
				t.Errorf("no epoch slot available")
				return
			}
			defer m.Release(idx)
			for j := 0; j < numOps; j++ {
				m.Protect(idx)
				m.Unprotect(idx)
				if j%64 == 0 {
					m.Refresh(idx)
				}
			}
		}()
	}

	const numBumps = 200
	go func() {
		defer wg.Done()
		for i := 0; i < numBumps; i++ {
			m.BumpWithAction(func() { executed.Add(1) })
		}
	}()

	wg.Wait()

	// All sessions are released, so a final drain must run everything.
	m.Drain()
	if got := executed.Load(); got != numBumps {
		t.Errorf("expected %d executed actions, got %d", numBumps, got)
	}
}
