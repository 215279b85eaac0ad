package ksync

import (
	"sync"
	"testing"
)

func TestSpinlockMutualExclusion(t *testing.T) {
	var lock Spinlock_t
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock.Lock()
			counter++
			lock.Unlock()
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("expected 50 increments under the lock, got %d", counter)
	}
}

func TestSpinlockTryLock(t *testing.T) {
	var lock Spinlock_t
	if !lock.TryLock() {
		t.Fatal("first try-lock should succeed")
	}
	if lock.TryLock() {
		t.Fatal("try-lock must fail while already held")
	}
	lock.Unlock()
	if !lock.TryLock() {
		t.Fatal("try-lock should succeed again after unlock")
	}
}

// resetDepth restores package state between tests; the nesting counter is
// process-wide by design (single CPU, single flow of control).
func resetDepth() {
	depth = 0
	savedIF = false
}

func TestInterruptsLockNestingRestoresOnlyAtOutermost(t *testing.T) {
	resetDepth()
	defer resetDepth()

	pushDepth(true)  // outer
	pushDepth(false) // inner nested call, value irrelevant once depth>1
	if restore := popDepth(); restore {
		t.Fatal("inner unlock must not signal a restore")
	}
	if restore := popDepth(); !restore {
		t.Fatal("outermost unlock must signal a restore when interrupts were enabled")
	}
}

func TestInterruptsLockNoRestoreWhenAlreadyDisabled(t *testing.T) {
	resetDepth()
	defer resetDepth()

	pushDepth(false) // outermost: interrupts were already disabled
	if restore := popDepth(); restore {
		t.Fatal("must not re-enable interrupts that were already off")
	}
}
