package kernel

import (
	"testing"

	"bootcfg"
	"hashtable"
	"mem"
	"sched"
)

// withFreshPhysmem points mem.Physmem at a brand-new, empty allocator for
// the duration of the test, restoring the original afterward — the same
// swap-the-global-and-restore pattern sched_test.go's withTestScheduler
// uses around the Sched global, needed here because BootstrapPhysAllocator
// writes through the package-level mem.Physmem rather than taking one as
// a parameter.
func withFreshPhysmem(t *testing.T) {
	t.Helper()
	orig := mem.Physmem
	mem.Physmem = &mem.Physmem_t{}
	t.Cleanup(func() { mem.Physmem = orig })
}

func TestBootstrapPhysAllocatorMarksAvailableFramesFree(t *testing.T) {
	withFreshPhysmem(t)

	info := bootcfg.BootInfo{
		MemoryMap: []mem.MemMapEntry{
			{Base: 0, Size: uint64(16 * mem.PGSIZE), Type: mem.MemAvailable},
			{Base: mem.Pa_t(8 * mem.PGSIZE), Size: uint64(2 * mem.PGSIZE), Type: mem.MemKernel},
		},
	}
	BootstrapPhysAllocator(info)

	// 16 frames total, 2 reserved for the kernel range carved out of the
	// available span: 14 should come back free.
	if got := mem.Physmem.FreeFrames(); got != 14 {
		t.Fatalf("FreeFrames() = %d, want 14", got)
	}

	f, ok := mem.Physmem.AllocPage(0, false)
	if !ok {
		t.Fatalf("AllocPage should succeed after bootstrap")
	}
	if f != 0 {
		t.Fatalf("first allocation should be the lowest free frame, got %v", f)
	}
}

func TestBootstrapPhysAllocatorEmptyMemoryMap(t *testing.T) {
	withFreshPhysmem(t)

	BootstrapPhysAllocator(bootcfg.BootInfo{})

	if got := mem.Physmem.FreeFrames(); got != 0 {
		t.Fatalf("FreeFrames() = %d, want 0 for an empty memory map", got)
	}
}

func TestBootstrapPhysAllocatorReservesOutsideMappedRange(t *testing.T) {
	withFreshPhysmem(t)

	info := bootcfg.BootInfo{
		MemoryMap: []mem.MemMapEntry{
			{Base: 0, Size: uint64(4 * mem.PGSIZE), Type: mem.MemAvailable},
		},
	}
	BootstrapPhysAllocator(info)

	if got := mem.Physmem.FreeFrames(); got != 4 {
		t.Fatalf("FreeFrames() = %d, want 4", got)
	}
	for i := 0; i < 4; i++ {
		if _, ok := mem.Physmem.AllocPage(0, false); !ok {
			t.Fatalf("allocation %d should succeed within the mapped range", i)
		}
	}
	if _, ok := mem.Physmem.AllocPage(0, false); ok {
		t.Fatalf("allocation beyond the mapped range should fail, not silently succeed")
	}
}

func TestTeardownTaskRemovesEntryWithoutAKernelStack(t *testing.T) {
	k := &Kernel_t{entries: hashtable.MkHash(8)}
	tcb := &sched.Tcb_t{}
	k.entries.Set(entryKey(tcb), entryPoint{rip: 0x1000, rsp: 0x2000})

	if err := k.teardownTask(tcb); err != nil {
		t.Fatalf("teardownTask returned error: %v", err)
	}
	if _, ok := k.entries.Get(entryKey(tcb)); ok {
		t.Fatalf("entries should no longer contain tcb after teardown")
	}
}

func TestTeardownTaskToleratesMissingEntry(t *testing.T) {
	k := &Kernel_t{entries: hashtable.MkHash(8)}
	tcb := &sched.Tcb_t{}

	if err := k.teardownTask(tcb); err != nil {
		t.Fatalf("teardownTask returned error: %v", err)
	}
}
