package vmm

import (
	"testing"

	"defs"
	"mem"
	"paging"
)

// AllocateAt's guard clauses run before it ever touches paging.MapPage or
// mem.Physmem.AllocPage, so they're exercisable hosted the same way
// Allocate's own size%PGSIZE check is; the mapping loop itself needs a
// live direct map this test has none of, matching allocator_test.go's
// existing boundary around Allocate.

func TestAllocateAtRejectsMisalignedSize(t *testing.T) {
	a := freshAllocator(16 * uint64(mem.PGSIZE))
	if err := a.AllocateAt(0, 1, paging.PROT_READ); err != defs.EINVAL {
		t.Fatalf("err = %v, want EINVAL", err)
	}
}

func TestAllocateAtRejectsMisalignedBase(t *testing.T) {
	a := freshAllocator(16 * uint64(mem.PGSIZE))
	if err := a.AllocateAt(uintptr(mem.PGSIZE/2), uint64(mem.PGSIZE), paging.PROT_READ); err != defs.EINVAL {
		t.Fatalf("err = %v, want EINVAL", err)
	}
}

func TestAllocateAtRejectsOutOfRangeBase(t *testing.T) {
	a := freshAllocator(4 * uint64(mem.PGSIZE))
	size := uint64(mem.PGSIZE)
	if err := a.AllocateAt(uintptr(8*mem.PGSIZE), size, paging.PROT_READ); err != defs.ENOMEM {
		t.Fatalf("err = %v, want ENOMEM for a base outside the tracked range", err)
	}
}

func TestAllocateAtRejectsRegionTooLarge(t *testing.T) {
	a := freshAllocator(4 * uint64(mem.PGSIZE))
	size := uint64(8 * mem.PGSIZE)
	if err := a.AllocateAt(0, size, paging.PROT_READ); err != defs.ENOMEM {
		t.Fatalf("err = %v, want ENOMEM when the request overruns the free region", err)
	}
}

func TestAllocateAtRejectsAlreadyAllocated(t *testing.T) {
	a := freshAllocator(4 * uint64(mem.PGSIZE))
	region := Region_t{Base: 0, Size: uint64(mem.PGSIZE), Allocated: true, Prot: paging.PROT_READ}
	if !a.insertRegionLocked(region) {
		t.Fatal("setup: insertRegionLocked failed")
	}
	if err := a.AllocateAt(0, uint64(mem.PGSIZE), paging.PROT_READ); err != defs.ENOMEM {
		t.Fatalf("err = %v, want ENOMEM for an already-allocated base", err)
	}
}
