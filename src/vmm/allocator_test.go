package vmm

import (
	"testing"

	"mem"
	"paging"
)

// withSlab pre-seeds the node pool so list-splicing tests exercise
// insertRegionLocked/freeRegionLocked without going through allocNode's
// page-mapping path, which needs a live direct map this hosted test has
// none of.
func withSlab(a *Allocator_t, n int) {
	a.slab = make([]node, n)
	a.slabNext = 0
}

func freshAllocator(size uint64) *Allocator_t {
	a := New(0)
	withSlab(a, 64)
	a.Init(0, size, nil)
	return a
}

// checkCoverage walks the list and checks the coverage invariant: no gaps, no
// overlaps, and no two adjacent regions sharing (allocated, prot, owner).
func checkCoverage(t *testing.T, a *Allocator_t, base uintptr, size uint64) {
	t.Helper()
	rs := a.Regions()
	if len(rs) == 0 {
		t.Fatal("region list must not be empty")
	}
	if rs[0].Base != base {
		t.Fatalf("first region must start at %#x, got %#x", base, rs[0].Base)
	}
	for i, r := range rs {
		if r.Size == 0 {
			t.Fatalf("region %d has zero size", i)
		}
		if i > 0 {
			prev := rs[i-1]
			if prev.end() != r.Base {
				t.Fatalf("gap or overlap between region %d (ends %#x) and region %d (starts %#x)",
					i-1, prev.end(), i, r.Base)
			}
			if sameAttrs(prev, r) {
				t.Fatalf("adjacent regions %d and %d share attributes and should have merged", i-1, i)
			}
		}
	}
	last := rs[len(rs)-1]
	if last.end() != base+uintptr(size) {
		t.Fatalf("last region must end at %#x, got %#x", base+uintptr(size), last.end())
	}
}

func TestInitSeedsSingleFreeRegion(t *testing.T) {
	a := freshAllocator(16 * uint64(mem.PGSIZE))
	rs := a.Regions()
	if len(rs) != 1 || rs[0].Allocated {
		t.Fatalf("expected one free region, got %+v", rs)
	}
	checkCoverage(t, a, 0, 16*uint64(mem.PGSIZE))
}

func TestInsertRegionSameStart(t *testing.T) {
	a := freshAllocator(16 * uint64(mem.PGSIZE))
	r := Region_t{Base: 0, Size: 4 * uint64(mem.PGSIZE), Allocated: true, Prot: paging.PROT_READ}
	if !a.insertRegionLocked(r) {
		t.Fatal("insert should succeed")
	}
	checkCoverage(t, a, 0, 16*uint64(mem.PGSIZE))
	rs := a.Regions()
	if !rs[0].Allocated || rs[0].Size != r.Size {
		t.Fatalf("head region should now be the allocated slice, got %+v", rs[0])
	}
}

func TestInsertRegionSameEnd(t *testing.T) {
	a := freshAllocator(16 * uint64(mem.PGSIZE))
	base := 12 * uintptr(mem.PGSIZE)
	r := Region_t{Base: base, Size: 4 * uint64(mem.PGSIZE), Allocated: true, Prot: paging.PROT_WRITE}
	if !a.insertRegionLocked(r) {
		t.Fatal("insert should succeed")
	}
	checkCoverage(t, a, 0, 16*uint64(mem.PGSIZE))
	rs := a.Regions()
	last := rs[len(rs)-1]
	if !last.Allocated || last.Base != base {
		t.Fatalf("tail region should be the allocated slice, got %+v", last)
	}
}

func TestInsertRegionSplitsMiddle(t *testing.T) {
	a := freshAllocator(16 * uint64(mem.PGSIZE))
	base := 4 * uintptr(mem.PGSIZE)
	r := Region_t{Base: base, Size: 4 * uint64(mem.PGSIZE), Allocated: true, Prot: paging.PROT_READ | paging.PROT_WRITE}
	if !a.insertRegionLocked(r) {
		t.Fatal("insert should succeed")
	}
	checkCoverage(t, a, 0, 16*uint64(mem.PGSIZE))
	rs := a.Regions()
	if len(rs) != 3 {
		t.Fatalf("expected head/mid/tail split into 3 regions, got %d: %+v", len(rs), rs)
	}
	if rs[0].Allocated || rs[2].Allocated {
		t.Fatalf("head and tail should remain free: %+v", rs)
	}
	if !rs[1].Allocated || rs[1].Base != base {
		t.Fatalf("middle region should be the allocated slice, got %+v", rs[1])
	}
}

func TestFreeRegionRequiresAllocated(t *testing.T) {
	a := freshAllocator(8 * uint64(mem.PGSIZE))
	ok := a.freeRegionLocked(Region_t{Base: 0, Size: uint64(mem.PGSIZE)})
	if ok {
		t.Fatal("freeing an already-free region must fail")
	}
}

func TestCheckForCombinationMergesNeighbors(t *testing.T) {
	a := freshAllocator(16 * uint64(mem.PGSIZE))
	base := 4 * uintptr(mem.PGSIZE)
	r := Region_t{Base: base, Size: 4 * uint64(mem.PGSIZE), Allocated: true, Prot: paging.PROT_READ}
	a.insertRegionLocked(r)

	if !a.freeRegionLocked(Region_t{Base: base, Size: 4 * uint64(mem.PGSIZE)}) {
		t.Fatal("free should succeed")
	}
	checkCoverage(t, a, 0, 16*uint64(mem.PGSIZE))
	rs := a.Regions()
	if len(rs) != 1 {
		t.Fatalf("freeing the only allocated slice should re-merge into one free region, got %d: %+v", len(rs), rs)
	}
}

func TestFindFreeRegionFirstFit(t *testing.T) {
	a := freshAllocator(16 * uint64(mem.PGSIZE))
	a.insertRegionLocked(Region_t{Base: 0, Size: 4 * uint64(mem.PGSIZE), Allocated: true})

	got, ok := a.findFreeRegionLocked(2*uint64(mem.PGSIZE), paging.PROT_READ, nil)
	if !ok {
		t.Fatal("a fit should be found")
	}
	if got.Base != 4*uintptr(mem.PGSIZE) {
		t.Fatalf("first-fit should land right after the allocated slice, got %#x", got.Base)
	}

	if _, ok := a.findFreeRegionLocked(32*uint64(mem.PGSIZE), paging.PROT_READ, nil); ok {
		t.Fatal("a request larger than the whole space must fail")
	}
}

func TestOwnershipTagDistinguishesExternalFrames(t *testing.T) {
	owned := Region_t{Owner: OwnedByAllocator}
	external := Region_t{Owner: OwnedExternally}
	if sameAttrs(owned, external) {
		t.Fatal("regions with different owners must not be considered mergeable")
	}
}
