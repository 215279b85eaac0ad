package vmm

import (
	"defs"
	"mem"
	"paging"
)

// AllocateAt is Allocate's fixed-base sibling: it maps size bytes at the
// caller-specified base instead of picking one by first-fit. Needed by the
// ELF loader's exec path (C11 feeding C8/C4): a PT_LOAD segment names an
// exact virtual address the program was linked against, not "anywhere
// sufficiently large." Shares Allocate's per-page map-and-track loop;
// insertRegionLocked already knows how to split whatever free region
// currently covers [base, base+size), the same splicing Allocate relies on
// after findFreeRegionLocked picks a spot for it.
func (a *Allocator_t) AllocateAt(base uintptr, size uint64, prot paging.Prot) defs.Err_t {
	if size == 0 || size%uint64(mem.PGSIZE) != 0 || base%uintptr(mem.PGSIZE) != 0 {
		return defs.EINVAL
	}
	a.Lock()
	defer a.Unlock()
	defer a.drainPending()

	container := a.findNode(base)
	if container == nil || container.region.Allocated || container.region.end() < base+uintptr(size) {
		return defs.ENOMEM
	}

	npages := int(size) / mem.PGSIZE
	mapped := 0
	for i := 0; i < npages; i++ {
		vaddr := base + uintptr(i*mem.PGSIZE)
		frame, ok := mem.Physmem.AllocPage(0, false)
		if !ok {
			break
		}
		if err := paging.MapPage(a.pml4, vaddr, frame); err != nil {
			mem.Physmem.FreePage(frame)
			break
		}
		_ = paging.SetPtePermissions(a.pml4, vaddr, prot)
		mapped++
	}

	if mapped != npages {
		for j := 0; j < mapped; j++ {
			vaddr := base + uintptr(j*mem.PGSIZE)
			frame, ok := paging.GetPhysicalAddress(a.pml4, vaddr)
			paging.UnmapPage(a.pml4, vaddr)
			if ok {
				mem.Physmem.FreePage(frame & mem.PGMASK)
			}
		}
		return defs.ENOMEM
	}

	region := Region_t{Base: base, Size: size, Allocated: true, Prot: prot, Owner: OwnedByAllocator}
	if !a.insertRegionLocked(region) {
		return defs.ENOMEM
	}
	return 0
}
