package kernel

import (
	"unsafe"

	"defs"
	"mem"
	"paging"
	"vmm"
)

// AddressSpace pairs a process's page-table root with the virtual
// allocator tracking its user half. The kernel half of every PML4 is
// identical (shared intermediate tables, copied in wholesale by
// copyKernelHalf), so only the user slot needs its own allocator.
type AddressSpace struct {
	Pml4 mem.Pa_t
	Vas  *vmm.Allocator_t
}

// pmap views a table page by its physical address as 512 raw entries,
// the same (*mem.Pmap_t)(mem.Physmem.Dmap(phys)) cast paging's own
// unexported table() performs. paging keeps table() unexported so that
// callers do not get direct, unchecked write access to any table page;
// this package keeps its own copy of the idiom for the one thing it needs
// it for: copying a PML4 wholesale rather than walking it entry by entry.
func pmap(phys mem.Pa_t) *mem.Pmap_t {
	return (*mem.Pmap_t)(unsafe.Pointer(mem.Physmem.Dmap(phys)))
}

// copyKernelHalf copies every PML4 entry except the user slot from src
// into dst. Kernel mappings, including the direct map, are identical in
// every address space and share their intermediate tables; only
// mem.VUSER differs per process, and it is left for the caller to
// populate.
func copyKernelHalf(dst, src mem.Pa_t) {
	dstTable := pmap(dst)
	srcTable := pmap(src)
	for i := range dstTable {
		if i == mem.VUSER {
			continue
		}
		dstTable[i] = srcTable[i]
	}
}

// NewUserAddressSpace allocates a fresh PML4 sharing the kernel's own
// mappings, with a virtual allocator tracking just the one user PML4 slot
// (mem.VUSER, based at mem.USERMIN).
func (k *Kernel_t) NewUserAddressSpace() (*AddressSpace, defs.Err_t) {
	frame, ok := mem.Physmem.AllocPage(0, false)
	if !ok {
		return nil, defs.ENOMEM
	}
	table := pmap(frame)
	for i := range table {
		table[i] = 0
	}
	copyKernelHalf(frame, k.KernelPml4)

	vas := vmm.New(frame)
	vas.Init(uintptr(mem.USERMIN), uint64(1)<<39, nil)
	return &AddressSpace{Pml4: frame, Vas: vas}, 0
}

// ForkAddressSpace builds a child address space that eagerly copies every
// allocated region of parent, frame by frame — the eager-copy fork
// semantics spec.md requires in place of copy-on-write (an explicit
// Non-goal, §1; original_source's Sys_pgfault-adjacent COW handling is
// deliberately not carried over, per SPEC_FULL.md's supplemented-features
// note on this exact point). Regions are recreated via Vas.AllocateAt at
// each parent region's own base, in the ascending order
// parent.Vas.Regions() returns them, so free gaps between parent regions
// (segments at their linked addresses, the user stack further up) are
// kept as they are. A parent region whose range the child's allocator
// already uses for its own node pages fails the fork with ENOMEM.
func (k *Kernel_t) ForkAddressSpace(parent *AddressSpace) (*AddressSpace, defs.Err_t) {
	child, err := k.NewUserAddressSpace()
	if err != 0 {
		return nil, err
	}
	for _, r := range parent.Vas.Regions() {
		if !r.Allocated {
			continue
		}
		if aerr := child.Vas.AllocateAt(r.Base, r.Size, r.Prot|paging.PROT_WRITE); aerr != 0 {
			return nil, aerr
		}
		if cerr := copyRegionBytes(parent.Pml4, child.Pml4, r.Base, r.Size); cerr != 0 {
			return nil, cerr
		}
		if r.Prot&paging.PROT_WRITE == 0 {
			for off := uint64(0); off < r.Size; off += uint64(mem.PGSIZE) {
				_ = paging.SetPtePermissions(child.Pml4, r.Base+uintptr(off), r.Prot)
			}
		}
	}
	return child, 0
}

// copyRegionBytes copies [base, base+size) page by page from src's
// address space to dst's, going through the direct map directly rather
// than uaccess: both addresses here are pages ForkAddressSpace has just
// mapped, not arbitrary, possibly-unmapped user pointers uaccess exists
// to validate.
func copyRegionBytes(srcPml4, dstPml4 mem.Pa_t, base uintptr, size uint64) defs.Err_t {
	for off := uint64(0); off < size; off += uint64(mem.PGSIZE) {
		va := base + uintptr(off)
		srcPhys, ok := paging.GetPhysicalAddress(srcPml4, va)
		if !ok {
			return defs.EFAULT
		}
		dstPhys, ok := paging.GetPhysicalAddress(dstPml4, va)
		if !ok {
			return defs.EFAULT
		}
		copy(mem.Dmaplen(dstPhys&mem.PGMASK, mem.PGSIZE), mem.Dmaplen(srcPhys&mem.PGMASK, mem.PGSIZE))
	}
	return 0
}
