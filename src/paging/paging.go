// Package paging implements the paging manager (C3): it walks and mutates
// the standard x86_64 4-level page table format (PML4 -> PDPT -> PD -> PT),
// using mem's physical allocator (C2) to materialize intermediate tables
// and mem's direct map to reach any table page by physical address without
// needing it mapped anywhere else first.
package paging

import (
	"mem"
	"unsafe"
)

// Prot is a protection request: some combination of read/write/exec.
type Prot int

const (
	PROT_NONE  Prot = 0
	PROT_READ  Prot = 1 << 0
	PROT_WRITE Prot = 1 << 1
	PROT_EXEC  Prot = 1 << 2
)

func index(vaddr uintptr, level uint) int {
	shift := 12 + 9*level
	return int((vaddr >> shift) & 0x1ff)
}

// isUserAddress reports whether vaddr falls in the VUSER PML4 slot, the
// one slot of the address space that holds user mappings.
func isUserAddress(vaddr uintptr) bool {
	return index(vaddr, 3) == mem.VUSER
}

func table(phys mem.Pa_t) *mem.Pmap_t {
	return (*mem.Pmap_t)(unsafe.Pointer(mem.Physmem.Dmap(phys)))
}

// entryPtr returns the address, within level's table (identified by its
// physical address tablePhys), of the entry that addr indexes.
func entryPtr(tablePhys mem.Pa_t, vaddr uintptr, level uint) *mem.Pa_t {
	t := table(tablePhys)
	return &t[index(vaddr, level)]
}

// Walk returns pointers to the PML4E, PDPE, PDE and PTE on vaddr's walk
// through the table rooted at pml4Phys. A pointer is nil once an
// intermediate entry is not present, matching §4.3's
// "pml4e/pdpe/pde/pte(addr) -> Option<&entry>" contract.
func Walk(pml4Phys mem.Pa_t, vaddr uintptr) (pml4e, pdpe, pde, pte *mem.Pa_t) {
	pml4e = entryPtr(pml4Phys, vaddr, 3)
	if *pml4e&mem.PTE_P == 0 {
		return pml4e, nil, nil, nil
	}
	pdptPhys := *pml4e & mem.PTE_ADDR
	pdpe = entryPtr(pdptPhys, vaddr, 2)
	if *pdpe&mem.PTE_P == 0 {
		return pml4e, pdpe, nil, nil
	}
	pdPhys := *pdpe & mem.PTE_ADDR
	pde = entryPtr(pdPhys, vaddr, 1)
	if *pde&mem.PTE_P == 0 || *pde&mem.PTE_PS != 0 {
		return pml4e, pdpe, pde, nil
	}
	ptPhys := *pde & mem.PTE_ADDR
	pte = entryPtr(ptPhys, vaddr, 0)
	return pml4e, pdpe, pde, pte
}

// GetPhysicalAddress walks vaddr to completion and adds the page offset.
func GetPhysicalAddress(pml4Phys mem.Pa_t, vaddr uintptr) (mem.Pa_t, bool) {
	_, _, pde, pte := Walk(pml4Phys, vaddr)
	if pde != nil && *pde&mem.PTE_P != 0 && *pde&mem.PTE_PS != 0 {
		return (*pde & mem.PTE_ADDR) + mem.Pa_t(vaddr&(1<<21-1)), true
	}
	if pte == nil || *pte&mem.PTE_P == 0 {
		return 0, false
	}
	return (*pte & mem.PTE_ADDR) + mem.Pa_t(vaddr&uintptr(mem.PGOFFSET)), true
}

// ensureTable dereferences entry, allocating and zeroing a fresh table page
// (refcounted, since the direct-map's own tables are shared by every
// process's PML4) if it isn't present yet.
func ensureTable(entry *mem.Pa_t, user bool) (mem.Pa_t, bool) {
	if *entry&mem.PTE_P != 0 {
		if user {
			*entry |= mem.PTE_U
		}
		return *entry & mem.PTE_ADDR, true
	}
	frame, ok := mem.Physmem.AllocPage(0, false)
	if !ok {
		return 0, false
	}
	pg := table(frame)
	for i := range pg {
		pg[i] = 0
	}
	mem.Physmem.Refup(frame)
	flags := mem.PTE_P | mem.PTE_W
	if user {
		flags |= mem.PTE_U
	}
	*entry = frame | flags
	return frame, true
}

// MapPage maps vaddr to frame (page-aligned), creating any missing
// intermediate tables via mem's physical allocator. The leaf PTE is
// created present+RW (plus the user bit for a VUSER-slot address) with no
// NX bit; callers apply the real
// protection with SetPtePermissions right after, matching the two-step
// sequence the virtual allocator's Allocate performs (§4.4 step 4).
func MapPage(pml4Phys mem.Pa_t, vaddr uintptr, frame mem.Pa_t) error {
	if vaddr%uintptr(mem.PGSIZE) != 0 {
		return errMisaligned
	}
	user := isUserAddress(vaddr)

	pml4e := entryPtr(pml4Phys, vaddr, 3)
	pdptPhys, ok := ensureTable(pml4e, user)
	if !ok {
		return errNoMem
	}
	pdpe := entryPtr(pdptPhys, vaddr, 2)
	pdPhys, ok := ensureTable(pdpe, user)
	if !ok {
		return errNoMem
	}
	pde := entryPtr(pdPhys, vaddr, 1)
	ptPhys, ok := ensureTable(pde, user)
	if !ok {
		return errNoMem
	}
	pte := entryPtr(ptPhys, vaddr, 0)
	if *pte&mem.PTE_P != 0 {
		return errAlreadyMapped
	}
	flags := mem.PTE_P | mem.PTE_W
	if user {
		flags |= mem.PTE_U
	}
	*pte = (frame & mem.PTE_ADDR) | flags
	invlpg(vaddr)
	return nil
}

// UnmapPage clears the leaf PTE. Intermediate tables are left in place,
// matching §4.3's "unmap_page: clear leaf; intermediate tables are not
// torn down."
func UnmapPage(pml4Phys mem.Pa_t, vaddr uintptr) {
	_, _, _, pte := Walk(pml4Phys, vaddr)
	if pte == nil {
		return
	}
	*pte = 0
	invlpg(vaddr)
}

// SetPtePermissions translates (R,W,X) into (present, RW, user, NX).
// PROT_NONE clears present without freeing the frame, so a later
// SetPtePermissions with a real protection re-validates the same mapping.
func SetPtePermissions(pml4Phys mem.Pa_t, vaddr uintptr, prot Prot) error {
	_, _, _, pte := Walk(pml4Phys, vaddr)
	if pte == nil {
		return errNotMapped
	}
	if prot == PROT_NONE {
		*pte &^= mem.PTE_P
		invlpg(vaddr)
		return nil
	}
	frame := *pte & mem.PTE_ADDR
	flags := mem.PTE_P
	if prot&PROT_WRITE != 0 {
		flags |= mem.PTE_W
	}
	if prot&PROT_EXEC == 0 {
		flags |= mem.PTE_NX
	}
	if isUserAddress(vaddr) {
		flags |= mem.PTE_U
	}
	*pte = frame | flags
	invlpg(vaddr)
	return nil
}

// TempMapPage lends a scratch virtual address to reach a physical frame
// before the real virtual allocator (C4) or the direct map can serve the
// request — used only during physical-allocator bootstrap (§4.2) to write
// the bitmap's own backing pages.
func TempMapPage(pml4Phys mem.Pa_t, scratchVA uintptr, frame mem.Pa_t) error {
	if err := MapPage(pml4Phys, scratchVA, frame); err != nil {
		return err
	}
	return SetPtePermissions(pml4Phys, scratchVA, PROT_READ|PROT_WRITE)
}

// UnmapTempMapping tears down a TempMapPage mapping. freeFrame additionally
// returns the backing physical frame to the allocator, for scratch pages
// that aren't meant to outlive the bootstrap step.
func UnmapTempMapping(pml4Phys mem.Pa_t, scratchVA uintptr, freeFrame bool) {
	frame, ok := GetPhysicalAddress(pml4Phys, scratchVA)
	UnmapPage(pml4Phys, scratchVA)
	if ok && freeFrame {
		mem.Physmem.FreePage(frame & mem.PGMASK)
	}
}
