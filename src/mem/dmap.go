package mem

import "unsafe"

// VDIRECT is the PML4 slot (of 512) backing the direct map.
const VDIRECT int = 0x44

// VEND marks the end of kernel virtual space.
const VEND int = 0x50

// VUSER is the first user-space PML4 slot.
const VUSER int = 0x59

// USERMIN is the lowest user virtual address.
const USERMIN int = VUSER << 39

// DMAPLEN is the length of the direct map in bytes: enough to cover the
// physical address space the bitmap tracks, matching the invariant in
// §4.3 that [HIGHER_HALF_KERNEL_OFFSET, +phys_size) is always mapped.
const DMAPLEN int = 1 << 39

// Vdirect holds the virtual base address of the direct-map region. The
// paging bootstrap (package kernel) is responsible for actually mapping
// physical memory there before any Dmap call is made.
var Vdirect = uintptr(VDIRECT << 39)

// Dmaplen returns a slice over the direct map starting at physical address
// p for l bytes.
func Dmaplen(p Pa_t, l int) []uint8 {
	dmap := (*[DMAPLEN]uint8)(unsafe.Pointer(Vdirect))
	return dmap[p : p+Pa_t(l)]
}

// Dmaplen32 is like Dmaplen but operates on 32-bit units; p and l must be
// multiples of 4.
func Dmaplen32(p uintptr, l int) []uint32 {
	if p%4 != 0 || l%4 != 0 {
		panic("not 32bit aligned")
	}
	dmap := (*[DMAPLEN / 4]uint32)(unsafe.Pointer(Vdirect))
	p /= 4
	l /= 4
	return dmap[p : p+uintptr(l)]
}
