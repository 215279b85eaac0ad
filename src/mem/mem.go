// Package mem implements the bitmap (C1) and physical page allocator (C2).
package mem

import (
	"fmt"
	"sync"
	"unsafe"

	"util"
)

// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT uint = 12

// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

// PGOFFSET masks offsets within a page.
const PGOFFSET Pa_t = 0xfff

// PGMASK masks the page number of an address.
const PGMASK Pa_t = ^(PGOFFSET)

// PTE_P marks a page as present.
const PTE_P Pa_t = 1 << 0

// PTE_W marks a page writable.
const PTE_W Pa_t = 1 << 1

// PTE_U marks a page user-accessible.
const PTE_U Pa_t = 1 << 2

// PTE_PWT enables write-through caching for the page.
const PTE_PWT Pa_t = 1 << 3

// PTE_PCD disables caching for the page.
const PTE_PCD Pa_t = 1 << 4

// PTE_A marks a page as accessed.
const PTE_A Pa_t = 1 << 5

// PTE_D marks a page as dirty; on huge-page entries this bit position is PS.
const PTE_D Pa_t = 1 << 6

// PTE_PS indicates a large page.
const PTE_PS Pa_t = 1 << 7

// PTE_G marks a global page.
const PTE_G Pa_t = 1 << 8

// PTE_NX marks a page non-executable.
const PTE_NX Pa_t = 1 << 63

// PTE_ADDR extracts the physical-frame address bits of a PTE.
const PTE_ADDR Pa_t = 0x000ffffffffff000

// Pa_t represents a physical address.
type Pa_t uintptr

// Bytepg_t is a byte-addressed page.
type Bytepg_t [PGSIZE]uint8

// Pg_t is a generic page of words.
type Pg_t [512]int

// Pmap_t is a page-table page: 512 64-bit entries.
type Pmap_t [512]Pa_t

// Pg2bytes converts a page of ints to a page of bytes.
func Pg2bytes(pg *Pg_t) *Bytepg_t {
	return (*Bytepg_t)(unsafe.Pointer(pg))
}

// Bytepg2pg converts a byte page back to a Pg_t.
func Bytepg2pg(pg *Bytepg_t) *Pg_t {
	return (*Pg_t)(unsafe.Pointer(pg))
}

func pg2pmap(pg *Pg_t) *Pmap_t {
	return (*Pmap_t)(unsafe.Pointer(pg))
}

func pa2pgn(p Pa_t) uint32 {
	return uint32(p >> PGSHIFT)
}

// MemType classifies a boot memory-map entry (§6 BootInfo).
type MemType int

const (
	MemAvailable MemType = iota
	MemReserved
	MemKernel
)

// MemMapEntry is one reduced boot memory-map record.
type MemMapEntry struct {
	Base Pa_t
	Size uint64
	Type MemType
}

// Physpg_t is the per-frame bookkeeping record; refcount supports sharing
// kernel page-table pages (the higher-half direct map's PD/PT pages) across
// every process's PML4 without tracking owners individually.
type Physpg_t struct {
	Refcnt int32
}

// Physmem_t is the physical page allocator: a bitmap over every physical
// frame plus a parallel refcount array for page-table pages. Bit N of the
// bitmap is frame N; a set bit means the frame is owned by some virtual
// region or reserved by the memory map (§3 PageFrame invariant).
type Physmem_t struct {
	sync.Mutex
	bitmap   *Bitmap_t
	Pgs      []Physpg_t
	startn   uint32 // first tracked frame number
	Dmapinit bool
}

// Physmem is the global physical memory allocator instance.
var Physmem = &Physmem_t{}

// InitFromBitmap installs bm (already seeded by the boot sequence, see
// BootstrapPhysAllocator in package kernel) as the allocator's live bitmap.
// startFrame is the physical frame number that bit 0 represents.
func (phys *Physmem_t) InitFromBitmap(bm *Bitmap_t, startFrame uint32) {
	phys.Lock()
	defer phys.Unlock()
	phys.bitmap = bm
	phys.startn = startFrame
	phys.Pgs = make([]Physpg_t, bm.Len())
	fmt.Printf("phys allocator: %v frames tracked (%v MB)\n", bm.Len(), bm.Len()/256)
}

func (phys *Physmem_t) frameToBit(p Pa_t) int {
	return int(pa2pgn(p) - phys.startn)
}

func (phys *Physmem_t) bitToFrame(i int) Pa_t {
	return Pa_t(uint32(i)+phys.startn) << PGSHIFT
}

// AllocPage allocates the lowest-numbered free frame, or the given hint if
// it is free, per §4.2's tie-break rule.
func (phys *Physmem_t) AllocPage(hint Pa_t, useHint bool) (Pa_t, bool) {
	phys.Lock()
	defer phys.Unlock()

	if useHint {
		i := phys.frameToBit(hint)
		if i < 0 || i >= phys.bitmap.Len() || phys.bitmap.Get(i) {
			return 0, false
		}
		phys.bitmap.Set(i, true)
		return hint, true
	}

	i, ok := phys.bitmap.searchRunFrom(0, phys.bitmap.Len(), 1, false)
	if !ok {
		return 0, false
	}
	phys.bitmap.Set(i, true)
	return phys.bitToFrame(i), true
}

// AllocConsecutive allocates a contiguous run of n frames.
func (phys *Physmem_t) AllocConsecutive(n int) (Pa_t, bool) {
	phys.Lock()
	defer phys.Unlock()

	i, ok := phys.bitmap.SearchRun(n, false)
	if !ok {
		return 0, false
	}
	phys.bitmap.SetRange(i, n, true)
	return phys.bitToFrame(i), true
}

// FreePage clears the frame's bit. Freeing an already-free frame is a
// no-op, matching the original allocator's idempotent free_page.
func (phys *Physmem_t) FreePage(p Pa_t) {
	phys.Lock()
	defer phys.Unlock()
	i := phys.frameToBit(p)
	if i < 0 || i >= phys.bitmap.Len() {
		return
	}
	phys.bitmap.Set(i, false)
}

// Refup increments the page-table-page refcount for p.
func (phys *Physmem_t) Refup(p Pa_t) {
	phys.Lock()
	defer phys.Unlock()
	phys.Pgs[phys.frameToBit(p)].Refcnt++
}

// Refdown decrements the refcount for p, freeing the frame when it drops
// to zero, and reports whether it was freed.
func (phys *Physmem_t) Refdown(p Pa_t) bool {
	phys.Lock()
	i := phys.frameToBit(p)
	phys.Pgs[i].Refcnt--
	c := phys.Pgs[i].Refcnt
	if c < 0 {
		panic("refdown: negative refcount")
	}
	if c == 0 {
		phys.bitmap.Set(i, false)
	}
	phys.Unlock()
	return c == 0
}

// Refcnt reports the current refcount of frame p.
func (phys *Physmem_t) Refcnt(p Pa_t) int {
	phys.Lock()
	defer phys.Unlock()
	return int(phys.Pgs[phys.frameToBit(p)].Refcnt)
}

// Dmap converts a physical address into a direct-mapped virtual address.
func (phys *Physmem_t) Dmap(p Pa_t) *Pg_t {
	pa := uintptr(p)
	if pa >= 1<<39 {
		panic("direct map not large enough")
	}
	v := Vdirect
	v += uintptr(util.Rounddown(int(pa), PGSIZE))
	return (*Pg_t)(unsafe.Pointer(v))
}

// Dmap_v2p converts a direct-mapped virtual address back to a physical
// address.
func (phys *Physmem_t) Dmap_v2p(v *Pg_t) Pa_t {
	va := uintptr(unsafe.Pointer(v))
	if va <= 1<<39 {
		panic("address isn't in the direct map")
	}
	return Pa_t(va - Vdirect)
}

// Dmap8 returns a byte slice mapped to the given physical address.
func (phys *Physmem_t) Dmap8(p Pa_t) []uint8 {
	pg := phys.Dmap(p)
	off := p & PGOFFSET
	bpg := Pg2bytes(pg)
	return bpg[off:]
}

// FreeFrames reports the number of unallocated frames, for diagnostics.
func (phys *Physmem_t) FreeFrames() int {
	phys.Lock()
	defer phys.Unlock()
	n := 0
	for i := 0; i < phys.bitmap.Len(); i++ {
		if !phys.bitmap.Get(i) {
			n++
		}
	}
	return n
}

// ParseMemoryMapToBitmap seeds bm the way physical_allocator::init does:
// every frame starts reserved, then each memory-map entry punches in its
// real status — Reserved/Kernel stays used, Available is cleared free,
// rounding conservatively at both ends so a partial boundary page is never
// marked free by mistake.
func ParseMemoryMapToBitmap(mmap []MemMapEntry, bm *Bitmap_t) {
	bm.SetRange(0, bm.Len(), true)

	pagesz := uint64(PGSIZE)
	for _, e := range mmap {
		base := uint64(e.Base)
		switch e.Type {
		case MemReserved, MemKernel:
			startPg := int(base / pagesz)
			n := int(e.Size / pagesz)
			if e.Size%pagesz != 0 {
				n++
			}
			bm.SetRange(startPg, n, true)
		default:
			startPg := int(base / pagesz)
			if base%pagesz != 0 {
				startPg++
			}
			var n int
			if base%pagesz != 0 {
				if e.Size/pagesz > 0 {
					n = int(e.Size/pagesz) - 1
				}
			} else {
				n = int(e.Size / pagesz)
			}
			bm.SetRange(startPg, n, false)
		}
	}
}
