package vmm

import (
	"sync"

	"defs"
	"mem"
	"paging"
)

// nodesPerSlab is how many list nodes one tracked virtual page is deemed to
// back. The source carves vma_node_t values directly out of the bytes of a
// mapped page; Go cannot safely alias arbitrary mapped memory as a slice of
// live, pointer-containing structs without defeating the garbage collector,
// so a slab here is an ordinary Go-owned []node of this length. The mapped
// page itself is still consumed and tracked as an allocated region exactly
// as the source requires — only the node *storage* is native Go memory
// rather than bytes of that page.
const nodesPerSlab = 64

// Allocator_t is the region-list allocator for one address space (the
// kernel's own range, or a single process's user range). The node pool and
// the pending slot resolve the bootstrap paradox of needing a list
// node to describe the very page new nodes are carved from (§4.4, §9).
type Allocator_t struct {
	sync.Mutex

	pml4 mem.Pa_t

	head *node

	slab     []node
	slabNext int

	// pending holds at most one region insertion deferred out of
	// allocNode, drained only at the end of Allocate/AllocateAt/Free —
	// never from inside allocNode itself.
	pending *Region_t
}

// New creates an allocator for the address space rooted at pml4Phys.
func New(pml4Phys mem.Pa_t) *Allocator_t {
	return &Allocator_t{pml4: pml4Phys}
}

// Init seeds the list with a single free region spanning [base, base+size)
// and then marks every entry in reserved as already allocated — the kernel
// mmap entries, the physical-allocator bitmap's own backing pages, and the
// paging structures region, mirroring virtual_allocator::init's sequence
// (the early-console reservation is dropped; it is out of scope here).
func (a *Allocator_t) Init(base uintptr, size uint64, reserved []Region_t) {
	a.Lock()
	defer a.Unlock()

	n := &node{region: Region_t{Base: base, Size: size, Allocated: false}}
	a.head = n

	for _, r := range reserved {
		a.insertRegionLocked(r)
	}
}

// allocNode returns a fresh node carved from the current slab, mapping a
// new tracked page first if the slab is exhausted. insertNew controls
// whether a newly-tracked page's own region is spliced into the list
// immediately (true) or stashed in pending for the caller to drain later
// (false) — mirroring alloc_vma_node's insert_new_region parameter.
func (a *Allocator_t) allocNode(ignore *Region_t, insertNew bool) *node {
	if a.slabNext >= len(a.slab) {
		pageRegion, ok := a.findFreeRegionLocked(uint64(mem.PGSIZE), paging.PROT_READ|paging.PROT_WRITE, ignore)
		if !ok {
			return nil
		}
		frame, ok := mem.Physmem.AllocPage(0, false)
		if !ok {
			return nil
		}
		if err := paging.MapPage(a.pml4, pageRegion.Base, frame); err != nil {
			mem.Physmem.FreePage(frame)
			return nil
		}
		_ = paging.SetPtePermissions(a.pml4, pageRegion.Base, paging.PROT_READ|paging.PROT_WRITE)

		pageRegion.Allocated = true
		pageRegion.Prot = paging.PROT_READ | paging.PROT_WRITE
		pageRegion.Owner = OwnedByAllocator

		a.slab = make([]node, nodesPerSlab)
		a.slabNext = 0

		if insertNew {
			a.insertRegionLocked(pageRegion)
		} else {
			r := pageRegion
			a.pending = &r
		}
	}

	nd := &a.slab[a.slabNext]
	a.slabNext++
	return nd
}

// drainPending inserts the region stashed by allocNode, if any. Called only
// at the end of Allocate/AllocateAt/Free, matching insert_vma_region's tail-recursive
// self-call on _vma_list_pending_new_region.
func (a *Allocator_t) drainPending() {
	if a.pending == nil {
		return
	}
	r := *a.pending
	a.pending = nil
	a.insertRegionLocked(r)
}

// findNode returns the list node whose region contains addr.
func (a *Allocator_t) findNode(addr uintptr) *node {
	for n := a.head; n != nil; n = n.next {
		if n.region.contains(addr) {
			return n
		}
	}
	return nil
}

// checkForCombination merges n with its neighbors if they share identical
// attributes, replicating check_for_vma_node_combination's two independent
// merge checks (previous, then next).
func (a *Allocator_t) checkForCombination(n *node) {
	if p := n.prev; p != nil && sameAttrs(p.region, n.region) {
		p.region.Size += n.region.Size
		p.next = n.next
		if n.next != nil {
			n.next.prev = p
		}
		n = p
	}
	if nx := n.next; nx != nil && sameAttrs(n.region, nx.region) {
		n.region.Size += nx.region.Size
		n.next = nx.next
		if nx.next != nil {
			nx.next.prev = n
		}
	}
}

// spliceBefore inserts fresh immediately before container in the list.
func spliceBefore(container, fresh *node) {
	fresh.prev = container.prev
	fresh.next = container
	if container.prev != nil {
		container.prev.next = fresh
	}
	container.prev = fresh
}

// spliceAfter inserts fresh immediately after container in the list.
func spliceAfter(container, fresh *node) {
	fresh.next = container.next
	fresh.prev = container
	if container.next != nil {
		container.next.prev = fresh
	}
	container.next = fresh
}

// insertRegionLocked splices region into the list, replacing or splitting
// whichever node currently contains its base address. freeRegionLocked
// checks the replaced portion's current state first (free_vma_region
// requires it already allocated; insert_vma_region does not care).
func (a *Allocator_t) insertRegionLocked(region Region_t) bool {
	return a.insertOrFree(region, false)
}

func (a *Allocator_t) freeRegionLocked(region Region_t) bool {
	return a.insertOrFree(region, true)
}

// insertOrFree implements both insert_vma_region and free_vma_region: they
// differ only in whether the container must already be allocated, and in
// what attributes the carved-out portion ends up with.
func (a *Allocator_t) insertOrFree(region Region_t, freeing bool) bool {
	container := a.findNode(region.Base)
	if container == nil {
		if freeing {
			return false
		}
		nd := a.allocNode(&region, false)
		if nd == nil {
			return false
		}
		nd.region = region
		nd.next = a.head
		if a.head != nil {
			a.head.prev = nd
		}
		a.head = nd
		a.checkForCombination(nd)
		return true
	}

	if freeing && !container.region.Allocated {
		return false
	}

	carved := region
	if freeing {
		carved.Allocated = false
		carved.Prot = paging.PROT_NONE
		carved.Owner = OwnedByAllocator
	}

	cbase, cend := container.region.Base, container.region.end()
	rbase, rend := region.Base, region.end()

	switch {
	case rbase == cbase && rend == cend:
		container.region.Allocated = carved.Allocated
		container.region.Prot = carved.Prot
		container.region.Owner = carved.Owner
		a.checkForCombination(container)

	case rbase == cbase:
		// region covers the head of container; container shrinks to the
		// tail remainder, carved is spliced before it.
		container.region.Base = rend
		container.region.Size -= region.Size
		nd := a.allocNode(&region, false)
		if nd == nil {
			return false
		}
		nd.region = carved
		spliceBefore(container, nd)
		if a.head == container {
			a.head = nd
		}
		a.checkForCombination(nd)

	case rend == cend:
		// region covers the tail of container; container shrinks to the
		// head remainder, carved is spliced after it.
		container.region.Size -= region.Size
		nd := a.allocNode(&region, false)
		if nd == nil {
			return false
		}
		nd.region = carved
		spliceAfter(container, nd)
		a.checkForCombination(nd)

	default:
		// region falls strictly inside container: split into head,
		// carved, tail.
		tail := Region_t{
			Base:      rend,
			Size:      uint64(cend - rend),
			Allocated: container.region.Allocated,
			Prot:      container.region.Prot,
			Owner:     container.region.Owner,
		}
		container.region.Size = uint64(rbase - cbase)

		tailNode := a.allocNode(&region, false)
		if tailNode == nil {
			return false
		}
		tailNode.region = tail
		spliceAfter(container, tailNode)

		midNode := a.allocNode(&region, false)
		if midNode == nil {
			return false
		}
		midNode.region = carved
		spliceAfter(container, midNode)
		a.checkForCombination(midNode)
	}

	return true
}

// findFreeRegionLocked performs a first-fit search for size bytes of free
// space with the requested protection, optionally allowed to grow into a
// region the caller is about to stop tracking (ignore).
func (a *Allocator_t) findFreeRegionLocked(size uint64, prot paging.Prot, ignore *Region_t) (Region_t, bool) {
	for n := a.head; n != nil; n = n.next {
		r := n.region
		isIgnored := ignore != nil && r.Base == ignore.Base && r.Size == ignore.Size
		avail := r.Size
		if isIgnored {
			avail += ignore.Size
		}
		if r.Allocated && !isIgnored {
			continue
		}
		if avail < size {
			continue
		}
		return Region_t{Base: r.Base, Size: size, Prot: prot}, true
	}
	return Region_t{}, false
}

// Allocate finds size bytes of free address space, maps them (to frames
// drawn from hintFrames if non-nil, otherwise freshly allocated), and marks
// the region allocated with prot. size must be page-aligned.
func (a *Allocator_t) Allocate(size uint64, prot paging.Prot, hintFrames []mem.Pa_t) (uintptr, defs.Err_t) {
	if size == 0 || size%uint64(mem.PGSIZE) != 0 {
		return 0, defs.EINVAL
	}
	a.Lock()
	defer a.Unlock()
	defer a.drainPending()

	region, ok := a.findFreeRegionLocked(size, prot, nil)
	if !ok {
		return 0, defs.ENOMEM
	}

	owner := OwnedByAllocator
	if hintFrames != nil {
		owner = OwnedExternally
	}

	npages := int(size) / mem.PGSIZE
	mapped := 0
	for i := 0; i < npages; i++ {
		vaddr := region.Base + uintptr(i*mem.PGSIZE)
		var frame mem.Pa_t
		if hintFrames != nil {
			frame = hintFrames[i]
		} else {
			f, ok := mem.Physmem.AllocPage(0, false)
			if !ok {
				break
			}
			frame = f
		}
		if err := paging.MapPage(a.pml4, vaddr, frame); err != nil {
			if hintFrames == nil {
				mem.Physmem.FreePage(frame)
			}
			break
		}
		_ = paging.SetPtePermissions(a.pml4, vaddr, prot)
		mapped++
	}

	if mapped != npages {
		for j := 0; j < mapped; j++ {
			vaddr := region.Base + uintptr(j*mem.PGSIZE)
			frame, ok := paging.GetPhysicalAddress(a.pml4, vaddr)
			paging.UnmapPage(a.pml4, vaddr)
			if ok && hintFrames == nil {
				mem.Physmem.FreePage(frame & mem.PGMASK)
			}
		}
		return 0, defs.ENOMEM
	}

	region.Allocated = true
	region.Owner = owner
	if !a.insertRegionLocked(region) {
		return 0, defs.ENOMEM
	}
	return region.Base, 0
}

// Free unmaps and, for allocator-owned regions, frees the frames backing
// [addr, addr+size), and marks the range free in the list. size must be
// page-aligned. Frames belonging to OwnedExternally regions are left for
// their original owner to manage, resolving the ownership ambiguity the
// source's unconditional free left implicit.
func (a *Allocator_t) Free(addr uintptr, size uint64) defs.Err_t {
	if size == 0 || size%uint64(mem.PGSIZE) != 0 {
		return defs.EINVAL
	}
	a.Lock()
	defer a.Unlock()
	defer a.drainPending()

	n := a.findNode(addr)
	var owner Owner = OwnedByAllocator
	if n != nil {
		owner = n.region.Owner
	}

	region := Region_t{Base: addr, Size: size}
	if !a.freeRegionLocked(region) {
		return defs.EINVAL
	}

	npages := int(size) / mem.PGSIZE
	for i := 0; i < npages; i++ {
		vaddr := addr + uintptr(i*mem.PGSIZE)
		frame, ok := paging.GetPhysicalAddress(a.pml4, vaddr)
		paging.UnmapPage(a.pml4, vaddr)
		if ok && owner == OwnedByAllocator {
			mem.Physmem.FreePage(frame & mem.PGMASK)
		}
	}
	return 0
}

// Lookup reports the region covering addr, if any, for diagnostics and
// tests.
func (a *Allocator_t) Lookup(addr uintptr) (Region_t, bool) {
	a.Lock()
	defer a.Unlock()
	n := a.findNode(addr)
	if n == nil {
		return Region_t{}, false
	}
	return n.region, true
}

// Regions returns every region in address order, for diagnostics and tests.
func (a *Allocator_t) Regions() []Region_t {
	a.Lock()
	defer a.Unlock()
	var out []Region_t
	for n := a.head; n != nil; n = n.next {
		out = append(out, n.region)
	}
	return out
}
