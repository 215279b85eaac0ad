// Package uaccess gives kernel code safe access to a process's user
// memory: copying bytes in and out, reading small fixed-width values, and
// pushing frames onto a user stack during signal delivery. Grounded on
// vm.Vm_t's Userdmap8_inner/Userreadn/Userwriten/Userstr/K2user/User2k
// family (biscuit/src/vm/as.go), narrowed to this spec's eager-mapping
// model: no demand paging of user memory and no copy-on-write fork means
// every allocated region is already backed by present frames, so a
// translation miss is always a permission fault, never an allocation
// opportunity the way Sys_pgfault treats it in the source.
package uaccess

import (
	"encoding/binary"

	"defs"
	"mem"
	"paging"
	"vmm"
)

// RegionLookup is the slice of vmm.Allocator_t's surface Space needs.
// *vmm.Allocator_t satisfies it directly; hosted tests substitute an
// in-memory fake instead of exercising the real allocator's page-mapping
// bootstrap, which needs a live direct map this package cannot fake at
// that layer.
type RegionLookup interface {
	Lookup(addr uintptr) (vmm.Region_t, bool)
}

// physOf resolves a user virtual address to a physical address through the
// live page tables. A var so hosted tests can substitute a deterministic
// mapping instead of walking real, hardware-backed page tables — the same
// seam kfmt's sink, kpanic's halt, and sched's switchTaskFunc draw around
// their own hardware-facing calls.
var physOf = paging.GetPhysicalAddress

// pageBytes maps a physical address to its byte contents via the direct
// map. A var for the same reason; tests substitute an in-memory page.
var pageBytes = mem.Dmaplen

// Space gives kernel code access to one process's user memory: its page
// table root and the region list describing what is mapped and with what
// permissions.
type Space struct {
	pml4    mem.Pa_t
	regions RegionLookup
}

// New wraps a process's page tables and user-region list for uaccess use.
func New(pml4 mem.Pa_t, regions RegionLookup) *Space {
	return &Space{pml4: pml4, regions: regions}
}

// translate returns the kernel-addressable bytes of the page containing va,
// from va's offset in that page to the page's end, after checking va is
// mapped with the permission the access needs. Grounded on
// Userdmap8_inner, minus its page-fault path: this spec has no demand
// paging of user memory, so an unmapped or under-permissioned address is
// simply a fault.
func (s *Space) translate(va uintptr, write bool) ([]byte, defs.Err_t) {
	region, ok := s.regions.Lookup(va)
	if !ok || !region.Allocated {
		return nil, defs.EFAULT
	}
	if write && region.Prot&paging.PROT_WRITE == 0 {
		return nil, defs.EFAULT
	}
	if !write && region.Prot&paging.PROT_READ == 0 {
		return nil, defs.EFAULT
	}

	phys, ok := physOf(s.pml4, va)
	if !ok {
		return nil, defs.EFAULT
	}
	avail := mem.PGSIZE - int(va%uintptr(mem.PGSIZE))
	return pageBytes(phys, avail), 0
}

// CopyIn copies len(dst) bytes from user address uva into dst, crossing
// page boundaries as needed. Grounded on User2k/User2k_inner.
func (s *Space) CopyIn(uva uintptr, dst []byte) (int, defs.Err_t) {
	n := 0
	for len(dst) != 0 {
		src, err := s.translate(uva+uintptr(n), false)
		if err != 0 {
			return n, err
		}
		c := copy(dst, src)
		dst = dst[c:]
		n += c
	}
	return n, 0
}

// CopyOut copies src into user memory starting at uva, crossing page
// boundaries as needed. Grounded on K2user/K2user_inner.
func (s *Space) CopyOut(uva uintptr, src []byte) (int, defs.Err_t) {
	n := 0
	for len(src) != 0 {
		dst, err := s.translate(uva+uintptr(n), true)
		if err != 0 {
			return n, err
		}
		c := copy(dst, src)
		src = src[c:]
		n += c
	}
	return n, 0
}

// ReadN reads an n-byte (n<=8) little-endian value from user address uva.
// Grounded on Userreadn/userreadn_inner, which assembles the value byte
// range by byte range the same way; here encoding/binary does the
// assembly once the bytes are copied in.
func (s *Space) ReadN(uva uintptr, n int) (uint64, defs.Err_t) {
	if n <= 0 || n > 8 {
		panic("bad n")
	}
	var buf [8]byte
	if _, err := s.CopyIn(uva, buf[:n]); err != 0 {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), 0
}

// WriteN writes the low n bytes (n<=8) of val to user address uva,
// little-endian. Grounded on Userwriten.
func (s *Space) WriteN(uva uintptr, n int, val uint64) defs.Err_t {
	if n <= 0 || n > 8 {
		panic("bad n")
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], val)
	_, err := s.CopyOut(uva, buf[:n])
	return err
}

// CopyInString copies a NUL-terminated string from user address uva, up to
// maxlen bytes. Grounded on Userstr, generalized to return a plain Go
// string instead of original_source's own ustr.Ustr representation, which
// is a fd/filesystem-path specific type this package has no reason to
// depend on.
func (s *Space) CopyInString(uva uintptr, maxlen int) (string, defs.Err_t) {
	if maxlen < 0 {
		return "", defs.EINVAL
	}
	var out []byte
	for len(out) < maxlen {
		page, err := s.translate(uva+uintptr(len(out)), false)
		if err != 0 {
			return "", err
		}
		for _, c := range page {
			if c == 0 {
				return string(out), 0
			}
			out = append(out, c)
			if len(out) >= maxlen {
				return "", defs.ENAMETOOLONG
			}
		}
	}
	return "", defs.ENAMETOOLONG
}

// Push writes buf just below sp (the stack grows down) and returns the new
// stack pointer, implementing sig.UserStackWriter for real user memory.
// No direct analog exists in as.go, which never assembles a signal-handler
// invocation frame in the retrieved source; it is built here directly atop
// CopyOut.
func (s *Space) Push(sp uintptr, buf []byte) (uintptr, defs.Err_t) {
	newSp := sp - uintptr(len(buf))
	if _, err := s.CopyOut(newSp, buf); err != 0 {
		return 0, err
	}
	return newSp, 0
}
