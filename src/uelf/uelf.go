// Package uelf implements the user ELF loader (C11): it turns an open
// ET_EXEC binary into the segment list and entry address the scheduler's
// exec path maps into a fresh address space. Grounded on
// original_source/kernel/elf_file.cpp and its header
// include/kernel/elf_file.h.
package uelf

import (
	"encoding/binary"

	"defs"
	"paging"
)

const (
	ehdrSize = 64
	phdrSize = 56

	elfClass64  = 2
	elfMachine  = 0x3e // EM_X86_64
	elfTypeExec = 2    // ET_EXEC
	ptLoad      = 1

	pfExec  = 1 << 0
	pfWrite = 1 << 1
	pfRead  = 1 << 2
)

var elfMagic = [4]byte{0x7f, 'E', 'L', 'F'}

// FileReader is the minimal surface Parse needs from an open file: random
// access reads at arbitrary offsets. This tree has no file descriptor or
// virtual filesystem package, so this package defines its own interface,
// matching io.ReaderAt's (buf, offset) convention so any file-backed
// reader can satisfy it without adapting its shape.
type FileReader interface {
	ReadAt(buf []byte, offset int64) (int, defs.Err_t)
}

// Segment is one PT_LOAD mapping: the virtual address it belongs at, its
// file-backed-then-zero-padded contents, and the protection the scheduler's
// exec path should map it with.
type Segment struct {
	VirtualAddress uintptr
	Data           []byte
	Protection     paging.Prot
}

// File is a parsed executable: its entry point and the segments to map
// before transferring control there.
type File struct {
	EntryAddress uintptr
	Segments     []Segment
}

// Parse reads and validates an ELF64 ET_EXEC header from r, then reads
// every PT_LOAD program header into a Segment. A PT_LOAD's bytes beyond
// p_filesz (the un-backed tail of a larger p_memsz, e.g. the zero-fill of
// .bss) are left at their zero value since Data is allocated fresh.
func Parse(r FileReader) (*File, defs.Err_t) {
	var hdr [ehdrSize]byte
	if n, err := r.ReadAt(hdr[:], 0); err != 0 || n != ehdrSize {
		if err != 0 {
			return nil, err
		}
		return nil, defs.ENOEXEC
	}

	if [4]byte(hdr[0:4]) != elfMagic || hdr[4] != elfClass64 {
		return nil, defs.ENOEXEC
	}
	etype := binary.LittleEndian.Uint16(hdr[16:18])
	emachine := binary.LittleEndian.Uint16(hdr[18:20])
	if etype != elfTypeExec || emachine != elfMachine {
		return nil, defs.ENOEXEC
	}

	entry := binary.LittleEndian.Uint64(hdr[24:32])
	phoff := binary.LittleEndian.Uint64(hdr[32:40])
	phentsize := binary.LittleEndian.Uint16(hdr[54:56])
	phnum := binary.LittleEndian.Uint16(hdr[56:58])
	if phnum == 0 {
		return nil, defs.ENOEXEC
	}

	f := &File{EntryAddress: uintptr(entry)}
	for i := uint16(0); i < phnum; i++ {
		off := int64(phoff) + int64(i)*int64(phentsize)
		var phdr [phdrSize]byte
		if n, err := r.ReadAt(phdr[:], off); err != 0 || n != phdrSize {
			if err != 0 {
				return nil, err
			}
			return nil, defs.ENOEXEC
		}

		ptype := binary.LittleEndian.Uint32(phdr[0:4])
		if ptype != ptLoad {
			continue
		}

		pflags := binary.LittleEndian.Uint32(phdr[4:8])
		pOffset := binary.LittleEndian.Uint64(phdr[8:16])
		pVaddr := binary.LittleEndian.Uint64(phdr[16:24])
		pFilesz := binary.LittleEndian.Uint64(phdr[32:40])
		pMemsz := binary.LittleEndian.Uint64(phdr[40:48])

		seg := Segment{
			VirtualAddress: uintptr(pVaddr),
			Data:           make([]byte, pMemsz),
			Protection:     protectionOf(pflags),
		}
		if pFilesz > 0 {
			if n, err := r.ReadAt(seg.Data[:pFilesz], int64(pOffset)); err != 0 || uint64(n) != pFilesz {
				if err != 0 {
					return nil, err
				}
				return nil, defs.ENOEXEC
			}
		}

		f.Segments = append(f.Segments, seg)
	}

	return f, 0
}

func protectionOf(flags uint32) paging.Prot {
	var p paging.Prot
	if flags&pfRead != 0 {
		p |= paging.PROT_READ
	}
	if flags&pfWrite != 0 {
		p |= paging.PROT_WRITE
	}
	if flags&pfExec != 0 {
		p |= paging.PROT_EXEC
	}
	return p
}
