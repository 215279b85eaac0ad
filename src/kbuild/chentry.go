// Command chentry patches the entry address of the kernel's ELF image.
//
// The bootloader hands control to a fixed physical address; the link step
// can't know that address until the image layout is final, so chentry runs
// as a post-link step and rewrites e_entry in place. It mmaps the file
// instead of reading it whole and writing it back, since the image can be
// tens of megabytes and only the ELF header changes.
package main

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

func usage(me string) {
	fmt.Printf("%s <filename> <addr>\n\nChange the ELF entry point of <filename> to <addr>\n", me)
	os.Exit(1)
}

func chkELF(eh *elf.FileHeader) {
	if eh.Ident[0] != 0x7f || string(eh.Ident[1:4]) != "ELF" {
		log.Fatal("not an elf")
	}
	if eh.Ident[elf.EI_DATA] != elf.ELFDATA2LSB {
		log.Fatal("not little-endian?")
	}
	if eh.Type != elf.ET_EXEC {
		log.Fatal("not an executable elf")
	}
	if eh.Machine != elf.EM_X86_64 {
		log.Fatal("not a 64 bit elf")
	}
}

func main() {
	if len(os.Args) != 3 {
		usage(os.Args[0])
	}
	fn := os.Args[1]
	addr, err := parseAddr(os.Args[2])
	if err != nil {
		log.Fatal(err)
	}
	if addr>>32 != 0 {
		log.Fatal("entry is 64bit pointer; bootloader will perish")
	}

	f, err := os.OpenFile(fn, os.O_RDWR, 0)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	ef, err := elf.NewFile(f)
	if err != nil {
		log.Fatal(err)
	}
	chkELF(&ef.FileHeader)

	fi, err := f.Stat()
	if err != nil {
		log.Fatal(err)
	}

	m, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		log.Fatal(err)
	}
	defer unix.Munmap(m)

	fmt.Printf("using address 0x%x\n", addr)
	ef.FileHeader.Entry = addr

	if err := patchEntry(m, &ef.FileHeader); err != nil {
		log.Fatal(err)
	}
	if err := unix.Msync(m, unix.MS_SYNC); err != nil {
		log.Fatal(err)
	}
}

// patchEntry rewrites the e_entry field of an in-memory ELF64 header in
// place, leaving every other byte of the mapping untouched.
func patchEntry(m []byte, eh *elf.FileHeader) error {
	if len(m) < 64 {
		return fmt.Errorf("file too small to hold an elf64 header")
	}
	var order binary.ByteOrder = binary.LittleEndian
	order.PutUint64(m[24:32], eh.Entry)
	return nil
}

// parseAddr parses addr the way C's strtoul(s, nil, 0) would: decimal
// unless the string carries a 0x/0 prefix.
func parseAddr(s string) (uint64, error) {
	a, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return a, nil
}
