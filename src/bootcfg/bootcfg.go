// Package bootcfg reduces the boot handoff into typed configuration: the
// BootInfo record (§6 External Interfaces) and the kernel command-line
// string parsed into flags. Grounded on the teacher's
// biscuit/scripts/features.go in spirit only, not in code: that file's
// habit of resolving a handful of small typed settings once, up front,
// from a flat input, rather than scattering ad-hoc parsing across the
// packages that consume the settings.
package bootcfg

import (
	"strconv"
	"strings"

	"mem"
)

// Multiboot2Magic is the loader magic value the kernel entry point must
// see in a register before trusting the info pointer.
const Multiboot2Magic uint32 = 0x36d76289

// MaxMemoryMapEntries bounds the reduced memory map's length.
const MaxMemoryMapEntries = 30

// KernelModule describes the loaded kernel image handed off by the boot
// loader.
type KernelModule struct {
	Start uintptr
	Size  uint64
}

// Framebuffer describes the boot-time linear framebuffer, if any. The
// console that would draw to it is out of scope; only the geometry is
// carried through in case a future console wants it.
type Framebuffer struct {
	Addr   uintptr
	Pitch  uint32
	Width  uint32
	Height uint32
	Bpp    uint8
}

// BootInfo is the reduced record the (out-of-scope) multiboot2 tag parser
// hands to kernel entry: kernel module location, a bounded memory map,
// framebuffer geometry, the TSS address, and the raw command line.
type BootInfo struct {
	Module      KernelModule
	MemoryMap   []mem.MemMapEntry
	Framebuffer Framebuffer
	TSSAddress  uintptr
	CommandLine string
}

// ValidateMagic reports whether magic is the multiboot2 loader magic
// kernel entry requires before trusting the info pointer.
func ValidateMagic(magic uint32) bool {
	return magic == Multiboot2Magic
}

// ValidateInfoPointer reports whether ptr satisfies the 8-byte alignment
// the boot info pointer must have.
func ValidateInfoPointer(ptr uintptr) bool {
	return ptr%8 == 0
}

// Config is the kernel command line resolved into the handful of typed
// settings the core consults.
type Config struct {
	// MemDebug enables the physical and virtual allocators' verbose
	// status printing (the line mem.Physmem.InitFromBitmap already emits
	// unconditionally at bring-up; vmm.Allocator_t.Init prints nothing.
	// MemDebug gates any *additional* per-allocation tracing a caller
	// wires against it).
	MemDebug bool

	// InitPath is the path of the first process exec'd once the
	// scheduler is live, defaulting to "bin/init" as the reference
	// kernel's own entry sequence does.
	InitPath string

	// TicksPerMs and MaxTimeSliceMs feed sched.Scheduler_t.Init
	// directly; a debug command line can shrink the time slice to
	// exercise preemption more often.
	TicksPerMs     uint64
	MaxTimeSliceMs uint64
}

// defaultConfig matches the reference kernel's own hardcoded bring-up
// constants (other_examples' kernel-main.go calls exec("bin/init", nil)
// with no command-line override).
func defaultConfig() Config {
	return Config{
		MemDebug:       false,
		InitPath:       "bin/init",
		TicksPerMs:     1,
		MaxTimeSliceMs: 10,
	}
}

// ParseCommandLine resolves the raw kernel command line into a Config,
// starting from defaultConfig and overriding one field per recognized
// "key=value" or bare "key" token, space-separated.
func ParseCommandLine(cmdline string) Config {
	cfg := defaultConfig()
	for _, tok := range strings.Fields(cmdline) {
		key, value, hasValue := strings.Cut(tok, "=")
		switch key {
		case "mem_debug":
			cfg.MemDebug = true
		case "init":
			if hasValue && value != "" {
				cfg.InitPath = value
			}
		case "ticks_per_ms":
			if n, err := strconv.ParseUint(value, 10, 64); hasValue && err == nil && n > 0 {
				cfg.TicksPerMs = n
			}
		case "max_slice_ms":
			if n, err := strconv.ParseUint(value, 10, 64); hasValue && err == nil && n > 0 {
				cfg.MaxTimeSliceMs = n
			}
		}
	}
	return cfg
}
