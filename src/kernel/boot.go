// Package kernel wires C1-C11 together into the boot sequence: physical
// allocator bring-up, the kernel's own virtual address space, the
// scheduler's kernel process and its idle/cleanup threads, and the first
// user process's exec. Grounded on the control-flow paragraph of §2
// (C2 initialized from the memory map -> C3's root table adopted -> C4
// bootstrapped from C2's bitmap region and the kernel image -> once C5 is
// live, C8 creates the kernel process and idle/cleanup threads -> timer
// ticks drive preemption) and on other_examples' kernel-main.go, whose
// main() walks exactly this sequence (phys_init, dmap_init, the scheduler
// bring-up, then an exec("bin/init", nil) that blocks forever) for a
// teacher retrieval copy that otherwise ships no main.go of its own
// (biscuit/src/kernel only has chentry.go, the ELF entry-patching tool
// kept separately as the chentry command in module kbuild).
package kernel

import (
	"context"
	"time"
	"unsafe"

	"bootcfg"
	"defs"
	"hashtable"
	"limits"
	"mem"
	"paging"
	"sched"
	"vmm"
)

// kernelVasBase/-Size describe the slice of the kernel's own half of the
// address space this package's virtual allocator tracks: everything
// between the end of the direct map and the end of kernel space, per
// mem.VDIRECT/mem.VEND. The direct map itself and the one user PML4 slot
// (mem.VUSER) are not tracked by this allocator; they are populated (or,
// for VUSER, left for each process's own AddressSpace) outside it.
const (
	kernelVasBase = uintptr((mem.VDIRECT + 1) << 39)
	kernelVasSize = uint64(mem.VEND-mem.VDIRECT-1) << 39
)

// sideTableBuckets sizes the spaces/entries hash tables; generous enough
// for this kernel's own modest process population (limits.Syslimit's own
// default Sysprocs ceiling) without needing to grow.
const sideTableBuckets = 256

// Kernel_t holds the live state the boot sequence assembles: the kernel's
// own page table root and virtual allocator, plus a side table of every
// process's user address space. The side table exists for the same reason
// package sig keeps one keyed on *sched.Tcb_t instead of widening Tcb_t
// with a sig-specific field: sched.Process_t has no business importing
// vmm, so the mapping from pid to address space lives here instead, one
// layer up, where both packages are already in scope. Both side tables
// are package hashtable's sharded, lock-free-read map rather than a bare
// Go map guarded by a mutex: spaces is keyed by defs.Pid_t (an int), and
// entries by a *sched.Tcb_t's address as a uintptr.
type Kernel_t struct {
	Config bootcfg.Config

	KernelPml4 mem.Pa_t
	Kvas       *vmm.Allocator_t

	IdleTask    *sched.Tcb_t
	CleanupTask *sched.Tcb_t

	spaces  *hashtable.Hashtable_t
	entries *hashtable.Hashtable_t
}

// entryPoint is the initial register state a freshly exec'd thread needs:
// where to start executing and what stack to start it on. The real
// context-switch path that would consume this is machine-specific
// assembly out of this package's scope, the same boundary sched draws
// around switchTaskFunc; recording it here is what exec can do without
// that assembly existing yet.
type entryPoint struct {
	rip uintptr
	rsp uintptr
}

// entryKey turns a *sched.Tcb_t into the uintptr hashtable's Get/Set/Del
// key the entries table uses: the tcb's own address, stable for its
// entire lifetime since a live Tcb_t is never moved or copied.
func entryKey(t *sched.Tcb_t) uintptr {
	return uintptr(unsafe.Pointer(t))
}

// BootstrapPhysAllocator seeds mem.Physmem from the boot memory map (C1
// backing C2). The bitmap is sized to cover every frame the map mentions,
// reversed-bit per the physical allocator's layout (§ SUPPLEMENTED
// FEATURES), then mem.ParseMemoryMapToBitmap marks every byte range not
// tagged Available as reserved. Unlike original_source's
// physical_allocator::init, there is no separate early-bitmap/temp-mapping
// dance to seed the real bitmap's own backing storage: mem.MkBitmap takes
// plain Go-owned words rather than bytes of a physical page, so the
// chicken-and-egg problem that dance solves in C++ does not arise here.
func BootstrapPhysAllocator(info bootcfg.BootInfo) {
	var top uint64
	for _, e := range info.MemoryMap {
		if end := uint64(e.Base) + e.Size; end > top {
			top = end
		}
	}
	nframes := int(top / uint64(mem.PGSIZE))
	words := make([]uint64, (nframes+63)/64)
	bm := mem.MkBitmap(words, nframes, true)
	mem.ParseMemoryMapToBitmap(info.MemoryMap, bm)
	mem.Physmem.InitFromBitmap(bm, 0)
}

// bootstrapKernelVas creates the kernel's own virtual allocator, seeded
// with a single free region spanning kernelVasBase/-Size and the loaded
// kernel image reserved out of it up front, mirroring
// virtual_allocator::init's own seeding from the physical allocator's
// bitmap region and the kernel image. Only the kernel image is reserved
// here: the bitmap's words are Go-owned memory with no region of their
// own, and the early-console reservation the original also performs has
// no home here (the console is out of scope, §1).
func bootstrapKernelVas(kernelPml4 mem.Pa_t, info bootcfg.BootInfo) *vmm.Allocator_t {
	kvas := vmm.New(kernelPml4)
	var reserved []vmm.Region_t
	if info.Module.Size > 0 {
		reserved = append(reserved, vmm.Region_t{
			Base:      info.Module.Start,
			Size:      info.Module.Size,
			Allocated: true,
			Prot:      paging.PROT_READ | paging.PROT_WRITE | paging.PROT_EXEC,
			Owner:     vmm.OwnedExternally,
		})
	}
	kvas.Init(kernelVasBase, kernelVasSize, reserved)
	return kvas
}

// kernelStackSize mirrors sched's own unexported defaultKernelStackSize:
// CreateKernelThread already stamps a new Tcb_t's KernelStackSize with
// that constant, so kernel only needs to agree on the number to back it
// with real pages, not duplicate the field-setting.
const kernelStackSize = 0x800000

// allocKernelStack backs t's kernel stack with real pages from Kvas and
// records the base, so RunCleanupLoop's teardown has something to free.
// Consults limits.Syslimit.Kstacks first, the same ceiling Fork checks on
// limits.Syslimit.Sysprocs, since a multi-threaded process can exhaust
// kernel-stack-backed VMA space faster than it exhausts its own process
// count.
func (k *Kernel_t) allocKernelStack(t *sched.Tcb_t) defs.Err_t {
	if !limits.Syslimit.Kstacks.Take() {
		return defs.ENOMEM
	}
	base, err := k.Kvas.Allocate(t.KernelStackSize, paging.PROT_READ|paging.PROT_WRITE, nil)
	if err != 0 {
		limits.Syslimit.Kstacks.Give()
		return err
	}
	t.KernelStackBase = base
	return 0
}

// Boot runs the init sequence: C2 from the memory map, C3's root table is
// simply kernelPml4 (handed off already adopted, per §6's boot-handoff
// contract), C4 bootstrapped over the kernel's own range, then C8's
// kernel process plus its idle and cleanup threads. Heap bring-up (C5) is
// the external, interface-only collaborator §2 describes it as; nothing
// in this sequence depends on it being anything more than "live" by the
// time user code runs.
func Boot(info bootcfg.BootInfo, kernelPml4 mem.Pa_t) (*Kernel_t, defs.Err_t) {
	cfg := bootcfg.ParseCommandLine(info.CommandLine)

	BootstrapPhysAllocator(info)
	kvas := bootstrapKernelVas(kernelPml4, info)

	sched.Sched.Init(kernelPml4, cfg.TicksPerMs, cfg.MaxTimeSliceMs)

	k := &Kernel_t{
		Config:     cfg,
		KernelPml4: kernelPml4,
		Kvas:       kvas,
		spaces:     hashtable.MkHash(sideTableBuckets),
		entries:    hashtable.MkHash(sideTableBuckets),
	}

	k.IdleTask = sched.Sched.CreateKernelThread(defs.IdlePriority, false)
	if err := k.allocKernelStack(k.IdleTask); err != 0 {
		return nil, err
	}
	k.CleanupTask = sched.Sched.CreateKernelThread(defs.MaxPriority, true)
	if err := k.allocKernelStack(k.CleanupTask); err != 0 {
		return nil, err
	}

	return k, 0
}

// RunCleanupLoop drains killed tasks until ctx is cancelled, freeing each
// dead thread's kernel stack. Grounded on scheduler::tasks_clean_task;
// run as a goroutine the way other_examples' kernel-main.go runs its own
// background maintenance work (benchmark timer, limit-hit logger) as
// plain goroutines rather than tasks the core scheduler itself dispatches.
func (k *Kernel_t) RunCleanupLoop(ctx context.Context, interval time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := sched.Sched.ReapKilledTasks(ctx, k.teardownTask); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// teardownTask frees a killed thread's kernel stack VMA. Notifying the
// parent and recording exit status already happened in sched.Exit, before
// the task was ever queued for reaping; this is only the per-thread
// resource that sched itself has no business freeing, since doing so
// needs Kvas.
func (k *Kernel_t) teardownTask(t *sched.Tcb_t) error {
	if t.KernelStackSize > 0 {
		_ = k.Kvas.Free(t.KernelStackBase, t.KernelStackSize)
		limits.Syslimit.Kstacks.Give()
	}
	if _, ok := k.entries.Get(entryKey(t)); ok {
		k.entries.Del(entryKey(t))
	}
	return nil
}

// Idle blocks forever, matching other_examples' kernel-main.go's own
// `var dur chan bool; <-dur` after its exec of bin/init: once the
// scheduler is ticking, the boot goroutine itself has nothing further to
// do.
func (k *Kernel_t) Idle() {
	var block chan struct{}
	<-block
}
