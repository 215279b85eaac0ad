package kernel

import (
	"defs"
	"mem"
	"paging"
	"sched"
	"uaccess"
	"uelf"
)

// userStackSize is the kernel-chosen size of a freshly exec'd process's
// initial stack. Nothing in spec.md or original_source fixes a number;
// picked generously enough for a small init program's own frames.
const userStackSize = 8 * uint64(mem.PGSIZE)

// userStackTop places the initial stack partway into the one user PML4
// slot, away from the low addresses a linked ET_EXEC image occupies.
var userStackTop = uintptr(mem.USERMIN) + uintptr(1)<<38

func pageRoundUp(n uint64) uint64 {
	m := uint64(mem.PGSIZE)
	return (n + m - 1) &^ (m - 1)
}

// ExecImage maps every PT_LOAD segment of file into space at its linked
// virtual address (C11 feeding C4 directly, as §2's control-flow
// paragraph and §4.9 describe), temporarily mapped writable to receive
// the segment's bytes and then, for segments the ELF header doesn't mark
// writable, downgraded to their real protection. Segment virtual
// addresses and sizes are assumed page-aligned, true of any binary linked
// for this kernel's own loader.
func (k *Kernel_t) ExecImage(space *AddressSpace, file *uelf.File) defs.Err_t {
	uv := uaccess.New(space.Pml4, space.Vas)
	for _, seg := range file.Segments {
		size := pageRoundUp(uint64(len(seg.Data)))
		if size == 0 {
			continue
		}
		if err := space.Vas.AllocateAt(seg.VirtualAddress, size, seg.Protection|paging.PROT_WRITE); err != 0 {
			return err
		}
		if _, err := uv.CopyOut(seg.VirtualAddress, seg.Data); err != 0 {
			return err
		}
		if seg.Protection&paging.PROT_WRITE == 0 {
			for off := uint64(0); off < size; off += uint64(mem.PGSIZE) {
				_ = paging.SetPtePermissions(space.Pml4, seg.VirtualAddress+uintptr(off), seg.Protection)
			}
		}
	}
	return 0
}

// ExecInit parses image as an ET_EXEC binary, builds it a fresh address
// space and user stack, forks it as a child of the kernel process (pid 0)
// the way other_examples' kernel-main.go execs "bin/init" as the very
// first user process, and records its entry point for the (out-of-scope,
// assembly-level) context switch to consume the first time it runs this
// thread.
func (k *Kernel_t) ExecInit(path string, image uelf.FileReader) (*sched.Process_t, defs.Err_t) {
	kernelProc, ok := sched.Sched.GetProcess(0)
	if !ok {
		panic("kernel process not initialized; call Boot first")
	}

	file, err := uelf.Parse(image)
	if err != 0 {
		return nil, err
	}

	space, err := k.NewUserAddressSpace()
	if err != 0 {
		return nil, err
	}
	if err := k.ExecImage(space, file); err != 0 {
		return nil, err
	}
	if err := space.Vas.AllocateAt(userStackTop, userStackSize, paging.PROT_READ|paging.PROT_WRITE); err != 0 {
		return nil, err
	}
	sp := userStackTop + uintptr(userStackSize)

	proc, ferr := sched.Sched.Fork(kernelProc, space.Pml4)
	if ferr != 0 {
		return nil, ferr
	}
	proc.Name = path

	k.spaces.Set(int(proc.Pid), space)

	if threads := sched.Sched.ThreadsForProcess(proc.Pid); len(threads) == 1 {
		t := threads[0]
		t.KernelStackSize = kernelStackSize
		if err := k.allocKernelStack(t); err != 0 {
			return proc, err
		}
		k.entries.Set(entryKey(t), entryPoint{rip: file.EntryAddress, rsp: sp})
	}

	return proc, 0
}

// AddressSpaceFor returns the address space the kernel orchestrator built
// for pid, if any, from the same pid-keyed side table ExecInit fills, so
// a caller needs no pid-to-space bookkeeping of its own.
func (k *Kernel_t) AddressSpaceFor(pid defs.Pid_t) (*AddressSpace, bool) {
	v, ok := k.spaces.Get(int(pid))
	if !ok {
		return nil, false
	}
	return v.(*AddressSpace), true
}
