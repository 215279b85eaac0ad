package sig

import "defs"

// InterruptFrame is the portable view of a trap frame that signal
// delivery needs to touch. Grounded directly on spec.md's syscall ABI
// (§6: rax = syscall number, args in rdx/rdi/rsi/r10, vector 128 DPL=3)
// and signal-handler invocation contract (§6: rdi = signum; rsi/rdx carry
// &siginfo/&ucontext under SA_SIGINFO) — no interrupt_frame struct
// definition survived retrieval from original_source, only a forward
// declaration (`struct interrupt_frame *frame`) in
// exception_interrupt_handler.h, so this shape is built from the spec's
// prose ABI description rather than a literal translation. The rest of a
// real trap frame (segment selectors, callee-saved registers, error code)
// is out of this package's concern and is left untouched by everything
// here.
type InterruptFrame struct {
	Rip    uintptr
	Rsp    uintptr
	Rflags uint64

	Rdi uint64 // handler arg 0: signum
	Rsi uint64 // handler arg 1: &siginfo, under SA_SIGINFO
	Rdx uint64 // handler arg 2: &ucontext, reserved, may be zero

	Rax uint64 // syscall return value slot; patched for RESTART
}

// UserStackWriter pushes bytes onto a process's user stack during frame
// rewrite. Signal delivery only needs to push, never to know how user
// memory is actually mapped, so a real kernel backs this with uaccess and
// a hosted test backs it with an in-memory fake — the same capability-
// record indirection the teacher uses for driver/filesystem base
// interfaces, generalized here to one method.
type UserStackWriter interface {
	// Push writes buf below sp (stack grows down) and returns the new
	// stack pointer, sp minus len(buf).
	Push(sp uintptr, buf []byte) (uintptr, defs.Err_t)
}
