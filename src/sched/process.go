package sched

import (
	"accnt"
	"defs"
	"mem"
)

// Process_t is the per-process record: address space root, priority, and
// parent/child bookkeeping. Grounded on influx::threading::process;
// narrower than scheduler.h's add_file_descriptor/get_file_descriptor/
// update_file_descriptor surface, since a VFS/open-file layer is out of
// scope here (no [MODULE] in this spec names one) — those three methods
// would hang an open-file table off this struct the same way if a file
// layer were ever added.
type Process_t struct {
	Pid  defs.Pid_t
	Ppid defs.Pid_t

	Priority int
	System   bool

	Cr3 mem.Pa_t // physical address of this process's PML4
	Name string

	Children   []defs.Pid_t
	Exited     bool
	ExitStatus int

	// childExitMu/childExitCV implement wait_for_child's atomicity
	// w.r.t. a concurrent exit: Exit notifies childExitCV while holding
	// childExitMu's mutual exclusion over Children/Exited bookkeeping,
	// exactly the pattern Mutex/ConditionVariable compose for (§4.6).
	childExitMu Mutex
	childExitCV ConditionVariable

	// SignalActions holds one entry per signal number 1..NumSignals-1;
	// index 0 is unused, matching defs signal numbering starting at 1.
	SignalActions [defs.NumSignals]SignalAction

	// Accnt accumulates this process's user/system run time, credited one
	// tick at a time by TickHandler. A *accnt.Accnt_t rather than an
	// embedded value so Fork can share nothing and a fresh child starts
	// at zero without copying a live sync.Mutex.
	Accnt *accnt.Accnt_t
}

// SignalAction is a process-wide signal disposition: SIG_DFL, SIG_IGN, or
// a handler address plus flags, installed by sigaction and consulted by
// package sig at delivery time.
type SignalAction struct {
	Handler  uintptr
	Flags    uint64
	Mask     uint64
	Restorer uintptr
}

func newProcess(pid, ppid defs.Pid_t, priority int, system bool, cr3 mem.Pa_t, name string) *Process_t {
	return &Process_t{
		Pid:      pid,
		Ppid:     ppid,
		Priority: priority,
		System:   system,
		Cr3:      cr3,
		Name:     name,
		Accnt:    &accnt.Accnt_t{},
	}
}
