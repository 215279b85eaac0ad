// Package sched implements the priority-based preemptive scheduler (C7/C8),
// its blocking primitives (task wait queue, mutex, condition variable, IRQ
// notifier), and the process/thread records they operate on. All of these
// live in one package because the wait-queue, mutex and condition-variable
// primitives call back into the scheduler (block/unblock/reschedule) and
// the scheduler calls into the wait queue when blocking a task — splitting
// them across packages would require an interface-injection layer the
// teacher and the source do not have; the source resolves exactly this
// with C++ friend classes and mutual header visibility, which a single Go
// package reproduces directly.
package sched

import "defs"

// State is a thread's scheduling state, mirroring influx::threading::
// thread_state.
type State int

const (
	Ready State = iota
	Running
	Blocked
	Sleeping
	WaitingForChild
	Killed
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Sleeping:
		return "sleeping"
	case WaitingForChild:
		return "waiting_for_child"
	case Killed:
		return "killed"
	default:
		return "unknown"
	}
}

// Tcb_t is a thread control block: one record per kernel-visible thread,
// linked into its per-priority ready ring and, while blocked on one, also
// into a wait queue's separate ring (see ringPrev/waitPrev). Grounded on
// influx::threading::thread plus the source's signal-delivery fields
// referenced throughout condition_variable.cpp/irq_notifier.cpp
// (signal_interruptible, signal_interrupted, reblock_after_isr) which the
// retrieved thread.h does not declare — the struct here is widened to
// match what the bodies actually read and write.
type Tcb_t struct {
	Tid defs.Tid_t
	Pid defs.Pid_t

	State    State
	Priority int
	Quantum  uint64

	SignalMask          uint64
	PendingSignals      uint64
	SignalInterruptible bool
	SignalInterrupted   bool
	ReblockAfterIsr     bool

	// CurrentSig is the signal number currently being delivered (0 if
	// none), set by package sig around a handler invocation so a nested
	// delivery check or a RESTART decision can tell whether dispatch was
	// interrupted partway through. The saved interrupt frame itself is
	// machine-specific and lives in package sig's own side-table, keyed
	// on this tcb, rather than widening this struct with a sig-package
	// type and risking an import cycle.
	CurrentSig uint64

	// KernelStackBase/Size describe the task's owned kernel stack VMA
	// region, freed when the task is reaped.
	KernelStackBase uintptr
	KernelStackSize uint64

	// waitQueue is the task_wait_queue currently holding this tcb, if
	// any. Used by remove_task to confirm a task is still where a
	// canceller expects.
	waitQueue *TaskWaitQueue_t

	// ringPrev/ringNext link this tcb into its priority-level ready
	// ring; waitPrev/waitNext separately link it into a task_wait_queue
	// node. The source keeps these independent too (the priority ring
	// links thread structs directly, the wait queue wraps tcb* in its
	// own node<tcb*>), so blocking a task on a wait queue never disturbs
	// its place in the priority ring it is skipped-but-still-linked-in.
	ringPrev, ringNext *Tcb_t
	waitPrev, waitNext *Tcb_t
}
