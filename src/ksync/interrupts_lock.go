package ksync

import "sync/atomic"

// rflagsIF is bit 9 of RFLAGS, the maskable-interrupt-enable flag.
const rflagsIF = 1 << 9

func cliAsm()
func stiAsm()
func readflagsAsm() uint64

// InterruptsLock_t is a nesting-aware cli/sti guard: the outermost Lock
// disables interrupts and remembers whether they were enabled beforehand;
// only the matching outermost Unlock restores them. Grounded on
// influx::threading::interrupts_lock's RAII lock/unlock pair, generalized
// to count nesting depth (the source does not nest; spec.md's contract
// requires it so a signal-delivery path can safely lock inside a section
// a scheduler routine already locked).
//
// This holds process-wide state rather than per-instance state, matching
// the single-CPU, single-flow-of-control assumption the rest of the
// package depends on (Non-goals rule out SMP and per-CPU runqueues).
type InterruptsLock_t struct{}

var (
	depth   int32
	savedIF bool
)

// Lock disables interrupts, nesting safely: only the first Lock call in a
// nested sequence records whether interrupts were enabled.
func (InterruptsLock_t) Lock() {
	flags := readflagsAsm()
	cliAsm()
	pushDepth(flags&rflagsIF != 0)
}

// Unlock re-enables interrupts only once the outermost Lock's matching
// Unlock is reached, and only if they were enabled before that Lock.
func (InterruptsLock_t) Unlock() {
	if popDepth() {
		stiAsm()
	}
}

// pushDepth records one more level of nesting, remembering wasEnabled only
// when it is the outermost push. Split out from Lock so the nesting
// bookkeeping can be tested without executing a privileged CLI.
func pushDepth(wasEnabled bool) {
	if atomic.AddInt32(&depth, 1) == 1 {
		savedIF = wasEnabled
	}
}

// popDepth removes one level of nesting and reports whether this was the
// outermost Unlock and interrupts were enabled before the outermost Lock
// (i.e. whether the caller should now execute STI).
func popDepth() bool {
	return atomic.AddInt32(&depth, -1) == 0 && savedIF
}

// Depth reports the current nesting depth, for assertions in callers that
// must not be reentered (e.g. the panic path wants interrupts off exactly
// once more than whatever it interrupted).
func Depth() int32 {
	return atomic.LoadInt32(&depth)
}
