// Package sig implements POSIX-style signal delivery (C10): per-process
// dispositions, per-thread pending/mask bookkeeping, interrupt-frame
// rewriting to invoke a handler in user mode, and sigreturn. Grounded on
// original_source/include/kernel/threading/signal.h,
// signal_action.h, signal_info.h, and the syscalls/sigaction.cpp,
// syscalls/sigprocmask.cpp bodies, which are the only two signal-related
// syscall handlers the retrieval pack kept whole.
package sig

import "defs"

// disposition classifies a process's installed action for a signal.
type disposition int

const (
	dispositionDefault disposition = iota
	dispositionIgnore
	dispositionHandler
)

// DefaultAction is what SIG_DFL does for a given signal number, derived
// from the inline commentary in signal.h itself ("kill", "child stopped
// or terminated", "continue a stopped process", "stop process", ...)
// rather than invented, since no explicit default-action table survived
// retrieval.
type DefaultAction int

const (
	DefaultTerminate DefaultAction = iota
	DefaultCore
	DefaultIgnore
	DefaultStop
	DefaultContinue
)

func defaultActionFor(signum int) DefaultAction {
	switch signum {
	case defs.SIGCHLD, defs.SIGURG, defs.SIGWINCH:
		return DefaultIgnore
	case defs.SIGCONT:
		return DefaultContinue
	case defs.SIGSTOP, defs.SIGTSTP, defs.SIGTTIN, defs.SIGTTOU:
		return DefaultStop
	case defs.SIGQUIT, defs.SIGILL, defs.SIGTRAP, defs.SIGABRT,
		defs.SIGBUS, defs.SIGFPE, defs.SIGSEGV, defs.SIGXCPU, defs.SIGXFSZ, defs.SIGSYS:
		return DefaultCore
	default:
		return DefaultTerminate
	}
}
