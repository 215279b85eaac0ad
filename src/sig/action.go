package sig

import (
	"defs"
	"sched"
)

// classify reports which of the three broad dispositions an installed
// action falls into. Grounded on signal_action.h's SIG_DFL/SIG_IGN
// sentinels sharing the handler union's raw uint64 slot with an actual
// function pointer.
func classify(act sched.SignalAction) disposition {
	switch act.Handler {
	case uintptr(defs.SigDfl):
		return dispositionDefault
	case uintptr(defs.SigIgn):
		return dispositionIgnore
	default:
		return dispositionHandler
	}
}

// SetAction installs act as signum's disposition on p, returning the
// previous action. Grounded on syscalls/sigaction.cpp: SIGKILL and
// SIGSTOP can never be caught, ignored, or have their disposition
// changed.
func SetAction(p *sched.Process_t, signum int, act sched.SignalAction) (sched.SignalAction, defs.Err_t) {
	if signum < 1 || signum >= defs.NumSignals {
		return sched.SignalAction{}, defs.EINVAL
	}
	if signum == defs.SIGKILL || signum == defs.SIGSTOP {
		return sched.SignalAction{}, defs.EINVAL
	}
	old := p.SignalActions[signum]
	p.SignalActions[signum] = act
	return old, 0
}

// GetAction returns signum's currently installed disposition on p.
func GetAction(p *sched.Process_t, signum int) (sched.SignalAction, defs.Err_t) {
	if signum < 1 || signum >= defs.NumSignals {
		return sched.SignalAction{}, defs.EINVAL
	}
	return p.SignalActions[signum], 0
}

// How selects how SetMask combines a new set with a thread's current
// signal mask, mirroring sigprocmask's SIG_BLOCK/SIG_UNBLOCK/SIG_SETMASK.
type How int

const (
	SigBlock How = iota
	SigUnblock
	SigSetMask
)

// SetMask updates task's signal mask per how, returning the mask that was
// in effect beforehand. Grounded on syscalls/sigprocmask.cpp verbatim.
func SetMask(task *sched.Tcb_t, how How, set uint64, hasSet bool) (uint64, defs.Err_t) {
	old := task.SignalMask
	if !hasSet {
		return old, 0
	}
	switch how {
	case SigBlock:
		task.SignalMask = old | set
	case SigUnblock:
		task.SignalMask = old &^ set
	case SigSetMask:
		task.SignalMask = set
	default:
		return old, defs.EINVAL
	}
	return old, 0
}
