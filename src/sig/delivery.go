package sig

import (
	"defs"
	"sched"
)

// SendSignal posts signum to a thread of p. If tid > 0 it targets that
// thread specifically; otherwise it chooses the first thread of p not
// currently masking signum (SIGKILL/SIGSTOP bypass the mask entirely,
// since they can never be masked in the first place — sigaction and
// sigprocmask both refuse to let a caller touch them). If the chosen
// thread is blocked in an interruptible wait, it is pulled out of its
// wait queue and unblocked immediately rather than waiting for its next
// voluntary suspension point. Grounded on §4.8's send_signal contract.
func SendSignal(p *sched.Process_t, tid defs.Tid_t, signum int, info SigInfo) bool {
	if signum < 1 || signum >= defs.NumSignals {
		return false
	}

	threads := sched.Sched.ThreadsForProcess(p.Pid)
	if len(threads) == 0 {
		return false
	}

	bypass := signum == defs.SIGKILL || signum == defs.SIGSTOP
	bit := defs.SigMask(signum)

	var target *sched.Tcb_t
	for _, t := range threads {
		if tid > 0 {
			if t.Tid == tid {
				target = t
				break
			}
			continue
		}
		if bypass || t.SignalMask&bit == 0 {
			target = t
			break
		}
	}
	if target == nil {
		return false
	}

	target.PendingSignals |= bit
	state.putInfo(target, signum, info)

	if target.SignalInterruptible {
		sched.Sched.InterruptWait(target)
	}
	return true
}

// DeliverPending checks task's pending-minus-masked signal set and, if
// one is ready to act on, applies it. For Ignore (explicit or default)
// the pending bit is simply cleared. For a default Terminate/Core/Stop
// action, killed is reported true and the caller is expected to tear the
// task down rather than resume it in user mode. Otherwise frame is
// rewritten in place to transfer control to the installed handler and
// delivered is reported true. Signals are considered in ascending
// numerical order, matching §4.8/invariant 8 (`min(P \ M)`).
func DeliverPending(p *sched.Process_t, task *sched.Tcb_t, frame *InterruptFrame, w UserStackWriter) (delivered bool, killed bool, err defs.Err_t) {
	deliverable := task.PendingSignals &^ task.SignalMask
	if deliverable == 0 {
		return false, false, 0
	}

	for signum := 1; signum < defs.NumSignals; signum++ {
		bit := defs.SigMask(signum)
		if deliverable&bit == 0 {
			continue
		}

		action := p.SignalActions[signum]
		switch classify(action) {
		case dispositionIgnore:
			task.PendingSignals &^= bit
			continue
		case dispositionDefault:
			switch defaultActionFor(signum) {
			case DefaultIgnore, DefaultContinue:
				task.PendingSignals &^= bit
				continue
			default: // Terminate, Core, Stop
				task.PendingSignals &^= bit
				return false, true, 0
			}
		}

		return deliverHandler(p, task, signum, bit, action, frame, w)
	}

	return false, false, 0
}

func deliverHandler(p *sched.Process_t, task *sched.Tcb_t, signum int, bit uint64, action sched.SignalAction, frame *InterruptFrame, w UserStackWriter) (bool, bool, defs.Err_t) {
	saved := savedDelivery{frame: *frame, oldMask: task.SignalMask}
	sp := frame.Rsp

	info := state.takeInfo(task, signum)
	info.Sig = uint64(signum)

	var siginfoPtr uint64
	if action.Flags&defs.SA_SIGINFO != 0 {
		newSp, e := w.Push(sp, info.encode())
		if e != 0 {
			return false, false, e
		}
		sp = newSp
		siginfoPtr = uint64(sp)
	}

	newSp, e := w.Push(sp, encodeUint64(uint64(action.Restorer)))
	if e != 0 {
		return false, false, e
	}
	sp = newSp

	newMask := task.SignalMask | action.Mask
	if action.Flags&defs.SA_NODEFER == 0 {
		newMask |= bit
	}

	if action.Flags&defs.SA_RESETHAND != 0 {
		p.SignalActions[signum] = sched.SignalAction{}
	}

	task.PendingSignals &^= bit
	task.SignalMask = newMask
	task.CurrentSig = uint64(signum)
	state.putDelivery(task, saved)

	frame.Rip = action.Handler
	frame.Rsp = sp
	frame.Rdi = uint64(signum)
	if action.Flags&defs.SA_SIGINFO != 0 {
		frame.Rsi = siginfoPtr
		frame.Rdx = 0
	}

	return true, false, 0
}

// Sigreturn restores the frame and signal mask saved at task's most
// recent delivery and clears current_sig, per §4.8's sigreturn contract
// and §6's note that signal return (syscall 0xFFFF) never yields a value
// in rax to the caller. It returns EINVAL if task has no delivery in
// flight to return from.
func Sigreturn(task *sched.Tcb_t, frame *InterruptFrame) defs.Err_t {
	saved, ok := state.takeDelivery(task)
	if !ok {
		return defs.EINVAL
	}
	*frame = saved.frame
	task.SignalMask = saved.oldMask
	task.CurrentSig = 0
	return 0
}

// ShouldRestart reports whether the action about to run a handler was
// installed with SA_RESTART, so the syscall entry stub (outside this
// package; no syscall dispatcher is among the modules this spec names)
// knows to re-issue an interrupted syscall transparently instead of
// returning EINTR to user space.
func ShouldRestart(action sched.SignalAction) bool {
	return action.Flags&defs.SA_RESTART != 0
}

// Forget drops every side-table entry belonging to task, used once a
// task is reaped so completed threads don't linger in the info/delivery
// maps.
func Forget(task *sched.Tcb_t) {
	forgetTask(task)
}
