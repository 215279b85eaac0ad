package sig

import (
	"testing"

	"defs"
	"sched"
)

// fakeStack is an in-memory UserStackWriter standing in for uaccess: it
// lets delivery/frame-rewrite logic be exercised without any real user
// memory mapping.
type fakeStack struct {
	mem []byte
}

func newFakeStack(size int) *fakeStack {
	return &fakeStack{mem: make([]byte, size)}
}

func (s *fakeStack) sp() uintptr { return uintptr(len(s.mem)) }

func (s *fakeStack) Push(sp uintptr, buf []byte) (uintptr, defs.Err_t) {
	off := int(sp) - len(buf)
	if off < 0 {
		return 0, defs.ENOMEM
	}
	copy(s.mem[off:], buf)
	return uintptr(off), 0
}

func freshProcessAndThread(t *testing.T) (*sched.Process_t, *sched.Tcb_t) {
	t.Helper()
	sched.Sched.Init(0, 1, 25)
	p, ok := sched.Sched.GetProcess(0)
	if !ok {
		t.Fatalf("kernel process not registered after Init")
	}
	return p, sched.Sched.GetCurrentTask()
}

func TestSendSignalSetsPendingBit(t *testing.T) {
	p, task := freshProcessAndThread(t)

	if !SendSignal(p, 0, defs.SIGUSR1, SigInfo{}) {
		t.Fatalf("SendSignal returned false")
	}
	if task.PendingSignals&defs.SigMask(defs.SIGUSR1) == 0 {
		t.Fatalf("pending bit for SIGUSR1 not set")
	}
}

func TestSendSignalRejectsOutOfRangeSignal(t *testing.T) {
	p, _ := freshProcessAndThread(t)

	if SendSignal(p, 0, 0, SigInfo{}) {
		t.Fatalf("SendSignal(0) should be rejected")
	}
	if SendSignal(p, 0, defs.NumSignals, SigInfo{}) {
		t.Fatalf("SendSignal(NumSignals) should be rejected")
	}
}

func TestSendSignalReturnsFalseForUnknownProcess(t *testing.T) {
	sched.Sched.Init(0, 1, 25)
	empty := &sched.Process_t{Pid: 999}
	if SendSignal(empty, 0, defs.SIGTERM, SigInfo{}) {
		t.Fatalf("SendSignal should fail when the process has no live threads")
	}
}

func TestSendSignalSigkillBypassesMask(t *testing.T) {
	p, task := freshProcessAndThread(t)
	task.SignalMask = defs.SigMask(defs.SIGKILL)

	if !SendSignal(p, 0, defs.SIGKILL, SigInfo{}) {
		t.Fatalf("SIGKILL must bypass the target's mask")
	}
	if task.PendingSignals&defs.SigMask(defs.SIGKILL) == 0 {
		t.Fatalf("SIGKILL was not marked pending despite the mask bypass")
	}
}

func TestSetActionRejectsSigkillAndSigstop(t *testing.T) {
	var p sched.Process_t
	if _, err := SetAction(&p, defs.SIGKILL, sched.SignalAction{}); err != defs.EINVAL {
		t.Fatalf("SetAction(SIGKILL) err = %v, want EINVAL", err)
	}
	if _, err := SetAction(&p, defs.SIGSTOP, sched.SignalAction{}); err != defs.EINVAL {
		t.Fatalf("SetAction(SIGSTOP) err = %v, want EINVAL", err)
	}
}

func TestSetActionInstallsAndReturnsOld(t *testing.T) {
	var p sched.Process_t
	first := sched.SignalAction{Handler: 0x1000}
	if _, err := SetAction(&p, defs.SIGUSR1, first); err != 0 {
		t.Fatalf("SetAction err = %v", err)
	}
	old, err := SetAction(&p, defs.SIGUSR1, sched.SignalAction{Handler: 0x2000})
	if err != 0 {
		t.Fatalf("SetAction err = %v", err)
	}
	if old.Handler != 0x1000 {
		t.Fatalf("old.Handler = %#x, want %#x", old.Handler, 0x1000)
	}
}

func TestSetMaskBlockUnblockSetmask(t *testing.T) {
	task := &sched.Tcb_t{SignalMask: defs.SigMask(defs.SIGHUP)}

	old, _ := SetMask(task, SigBlock, defs.SigMask(defs.SIGUSR1), true)
	if old != defs.SigMask(defs.SIGHUP) {
		t.Fatalf("old mask = %#x, want just SIGHUP", old)
	}
	want := defs.SigMask(defs.SIGHUP) | defs.SigMask(defs.SIGUSR1)
	if task.SignalMask != want {
		t.Fatalf("mask after SIG_BLOCK = %#x, want %#x", task.SignalMask, want)
	}

	SetMask(task, SigUnblock, defs.SigMask(defs.SIGHUP), true)
	if task.SignalMask != defs.SigMask(defs.SIGUSR1) {
		t.Fatalf("mask after SIG_UNBLOCK = %#x, want just SIGUSR1", task.SignalMask)
	}

	SetMask(task, SigSetMask, defs.SigMask(defs.SIGTERM), true)
	if task.SignalMask != defs.SigMask(defs.SIGTERM) {
		t.Fatalf("mask after SIG_SETMASK = %#x, want just SIGTERM", task.SignalMask)
	}
}

func TestDeliverPendingIgnoresDefaultIgnoreSignal(t *testing.T) {
	var p sched.Process_t
	task := &sched.Tcb_t{PendingSignals: defs.SigMask(defs.SIGCHLD)}
	frame := InterruptFrame{Rip: 0x500}

	delivered, killed, err := DeliverPending(&p, task, &frame, newFakeStack(4096))
	if err != 0 || delivered || killed {
		t.Fatalf("delivered=%v killed=%v err=%v, want false,false,0", delivered, killed, err)
	}
	if task.PendingSignals != 0 {
		t.Fatalf("pending bit for SIGCHLD should be cleared")
	}
	if frame.Rip != 0x500 {
		t.Fatalf("frame should be untouched by an ignored signal")
	}
}

func TestDeliverPendingExplicitIgnore(t *testing.T) {
	var p sched.Process_t
	p.SignalActions[defs.SIGUSR1] = sched.SignalAction{Handler: uintptr(defs.SigIgn)}
	task := &sched.Tcb_t{PendingSignals: defs.SigMask(defs.SIGUSR1)}

	delivered, killed, _ := DeliverPending(&p, task, &InterruptFrame{}, newFakeStack(4096))
	if delivered || killed {
		t.Fatalf("explicit SIG_IGN should neither deliver nor kill")
	}
	if task.PendingSignals != 0 {
		t.Fatalf("pending bit should be cleared for an ignored signal")
	}
}

func TestDeliverPendingDefaultTerminate(t *testing.T) {
	var p sched.Process_t
	task := &sched.Tcb_t{PendingSignals: defs.SigMask(defs.SIGTERM)}

	delivered, killed, _ := DeliverPending(&p, task, &InterruptFrame{}, newFakeStack(4096))
	if delivered || !killed {
		t.Fatalf("delivered=%v killed=%v, want false,true for default-terminate", delivered, killed)
	}
	if task.PendingSignals != 0 {
		t.Fatalf("pending bit should be cleared before reporting the task killed")
	}
}

func TestDeliverPendingAscendingOrder(t *testing.T) {
	var p sched.Process_t
	p.SignalActions[defs.SIGHUP] = sched.SignalAction{Handler: 0x4000}
	p.SignalActions[defs.SIGUSR1] = sched.SignalAction{Handler: 0x5000}
	task := &sched.Tcb_t{
		PendingSignals: defs.SigMask(defs.SIGHUP) | defs.SigMask(defs.SIGUSR1),
	}

	frame := InterruptFrame{Rip: 0x100, Rsp: 0x1000}
	delivered, killed, err := DeliverPending(&p, task, &frame, newFakeStack(4096))
	if err != 0 || killed || !delivered {
		t.Fatalf("delivered=%v killed=%v err=%v, want true,false,0", delivered, killed, err)
	}
	if frame.Rdi != defs.SIGHUP {
		t.Fatalf("delivered signum = %d, want SIGHUP (the lower of the two pending)", frame.Rdi)
	}
	if task.PendingSignals&defs.SigMask(defs.SIGHUP) != 0 {
		t.Fatalf("SIGHUP should no longer be pending after delivery")
	}
	if task.PendingSignals&defs.SigMask(defs.SIGUSR1) == 0 {
		t.Fatalf("SIGUSR1 should remain pending for the next delivery point")
	}
}

func TestDeliverPendingMasksSignalDuringHandler(t *testing.T) {
	var p sched.Process_t
	p.SignalActions[defs.SIGUSR1] = sched.SignalAction{Handler: 0x4000}
	task := &sched.Tcb_t{PendingSignals: defs.SigMask(defs.SIGUSR1)}

	frame := InterruptFrame{Rip: 0x100, Rsp: 0x1000}
	delivered, _, _ := DeliverPending(&p, task, &frame, newFakeStack(4096))
	if !delivered {
		t.Fatalf("expected delivery")
	}
	if task.SignalMask&defs.SigMask(defs.SIGUSR1) == 0 {
		t.Fatalf("signal should be added to the mask for the duration of its own handler")
	}
	if task.CurrentSig != defs.SIGUSR1 {
		t.Fatalf("current_sig = %d, want SIGUSR1", task.CurrentSig)
	}
	if frame.Rip != 0x4000 {
		t.Fatalf("frame.Rip = %#x, want the handler address", frame.Rip)
	}
}

func TestDeliverPendingNodeferSkipsSelfMask(t *testing.T) {
	var p sched.Process_t
	p.SignalActions[defs.SIGUSR1] = sched.SignalAction{Handler: 0x4000, Flags: defs.SA_NODEFER}
	task := &sched.Tcb_t{PendingSignals: defs.SigMask(defs.SIGUSR1)}

	DeliverPending(&p, task, &InterruptFrame{Rsp: 0x1000}, newFakeStack(4096))
	if task.SignalMask&defs.SigMask(defs.SIGUSR1) != 0 {
		t.Fatalf("SA_NODEFER should leave the delivered signal unmasked during its own handler")
	}
}

func TestDeliverPendingResethandClearsAction(t *testing.T) {
	var p sched.Process_t
	p.SignalActions[defs.SIGUSR1] = sched.SignalAction{Handler: 0x4000, Flags: defs.SA_RESETHAND}
	task := &sched.Tcb_t{PendingSignals: defs.SigMask(defs.SIGUSR1)}

	DeliverPending(&p, task, &InterruptFrame{Rsp: 0x1000}, newFakeStack(4096))
	if p.SignalActions[defs.SIGUSR1].Handler != 0 {
		t.Fatalf("SA_RESETHAND should reset the action back to SIG_DFL")
	}
}

func TestDeliverPendingSiginfoPushesStackFrame(t *testing.T) {
	var p sched.Process_t
	p.SignalActions[defs.SIGUSR1] = sched.SignalAction{Handler: 0x4000, Flags: defs.SA_SIGINFO}
	task := &sched.Tcb_t{PendingSignals: defs.SigMask(defs.SIGUSR1)}

	stack := newFakeStack(4096)
	frame := InterruptFrame{Rsp: stack.sp()}
	delivered, _, _ := DeliverPending(&p, task, &frame, stack)
	if !delivered {
		t.Fatalf("expected delivery")
	}
	if frame.Rsi == 0 {
		t.Fatalf("rsi should point at the pushed siginfo under SA_SIGINFO")
	}
	if frame.Rsp >= stack.sp() {
		t.Fatalf("rsp should have moved down from the original top of stack")
	}
}

func TestSigreturnRestoresFrameAndMask(t *testing.T) {
	var p sched.Process_t
	p.SignalActions[defs.SIGUSR1] = sched.SignalAction{Handler: 0x4000}
	task := &sched.Tcb_t{PendingSignals: defs.SigMask(defs.SIGUSR1), SignalMask: defs.SigMask(defs.SIGHUP)}

	original := InterruptFrame{Rip: 0x100, Rsp: 0x1000, Rflags: 0x202}
	frame := original
	delivered, _, _ := DeliverPending(&p, task, &frame, newFakeStack(4096))
	if !delivered {
		t.Fatalf("expected delivery")
	}

	if err := Sigreturn(task, &frame); err != 0 {
		t.Fatalf("Sigreturn err = %v", err)
	}
	if frame != original {
		t.Fatalf("frame after sigreturn = %+v, want the original %+v", frame, original)
	}
	if task.SignalMask != defs.SigMask(defs.SIGHUP) {
		t.Fatalf("mask after sigreturn = %#x, want the pre-delivery mask", task.SignalMask)
	}
	if task.CurrentSig != 0 {
		t.Fatalf("current_sig after sigreturn = %d, want 0", task.CurrentSig)
	}
}

func TestSigreturnWithoutDeliveryIsRejected(t *testing.T) {
	task := &sched.Tcb_t{}
	if err := Sigreturn(task, &InterruptFrame{}); err != defs.EINVAL {
		t.Fatalf("Sigreturn err = %v, want EINVAL", err)
	}
}

func TestShouldRestart(t *testing.T) {
	if ShouldRestart(sched.SignalAction{}) {
		t.Fatalf("action without SA_RESTART should not restart")
	}
	if !ShouldRestart(sched.SignalAction{Flags: defs.SA_RESTART}) {
		t.Fatalf("action with SA_RESTART should restart")
	}
}

func TestForgetClearsSideTableEntries(t *testing.T) {
	task := &sched.Tcb_t{}
	state.putInfo(task, defs.SIGUSR1, SigInfo{Pid: 7})
	state.putDelivery(task, savedDelivery{oldMask: 0x42})

	Forget(task)

	if info := state.takeInfo(task, defs.SIGUSR1); info.Pid != 0 {
		t.Fatalf("info should have been forgotten, got %+v", info)
	}
	if _, ok := state.takeDelivery(task); ok {
		t.Fatalf("delivery state should have been forgotten")
	}
}
