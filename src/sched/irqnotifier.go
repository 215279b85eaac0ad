package sched

import "ksync"

// IrqNotifier is an edge-triggered, single-waiter notifier used by
// interrupt handlers to wake the one task waiting on a device (ATA IRQs
// in the source). Grounded on influx::threading::irq_notifier.
type IrqNotifier struct {
	lock     ksync.InterruptsLock_t
	notified bool
	task     *Tcb_t
}

// Notify signals the notifier from IRQ context. If no task is waiting,
// the edge is latched for the next Wait; if the waiter is some other
// task, it is unblocked; if the waiter is the calling task itself (the
// reblock-after-ISR case), the pending reblock is cancelled instead.
func (n *IrqNotifier) Notify() {
	n.lock.Lock()
	switch {
	case n.task == nil:
		n.notified = true
		n.lock.Unlock()
	case n.task != Sched.GetCurrentTask():
		task := n.task
		n.lock.Unlock()
		Sched.UnblockTask(task)
		n.lock.Lock()
		n.task = nil
		n.lock.Unlock()
	default:
		n.task.ReblockAfterIsr = false
		n.task = nil
		n.lock.Unlock()
	}
}

// Wait blocks until Notify is called, consuming an already-latched edge
// immediately.
func (n *IrqNotifier) Wait() {
	n.lock.Lock()
	if n.notified {
		n.notified = false
		n.lock.Unlock()
		return
	}
	n.task = Sched.GetCurrentTask()
	Sched.BlockCurrentTask()
	n.lock.Unlock()
}

// WaitInterruptible is Wait, but the block is signal-interruptible; it
// returns false if a signal arrived before Notify.
func (n *IrqNotifier) WaitInterruptible() bool {
	n.lock.Lock()
	if n.notified {
		n.notified = false
		n.lock.Unlock()
		return true
	}
	task := Sched.GetCurrentTask()
	n.task = task
	task.SignalInterruptible = true
	Sched.BlockCurrentTask()
	n.lock.Unlock()

	task.SignalInterruptible = false
	return !task.SignalInterrupted
}
