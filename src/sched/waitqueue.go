package sched

import "ksync"

// TaskWaitQueue_t is a FIFO of blocked tasks: a circular, spinlock-guarded
// ring of tcbs, used by every sleeping primitive (mutex, condition
// variable, irq notifier). Grounded on
// influx::threading::task_wait_queue's enqueue/dequeue; dequeue_all and
// remove_task are not present in the retrieved header but are called
// from condition_variable.cpp (notify_all, wait_interruptible) and are
// required by §4.5's contract, so they are added here on the same ring.
type TaskWaitQueue_t struct {
	lock ksync.Spinlock_t
	head *Tcb_t
}

// Enqueue appends task to the ring and blocks it via the scheduler.
func (q *TaskWaitQueue_t) Enqueue(task *Tcb_t) {
	q.lock.Lock()
	q.link(task)
	q.lock.Unlock()

	Sched.BlockTask(task)
}

// link splices task into the ring without touching scheduler state;
// callers must already hold q.lock.
func (q *TaskWaitQueue_t) link(task *Tcb_t) {
	task.waitQueue = q
	if q.head == nil {
		task.waitNext = task
		task.waitPrev = task
		q.head = task
		return
	}
	task.waitPrev = q.head.waitPrev
	task.waitNext = q.head
	q.head.waitPrev.waitNext = task
	q.head.waitPrev = task
}

// unlink removes task from whichever ring it is linked into (q or none),
// correctly handling the single-element case where next/prev both point
// back to task itself — the source's dequeue recomputes the new head from
// the about-to-be-freed node's own next pointer, which aliases the freed
// node when the ring holds exactly one task; this is fixed here by
// checking the self-loop explicitly instead of replicating that dangling
// read.
func (q *TaskWaitQueue_t) unlink(task *Tcb_t) {
	if task.waitNext == task {
		q.head = nil
	} else {
		task.waitPrev.waitNext = task.waitNext
		task.waitNext.waitPrev = task.waitPrev
		if q.head == task {
			q.head = task.waitNext
		}
	}
	task.waitNext = nil
	task.waitPrev = nil
	task.waitQueue = nil
}

// Dequeue removes and unblocks the head of the ring, returning it.
func (q *TaskWaitQueue_t) Dequeue() *Tcb_t {
	q.lock.Lock()
	task := q.head
	if task == nil {
		q.lock.Unlock()
		return nil
	}
	q.unlink(task)
	q.lock.Unlock()

	Sched.UnblockTask(task)
	return task
}

// DequeueAll drains the ring, unblocking every task, in FIFO order.
func (q *TaskWaitQueue_t) DequeueAll() []*Tcb_t {
	var drained []*Tcb_t
	for {
		t := q.Dequeue()
		if t == nil {
			break
		}
		drained = append(drained, t)
	}
	return drained
}

// RemoveTask pulls task out of the ring mid-wait, without unblocking it —
// used by signal-interruption, which unblocks the task itself. Reports
// whether task was actually found in this ring.
func (q *TaskWaitQueue_t) RemoveTask(task *Tcb_t) bool {
	q.lock.Lock()
	defer q.lock.Unlock()
	if task.waitQueue != q {
		return false
	}
	q.unlink(task)
	return true
}

// Empty reports whether the ring has no waiters.
func (q *TaskWaitQueue_t) Empty() bool {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.head == nil
}
