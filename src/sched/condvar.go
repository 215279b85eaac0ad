package sched

// ConditionVariable lets a task release a Mutex and block until notified,
// re-acquiring the mutex before returning. Grounded on
// influx::threading::condition_variable.
type ConditionVariable struct {
	waitQueue TaskWaitQueue_t
}

// Wait unlocks m, blocks until notified, then reacquires m.
func (c *ConditionVariable) Wait(m *Mutex) {
	c.waitQueue.Enqueue(Sched.GetCurrentTask())
	m.Unlock()
	Sched.Reschedule()
	m.Lock()
}

// WaitInterruptible is Wait, but marks the current task's wait as
// interruptible first; if a signal arrives before notification, the task
// is pulled out of the queue and WaitInterruptible returns false without
// reacquiring m (matching the source: the caller must treat false as
// cancellation and not assume it holds the lock).
func (c *ConditionVariable) WaitInterruptible(m *Mutex) bool {
	task := Sched.GetCurrentTask()
	task.SignalInterruptible = true

	c.waitQueue.Enqueue(task)
	m.Unlock()
	Sched.Reschedule()

	task.SignalInterruptible = false
	if task.SignalInterrupted {
		c.waitQueue.RemoveTask(task)
		return false
	}

	m.Lock()
	return true
}

// NotifyOne wakes one waiter, if any.
func (c *ConditionVariable) NotifyOne() {
	if !c.waitQueue.Empty() {
		c.waitQueue.Dequeue()
	}
}

// NotifyAll wakes every waiter.
func (c *ConditionVariable) NotifyAll() {
	if !c.waitQueue.Empty() {
		c.waitQueue.DequeueAll()
	}
}
