package sched

import "ksync"

// Mutex is the sleeping mutual-exclusion primitive: lock blocks the
// caller on waitQueue instead of busy-spinning once contended, and unlock
// hands ownership directly to the next waiter instead of touching value
// — so wake-up always implies ownership and there is no thundering herd.
// Grounded on influx::threading::mutex.
type Mutex struct {
	valueLock ksync.Spinlock_t
	value     int
	waitQueue TaskWaitQueue_t
}

// Lock acquires the mutex, blocking the current task if it is held.
func (m *Mutex) Lock() {
	m.valueLock.Lock()
	if m.value == 0 {
		m.value = 1
		m.valueLock.Unlock()
		return
	}
	m.valueLock.Unlock()

	m.waitQueue.Enqueue(Sched.GetCurrentTask())
	Sched.Reschedule()
}

// TryLock acquires the mutex only if it is currently free.
func (m *Mutex) TryLock() bool {
	m.valueLock.Lock()
	defer m.valueLock.Unlock()
	if m.value == 0 {
		m.value = 1
		return true
	}
	return false
}

// Unlock releases the mutex: if a task is waiting, ownership passes to it
// directly (value stays 1); only an empty wait queue actually clears
// value.
func (m *Mutex) Unlock() {
	if !m.waitQueue.Empty() {
		m.waitQueue.Dequeue()
		return
	}
	m.valueLock.Lock()
	m.value = 0
	m.valueLock.Unlock()
}
