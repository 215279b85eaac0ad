package sig

import (
	"ksync"
	"sched"
)

// savedDelivery is what sigreturn needs to undo a delivery: the frame as
// it stood immediately before rewrite, and the signal mask that was in
// effect before the delivered signal (and its action's mask) were added
// to it.
type savedDelivery struct {
	frame   InterruptFrame
	oldMask uint64
}

// sideTable holds per-thread state that doesn't belong on sched.Tcb_t
// itself: the pending SigInfo for each currently-pending signal, and the
// saved-frame/mask pair a delivery in flight will need at sigreturn. Kept
// as an explicit side-table rather than widening Tcb_t with a sig-package
// type, the same choice spec.md's own open question about VmaRegion
// ownership offers as an alternative to an inline tag.
type sideTable struct {
	lock     ksync.Spinlock_t
	infos    map[*sched.Tcb_t]map[int]SigInfo
	delivery map[*sched.Tcb_t]savedDelivery
}

var state = &sideTable{
	infos:    make(map[*sched.Tcb_t]map[int]SigInfo),
	delivery: make(map[*sched.Tcb_t]savedDelivery),
}

func (t *sideTable) putInfo(task *sched.Tcb_t, signum int, info SigInfo) {
	t.lock.Lock()
	defer t.lock.Unlock()
	m, ok := t.infos[task]
	if !ok {
		m = make(map[int]SigInfo)
		t.infos[task] = m
	}
	m[signum] = info
}

func (t *sideTable) takeInfo(task *sched.Tcb_t, signum int) SigInfo {
	t.lock.Lock()
	defer t.lock.Unlock()
	m := t.infos[task]
	info := m[signum]
	delete(m, signum)
	return info
}

func (t *sideTable) putDelivery(task *sched.Tcb_t, d savedDelivery) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.delivery[task] = d
}

func (t *sideTable) takeDelivery(task *sched.Tcb_t) (savedDelivery, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()
	d, ok := t.delivery[task]
	delete(t.delivery, task)
	return d, ok
}

// forgetTask drops every side-table entry for task, used when a task is
// reaped so the maps don't grow without bound across the task's lifetime.
func forgetTask(task *sched.Tcb_t) {
	state.lock.Lock()
	defer state.lock.Unlock()
	delete(state.infos, task)
	delete(state.delivery, task)
}
