package sched

import (
	"context"

	"golang.org/x/sync/errgroup"

	"defs"
	"ksync"
	"mem"
)

const defaultKernelStackSize = 0x800000

type priorityRing struct {
	start *Tcb_t // ring entry point; nil if no task at this priority
	next  *Tcb_t // next candidate to run at this priority (round-robin cursor)
}

// switchTaskFunc performs the actual register/stack switch between two
// tcbs; it is a var so hosted tests can run the bookkeeping in Reschedule
// without a real context switch, the same pattern kfmt uses for its sink
// and kpanic uses for halt.
var switchTaskFunc = func(prev, next *Tcb_t) {}

// irqGuard is the Lock/Unlock surface Scheduler_t needs from its
// interrupts lock. It exists so hosted tests can swap in a no-op guard
// instead of ksync.InterruptsLock_t, whose Lock/Unlock execute a real
// privileged cli/sti — the same hosted-testability boundary ksync and
// kpanic draw around their own hardware-facing calls.
type irqGuard interface {
	Lock()
	Unlock()
}

// Scheduler_t is the priority-based preemptive scheduler: one ready ring
// per priority level, FIFO round-robin within a level, strictly
// higher-priority-first across levels. Grounded on
// influx::threading::scheduler.
type Scheduler_t struct {
	ilock irqGuard

	rings [defs.MaxPriority + 1]priorityRing

	processes map[defs.Pid_t]*Process_t

	killedTasksQueue []*Tcb_t

	currentTask *Tcb_t
	idleTask    *Tcb_t

	maxQuantum uint64
	nsPerTick  int64
	started    bool

	nextPid defs.Pid_t
	nextTid defs.Tid_t
}

// Sched is the global scheduler instance, matching mem.Physmem's
// single-record-for-global-mutable-state pattern (§9).
var Sched = &Scheduler_t{ilock: ksync.InterruptsLock_t{}}

// Init creates the kernel process and its main thread, running at the
// highest priority, and records the per-tick quantum budget. kernelCr3 is
// the physical address of the kernel's own PML4.
func (s *Scheduler_t) Init(kernelCr3 mem.Pa_t, ticksPerMs uint64, maxTimeSliceMs uint64) {
	s.processes = make(map[defs.Pid_t]*Process_t)
	s.maxQuantum = ticksPerMs * maxTimeSliceMs
	if ticksPerMs > 0 {
		s.nsPerTick = 1_000_000 / int64(ticksPerMs)
	}

	kernelProc := newProcess(0, 0, defs.MaxPriority, true, kernelCr3, "kernel")
	s.processes[0] = kernelProc

	main := &Tcb_t{Tid: 0, Pid: 0, State: Running, Priority: defs.MaxPriority}
	main.ringNext = main
	main.ringPrev = main
	s.rings[defs.MaxPriority].start = main
	s.rings[defs.MaxPriority].next = main
	s.currentTask = main
	s.started = true
}

// GetCurrentTask returns the running tcb.
func (s *Scheduler_t) GetCurrentTask() *Tcb_t { return s.currentTask }

// GetCurrentProcessID returns the running task's pid.
func (s *Scheduler_t) GetCurrentProcessID() defs.Pid_t { return s.currentTask.Pid }

// GetProcess looks up a process record by pid.
func (s *Scheduler_t) GetProcess(pid defs.Pid_t) (*Process_t, bool) {
	p, ok := s.processes[pid]
	return p, ok
}

// Processes returns every live process record, in no particular order.
// Used by package kprof to build a whole-system accounting snapshot
// without this package exposing its processes map directly.
func (s *Scheduler_t) Processes() []*Process_t {
	procs := make([]*Process_t, 0, len(s.processes))
	for _, p := range s.processes {
		procs = append(procs, p)
	}
	return procs
}

// ThreadsForProcess returns every tcb belonging to pid, scanning the
// priority rings the same way get_next_task does rather than maintaining a
// separate per-process thread list to keep in sync on every kill/reap.
// Used by signal delivery to pick an eligible thread when a signal targets
// a process rather than a specific tid.
func (s *Scheduler_t) ThreadsForProcess(pid defs.Pid_t) []*Tcb_t {
	var threads []*Tcb_t
	for p := range s.rings {
		r := &s.rings[p]
		if r.start == nil {
			continue
		}
		t := r.start
		for {
			if t.Pid == pid {
				threads = append(threads, t)
			}
			t = t.ringNext
			if t == r.start {
				break
			}
		}
	}
	return threads
}

// queueTask links task into its priority ring.
func (s *Scheduler_t) queueTask(task *Tcb_t) {
	r := &s.rings[task.Priority]
	if r.start == nil {
		task.ringNext = task
		task.ringPrev = task
		r.start = task
		r.next = task
		return
	}
	task.ringPrev = r.start.ringPrev
	task.ringNext = r.start
	r.start.ringPrev.ringNext = task
	r.start.ringPrev = task
	if r.next == nil && (task.State == Ready || task.State == Running) {
		r.next = task
	}
}

// CreateKernelThread allocates a tid in the kernel process and queues it
// ready (or blocked, if requested, for a thread that will be unblocked
// explicitly later).
func (s *Scheduler_t) CreateKernelThread(priority int, blocked bool) *Tcb_t {
	s.ilock.Lock()
	defer s.ilock.Unlock()

	s.nextTid++
	state := Ready
	if blocked {
		state = Blocked
	}
	t := &Tcb_t{
		Tid:             s.nextTid,
		Pid:             0,
		State:           state,
		Priority:        priority,
		KernelStackSize: defaultKernelStackSize,
	}
	s.queueTask(t)
	return t
}

// BlockTask transitions task to Blocked; it remains linked in its
// priority ring (get_next_task skips non-ready/running tasks rather than
// unlinking them, so a task's ring position survives repeated
// block/unblock cycles without reshuffling).
func (s *Scheduler_t) BlockTask(task *Tcb_t) {
	s.ilock.Lock()
	task.State = Blocked
	s.ilock.Unlock()
}

// BlockCurrentTask blocks the running task and reschedules.
func (s *Scheduler_t) BlockCurrentTask() {
	s.BlockTask(s.currentTask)
	s.Reschedule()
}

// UnblockTask transitions task back to Ready so get_next_task can select
// it again. If task's priority ring had run its round-robin cursor dry
// (advanceRing nils rings[p].next once a full revolution finds nothing
// else ready), task becoming ready again is exactly what should revive
// that cursor — otherwise get_next_task would keep skipping the whole
// ring even though task now qualifies, starving it indefinitely.
func (s *Scheduler_t) UnblockTask(task *Tcb_t) {
	s.ilock.Lock()
	task.State = Ready
	if r := &s.rings[task.Priority]; r.next == nil {
		r.next = task
	}
	s.ilock.Unlock()
}

// InterruptWait marks task as signal-interrupted and, if it is currently
// linked into a wait queue, pulls it out and unblocks it. Used by package
// sig's send_signal to cancel an interruptible wait per §4.8's contract;
// exported because waitQueue is an unexported Tcb_t field package sig
// cannot reach directly.
func (s *Scheduler_t) InterruptWait(task *Tcb_t) {
	task.SignalInterrupted = true
	if q := task.waitQueue; q != nil {
		q.RemoveTask(task)
		s.UnblockTask(task)
	}
}

// getNextTask scans priority rings from highest to lowest for one with a
// ready/running candidate.
func (s *Scheduler_t) getNextTask() *Tcb_t {
	for p := defs.MaxPriority; p >= 0; p-- {
		if s.rings[p].next != nil {
			return s.advanceRing(p)
		}
	}
	return nil
}

// advanceRing returns the ring's current candidate and advances its
// round-robin cursor to the next ready/running task, or nil if none is
// found after a full revolution.
func (s *Scheduler_t) advanceRing(priority int) *Tcb_t {
	r := &s.rings[priority]
	current := r.next
	n := current.ringNext
	for n != current {
		if n.State == Ready || n.State == Running {
			r.next = n
			return current
		}
		n = n.ringNext
	}
	r.next = nil
	return current
}

// Reschedule picks the next task to run and switches to it. Grounded on
// scheduler::reschedule: if nothing else is ready and the current task
// is still running, it keeps running. In either case the quantum resets,
// the outgoing task's state is demoted to Ready (unless it blocked
// itself), and the incoming task becomes Running.
func (s *Scheduler_t) Reschedule() {
	s.ilock.Lock()
	defer s.ilock.Unlock()

	current := s.currentTask
	next := s.getNextTask()

	if next == nil && current.State == Running {
		next = current
	}
	s.currentTask = next
	if next == nil {
		return // TODO: switch to idle thread once one is wired in
	}

	current.Quantum = 0
	if current.State == Running {
		current.State = Ready
	}
	next.State = Running

	if next != current {
		switchTaskFunc(current, next)
	}
}

// TickHandler runs on every timer interrupt; once the current task
// exhausts its quantum, it reschedules. Every tick is also credited to the
// running task's process accounting record (§ SUPPLEMENTED FEATURES):
// a system process's ticks count as system time, a user process's as user
// time — this kernel has no separate syscall-entry/exit instants to split
// a user process's own ticks between the two more finely than that.
func (s *Scheduler_t) TickHandler() {
	if proc, ok := s.processes[s.currentTask.Pid]; ok && proc.Accnt != nil {
		if proc.System {
			proc.Accnt.Systadd(int(s.nsPerTick))
		} else {
			proc.Accnt.Utadd(int(s.nsPerTick))
		}
	}
	if s.currentTask.Quantum >= s.maxQuantum {
		s.Reschedule()
	} else {
		s.currentTask.Quantum++
	}
}

// Sleep places the current task in sleepQueue with a wake deadline and
// blocks; nowMs/wakeMs are caller-supplied since the time source lives
// outside this package. It returns the actual elapsed milliseconds, which
// the tick-driven wake path may report as larger than requested.
func (s *Scheduler_t) Sleep(nowMs, ms uint64) uint64 {
	task := s.currentTask
	task.State = Sleeping
	deadline := nowMs + ms
	sleepQueue.add(task, deadline)
	s.Reschedule()
	return sleepQueue.lastWokenElapsed(task, nowMs)
}

// sleepQueue tracks sleeping tasks ordered by wake deadline, grounded on
// scheduler::update_tasks_sleep_quantum's head-first walk.
var sleepQueue = &sleepList{}

type sleepEntry struct {
	task     *Tcb_t
	deadline uint64
}

type sleepList struct {
	lock    ksync.Spinlock_t
	entries []sleepEntry
	woken   map[*Tcb_t]uint64
}

func (l *sleepList) add(t *Tcb_t, deadline uint64) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.entries = append(l.entries, sleepEntry{task: t, deadline: deadline})
}

// Tick wakes every sleeper whose deadline has passed, given the current
// time in milliseconds.
func (l *sleepList) Tick(nowMs uint64) {
	l.lock.Lock()
	var remaining []sleepEntry
	var woken []sleepEntry
	for _, e := range l.entries {
		if nowMs >= e.deadline {
			woken = append(woken, e)
		} else {
			remaining = append(remaining, e)
		}
	}
	l.entries = remaining
	if l.woken == nil {
		l.woken = make(map[*Tcb_t]uint64)
	}
	for _, e := range woken {
		l.woken[e.task] = nowMs
	}
	l.lock.Unlock()

	for _, e := range woken {
		Sched.UnblockTask(e.task)
	}
}

func (l *sleepList) lastWokenElapsed(t *Tcb_t, sleptAt uint64) uint64 {
	l.lock.Lock()
	defer l.lock.Unlock()
	wokenAt, ok := l.woken[t]
	if !ok {
		return 0
	}
	delete(l.woken, t)
	return wokenAt - sleptAt
}

// KillCurrentTask marks the running task Killed, queues it for
// tasks_clean_task to reap, and reschedules away from it.
func (s *Scheduler_t) KillCurrentTask() {
	s.ilock.Lock()
	s.currentTask.State = Killed
	s.killedTasksQueue = append(s.killedTasksQueue, s.currentTask)
	s.ilock.Unlock()
	s.Reschedule()
}

// ReapKilledTasks drains the killed-tasks queue, running the caller's
// teardown (package kernel's frees the kernel stack VMA; the parent was
// already notified in Exit) for each dead task concurrently via an
// errgroup, so one stuck teardown does not
// stall reclaiming the others. Grounded on scheduler::tasks_clean_task;
// the errgroup fan-out is this package's own addition (§9's
// DOMAIN STACK commitment to golang.org/x/sync).
func (s *Scheduler_t) ReapKilledTasks(ctx context.Context, teardown func(*Tcb_t) error) error {
	s.ilock.Lock()
	batch := s.killedTasksQueue
	s.killedTasksQueue = nil
	s.ilock.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, t := range batch {
		t := t
		g.Go(func() error {
			return teardown(t)
		})
	}
	_ = ctx
	return g.Wait()
}
