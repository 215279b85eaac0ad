package sched

import (
	"defs"
	"limits"
	"mem"
)

// Fork creates a child process of parent with its own address-space root
// cr3 (the eager copy itself is vmm/paging's job, wired in the kernel
// orchestrator; this only creates the bookkeeping record and its main
// thread). Grounded on the fork/exec/exit/wait_for_child operations named
// in §4.6, which original_source implements across init_process.cpp and
// the syscall layer rather than one function — there is no single
// fork() translation unit to ground literally. Consults limits.Syslimit
// first: a system at its process ceiling fails the fork with ENOMEM
// rather than growing the process table unbounded.
func (s *Scheduler_t) Fork(parent *Process_t, cr3 mem.Pa_t) (*Process_t, defs.Err_t) {
	if !limits.Syslimit.Sysprocs.Take() {
		return nil, defs.ENOMEM
	}

	s.ilock.Lock()
	s.nextPid++
	pid := s.nextPid
	s.ilock.Unlock()

	child := newProcess(pid, parent.Pid, parent.Priority, parent.System, cr3, parent.Name)
	child.SignalActions = parent.SignalActions

	s.ilock.Lock()
	parent.Children = append(parent.Children, pid)
	s.processes[pid] = child
	t := &Tcb_t{Tid: defs.Tid_t(pid), Pid: pid, State: Ready, Priority: child.Priority}
	s.queueTask(t)
	s.ilock.Unlock()

	return child, 0
}

// Exit marks p exited with status, wakes anyone in wait_for_child on p's
// parent, and tears down the calling task.
func (s *Scheduler_t) Exit(p *Process_t, status int) {
	parent, hasParent := s.processes[p.Ppid]

	if hasParent {
		parent.childExitMu.Lock()
	}
	p.Exited = true
	p.ExitStatus = status
	if hasParent {
		parent.childExitCV.NotifyAll()
		parent.childExitMu.Unlock()
	}

	s.KillCurrentTask()
}

// WaitForChild blocks until a child of p matching pid (or any child, if
// pid <= 0) has exited, reaping it and returning its pid and status. It
// returns ECHILD immediately if p has no live children, and EINTR if a
// signal interrupts the wait. Grounded on §4.6's wait_for_child contract:
// atomic w.r.t. SIGCHLD via the same mutex the exit-notification holds.
func (s *Scheduler_t) WaitForChild(p *Process_t, pid defs.Pid_t) (defs.Pid_t, int, defs.Err_t) {
	p.childExitMu.Lock()
	for {
		if len(p.Children) == 0 {
			p.childExitMu.Unlock()
			return 0, 0, defs.ECHILD
		}

		for i, cpid := range p.Children {
			if pid > 0 && cpid != pid {
				continue
			}
			child, ok := s.processes[cpid]
			if !ok || !child.Exited {
				continue
			}
			status := child.ExitStatus
			p.Children = append(append([]defs.Pid_t{}, p.Children[:i]...), p.Children[i+1:]...)
			s.ilock.Lock()
			delete(s.processes, cpid)
			s.ilock.Unlock()
			limits.Syslimit.Sysprocs.Give()
			p.childExitMu.Unlock()
			return cpid, status, 0
		}

		if !p.childExitCV.WaitInterruptible(&p.childExitMu) {
			return 0, 0, defs.EINTR
		}
	}
}
