package defs

// Pid_t identifies a process. Tid_t identifies a thread within one; the
// kernel's own bookkeeping thread for a process reuses the process's pid
// as its tid, matching how the scheduler's init thread is numbered.
type Pid_t int
type Tid_t int

const (
	MaxPriority     = 9 // highest priority ring index (§ scheduler)
	DefaultPriority = 5 // priority new user processes start at
	IdlePriority    = 0 // priority the idle task runs at
)
