// Package limits tracks the system-wide resource ceilings the scheduler
// enforces, narrowed from the teacher's own Syslimit_t (which also
// tracked vnodes, futexes, arp entries, routes and block-device pages —
// all resources belonging to a network/filesystem layer out of scope
// here) down to the two counters a scheduler with no such layers still
// needs: a cap on live processes and on outstanding kernel stack
// allocations, so a runaway fork loop fails with an error instead of
// exhausting physical memory silently.
package limits

import "sync/atomic"

// Sysatomic_t is an atomically-decremented resource counter: Take
// reserves a unit if one is available, Give returns it. Kept verbatim
// from the teacher's own Sysatomic_t — the atomic compare-free
// add-then-check-then-compensate idiom doesn't change shape regardless
// of what it's counting.
type Sysatomic_t int64

// Taken tries to decrement the counter by n, returning false (and
// leaving the counter unchanged) if that would drive it negative.
func (s *Sysatomic_t) Taken(n uint) bool {
	g := atomic.AddInt64((*int64)(s), -int64(n))
	if g >= 0 {
		return true
	}
	atomic.AddInt64((*int64)(s), int64(n))
	return false
}

// Take reserves a single unit.
func (s *Sysatomic_t) Take() bool { return s.Taken(1) }

// Given increases the counter by n, returning a unit (or units) taken
// earlier.
func (s *Sysatomic_t) Given(n uint) {
	atomic.AddInt64((*int64)(s), int64(n))
}

// Give returns a single unit.
func (s *Sysatomic_t) Give() { s.Given(1) }

// Syslimit_t holds the kernel's resource ceilings.
type Syslimit_t struct {
	// Sysprocs is the number of process slots remaining system-wide.
	Sysprocs Sysatomic_t
	// Kstacks is the number of kernel-stack-sized VMA allocations
	// remaining, independent of Sysprocs since a multi-threaded process
	// can outrun its own process-count budget on stacks alone.
	Kstacks Sysatomic_t
}

// Default ceilings; original_source configures these per build target,
// but nothing retrieved here is a direct analogue worth porting
// verbatim, so these are picked generously for a single-CPU, no-SMP
// kernel's own process population.
const (
	defaultSysprocs = 4096
	defaultKstacks  = 8192
)

// Syslimit is the global instance every process/thread creation path
// consults, the same single-global-record pattern mem.Physmem and
// sched.Sched already follow.
var Syslimit = NewSyslimit()

// NewSyslimit returns a fresh set of limits at their default ceilings;
// exported so hosted tests can construct an isolated instance instead of
// mutating the shared global.
func NewSyslimit() *Syslimit_t {
	return &Syslimit_t{
		Sysprocs: defaultSysprocs,
		Kstacks:  defaultKstacks,
	}
}
