// Package kprof builds a pprof-format accounting snapshot from the
// scheduler's per-process run-time counters. defs.D_PROF reserves a
// profiling device number for it; no device driver in this tree serves
// that number. Grounded on
// the teacher's own dependency on github.com/google/pprof (required in
// biscuit's go.mod, though exercised there only by the offline
// scripts/features.go analyzer); this package gives that same library an
// actual runtime home, over accnt.Accnt_t's Userns/Sysns fields rather
// than a call-stack sampler — this kernel has no interrupt-driven stack
// walker to sample from, only the per-process counters sched.TickHandler
// already maintains.
package kprof

import (
	"accnt"
	"io"
	"strconv"

	"github.com/google/pprof/profile"

	"sched"
)

// processSet is the slice of live processes a snapshot is built from. An
// interface rather than *sched.Scheduler_t directly so a hosted test can
// supply a fixed list without going through the real scheduler global.
type processSet interface {
	Processes() []*sched.Process_t
}

// Snapshot builds a pprof Profile with one sample per live process,
// reporting its accumulated user and system time. Values are nanoseconds,
// matching accnt.Accnt_t's own unit.
func Snapshot(s processSet) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "user", Unit: "nanoseconds"},
			{Type: "sys", Unit: "nanoseconds"},
		},
		DefaultSampleType: "user",
	}

	var nextID uint64 = 1
	for _, proc := range s.Processes() {
		fn := &profile.Function{ID: nextID, Name: proc.Name}
		nextID++
		loc := &profile.Location{ID: nextID, Line: []profile.Line{{Function: fn}}}
		nextID++
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)

		userns, sysns := readCounters(proc.Accnt)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{userns, sysns},
			Label:    map[string][]string{"pid": {strconv.Itoa(int(proc.Pid))}},
		})
	}
	return p
}

// readCounters locks a against concurrent TickHandler updates and returns
// its current user/system totals; a nil a (a process created without
// accounting, which sched.newProcess never actually produces) reports
// zero rather than panicking.
func readCounters(a *accnt.Accnt_t) (userns, sysns int64) {
	if a == nil {
		return 0, 0
	}
	a.Lock()
	defer a.Unlock()
	return a.Userns, a.Sysns
}

// Write serializes a snapshot in the standard gzip-compressed pprof wire
// format, the same bytes a file under a /proc-like stat device (D_PROF)
// would hand back to a read of it.
func Write(w io.Writer, p *profile.Profile) error {
	return p.Write(w)
}
