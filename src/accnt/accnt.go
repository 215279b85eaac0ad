package accnt

import "sync"
import "sync/atomic"
import "time"

import "util"

// Accnt_t accumulates per-process accounting information.
//
// Both Userns and Sysns store runtime in nanoseconds. The embedded mutex
// allows callers to take a consistent snapshot of the fields when
// exporting usage statistics.
type Accnt_t struct {
	Userns int64 // nanoseconds of user time consumed
	Sysns  int64 // nanoseconds of system time consumed
	sync.Mutex   // protects concurrent access when reporting usage data
}

// Utadd adds delta nanoseconds to the user-time counter.
func (a *Accnt_t) Utadd(delta int) {
	atomic.AddInt64(&a.Userns, int64(delta))
}

// Systadd adds delta nanoseconds to the system-time counter.
func (a *Accnt_t) Systadd(delta int) {
	atomic.AddInt64(&a.Sysns, int64(delta))
}

// Now returns the current time in nanoseconds since the Unix epoch.
func (a *Accnt_t) Now() int {
	return int(time.Now().UnixNano())
}

// Io_time removes time spent waiting for I/O, which began at since, from
// system time.
func (a *Accnt_t) Io_time(since int) {
	d := a.Now() - since
	a.Systadd(-d)
}

// Sleep_time removes time spent sleeping, which began at since, from
// system time.
func (a *Accnt_t) Sleep_time(since int) {
	d := a.Now() - since
	a.Systadd(-d)
}

// Finish finalizes accounting by adding the time since inttime to system
// time.
func (a *Accnt_t) Finish(inttime int) {
	a.Systadd(a.Now() - inttime)
}

// Add merges another accounting record into this one.
func (a *Accnt_t) Add(n *Accnt_t) {
	a.Lock()
	a.Userns += n.Userns
	a.Sysns += n.Sysns
	a.Unlock()
}

// Fetch returns a snapshot of the accounting information encoded as an
// rusage structure. Locks the record to produce a consistent view.
func (a *Accnt_t) Fetch() []uint8 {
	a.Lock()
	ru := a.To_rusage()
	a.Unlock()
	return ru
}

// To_rusage converts the accounting data into a byte slice formatted as an
// rusage structure, suitable for copying to userspace.
func (a *Accnt_t) To_rusage() []uint8 {
	words := 4
	ret := make([]uint8, words*8)
	totv := func(nano int64) (int, int) {
		secs := int(nano / 1e9)
		usecs := int((nano % 1e9) / 1000)
		return secs, usecs
	}
	off := 0
	// user timeval
	s, us := totv(a.Userns)
	util.Writen(ret, 8, off, s)
	off += 8
	util.Writen(ret, 8, off, us)
	off += 8
	// sys timeval
	s, us = totv(a.Sysns)
	util.Writen(ret, 8, off, s)
	off += 8
	util.Writen(ret, 8, off, us)
	off += 8
	return ret
}
