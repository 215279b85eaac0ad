package paging

import "errors"

var (
	errMisaligned    = errors.New("paging: address not page-aligned")
	errNoMem         = errors.New("paging: no free frame for intermediate table")
	errAlreadyMapped = errors.New("paging: page already mapped")
	errNotMapped     = errors.New("paging: page not mapped")
)

// invlpg invalidates vaddr's TLB entry on the local CPU. SMP is out of
// scope, so there is no remote shootdown to coordinate.
func invlpg(vaddr uintptr) {
	invlpgAsm(vaddr)
}

func invlpgAsm(vaddr uintptr)
