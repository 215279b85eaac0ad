// Package kpanic implements the kernel's fatal-error path: log what is
// known about the fault, disassemble the faulting instruction, dump the
// call stack, and halt with interrupts off. Grounded on the source's
// kpanic helper (referenced throughout original_source but never a
// standalone translation unit — its contract is "log, then halt") and on
// the teacher's own diagnostic helpers (caller.Callerdump, the
// kernel-main.go hexdump/callerdump pair).
package kpanic

import (
	"fmt"
	"os"

	"golang.org/x/arch/x86/x86asm"

	"caller"
	"kfmt"
	"ksync"
)

// Frame is the subset of a trapped interrupt frame kpanic needs: the
// faulting instruction pointer and enough following bytes to disassemble
// it, plus the reason the fault handler gave up.
type Frame struct {
	Rip    uintptr
	Code   []byte // instruction bytes starting at Rip
	Reason string
}

// halt is os.Exit in this hosted build; on real hardware it is an
// infinite HLT loop with interrupts already off by the time kpanic runs.
var halt = func(code int) { os.Exit(code) }

// Panic logs f's fault reason, a best-effort disassembly of the faulting
// instruction, and the Go call stack, then halts. It never returns.
func Panic(f Frame) {
	var lock ksync.InterruptsLock_t
	lock.Lock()

	kfmt.Printf("kernel panic: %s\n", f.Reason)
	kfmt.Printf("rip=%x\n", uint64(f.Rip))

	if inst, ok := decode(f.Code); ok {
		kfmt.Printf("faulting instruction: %s\n", x86asm.GNUSyntax(inst, uint64(f.Rip), nil))
	} else {
		kfmt.Printf("faulting instruction: <could not decode>\n")
	}

	hexdump(f.Code)
	caller.Callerdump(2)

	halt(1)
}

// decode disassembles the first instruction in code, 64-bit mode.
func decode(code []byte) (x86asm.Inst, bool) {
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return x86asm.Inst{}, false
	}
	return inst, true
}

// hexdump prints buf sixteen bytes per line, matching the teacher's own
// hexdump helper's layout.
func hexdump(buf []byte) {
	for i := 0; i < len(buf); i += 16 {
		cur := buf[i:]
		if len(cur) > 16 {
			cur = cur[:16]
		}
		line := fmt.Sprintf("%07x: ", i)
		for j, b := range cur {
			line += fmt.Sprintf("%02x", b)
			if j%2 == 1 {
				line += " "
			}
		}
		kfmt.Printf("%s\n", line)
	}
}
