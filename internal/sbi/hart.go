package sbi

import (
	"fmt"
	"io"
	"sync/atomic"
)

// Features records probed extension bits for a hart, per SPEC_FULL.md §3.
type Features struct {
	Sstc      bool
	H         bool
	Sscofpmf  bool
	SpecMajor int
	SpecMinor int
}

// PMUState is carried per hart but excluded from this core's behavioral
// contract beyond being reset on HSM stop (SPEC_FULL.md §3, §4.5).
type PMUState struct {
	NumCounters uint64
}

// IPI pending kinds, OR'd into a hart's ipiPending bitset by senders and
// atomically swapped to zero by the receiver.
const (
	IPIKindSupervisorSoft uint32 = 1 << 0
	IPIKindFence          uint32 = 1 << 1
)

// CSRFile holds the subset of machine/supervisor CSRs this core cares
// about, modeled as named struct fields rather than a numeric register
// array (grounded on internal/hv/riscv/rv64/cpu.go's CPU struct).
type CSRFile struct {
	Mstatus uint64
	Medeleg uint64
	Mideleg uint64
	Mie     uint64
	Mip     uint64
	Mtvec   uint64
	Mepc    uint64
	Mcause  uint64
	Mtval   uint64
	Mscratch uint64

	Sstatus uint64
	Stvec   uint64
	Sepc    uint64
	Scause  uint64
	Stval   uint64
	Satp    uint64
	Stimecmp uint64 // Sstc supervisor timer compare
}

// HartContext is the per-hart state block described in SPEC_FULL.md §3: the
// register file ("trap_frame"), CSR file, HSM cell, RFENCE cell, pending-IPI
// bitset, feature bits, and PMU state. It is the software-model analogue of
// the M-mode stack slot reached via mscratch on real hardware.
type HartContext struct {
	ID uint64

	// Regs are the 31 integer registers plus x0 (always zero). Mutated only
	// by the owning hart's goroutine; per SPEC_FULL.md §5 no other goroutine
	// ever touches this field while this hart's RunHart loop is servicing a
	// trap, ecall, or IPI.
	Regs [32]uint64

	CSR CSRFile

	HSM    *HSMCell
	RFence *RFenceCell

	ipiPending atomic.Uint32
	msip       atomic.Bool

	Features Features
	PMU      PMUState

	// fatal latches a terminal M-mode fault; once true, RunHart returns
	// ErrHalt and the hart services nothing further (SPEC_FULL.md §4.1).
	fatal atomic.Bool

	// Priv is the hart's current privilege level, mutated only by the owning
	// goroutine via delegateToS/enterM. Supervisor payloads start here
	// directly (boot.go installs them via ApplyNextStage/bootPrimaryHart, the
	// software-model equivalent of "mret already happened"), never Machine,
	// since this module never actually executes M-mode payload code.
	Priv uint8

	wake chan struct{} // wfi wake signal, buffered 1

	ecallCh chan ecallCall   // ecalls are serviced by this hart's own goroutine
	mipCh   chan chan uint64 // cross-goroutine mip snapshot requests
	trapCh  chan trapCall    // injected traps are serviced by this hart's own goroutine

	Log io.Writer
}

// ecallCall carries an ecall request into the owning hart's RunHart loop,
// the single point of mutation for that hart's CSR file and register array
// (SPEC_FULL.md §5: no other goroutine touches a hart's register/CSR state
// concurrently with that hart servicing a trap).
type ecallCall struct {
	args  EcallArgs
	reply chan SbiRet
}

// trapCall carries an injected illegal-instruction trap into the owning
// hart's RunHart loop, the simulator's stand-in for a supervisor payload
// executing an instruction M-mode has to trap on (SPEC_FULL.md §8 scenarios
// 4 and 6), since this module has no real instruction stream to fault from.
type trapCall struct {
	pc    uint64
	insn  uint32
	reply chan IllegalInsnResult
}

// NewHartContext constructs a hart in the given initial HSM state.
// NewMachine creates every hart HartStopped; Boot later moves the boot hart
// to HartStarted.
func NewHartContext(id uint64, initialState uint32, log io.Writer) *HartContext {
	return &HartContext{
		ID:      id,
		HSM:     newHSMCell(initialState),
		RFence:  newRFenceCell(),
		Priv:    PrivSupervisor,
		wake:    make(chan struct{}, 1),
		ecallCh: make(chan ecallCall),
		mipCh:   make(chan chan uint64),
		trapCh:  make(chan trapCall),
		Log:     log,
	}
}

// ReadReg reads an integer register; x0 always reads zero.
func (h *HartContext) ReadReg(reg uint32) uint64 {
	if reg == 0 {
		return 0
	}
	return h.Regs[reg]
}

// WriteReg writes an integer register; writes to x0 are discarded.
func (h *HartContext) WriteReg(reg uint32, val uint64) {
	if reg != 0 {
		h.Regs[reg] = val
	}
}

// SetMSIP sets or clears this hart's msip bit, the CLINT-level software
// interrupt line.
func (h *HartContext) SetMSIP(v bool) {
	h.msip.Store(v)
	if v {
		h.CSR.Mip |= MipMSIP
	} else {
		h.CSR.Mip &^= MipMSIP
	}
}

// MSIP reports the current msip line state.
func (h *HartContext) MSIP() bool {
	return h.msip.Load()
}

// RaiseIPI atomically ORs kind into the pending-IPI bitset and reports
// whether the prior value was zero (the signal to actually assert msip,
// per SPEC_FULL.md §4.4's "if the prior value was zero" rule).
func (h *HartContext) RaiseIPI(kind uint32) (wasZero bool) {
	for {
		old := h.ipiPending.Load()
		if old&kind == kind {
			return false
		}
		if h.ipiPending.CompareAndSwap(old, old|kind) {
			return old == 0
		}
	}
}

// DrainIPI atomically swaps the pending-IPI bitset to zero and returns the
// bits that were pending.
func (h *HartContext) DrainIPI() uint32 {
	return h.ipiPending.Swap(0)
}

// IsFatal reports whether this hart has halted on a fatal M-mode fault.
func (h *HartContext) IsFatal() bool {
	return h.fatal.Load()
}

// Halt latches the fatal flag and writes a diagnostic line, matching
// SPEC_FULL.md §4.1's "writing a diagnostic to the console (best effort)".
func (h *HartContext) Halt(cause, mepc, mtval uint64) {
	h.fatal.Store(true)
	if h.Log != nil {
		fmt.Fprintf(h.Log, "hart %d: fatal trap cause=%#x mepc=%#x mtval=%#x\n", h.ID, cause, mepc, mtval)
	}
}

// Wake signals a parked wfi loop. Non-blocking: if a wake is already
// pending it is coalesced.
func (h *HartContext) Wake() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// WaitForWake blocks until Wake is called; Halt does not unblock it.
// This is the software model's wfi: it parks the goroutine instead of
// spinning the host CPU, per SPEC_FULL.md §5.
func (h *HartContext) WaitForWake() {
	<-h.wake
}
