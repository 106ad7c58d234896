package sbi

import (
	"context"
	"errors"
	"time"
)

// ErrHalt is returned by RunHart when the hart has taken a fatal trap or the
// machine-wide reset collaborator has recorded a shutdown request. Grounded
// on internal/hv/riscv/rv64/machine.go's Run/ErrHalt contract.
var ErrHalt = errors.New("sbi: hart halted")

// pollInterval bounds how long RunHart's select can wait before
// re-checking the CLINT for an expired timer; real hardware would instead
// take an asynchronous machine-timer trap the instant mtime reaches
// mtimecmp, which this goroutine-based model approximates by polling.
const pollInterval = time.Millisecond

// RunHart drives hart id's trap-handling loop until ctx is cancelled, the
// hart takes a fatal exception, or the machine is shut down. It is the
// software-model replacement for "the hart is always either executing
// payload code or parked in wfi": after Boot returns it is always either
// blocked in its select or servicing one event from it (a wake, a timer
// poll, an ecall, an injected trap, or a mip query), since this module does
// not execute a real instruction stream.
func RunHart(ctx context.Context, m *Machine, hartID uint64) error {
	h := m.Hart(hartID)
	if h == nil {
		return errors.New("sbi: unknown hart id")
	}

	Boot(m, hartID)

	timer := time.NewTicker(pollInterval)
	defer timer.Stop()

	for {
		if h.IsFatal() {
			return ErrHalt
		}
		if m.Reset != nil {
			if lr, ok := m.Reset.(*LogReset); ok && lr.ShutdownRequested() {
				return ErrHalt
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.wake:
			serviceMachineSoft(m, h)
		case <-timer.C:
			serviceTimer(m, h)
		case call := <-h.ecallCh:
			call.reply <- serviceEcall(m, h, call.args)
		case reply := <-h.mipCh:
			reply <- h.CSR.Mip
		case call := <-h.trapCh:
			call.reply <- serviceTrap(m, h, call.pc, call.insn)
		}
	}
}

// serviceMachineSoft runs the machine-soft fast path and, if it surfaces a
// NextStage handoff (this hart was the target of hart_start or a
// non-retentive resume), applies the target-side register setup.
func serviceMachineSoft(m *Machine, h *HartContext) {
	if h.HSM.State() == HartSuspendPending {
		// Retentive suspend: this hart parked with no NextStage handoff, so
		// waking it just restores STARTED and execution continues where it
		// left off.
		h.HSM.CompleteRetentiveSuspend()
		return
	}
	if stage := HandleMachineSoftFastPath(m, h); stage != nil {
		ApplyNextStage(h, *stage)
	}
}

// serviceTimer checks this hart's CLINT deadline and, if it has passed,
// runs the machine-timer fast path.
func serviceTimer(m *Machine, h *HartContext) {
	if h.CSR.Mie&MipMTIP == 0 {
		return // masked since the last firing, until the supervisor re-arms it
	}
	if m.Clint.Mtime() >= m.Clint.Mtimecmp(h.ID) {
		HandleMachineTimerFastPath(h, m.Clint)
	}
}

// serviceEcall runs on hart h's own RunHart goroutine, the only place
// allowed to mutate h's CSR file and register array.
func serviceEcall(m *Machine, h *HartContext, args EcallArgs) SbiRet {
	if h.HSM.State() != HartStarted {
		return Err(ErrFailed)
	}
	return Dispatch(m, h, args)
}

// serviceTrap runs the illegal-instruction dispatcher for an injected trap
// and applies whatever side effect the result calls for: a successful
// emulation already wrote the destination register inside
// HandleIllegalInstruction, a delegation enters S-mode via delegateToS, and
// a fatal result halts the hart. Grounded on SPEC_FULL.md §4.1's
// emulate/delegate/fatal three-way split; runs on hart h's own RunHart
// goroutine, the only place allowed to mutate h's CSR file and priv.
func serviceTrap(m *Machine, h *HartContext, pc uint64, insn uint32) IllegalInsnResult {
	res := HandleIllegalInstruction(h, h.Priv, pc, insn, m.Clint)
	switch {
	case res.Delegate:
		res.NewMepcPC = delegateToS(h, &h.Priv, CauseIllegalInsn, uint64(insn), pc)
		h.CSR.Mepc = res.NewMepcPC
		h.CSR.Mstatus &^= MstatusMPP
		h.CSR.Mstatus |= uint64(PrivSupervisor) << MstatusMPPShift
	case res.Fatal:
		h.Halt(CauseIllegalInsn, pc, uint64(insn))
	}
	return res
}

// InjectTrap simulates hart id taking an illegal-instruction trap on
// instruction word insn at pc: the software-model stand-in for "the payload
// executed an instruction M-mode has to trap on", since this module has no
// real instruction stream to fault from (SPEC_FULL.md §8 scenarios 4 and 6).
// Routed through hart id's own RunHart goroutine like Ecall, preserving
// single-writer ownership of that hart's state.
func InjectTrap(ctx context.Context, m *Machine, hartID uint64, pc uint64, insn uint32) (IllegalInsnResult, error) {
	h := m.Hart(hartID)
	if h == nil {
		return IllegalInsnResult{}, errors.New("sbi: unknown hart id")
	}
	if h.IsFatal() {
		return IllegalInsnResult{}, ErrHalt
	}

	call := trapCall{pc: pc, insn: insn, reply: make(chan IllegalInsnResult, 1)}
	select {
	case h.trapCh <- call:
	case <-ctx.Done():
		return IllegalInsnResult{}, ctx.Err()
	}

	select {
	case res := <-call.reply:
		return res, nil
	case <-ctx.Done():
		return IllegalInsnResult{}, ctx.Err()
	}
}

// Ecall is the entry point a supervisor payload uses to perform an SBI call
// on hart id: it is the software-model stand-in for the hart taking an
// ecall-from-S-mode trap, since this module has no instruction stream to
// trap out of. The call is handed to hart id's own RunHart goroutine over a
// channel and blocks until serviced, preserving single-writer ownership of
// that hart's state. Returns ErrHalt if the hart is fatally halted, or
// ctx.Err() if ctx is cancelled before the call is serviced.
func Ecall(ctx context.Context, m *Machine, hartID uint64, args EcallArgs) (SbiRet, error) {
	h := m.Hart(hartID)
	if h == nil {
		return SbiRet{}, errors.New("sbi: unknown hart id")
	}
	if h.IsFatal() {
		return SbiRet{}, ErrHalt
	}

	call := ecallCall{args: args, reply: make(chan SbiRet, 1)}
	select {
	case h.ecallCh <- call:
	case <-ctx.Done():
		return SbiRet{}, ctx.Err()
	}

	select {
	case ret := <-call.reply:
		return ret, nil
	case <-ctx.Done():
		return SbiRet{}, ctx.Err()
	}
}

// QueryMip reads hart id's mip CSR through its owning goroutine, avoiding
// the data race a direct field read from an external caller (such as a CLI
// status loop) would have against that goroutine's trap handling.
func QueryMip(ctx context.Context, m *Machine, hartID uint64) (uint64, error) {
	h := m.Hart(hartID)
	if h == nil {
		return 0, errors.New("sbi: unknown hart id")
	}
	reply := make(chan uint64, 1)
	select {
	case h.mipCh <- reply:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
