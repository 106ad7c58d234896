package sbi

// Trap is what a hart's instruction-dispatch loop raises to hand control to
// the M-mode trap handler. Cause follows the RISC-V mcause encoding (bit 63
// set for interrupts); Tval carries the trap value (faulting address,
// illegal instruction bits, and so on).
type Trap struct {
	Cause uint64
	Tval  uint64
}

// checkInterrupt reports whether hart has a pending, enabled interrupt and,
// if so, its cause. Grounded on internal/hv/riscv/rv64/csr.go's
// CheckInterrupt: machine interrupts outrank supervisor ones, and within
// each privilege level external > software > timer.
func checkInterrupt(h *HartContext) (uint64, bool) {
	pending := h.CSR.Mip & h.CSR.Mie
	if pending == 0 {
		return 0, false
	}

	// mip.MSIP/MTIP track msip/mtimecmp state via SetMSIP and the timer fast
	// path; mip.SSIP/STIP are set by the IPI/timer routing logic.
	if h.CSR.Mstatus&MstatusMIE == 0 {
		// M-mode interrupts globally disabled; only interrupts delegated to
		// S-mode (and not masked there) can still fire.
		mOnly := pending &^ h.CSR.Mideleg
		if mOnly != 0 {
			return 0, false // M-mode bits present but MIE=0: nothing fires
		}
		if h.CSR.Mstatus&MstatusSIE == 0 {
			return 0, false
		}
	}

	switch {
	case pending&MipMEIP != 0:
		return CauseMExternalInt, true
	case pending&MipMSIP != 0:
		return CauseMSoftwareInt, true
	case pending&MipMTIP != 0:
		return CauseMTimerInt, true
	case pending&MipSEIP != 0:
		return CauseSExternalInt, true
	case pending&MipSSIP != 0:
		return CauseSSoftwareInt, true
	case pending&MipSTIP != 0:
		return CauseSTimerInt, true
	}
	return 0, false
}

// delegateToS performs the S-mode trap entry sequence: save sepc/scause/
// stval, save SIE->SPIE, clear SIE, save current priv into SPP, enter
// Supervisor, and jump to stvec. Grounded on
// internal/hv/riscv/rv64/csr.go's HandleTrap delegated-to-S branch.
func delegateToS(h *HartContext, priv *uint8, cause, tval, pc uint64) uint64 {
	h.CSR.Sepc = pc
	h.CSR.Scause = cause
	h.CSR.Stval = tval

	if h.CSR.Mstatus&MstatusSIE != 0 {
		h.CSR.Mstatus |= MstatusSPIE
	} else {
		h.CSR.Mstatus &^= MstatusSPIE
	}
	h.CSR.Mstatus &^= MstatusSIE

	if *priv == PrivSupervisor {
		h.CSR.Mstatus |= MstatusSPP
	} else {
		h.CSR.Mstatus &^= MstatusSPP
	}
	*priv = PrivSupervisor

	return h.CSR.Stvec &^ 3
}

// enterM performs the M-mode trap entry sequence used by fatal and
// generic-dispatcher paths that must remain in machine mode.
func enterM(h *HartContext, priv *uint8, cause, tval, pc uint64) {
	h.CSR.Mepc = pc
	h.CSR.Mcause = cause
	h.CSR.Mtval = tval

	if h.CSR.Mstatus&MstatusMIE != 0 {
		h.CSR.Mstatus |= MstatusMPIE
	} else {
		h.CSR.Mstatus &^= MstatusMPIE
	}
	h.CSR.Mstatus &^= MstatusMIE

	h.CSR.Mstatus &^= MstatusMPP
	h.CSR.Mstatus |= uint64(*priv) << MstatusMPPShift
	*priv = PrivMachine
}

// delegates reports whether cause (an exception, not an interrupt) is
// delegated to S-mode under medeleg, and priv is at or below Supervisor
// (machine-mode traps are never delegated).
func delegates(h *HartContext, priv uint8, cause uint64) bool {
	if priv > PrivSupervisor {
		return false
	}
	return h.CSR.Medeleg&(uint64(1)<<cause) != 0
}

// HandleMachineTimerFastPath services a machine-timer interrupt
// (SPEC_FULL.md §4.1): clear the pending M-mode timer and forward it to
// mip.STIP. Does not touch mepc.
func HandleMachineTimerFastPath(h *HartContext, clint Clint) {
	if h.Features.Sstc {
		// Sstc platforms let the supervisor own stimecmp directly; the
		// M-mode handler only needs to stop the CLINT from re-firing.
		clint.MtimecmpWrite(h.ID, ^uint64(0))
	} else {
		clint.MtimecmpWrite(h.ID, ^uint64(0))
	}
	h.CSR.Mip |= MipSTIP
	h.CSR.Mie &^= MipMTIP // mask to avoid reentry until the supervisor re-arms
}

// HandleMachineSoftFastPath services a machine-soft interrupt
// (SPEC_FULL.md §4.1): clear msip, drain ipi_pending, and for a fence-kind
// bit drain the RFENCE queue. Also completes a pending HSM start/resume if
// one is parked. The drain resolves each requester hart id through
// m.Harts so that hart's outstanding counter can be decremented.
func HandleMachineSoftFastPath(m *Machine, h *HartContext) (woke *NextStage) {
	m.Clint.MSIPClear(h.ID)
	h.SetMSIP(false)

	bits := h.DrainIPI()
	if bits&IPIKindSupervisorSoft != 0 {
		h.CSR.Mip |= MipSSIP
	}
	if bits&IPIKindFence != 0 {
		events := h.RFence.drainOnce(func(id int) *RFenceCell {
			if id < 0 || id >= len(m.Harts) {
				return nil
			}
			return m.Harts[id].RFence
		})
		if len(events) > 0 {
			h.CSR.Mip |= MipSSIP
		}
	}

	// If this hart had parked itself STOPPED/SUSPENDED awaiting a start or
	// resume, complete the handshake now (SPEC_FULL.md §4.1's "before
	// returning from an IPI" rule).
	if stage, ok := h.HSM.AckStart(); ok {
		return &stage
	}
	if stage, ok := h.HSM.AckResume(); ok {
		return &stage
	}
	return nil
}

// ApplyNextStage performs the register setup a target hart does when
// picking up an HSM NextStage (hart_start's target-side half, and the
// non-retentive resume path): a0=hartid, a1=opaque, mepc=start_addr,
// mstatus.MPP=S, MPIE=1, satp=0, sstatus.SIE=0, M-mode soft/timer ints
// enabled.
func ApplyNextStage(h *HartContext, stage NextStage) {
	h.WriteReg(10, h.ID)       // a0
	h.WriteReg(11, stage.Opaque) // a1
	h.CSR.Mepc = stage.StartAddr
	h.CSR.Mstatus &^= MstatusMPP
	h.CSR.Mstatus |= uint64(PrivSupervisor) << MstatusMPPShift
	h.CSR.Mstatus |= MstatusMPIE
	h.CSR.Mstatus &^= MstatusSIE
	h.CSR.Satp = 0
	h.CSR.Mie |= MipMSIP | MipMTIP
}

// IllegalInsnResult is the outcome of attempting to emulate an illegal
// instruction, returned by HandleIllegalInstruction.
type IllegalInsnResult struct {
	Emulated   bool   // true if rdtime/rdtimeh emulation satisfied the trap
	Delegate   bool   // true if the trap should be delegated to S-mode
	NewMepcPC  uint64 // stvec target, valid when Delegate is true
	Fatal      bool   // true if the illegal instruction came from M-mode itself
}

// HandleIllegalInstruction attempts the csrrs rd, time/timeh, x0 emulation
// described in SPEC_FULL.md §4.4, falling back to S-mode delegation or a
// fatal halt. insn is the raw instruction word (from Tval, per the generic
// dispatcher's contract that mtval carries it for this cause). A decode that
// matches the encoding but targets a register outside a0..a7 is treated as
// unemulatable and falls through to delegation/fatal, per spec.md's
// "otherwise delegated as illegal" rule.
func HandleIllegalInstruction(h *HartContext, priv uint8, mepc uint64, insn uint32, clint Clint) IllegalInsnResult {
	if rd, isTime, isHigh, ok := decodeRdtimeCSRRS(insn); ok && rd >= 10 && rd <= 17 { // a0..a7
		mtime := clint.Mtime()
		var val uint64
		if isHigh {
			val = mtime >> 32
		} else if isTime {
			val = mtime & 0xffffffff
		}
		h.WriteReg(uint32(rd), val)
		return IllegalInsnResult{Emulated: true}
	}

	if priv == PrivMachine {
		return IllegalInsnResult{Fatal: true}
	}

	return IllegalInsnResult{Delegate: true}
}

// CSR addresses for time/timeh, used only by the rdtime emulation decoder.
const (
	csrTime   uint16 = 0xC01
	csrTimeH  uint16 = 0xC81
)

// decodeRdtimeCSRRS recognizes `csrrs rd, time, x0` / `csrrs rd, timeh, x0`
// encodings: opcode SYSTEM (0x73), funct3=010 (CSRRS), rs1=x0 (so it's a
// pure read), csr field selects time or timeh.
func decodeRdtimeCSRRS(insn uint32) (rd uint32, isTime bool, isHigh bool, ok bool) {
	const opcodeMask = 0x7f
	const systemOpcode = 0x73
	if insn&opcodeMask != systemOpcode {
		return 0, false, false, false
	}
	funct3 := (insn >> 12) & 0x7
	if funct3 != 0b010 { // CSRRS
		return 0, false, false, false
	}
	rs1 := (insn >> 15) & 0x1f
	if rs1 != 0 {
		return 0, false, false, false
	}
	csr := uint16((insn >> 20) & 0xfff)
	rd = (insn >> 7) & 0x1f
	switch csr {
	case csrTime:
		return rd, true, false, true
	case csrTimeH:
		return rd, true, true, true
	default:
		return 0, false, false, false
	}
}
