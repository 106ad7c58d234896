package sbi

import "testing"

func newTestHart() *HartContext {
	return NewHartContext(0, HartStarted, nil)
}

func TestCheckInterruptPicksHighestPriority(t *testing.T) {
	h := newTestHart()
	h.CSR.Mstatus |= MstatusMIE
	h.CSR.Mie = MipMEIP | MipMSIP | MipMTIP
	h.CSR.Mip = MipMEIP | MipMSIP | MipMTIP

	cause, ok := checkInterrupt(h)
	if !ok || cause != CauseMExternalInt {
		t.Fatalf("checkInterrupt() = (%#x, %v), want (CauseMExternalInt, true)", cause, ok)
	}
}

func TestCheckInterruptMIEGlobalDisableBlocksMOnly(t *testing.T) {
	h := newTestHart()
	h.CSR.Mstatus &^= MstatusMIE
	h.CSR.Mie = MipMTIP
	h.CSR.Mip = MipMTIP
	if _, ok := checkInterrupt(h); ok {
		t.Error("checkInterrupt() fired an M-mode-only interrupt with mstatus.MIE=0")
	}
}

func TestCheckInterruptDelegatedSTimerFiresWithSIE(t *testing.T) {
	h := newTestHart()
	h.CSR.Mstatus &^= MstatusMIE
	h.CSR.Mstatus |= MstatusSIE
	h.CSR.Mideleg = MipSTIP
	h.CSR.Mie = MipSTIP
	h.CSR.Mip = MipSTIP

	cause, ok := checkInterrupt(h)
	if !ok || cause != CauseSTimerInt {
		t.Fatalf("checkInterrupt() = (%#x, %v), want (CauseSTimerInt, true)", cause, ok)
	}
}

func TestCheckInterruptNoPendingBits(t *testing.T) {
	h := newTestHart()
	h.CSR.Mstatus |= MstatusMIE
	h.CSR.Mie = MipMTIP
	h.CSR.Mip = 0
	if _, ok := checkInterrupt(h); ok {
		t.Error("checkInterrupt() fired with no pending bits")
	}
}

func TestDelegateToSSavesTrapStateAndEntersSupervisor(t *testing.T) {
	h := newTestHart()
	h.CSR.Stvec = 0x8000_1000 | 1 // vectored mode, low bits masked off on use
	h.CSR.Mstatus |= MstatusSIE
	priv := PrivSupervisor

	pc := delegateToS(h, &priv, CauseIllegalInsn, 0xdead, 0x8000_0100)
	if pc != 0x8000_1000 {
		t.Errorf("delegateToS() target = %#x, want stvec base", pc)
	}
	if h.CSR.Sepc != 0x8000_0100 || h.CSR.Scause != CauseIllegalInsn || h.CSR.Stval != 0xdead {
		t.Errorf("trap state not saved: sepc=%#x scause=%#x stval=%#x", h.CSR.Sepc, h.CSR.Scause, h.CSR.Stval)
	}
	if h.CSR.Mstatus&MstatusSPIE == 0 {
		t.Error("SPIE not set from prior SIE=1")
	}
	if h.CSR.Mstatus&MstatusSIE != 0 {
		t.Error("SIE not cleared on trap entry")
	}
	if priv != PrivSupervisor {
		t.Errorf("priv = %d, want PrivSupervisor", priv)
	}
}

func TestDecodeRdtimeCSRRS(t *testing.T) {
	// csrrs a0, time, x0: opcode=0x73, funct3=010, rs1=0, rd=10(a0), csr=0xC01
	insn := uint32(0x73) | (0b010 << 12) | (10 << 7) | (0xC01 << 20)
	rd, isTime, isHigh, ok := decodeRdtimeCSRRS(insn)
	if !ok || !isTime || isHigh || rd != 10 {
		t.Fatalf("decodeRdtimeCSRRS(time) = (%d %v %v %v), want (10 true false true)", rd, isTime, isHigh, ok)
	}
}

func TestDecodeRdtimeCSRRSHigh(t *testing.T) {
	insn := uint32(0x73) | (0b010 << 12) | (11 << 7) | (0xC81 << 20)
	_, isTime, isHigh, ok := decodeRdtimeCSRRS(insn)
	if !ok || !isTime || !isHigh {
		t.Fatalf("decodeRdtimeCSRRS(timeh) ok=%v isTime=%v isHigh=%v, want all true", ok, isTime, isHigh)
	}
}

func TestDecodeRdtimeCSRRSRejectsNonZeroRS1(t *testing.T) {
	// rs1 field (bits 15-19) set to 1 means this is not a pure read.
	insn := uint32(0x73) | (0b010 << 12) | (1 << 15) | (0xC01 << 20)
	if _, _, _, ok := decodeRdtimeCSRRS(insn); ok {
		t.Error("decodeRdtimeCSRRS() matched an instruction with rs1 != x0")
	}
}

func TestDecodeRdtimeCSRRSRejectsOtherCSR(t *testing.T) {
	insn := uint32(0x73) | (0b010 << 12) | (0x100 << 20) // arbitrary unrelated CSR
	if _, _, _, ok := decodeRdtimeCSRRS(insn); ok {
		t.Error("decodeRdtimeCSRRS() matched an unrelated CSR address")
	}
}

func TestHandleIllegalInstructionEmulatesRdtime(t *testing.T) {
	h := newTestHart()
	clint := NewSimClint([]uint64{0}, 100)
	insn := uint32(0x73) | (0b010 << 12) | (10 << 7) | (0xC01 << 20)

	res := HandleIllegalInstruction(h, PrivSupervisor, 0x8000_0000, insn, clint)
	if !res.Emulated {
		t.Fatal("HandleIllegalInstruction() did not emulate rdtime")
	}
}

func TestHandleIllegalInstructionFromMIsFatal(t *testing.T) {
	h := newTestHart()
	clint := NewSimClint([]uint64{0}, 100)
	res := HandleIllegalInstruction(h, PrivMachine, 0x8000_0000, 0, clint)
	if !res.Fatal {
		t.Error("HandleIllegalInstruction() from M-mode should be fatal for a non-rdtime illegal insn")
	}
}

func TestHandleIllegalInstructionOutOfRangeRdDelegates(t *testing.T) {
	h := newTestHart()
	clint := NewSimClint([]uint64{0}, 100)
	// csrrs s0, time, x0: rd=8, outside the a0..a7 emulation window.
	insn := uint32(0x73) | (0b010 << 12) | (8 << 7) | (0xC01 << 20)

	res := HandleIllegalInstruction(h, PrivSupervisor, 0x8000_0000, insn, clint)
	if res.Emulated {
		t.Fatal("HandleIllegalInstruction() emulated a csrrs time into a register outside a0..a7")
	}
	if !res.Delegate {
		t.Error("HandleIllegalInstruction() with an out-of-range rd should delegate, not silently succeed")
	}
}

func TestHandleIllegalInstructionFromSDelegates(t *testing.T) {
	h := newTestHart()
	clint := NewSimClint([]uint64{0}, 100)
	res := HandleIllegalInstruction(h, PrivSupervisor, 0x8000_0000, 0, clint)
	if !res.Delegate {
		t.Error("HandleIllegalInstruction() from S-mode should delegate when not rdtime")
	}
}
