package sbi

import "testing"

func TestReadWriteRegX0AlwaysZero(t *testing.T) {
	h := NewHartContext(0, HartStopped, nil)
	h.WriteReg(0, 0xdead)
	if got := h.ReadReg(0); got != 0 {
		t.Errorf("ReadReg(x0) = %#x, want 0", got)
	}
}

func TestReadWriteRegRoundTrip(t *testing.T) {
	h := NewHartContext(0, HartStopped, nil)
	h.WriteReg(10, 0x1234)
	if got := h.ReadReg(10); got != 0x1234 {
		t.Errorf("ReadReg(a0) = %#x, want 0x1234", got)
	}
}

func TestRaiseIPIReportsFirstSetter(t *testing.T) {
	h := NewHartContext(0, HartStarted, nil)
	if wasZero := h.RaiseIPI(IPIKindSupervisorSoft); !wasZero {
		t.Error("first RaiseIPI() should report wasZero=true")
	}
	if wasZero := h.RaiseIPI(IPIKindSupervisorSoft); wasZero {
		t.Error("second RaiseIPI() with the same bit already set should report wasZero=false")
	}
	if wasZero := h.RaiseIPI(IPIKindFence); wasZero {
		t.Error("RaiseIPI() with a distinct bit on top of an already-nonzero bitset should report wasZero=false")
	}
}

func TestDrainIPIClearsBitset(t *testing.T) {
	h := NewHartContext(0, HartStarted, nil)
	h.RaiseIPI(IPIKindSupervisorSoft | IPIKindFence)
	bits := h.DrainIPI()
	if bits != IPIKindSupervisorSoft|IPIKindFence {
		t.Errorf("DrainIPI() = %#x, want both kinds set", bits)
	}
	if h.DrainIPI() != 0 {
		t.Error("second DrainIPI() should return 0")
	}
}

func TestSetMSIPUpdatesMip(t *testing.T) {
	h := NewHartContext(0, HartStarted, nil)
	h.SetMSIP(true)
	if h.CSR.Mip&MipMSIP == 0 {
		t.Error("mip.MSIP not set after SetMSIP(true)")
	}
	h.SetMSIP(false)
	if h.CSR.Mip&MipMSIP != 0 {
		t.Error("mip.MSIP still set after SetMSIP(false)")
	}
}

func TestHaltLatchesFatal(t *testing.T) {
	h := NewHartContext(0, HartStarted, nil)
	if h.IsFatal() {
		t.Fatal("IsFatal() = true before Halt")
	}
	h.Halt(CauseIllegalInsn, 0x8000_0000, 0)
	if !h.IsFatal() {
		t.Error("IsFatal() = false after Halt")
	}
}

func TestWakeIsNonBlockingAndCoalesces(t *testing.T) {
	h := NewHartContext(0, HartStarted, nil)
	h.Wake()
	h.Wake() // must not block even though the channel has capacity 1
	h.WaitForWake()
}
