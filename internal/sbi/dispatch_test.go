package sbi

import "testing"

func newTestMachineForDispatch(t *testing.T, hartCount int) *Machine {
	t.Helper()
	board := DefaultBoard()
	board.HartCount = hartCount
	board.BootHartID = 0
	clint := NewSimClint(board.Harts(), 100)
	console := NewBufferConsole()
	reset := NewLogReset(nil)
	m, err := NewMachine(board, clint, console, reset, nil)
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	return m
}

func TestDispatchBaseGetSpecVersion(t *testing.T) {
	m := newTestMachineForDispatch(t, 1)
	ret := Dispatch(m, m.Hart(0), EcallArgs{EID: EidBase, FID: BaseGetSpecVersion})
	if ret.Error != ErrSuccess {
		t.Fatalf("dispatch base get_spec_version = %+v", ret)
	}
	if major := ret.Value >> 24; major != SpecVersionMajor {
		t.Errorf("spec major = %d, want %d", major, SpecVersionMajor)
	}
}

func TestDispatchUnknownExtensionIsNotSupported(t *testing.T) {
	m := newTestMachineForDispatch(t, 1)
	ret := Dispatch(m, m.Hart(0), EcallArgs{EID: 0xdeadbeef})
	if ret.Error != ErrNotSupported {
		t.Errorf("dispatch unknown EID = %+v, want NOT_SUPPORTED", ret)
	}
}

func TestDispatchHSMHartStartTargetsOtherHart(t *testing.T) {
	m := newTestMachineForDispatch(t, 2)
	ret := Dispatch(m, m.Hart(0), EcallArgs{EID: EidHSM, FID: hsmHartStart, Arg0: 1, Arg1: 0x8020_0000, Arg2: 0x42})
	if ret.Error != ErrSuccess {
		t.Fatalf("hart_start = %+v, want success", ret)
	}
	if m.Hart(1).HSM.State() != HartStartPending {
		t.Errorf("hart 1 state = %d, want HartStartPending", m.Hart(1).HSM.State())
	}
}

func TestDispatchHSMHartStartInvalidHart(t *testing.T) {
	m := newTestMachineForDispatch(t, 1)
	ret := Dispatch(m, m.Hart(0), EcallArgs{EID: EidHSM, FID: hsmHartStart, Arg0: 99})
	if ret.Error != ErrInvalidParam {
		t.Errorf("hart_start(bad target) = %+v, want INVALID_PARAM", ret)
	}
}

func TestDispatchHSMHartStartOutOfRangeAddrIsInvalidAddress(t *testing.T) {
	m := newTestMachineForDispatch(t, 2)
	ret := Dispatch(m, m.Hart(0), EcallArgs{EID: EidHSM, FID: hsmHartStart, Arg0: 1, Arg1: 0x1000})
	if ret.Error != ErrInvalidAddress {
		t.Errorf("hart_start(addr outside RAM) = %+v, want INVALID_ADDRESS", ret)
	}
	if m.Hart(1).HSM.State() != HartStopped {
		t.Errorf("hart 1 state = %d, want HartStopped after rejected hart_start", m.Hart(1).HSM.State())
	}
}

func TestDispatchHSMHartSuspendNonRetentiveOutOfRangeAddrIsInvalidAddress(t *testing.T) {
	m := newTestMachineForDispatch(t, 1)
	h := m.Hart(0)
	h.HSM.forceStarted()
	ret := Dispatch(m, h, EcallArgs{EID: EidHSM, FID: hsmHartSuspend, Arg0: uint64(SuspendNonRetentive), Arg1: 0x1000})
	if ret.Error != ErrInvalidAddress {
		t.Errorf("hart_suspend(non-retentive, addr outside RAM) = %+v, want INVALID_ADDRESS", ret)
	}
	if h.HSM.State() != HartStarted {
		t.Errorf("hart state = %d, want HartStarted after rejected hart_suspend", h.HSM.State())
	}
}

func TestDispatchRFenceUnalignedRangeIsInvalidAddress(t *testing.T) {
	m := newTestMachineForDispatch(t, 1)
	ret := Dispatch(m, m.Hart(0), EcallArgs{
		EID: EidRFence, FID: rfenceSFenceVMA, Arg0: HartMaskAllHarts, Arg1: 0, Arg2: 0x1001, Arg3: 0x100,
	})
	if ret.Error != ErrInvalidAddress {
		t.Errorf("unaligned sfence.vma = %+v, want INVALID_ADDRESS", ret)
	}
}

func TestDispatchRFenceHFenceWithoutHExtensionIsNotSupported(t *testing.T) {
	m := newTestMachineForDispatch(t, 1)
	ret := Dispatch(m, m.Hart(0), EcallArgs{EID: EidRFence, FID: rfenceHFenceGVMA, Arg0: HartMaskAllHarts})
	if ret.Error != ErrNotSupported {
		t.Errorf("hfence.gvma without H ext = %+v, want NOT_SUPPORTED", ret)
	}
}

func TestDispatchRFenceSingleHartSelfFlush(t *testing.T) {
	m := newTestMachineForDispatch(t, 1)
	h := m.Hart(0)
	h.HSM.forceStarted()
	ret := Dispatch(m, h, EcallArgs{
		EID: EidRFence, FID: rfenceFenceI, Arg0: HartMaskAllHarts, Arg1: 0,
	})
	if ret.Error != ErrSuccess {
		t.Fatalf("remote_fence_i(self) = %+v, want success", ret)
	}
	if h.RFence.Outstanding() != 0 {
		t.Errorf("outstanding = %d, want 0 after self-service", h.RFence.Outstanding())
	}
	if len(h.RFence.FenceLog()) != 1 {
		t.Errorf("fence log has %d entries, want 1", len(h.RFence.FenceLog()))
	}
}

func TestDispatchSRSTUnknownResetTypeIsInvalidParam(t *testing.T) {
	m := newTestMachineForDispatch(t, 1)
	ret := Dispatch(m, m.Hart(0), EcallArgs{EID: EidSRST, FID: srstSystemReset, Arg0: 0x9999})
	if ret.Error != ErrInvalidParam {
		t.Errorf("system_reset(bad type) = %+v, want INVALID_PARAM", ret)
	}
}

func TestDispatchSRSTShutdownRecordedOnResetCollaborator(t *testing.T) {
	m := newTestMachineForDispatch(t, 1)
	ret := Dispatch(m, m.Hart(0), EcallArgs{EID: EidSRST, FID: srstSystemReset, Arg0: uint64(ResetTypeShutdown), Arg1: uint64(ResetReasonNone)})
	if ret.Error != ErrSuccess {
		t.Fatalf("system_reset(shutdown) = %+v, want success", ret)
	}
	lr := m.Reset.(*LogReset)
	if !lr.ShutdownRequested() {
		t.Error("ShutdownRequested() = false after system_reset shutdown")
	}
}

func TestDispatchPMUNumCountersIsZeroByDefault(t *testing.T) {
	m := newTestMachineForDispatch(t, 1)
	ret := Dispatch(m, m.Hart(0), EcallArgs{EID: EidPMU, FID: pmuNumCounters})
	if ret.Error != ErrSuccess || ret.Value != 0 {
		t.Errorf("pmu_num_counters = %+v, want {0 0}", ret)
	}
}

func TestDispatchPMUOtherFunctionsNotSupported(t *testing.T) {
	m := newTestMachineForDispatch(t, 1)
	ret := Dispatch(m, m.Hart(0), EcallArgs{EID: EidPMU, FID: 7})
	if ret.Error != ErrNotSupported {
		t.Errorf("pmu unknown fid = %+v, want NOT_SUPPORTED", ret)
	}
}

func TestDispatchLegacyPutcharWritesConsole(t *testing.T) {
	m := newTestMachineForDispatch(t, 1)
	ret := Dispatch(m, m.Hart(0), EcallArgs{EID: EidLegacyPutchar, Arg0: uint64('A')})
	if ret.Error != 0 {
		t.Fatalf("legacy putchar = %+v, want error=0", ret)
	}
	if got := m.Console.(*BufferConsole).Written(); string(got) != "A" {
		t.Errorf("console contents = %q, want %q", got, "A")
	}
}

func TestDispatchLegacyGetcharNoInputReturnsNegativeOne(t *testing.T) {
	m := newTestMachineForDispatch(t, 1)
	ret := Dispatch(m, m.Hart(0), EcallArgs{EID: EidLegacyGetchar})
	if ret.Error != -1 {
		t.Errorf("legacy getchar with no input = %+v, want error=-1", ret)
	}
}

func TestDispatchDBCNConsoleWriteByte(t *testing.T) {
	m := newTestMachineForDispatch(t, 1)
	ret := Dispatch(m, m.Hart(0), EcallArgs{EID: EidDBCN, FID: dbcnConsoleWriteByte, Arg0: uint64('z')})
	if ret.Error != ErrSuccess {
		t.Fatalf("console_write_byte = %+v, want success", ret)
	}
	if got := m.Console.(*BufferConsole).Written(); string(got) != "z" {
		t.Errorf("console contents = %q, want %q", got, "z")
	}
}
