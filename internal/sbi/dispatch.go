package sbi

// EcallArgs mirrors the register contract of an SBI ecall: a7 selects the
// extension, a6 selects the function within it, a0..a5 carry arguments.
type EcallArgs struct {
	EID  uint64
	FID  uint64
	Arg0 uint64
	Arg1 uint64
	Arg2 uint64
	Arg3 uint64
	Arg4 uint64
	Arg5 uint64
}

// Dispatch decodes an ecall made by hart h and routes it to the matching
// extension handler, returning the SbiRet to be placed in (a0, a1).
// Grounded on internal/hv/riscv/rv64/sbi.go's HandleSBI switch over EID.
func Dispatch(m *Machine, h *HartContext, args EcallArgs) SbiRet {
	switch args.EID {
	case EidBase:
		return dispatchBase(args)
	case EidTime:
		return dispatchTime(m, h, args)
	case EidIPI:
		return dispatchIPI(m, args)
	case EidRFence:
		return dispatchRFence(m, h, args)
	case EidHSM:
		return dispatchHSM(m, h, args)
	case EidSRST:
		return dispatchSRST(m, args)
	case EidPMU:
		return dispatchPMU(h, args)
	case EidDBCN:
		return dispatchDBCN(m, args)
	case EidLegacyPutchar:
		return legacyPutchar(m, args)
	case EidLegacyGetchar:
		return legacyGetchar(m)
	default:
		return Err(ErrNotSupported)
	}
}

// probeExtension answers probe_extension(eid): 0 if absent, non-zero if the
// extension id is recognized by this core at all, independent of whether
// every function within it is implemented.
func probeExtension(eid uint64) uint64 {
	switch eid {
	case EidBase, EidTime, EidIPI, EidRFence, EidHSM, EidSRST, EidPMU, EidDBCN:
		return 1
	default:
		return 0
	}
}

func dispatchBase(args EcallArgs) SbiRet {
	switch args.FID {
	case BaseGetSpecVersion:
		return Ok(specVersion())
	case BaseGetImplID:
		return Ok(ImplID)
	case BaseGetImplVersion:
		return Ok(ImplVersion)
	case BaseProbeExtension:
		return Ok(probeExtension(args.Arg0))
	case BaseGetMvendorID, BaseGetMarchID, BaseGetMimpID:
		return Ok(0)
	default:
		return Err(ErrNotSupported)
	}
}

// TIME extension function ids.
const timeSetTimer uint64 = 0

func dispatchTime(m *Machine, h *HartContext, args EcallArgs) SbiRet {
	switch args.FID {
	case timeSetTimer:
		return SetTimer(m, h, args.Arg0)
	default:
		return Err(ErrNotSupported)
	}
}

// sPI extension function ids.
const ipiSendIPI uint64 = 0

func dispatchIPI(m *Machine, args EcallArgs) SbiRet {
	switch args.FID {
	case ipiSendIPI:
		return SendIPI(m, HartMask{Bits: args.Arg0, Base: args.Arg1})
	default:
		return Err(ErrNotSupported)
	}
}

// RFNC extension function ids.
const (
	rfenceFenceI            uint64 = 0
	rfenceSFenceVMA         uint64 = 1
	rfenceSFenceVMAASID     uint64 = 2
	rfenceHFenceGVMAVMID    uint64 = 3
	rfenceHFenceGVMA        uint64 = 4
	rfenceHFenceVVMAASID    uint64 = 5
	rfenceHFenceVVMA        uint64 = 6
)

func dispatchRFence(m *Machine, h *HartContext, args EcallArgs) SbiRet {
	mask := HartMask{Bits: args.Arg0, Base: args.Arg1}

	var op uint8
	var startAddr, size, asidOrVMID uint64
	switch args.FID {
	case rfenceFenceI:
		op = FenceI
	case rfenceSFenceVMA:
		op, startAddr, size = SFenceVMA, args.Arg2, args.Arg3
		if err, bad := checkFenceRange(startAddr, size); bad {
			return err
		}
	case rfenceSFenceVMAASID:
		op, startAddr, size, asidOrVMID = SFenceVMAASID, args.Arg2, args.Arg3, args.Arg4
		if err, bad := checkFenceRange(startAddr, size); bad {
			return err
		}
	case rfenceHFenceGVMAVMID:
		op, startAddr, size, asidOrVMID = HFenceGVMAVMID, args.Arg2, args.Arg3, args.Arg4
	case rfenceHFenceGVMA:
		op, startAddr, size = HFenceGVMA, args.Arg2, args.Arg3
	case rfenceHFenceVVMAASID:
		op, startAddr, size, asidOrVMID = HFenceVVMAASID, args.Arg2, args.Arg3, args.Arg4
	case rfenceHFenceVVMA:
		op, startAddr, size = HFenceVVMA, args.Arg2, args.Arg3
	default:
		return Err(ErrNotSupported)
	}

	if isHFenceOp(op) && !h.Features.H {
		return Err(ErrNotSupported)
	}

	return submitRFence(m, h, mask, RFenceRequest{
		Op:         op,
		StartAddr:  startAddr,
		Size:       size,
		ASIDorVMID: asidOrVMID,
	})
}

func isHFenceOp(op uint8) bool {
	switch op {
	case HFenceGVMA, HFenceGVMAVMID, HFenceVVMA, HFenceVVMAASID:
		return true
	default:
		return false
	}
}

// checkFenceRange validates the (start, size) pair against the rules in
// SPEC_FULL.md §4.3: a non-full-flush range whose start is not page aligned
// is rejected rather than silently rounded, and so is a range whose end
// wraps past the top of the address space.
func checkFenceRange(start, size uint64) (SbiRet, bool) {
	req := RFenceRequest{StartAddr: start, Size: size}
	if req.isFullFlush() {
		return SbiRet{}, false
	}
	if start%PageSize != 0 {
		return Err(ErrInvalidAddress), true
	}
	if start+size < start {
		return Err(ErrInvalidAddress), true
	}
	return SbiRet{}, false
}

// submitRFence implements the requester-side algorithm in SPEC_FULL.md
// §4.3: enqueue onto every selected target (self-draining on backpressure),
// raise a fence IPI per target, then block draining this hart's own inbound
// queue until every issued request has been serviced.
func submitRFence(m *Machine, requester *HartContext, mask HartMask, req RFenceRequest) SbiRet {
	req.RequesterID = int(requester.ID)
	resolve := func(id int) *RFenceCell { return harts(m, id) }

	var issued bool
	for _, target := range m.Harts {
		if !mask.Contains(target.ID) || target.HSM.State() == HartStopped {
			continue
		}
		issued = true
		requester.RFence.addOutstanding(1)
		for !target.RFence.tryEnqueue(req) {
			// Break mutual backpressure by servicing our own inbound queue
			// once before retrying, per SPEC_FULL.md §4.3.
			requester.RFence.drainOnce(resolve)
		}
		if target.ID != requester.ID {
			raiseFenceIPI(m, target)
		}
	}

	for issued && requester.RFence.Outstanding() > 0 {
		requester.RFence.drainOnce(resolve)
	}

	return Ok(0)
}

func harts(m *Machine, id int) *RFenceCell {
	if id < 0 || id >= len(m.Harts) {
		return nil
	}
	return m.Harts[id].RFence
}

// HSM extension function ids.
const (
	hsmHartStart      uint64 = 0
	hsmHartStop       uint64 = 1
	hsmHartGetStatus  uint64 = 2
	hsmHartSuspend    uint64 = 3
)

func dispatchHSM(m *Machine, h *HartContext, args EcallArgs) SbiRet {
	switch args.FID {
	case hsmHartStart:
		target := m.Hart(args.Arg0)
		if target == nil {
			return Err(ErrInvalidParam)
		}
		if !m.Board.InRAM(args.Arg1) {
			return Err(ErrInvalidAddress)
		}
		ret := target.HSM.HartStart(args.Arg1, args.Arg2)
		if ret.Error == ErrSuccess {
			target.Wake()
		}
		return ret
	case hsmHartStop:
		ret := h.HSM.HartStop()
		h.PMU = PMUState{}
		return ret
	case hsmHartGetStatus:
		target := m.Hart(args.Arg0)
		if target == nil {
			return Err(ErrInvalidParam)
		}
		return target.HSM.HartGetStatus()
	case hsmHartSuspend:
		suspendType := uint32(args.Arg0)
		if suspendType == SuspendNonRetentive && !m.Board.InRAM(args.Arg1) {
			return Err(ErrInvalidAddress)
		}
		ret := h.HSM.HartSuspend(suspendType, args.Arg1, args.Arg2)
		if ret.Error == ErrSuccess && suspendType == SuspendNonRetentive {
			// The ecall itself is this model's parking instant: there is no
			// separate "now actually idle" step to wait for.
			h.HSM.MarkSuspended()
		}
		return ret
	default:
		return Err(ErrNotSupported)
	}
}

// SRST extension function ids.
const srstSystemReset uint64 = 0

func dispatchSRST(m *Machine, args EcallArgs) SbiRet {
	switch args.FID {
	case srstSystemReset:
		resetType := uint32(args.Arg0)
		reason := args.Arg1
		switch resetType {
		case ResetTypeShutdown:
			if err := m.Reset.Shutdown(reason); err != nil {
				return Err(ErrFailed)
			}
		case ResetTypeColdReboot, ResetTypeWarmReboot:
			if err := m.Reset.Reboot(reason); err != nil {
				return Err(ErrFailed)
			}
		default:
			return Err(ErrInvalidParam)
		}
		// A real system_reset never returns to its caller; this software
		// model keeps running. With LogReset, a recorded shutdown ends
		// RunHart's loop (LogReset.ShutdownRequested); a recorded reboot
		// is only visible through LogReset.RebootRequested.
		return Ok(0)
	default:
		return Err(ErrNotSupported)
	}
}

// PMU extension function ids.
const pmuNumCounters uint64 = 0

func dispatchPMU(h *HartContext, args EcallArgs) SbiRet {
	switch args.FID {
	case pmuNumCounters:
		return Ok(h.PMU.NumCounters)
	default:
		return Err(ErrNotSupported)
	}
}

// DBCN extension function ids.
const (
	dbcnConsoleWrite     uint64 = 0
	dbcnConsoleRead      uint64 = 1
	dbcnConsoleWriteByte uint64 = 2
)

// dispatchDBCN implements the Debug Console extension's byte-stream calls
// against the Console capability. This core does not model guest physical
// memory, so the guest buffer at arg1/arg2 (base_addr_lo/hi) is never read
// or written: console_write writes arg0 (num_bytes) zero bytes to the
// console, and console_read consumes up to arg0 already-available input
// bytes and discards them -- a deliberate simplification of the
// shared-memory contract, recorded in DESIGN.md.
func dispatchDBCN(m *Machine, args EcallArgs) SbiRet {
	switch args.FID {
	case dbcnConsoleWrite:
		n, err := m.Console.WriteBytes(make([]byte, args.Arg0))
		if err != nil {
			return Err(ErrIO)
		}
		return Ok(uint64(n))
	case dbcnConsoleRead:
		var n uint64
		for n < args.Arg0 {
			if _, ok := m.Console.ReadByteNonBlocking(); !ok {
				break
			}
			n++
		}
		return Ok(n)
	case dbcnConsoleWriteByte:
		b := byte(args.Arg0)
		if _, err := m.Console.WriteBytes([]byte{b}); err != nil {
			return Err(ErrIO)
		}
		return Ok(0)
	default:
		return Err(ErrNotSupported)
	}
}

// legacyPutchar and legacyGetchar implement the pre-v0.2 single-byte
// console calls, used when a supervisor has not probed DBCN.
func legacyPutchar(m *Machine, args EcallArgs) SbiRet {
	b := byte(args.Arg0)
	// Console failures are swallowed on the legacy path (SPEC_FULL.md §7).
	_, _ = m.Console.WriteBytes([]byte{b})
	return SbiRet{Error: 0}
}

func legacyGetchar(m *Machine) SbiRet {
	b, ok := m.Console.ReadByteNonBlocking()
	if !ok {
		return SbiRet{Error: -1}
	}
	return SbiRet{Error: int64(b)}
}
