package sbi

import "sync/atomic"

// HSM state ids, tracked per hart.
const (
	HartStopped uint32 = iota
	HartStartPending
	HartStarted
	HartStopPending
	HartSuspended
	HartSuspendPending
	HartResumePending
)

// Suspend types recognized by hart_suspend.
const (
	SuspendRetentive    uint32 = 0x00000000
	SuspendNonRetentive uint32 = 0x80000000
)

// NextStage is the requester-to-target handoff written into an HSM cell when
// a hart transitions STOPPED->START_PENDING (or SUSPENDED->RESUME_PENDING).
// It is written exactly once by the requester and read exactly once by the
// target; the pair is a release/acquire handshake ordered by State.
type NextStage struct {
	StartAddr uint64
	Opaque    uint64
	Mode      uint8
}

// HSMCell is the single-producer/single-consumer handoff slot plus state
// field described in SPEC_FULL.md §3.
type HSMCell struct {
	state     atomic.Uint32
	nextStage atomic.Pointer[NextStage]
}

func newHSMCell(initial uint32) *HSMCell {
	c := &HSMCell{}
	c.state.Store(initial)
	return c
}

// State returns the hart's current HSM state.
func (c *HSMCell) State() uint32 {
	return c.state.Load()
}

// cas attempts a compare-and-swap from `from` to `to`, returning whether it
// succeeded.
func (c *HSMCell) cas(from, to uint32) bool {
	return c.state.CompareAndSwap(from, to)
}

// publishNextStage writes the handoff and then performs the CAS that makes
// it visible, so the pair is ordered as a release (store) followed by the
// state transition the target acquires against.
func (c *HSMCell) publishNextStage(stage NextStage, from, to uint32) bool {
	c.nextStage.Store(&stage)
	if !c.cas(from, to) {
		// Roll back: the CAS lost the race, don't leave a stage visible to
		// a future stage that doesn't belong to it.
		c.nextStage.Store(nil)
		return false
	}
	return true
}

// takeNextStage reads and clears the handoff slot. Must only be called by
// the target hart itself, after observing its own START_PENDING/
// RESUME_PENDING state, per SPEC_FULL.md §3's ownership rule.
func (c *HSMCell) takeNextStage() (NextStage, bool) {
	p := c.nextStage.Swap(nil)
	if p == nil {
		return NextStage{}, false
	}
	return *p, true
}

// HartStart implements the hart_start ecall (SPEC_FULL.md §4.2) against the
// target hart's cell. start_addr is validated against the board's RAM
// bounds by the caller (dispatch.go's Board.InRAM check) before this is
// reached, since HSMCell has no notion of memory layout.
func (c *HSMCell) HartStart(startAddr, opaque uint64) SbiRet {
	if !c.publishNextStage(NextStage{StartAddr: startAddr, Opaque: opaque, Mode: PrivSupervisor}, HartStopped, HartStartPending) {
		switch c.State() {
		case HartStarted, HartStartPending:
			return Err(ErrAlreadyAvailable)
		default:
			return Err(ErrFailed)
		}
	}
	return Ok(0)
}

// AckStart is called by the target hart itself from its machine-soft
// handler once it observes START_PENDING and has picked up NextStage.
func (c *HSMCell) AckStart() (NextStage, bool) {
	if c.State() != HartStartPending {
		return NextStage{}, false
	}
	stage, ok := c.takeNextStage()
	if !ok {
		return NextStage{}, false
	}
	c.state.Store(HartStarted)
	return stage, true
}

// HartStop moves the cell to STOPPED. The hart_stop ecall calls it on the
// calling hart's own cell; Boot's genesis hart also calls it on every
// non-boot hart's cell.
func (c *HSMCell) HartStop() SbiRet {
	c.state.Store(HartStopped)
	return Ok(0)
}

// HartGetStatus returns the raw state id wrapped as a successful SbiRet
// value, matching hart_get_status's wire contract.
func (c *HSMCell) HartGetStatus() SbiRet {
	return Ok(uint64(c.State()))
}

// HartSuspend begins a suspend cycle. Retentive suspends are handled
// entirely by the caller (a wfi-equivalent block); non-retentive suspends
// behave like hart_stop on entry (state -> SUSPEND_PENDING, then
// MarkSuspended moves it to SUSPENDED) and the resume path (AckResume)
// behaves like hart_start on wake.
func (c *HSMCell) HartSuspend(suspendType uint32, resumeAddr, opaque uint64) SbiRet {
	switch suspendType {
	case SuspendRetentive:
		if !c.cas(HartStarted, HartSuspendPending) {
			return Err(ErrFailed)
		}
		// Retentive: the caller blocks in wfi and then restores STARTED
		// itself once it wakes; no NextStage is needed because execution
		// resumes where it left off.
		return Ok(0)
	case SuspendNonRetentive:
		if !c.publishNextStage(NextStage{StartAddr: resumeAddr, Opaque: opaque, Mode: PrivSupervisor}, HartStarted, HartSuspendPending) {
			return Err(ErrFailed)
		}
		return Ok(0)
	default:
		return Err(ErrInvalidParam)
	}
}

// CompleteRetentiveSuspend restores STARTED after a retentive wfi wakes.
func (c *HSMCell) CompleteRetentiveSuspend() {
	c.state.CompareAndSwap(HartSuspendPending, HartStarted)
}

// MarkSuspended transitions a non-retentive suspend from SUSPEND_PENDING
// into SUSPENDED once the hart has actually parked.
func (c *HSMCell) MarkSuspended() {
	c.state.CompareAndSwap(HartSuspendPending, HartSuspended)
}

// AckResume is the SUSPENDED/RESUME_PENDING analogue of AckStart: the wake
// IPI handler calls this to pick up the resume address.
func (c *HSMCell) AckResume() (NextStage, bool) {
	if !c.cas(HartSuspended, HartResumePending) {
		return NextStage{}, false
	}
	stage, ok := c.takeNextStage()
	if !ok {
		// Retentive suspends never published a stage; the wake path for
		// those goes through CompleteRetentiveSuspend instead.
		c.state.Store(HartStarted)
		return NextStage{}, false
	}
	c.state.Store(HartStarted)
	return stage, true
}

// forceStarted sets the state to STARTED unconditionally, used once at boot
// time for the boot hart, which begins execution without ever passing
// through a hart_start call from a peer.
func (c *HSMCell) forceStarted() {
	c.state.Store(HartStarted)
}

// AllowsIPI reports whether a machine-soft IPI should be delivered to a
// hart in this state (SPEC_FULL.md §4.4: a STOPPED hart with no pending
// start is not a valid IPI target).
func (c *HSMCell) AllowsIPI() bool {
	switch c.State() {
	case HartStopped:
		return false
	default:
		return true
	}
}
