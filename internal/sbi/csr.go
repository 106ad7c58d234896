// Package sbi implements the M-mode core of a RISC-V SBI firmware: trap
// dispatch, hart state management, remote fencing, and timer/IPI routing.
package sbi

// Privilege levels.
const (
	PrivUser       uint8 = 0
	PrivSupervisor uint8 = 1
	PrivMachine    uint8 = 3
)

// mstatus bits.
const (
	MstatusSIE  uint64 = 1 << 1
	MstatusMIE  uint64 = 1 << 3
	MstatusSPIE uint64 = 1 << 5
	MstatusMPIE uint64 = 1 << 7
	MstatusSPP  uint64 = 1 << 8
	MstatusMPP  uint64 = 3 << 11
	MstatusMPRV uint64 = 1 << 17
	MstatusSUM  uint64 = 1 << 18
	MstatusMXR  uint64 = 1 << 19
	MstatusTVM  uint64 = 1 << 20
	MstatusTW   uint64 = 1 << 21
	MstatusTSR  uint64 = 1 << 22
)

const (
	MstatusSPPShift = 8
	MstatusMPPShift = 11
)

// mip / mie bits.
const (
	MipSSIP uint64 = 1 << 1  // supervisor software interrupt pending
	MipMSIP uint64 = 1 << 3  // machine software interrupt pending
	MipSTIP uint64 = 1 << 5  // supervisor timer interrupt pending
	MipMTIP uint64 = 1 << 7  // machine timer interrupt pending
	MipSEIP uint64 = 1 << 9  // supervisor external interrupt pending
	MipMEIP uint64 = 1 << 11 // machine external interrupt pending
)

// Exception causes.
const (
	CauseInsnAddrMisaligned  uint64 = 0
	CauseInsnAccessFault     uint64 = 1
	CauseIllegalInsn         uint64 = 2
	CauseBreakpoint          uint64 = 3
	CauseLoadAddrMisaligned  uint64 = 4
	CauseLoadAccessFault     uint64 = 5
	CauseStoreAddrMisaligned uint64 = 6
	CauseStoreAccessFault    uint64 = 7
	CauseEcallFromU          uint64 = 8
	CauseEcallFromS          uint64 = 9
	CauseEcallFromM          uint64 = 11
	CauseInsnPageFault       uint64 = 12
	CauseLoadPageFault       uint64 = 13
	CauseStorePageFault      uint64 = 15
)

// Interrupt causes (bit 63 set).
const (
	CauseSSoftwareInt uint64 = (1 << 63) | 1
	CauseMSoftwareInt uint64 = (1 << 63) | 3
	CauseSTimerInt    uint64 = (1 << 63) | 5
	CauseMTimerInt    uint64 = (1 << 63) | 7
	CauseSExternalInt uint64 = (1 << 63) | 9
	CauseMExternalInt uint64 = (1 << 63) | 11
)

// medeleg bits this core leaves cleared (retained at M-mode) by default.
// Ecall-from-S and illegal-instruction are the mandated minimum (SPEC_FULL.md
// §9); misaligned load/store are retained too so the rdtime emulation path
// has a consistent neighbor.
const defaultMedelegRetained = (uint64(1) << CauseEcallFromS) |
	(uint64(1) << CauseIllegalInsn) |
	(uint64(1) << CauseLoadAddrMisaligned) |
	(uint64(1) << CauseStoreAddrMisaligned)

// defaultMedeleg delegates every exception except the bits retained at
// M-mode. Only the low 16 exception codes are defined.
const defaultMedeleg = (uint64(0xffff) &^ defaultMedelegRetained)

// defaultMideleg delegates the three supervisor interrupt bits.
const defaultMideleg = MipSSIP | MipSTIP | MipSEIP

// PageSize is the page granularity used for RFENCE range emission.
const PageSize = 4096

// TLBFlushLimit is the range size above which a full flush is emitted
// instead of one fence instruction per page.
const TLBFlushLimit = 4 * PageSize
