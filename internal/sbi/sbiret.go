package sbi

// SbiRet is the two-word return value every SBI ecall produces, placed in
// (a0, a1) by the dispatcher.
type SbiRet struct {
	Error int64
	Value uint64
}

// Ok builds a successful SbiRet carrying value.
func Ok(value uint64) SbiRet {
	return SbiRet{Error: ErrSuccess, Value: value}
}

// Err builds a failed SbiRet with no meaningful value.
func Err(code int64) SbiRet {
	return SbiRet{Error: code}
}

// SBI v2.0 error codes. Numbers are mandated by the SBI specification.
const (
	ErrSuccess          int64 = 0
	ErrFailed           int64 = -1
	ErrNotSupported     int64 = -2
	ErrInvalidParam     int64 = -3
	ErrDenied           int64 = -4
	ErrInvalidAddress   int64 = -5
	ErrAlreadyAvailable int64 = -6
	ErrAlreadyStarted   int64 = -7
	ErrAlreadyStopped   int64 = -8
	ErrNoShmem          int64 = -9
	ErrInvalidState     int64 = -10
	ErrBadRange         int64 = -11
	ErrTimeout          int64 = -12
	ErrIO               int64 = -13
	ErrDeniedLocked     int64 = -14
)

// Extension IDs enumerated by this core.
const (
	EidBase   uint64 = 0x10
	EidTime   uint64 = 0x54494D45 // "TIME"
	EidIPI    uint64 = 0x735049   // "sPI"
	EidRFence uint64 = 0x52464E43 // "RFNC"
	EidHSM    uint64 = 0x48534D   // "HSM"
	EidSRST   uint64 = 0x53525354 // "SRST"
	EidPMU    uint64 = 0x504D55   // "PMU"
	EidDBCN   uint64 = 0x4442434E // "DBCN"

	EidLegacyPutchar uint64 = 0x01
	EidLegacyGetchar uint64 = 0x02
)

// Base extension function IDs.
const (
	BaseGetSpecVersion  uint64 = 0
	BaseGetImplID       uint64 = 1
	BaseGetImplVersion  uint64 = 2
	BaseProbeExtension  uint64 = 3
	BaseGetMvendorID    uint64 = 4
	BaseGetMarchID      uint64 = 5
	BaseGetMimpID       uint64 = 6
)

// ImplID identifies this implementation to a probing supervisor the way
// RustSBI identifies itself (impl id 4); this module is not RustSBI, but it
// speaks the same wire protocol and does not need a new registered id.
const ImplID uint64 = 4
const ImplVersion uint64 = 1

// SpecVersionMajor/Minor encode the v2.0 SBI specification this core speaks.
const SpecVersionMajor = 2
const SpecVersionMinor = 0

func specVersion() uint64 {
	return (uint64(SpecVersionMajor) << 24) | uint64(SpecVersionMinor)
}
