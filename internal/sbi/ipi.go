package sbi

// SendIPI implements the sPI extension's sbi_send_ipi (SPEC_FULL.md §4.4):
// raise a supervisor-software IPI on every hart selected by mask, gated by
// HSM state, and assert msip through the Clint collaborator exactly once per
// target whose pending bitset transitions from zero.
func SendIPI(m *Machine, mask HartMask) SbiRet {
	for _, h := range m.Harts {
		if !mask.Contains(h.ID) {
			continue
		}
		if !h.HSM.AllowsIPI() {
			continue
		}
		if h.RaiseIPI(IPIKindSupervisorSoft) {
			m.Clint.MSIPSet(h.ID)
			h.SetMSIP(true)
			h.Wake()
		}
	}
	return Ok(0)
}

// raiseFenceIPI is rfence.go's sender-side counterpart to SendIPI: it raises
// the fence-kind IPI bit on target instead of the supervisor-soft bit, used
// by the RFENCE extension after a request has been queued.
func raiseFenceIPI(m *Machine, target *HartContext) {
	if !target.HSM.AllowsIPI() {
		return
	}
	if target.RaiseIPI(IPIKindFence) {
		m.Clint.MSIPSet(target.ID)
		target.SetMSIP(true)
		target.Wake()
	}
}

// SetTimer implements the TIME extension's sbi_set_timer (SPEC_FULL.md
// §4.4): on an Sstc platform the supervisor is expected to own stimecmp
// directly and this call still exists for backward compatibility, so both
// paths clear the pending supervisor timer interrupt and arm the requested
// deadline through the CLINT.
func SetTimer(m *Machine, h *HartContext, stimeValue uint64) SbiRet {
	h.CSR.Mip &^= MipSTIP
	h.CSR.Mie |= MipMTIP
	m.Clint.MtimecmpWrite(h.ID, stimeValue)
	return Ok(0)
}
