package sbi

import (
	"fmt"

	"github.com/tinyrange/sbicore/internal/fdt"
	"github.com/tinyrange/sbicore/internal/linux/boot"
)

// Boot runs the reset-vector sequence described in SPEC_FULL.md §4.6 for
// hart id against m. Every hart goroutine calls this once at startup; the
// genesis election picks exactly one of them to additionally build the
// device tree and perform platform-wide setup before releasing its peers.
// Grounded on the device-tree assembly internal/linux/boot/riscv64/plan.go
// used to perform before this module absorbed that logic, rebuilt here on
// top of the generic internal/fdt.Node tree and Build function.
func Boot(m *Machine, hartID uint64) {
	h := m.Hart(hartID)
	if h == nil {
		return
	}

	installBootCSRs(h)

	if m.claimGenesis() {
		m.DTB = buildDeviceTree(m)
		for _, peer := range m.Harts {
			if peer.ID != m.Board.BootHartID {
				peer.HSM.HartStop()
			}
		}
	}

	if hartID == m.Board.BootHartID {
		bootPrimaryHart(m, h)
		return
	}

	parkSecondaryHart(h)
}

// installBootCSRs programs medeleg, mideleg, mie, and mstatus.MPP on every
// hart, independent of which hart ends up running firmware code first.
// mtvec is not programmed: trap routing in this model is RunHart's select
// loop (run.go), not a vector table.
func installBootCSRs(h *HartContext) {
	h.CSR.Medeleg = defaultMedeleg
	h.CSR.Mideleg = defaultMideleg
	h.CSR.Mie = MipMSIP | MipMTIP
	h.CSR.Mstatus &^= MstatusMPP
	h.CSR.Mstatus |= uint64(PrivSupervisor) << MstatusMPPShift
}

// bootPrimaryHart hands control to the supervisor payload at the board's
// configured entry point, with a1 carrying the device-tree pointer the way
// the RISC-V SBI boot protocol requires (a0=hartid, a1=dtb address). This
// software model has no physical address space to place the DTB bytes into,
// so a1 instead carries the byte length of m.DTB as a stand-in a caller can
// use to locate it in Machine.DTB; this divergence from the real ABI is
// recorded in DESIGN.md.
func bootPrimaryHart(m *Machine, h *HartContext) {
	h.WriteReg(10, h.ID)
	h.WriteReg(11, uint64(len(m.DTB)))
	h.CSR.Mepc = m.Board.RAMBase
	h.CSR.Mstatus &^= MstatusMPP
	h.CSR.Mstatus |= uint64(PrivSupervisor) << MstatusMPPShift
	h.CSR.Mstatus |= MstatusMPIE
	h.CSR.Satp = 0
	h.HSM.forceStarted()
}

// parkSecondaryHart is the non-boot-hart reset path: stay STOPPED and block
// on the wfi-equivalent channel until hart_start targets this hart.
func parkSecondaryHart(h *HartContext) {
	for {
		h.WaitForWake()
		if stage, ok := h.HSM.AckStart(); ok {
			ApplyNextStage(h, stage)
			return
		}
		if h.IsFatal() {
			return
		}
	}
}

// buildDeviceTree assembles the platform device tree for m's board,
// covering the nodes the boot hart's firmware payload needs to discover
// memory, harts, the CLINT, the PLIC, and the console: the same node set
// the deleted plan.go generator produced for a virtual machine, now sourced
// from Board instead of a virtual-machine configuration struct.
func buildDeviceTree(m *Machine) []byte {
	b := m.Board
	alloc := boot.NewGSIAllocator(1, nil)
	consoleIRQ := b.consoleIRQ(alloc)

	cpuNodes := make([]fdt.Node, 0, b.HartCount)
	for _, id := range b.Harts() {
		cpuNodes = append(cpuNodes, fdt.Node{
			Name: fmt.Sprintf("cpu@%d", id),
			Properties: map[string]fdt.Property{
				"device_type":      {Strings: []string{"cpu"}},
				"compatible":       {Strings: []string{"riscv"}},
				"reg":              {U32: []uint32{uint32(id)}},
				"status":           {Strings: []string{"okay"}},
				"riscv,isa":        {Strings: []string{isaString(m, id)}},
				"mmu-type":         {Strings: []string{"riscv,sv39"}},
				"timebase-frequency": {U32: []uint32{uint32(b.TimebaseFrequency)}},
			},
		})
	}

	socChildren := []fdt.Node{
		{
			Name: fmt.Sprintf("clint@%x", b.CLINTBase),
			Properties: map[string]fdt.Property{
				"compatible": {Strings: []string{"riscv,clint0"}},
				"reg":        {U64: []uint64{b.CLINTBase, 0x10000}},
			},
		},
		{
			Name: fmt.Sprintf("plic@%x", b.PLICBase),
			Properties: map[string]fdt.Property{
				"compatible":       {Strings: []string{"riscv,plic0"}},
				"reg":              {U64: []uint64{b.PLICBase, 0x400000}},
				"riscv,ndev":       {U32: []uint32{32}},
				"interrupt-controller": {Flag: true},
			},
		},
	}
	if b.Console == "terminal" || b.Console == "buffer" {
		socChildren = append(socChildren, fdt.Node{
			Name: fmt.Sprintf("serial@%x", b.UARTBase),
			Properties: map[string]fdt.Property{
				"compatible":   {Strings: []string{"ns16550a"}},
				"reg":          {U64: []uint64{b.UARTBase, 0x100}},
				"interrupts":   {U32: []uint32{consoleIRQ}},
			},
		})
	}

	root := fdt.Node{
		Name: "",
		Properties: map[string]fdt.Property{
			"#address-cells": {U32: []uint32{2}},
			"#size-cells":    {U32: []uint32{2}},
			"model":          {Strings: []string{b.Name}},
			"compatible":     {Strings: []string{"sbicore,board"}},
		},
		Children: []fdt.Node{
			{
				Name: "chosen",
				Properties: map[string]fdt.Property{
					"bootargs": {Strings: []string{"console=ttyS0"}},
				},
			},
			{
				Name: "cpus",
				Properties: map[string]fdt.Property{
					"#address-cells":     {U32: []uint32{1}},
					"#size-cells":        {U32: []uint32{0}},
					"timebase-frequency": {U32: []uint32{uint32(b.TimebaseFrequency)}},
				},
				Children: cpuNodes,
			},
			{
				Name: fmt.Sprintf("memory@%x", b.RAMBase),
				Properties: map[string]fdt.Property{
					"device_type": {Strings: []string{"memory"}},
					"reg":         {U64: []uint64{b.RAMBase, b.RAMSize}},
				},
			},
			{
				Name: "soc",
				Properties: map[string]fdt.Property{
					"#address-cells": {U32: []uint32{2}},
					"#size-cells":    {U32: []uint32{2}},
					"compatible":     {Strings: []string{"simple-bus"}},
					"ranges":         {Flag: true},
				},
				Children: socChildren,
			},
		},
	}

	blob, err := fdt.Build(root)
	if err != nil {
		// A malformed tree here is this module's own bug, not a runtime
		// condition a supervisor can react to; ship an empty DTB rather
		// than panic a hart goroutine.
		return nil
	}
	return blob
}

// isaString reports the ISA string a probing OS would see for hart id,
// reflecting the board's configured extension set.
func isaString(m *Machine, id uint64) string {
	h := m.Hart(id)
	isa := "rv64imafdc"
	if h != nil && h.Features.H {
		isa += "h"
	}
	return isa
}
