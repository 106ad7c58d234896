package sbi

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/sbicore/internal/linux/boot"
)

// Board describes a platform's MMIO map, hart count, and feature bits.
// Parameters the teacher hardcodes as package constants in
// internal/hv/riscv/rv64/cpu.go (RAMBase, CLINTBase, PLICBase, UARTBase)
// become configurable fields here, with those same values as defaults.
type Board struct {
	Name       string `yaml:"name"`
	HartCount  int    `yaml:"hart_count"`
	BootHartID uint64 `yaml:"boot_hart"`

	RAMBase  uint64 `yaml:"ram_base"`
	RAMSize  uint64 `yaml:"ram_size"`
	CLINTBase uint64 `yaml:"clint_base"`
	PLICBase uint64 `yaml:"plic_base"`
	UARTBase uint64 `yaml:"uart_base"`

	TimebaseFrequency uint64 `yaml:"timebase_frequency"`

	Features BoardFeatures `yaml:"features"`

	Console string `yaml:"console"` // "terminal" or "buffer"

	// IRQ number the device tree assigns to the console node; no other node
	// gets an interrupt line. Zero means "let the allocator pick one".
	ConsoleIRQ uint32 `yaml:"console_irq"`
}

// BoardFeatures mirrors HartContext.Features but as YAML-friendly bools.
type BoardFeatures struct {
	Sstc     bool `yaml:"sstc"`
	H        bool `yaml:"h_extension"`
	Sscofpmf bool `yaml:"sscofpmf"`
}

// DefaultBoard is the built-in two-hart platform the simulator CLI uses
// when no --board flag is given, with MMIO bases lifted from
// internal/hv/riscv/rv64/cpu.go's constants.
func DefaultBoard() *Board {
	return &Board{
		Name:              "sbicore-default",
		HartCount:         2,
		BootHartID:        0,
		RAMBase:           0x8000_0000,
		RAMSize:           128 * 1024 * 1024,
		CLINTBase:         0x0200_0000,
		PLICBase:          0x0c00_0000,
		UARTBase:          0x1000_0000,
		TimebaseFrequency: 10_000_000,
		Console:           "terminal",
	}
}

// LoadBoard decodes a board file from path.
func LoadBoard(path string) (*Board, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read board file: %w", err)
	}
	b := DefaultBoard()
	if err := yaml.Unmarshal(data, b); err != nil {
		return nil, fmt.Errorf("parse board file: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Validate checks a board config is internally consistent.
func (b *Board) Validate() error {
	if b.HartCount <= 0 {
		return fmt.Errorf("board %q: hart_count must be positive, got %d", b.Name, b.HartCount)
	}
	if b.BootHartID >= uint64(b.HartCount) {
		return fmt.Errorf("board %q: boot_hart %d is out of range for hart_count %d", b.Name, b.BootHartID, b.HartCount)
	}
	if b.Console != "" && b.Console != "terminal" && b.Console != "buffer" {
		return fmt.Errorf("board %q: unknown console backend %q", b.Name, b.Console)
	}
	return nil
}

// InRAM reports whether addr falls inside the board's RAM region. This
// core does not model PMP CSRs; SPEC_FULL.md's boot sequence has every hart
// install a permissive PMP region covering all of RAM and nothing else, so
// RAM bounds are the execute-permission boundary that region would enforce
// and InRAM stands in for the PMP check hart_start/hart_suspend are
// required to make against start_addr/resume_addr.
func (b *Board) InRAM(addr uint64) bool {
	return addr >= b.RAMBase && addr < b.RAMBase+b.RAMSize
}

// Harts returns the hart id sequence 0..HartCount-1.
func (b *Board) Harts() []uint64 {
	ids := make([]uint64, b.HartCount)
	for i := range ids {
		ids[i] = uint64(i)
	}
	return ids
}

// consoleIRQ resolves the configured or allocated console interrupt line,
// exercising the kept irqalloc.go allocator when the board does not pin
// one explicitly.
func (b *Board) consoleIRQ(alloc *boot.GSIAllocator) uint32 {
	if b.ConsoleIRQ != 0 {
		return b.ConsoleIRQ
	}
	return alloc.Allocate()
}
