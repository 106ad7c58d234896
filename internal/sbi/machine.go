package sbi

import (
	"io"
	"sync/atomic"
)

// Machine ties together every hart's context with the shared collaborators
// (Clint, Console, Reset) and the board configuration, the software-model
// analogue of the statically-sized per-hart context array described in
// SPEC_FULL.md §9 "Global mutable state".
type Machine struct {
	Board   *Board
	Harts   []*HartContext
	Clint   Clint
	Console Console
	Reset   Reset

	genesisClaimed atomic.Bool

	DTB []byte // device tree built by Boot; the boot hart's a1 carries its length

	log io.Writer
}

// NewMachine constructs a machine for board with the given collaborators.
// Every hart starts life in HSM STOPPED; Boot performs the election and
// per-hart setup described in SPEC_FULL.md §4.6.
func NewMachine(board *Board, clint Clint, console Console, reset Reset, log io.Writer) (*Machine, error) {
	if err := board.Validate(); err != nil {
		return nil, err
	}
	m := &Machine{
		Board:   board,
		Clint:   clint,
		Console: console,
		Reset:   reset,
		log:     log,
	}
	m.Harts = make([]*HartContext, board.HartCount)
	for i := range m.Harts {
		h := NewHartContext(uint64(i), HartStopped, log)
		h.Features = Features{
			Sstc:      board.Features.Sstc,
			H:         board.Features.H,
			Sscofpmf:  board.Features.Sscofpmf,
			SpecMajor: SpecVersionMajor,
			SpecMinor: SpecVersionMinor,
		}
		m.Harts[i] = h
	}
	return m, nil
}

// Hart returns the context for the given hart id, or nil if out of range.
func (m *Machine) Hart(id uint64) *HartContext {
	if id >= uint64(len(m.Harts)) {
		return nil
	}
	return m.Harts[id]
}

// claimGenesis performs the one-time boot-hart election CAS described in
// SPEC_FULL.md §4.6 step 2. Exactly one caller across all hart goroutines
// observes true.
func (m *Machine) claimGenesis() bool {
	return m.genesisClaimed.CompareAndSwap(false, true)
}
