// Command sbisim boots a simulated multi-hart RISC-V machine running the
// sbicore M-mode firmware and drives a scripted scenario exercising hart
// state management, remote fencing, and timer/IPI delivery.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/tinyrange/sbicore/internal/sbi"
)

func main() {
	boardPath := flag.String("board", "", "Path to a board YAML file (default: built-in two-hart board)")
	verbose := flag.Bool("v", false, "Verbose hart-state transition logging")
	timeout := flag.Duration("timeout", 5*time.Second, "Maximum time to run the scenario before giving up")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := run(ctx, *boardPath, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "sbisim: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, boardPath string, verbose bool) error {
	board, err := loadBoard(boardPath)
	if err != nil {
		return err
	}

	console := sbi.NewBufferConsole()
	reset := sbi.NewLogReset(os.Stdout)
	clint := sbi.NewSimClint(board.Harts(), 100)

	m, err := sbi.NewMachine(board, clint, console, reset, os.Stdout)
	if err != nil {
		return fmt.Errorf("construct machine: %w", err)
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	done := make(chan error, len(m.Harts))
	for _, h := range m.Harts {
		id := h.ID
		go func() {
			err := sbi.RunHart(runCtx, m, id)
			done <- err
		}()
	}

	// Give the boot hart a moment to run the genesis sequence before the
	// scenario starts issuing ecalls on its behalf.
	time.Sleep(5 * time.Millisecond)

	logLine(verbose, "dtb generated: %d bytes", len(m.DTB))

	if err := scenarioHSM(runCtx, m, verbose); err != nil {
		return fmt.Errorf("hsm scenario: %w", err)
	}
	if err := scenarioRFence(runCtx, m, verbose); err != nil {
		return fmt.Errorf("rfence scenario: %w", err)
	}
	if err := scenarioTimer(runCtx, m, verbose); err != nil {
		return fmt.Errorf("timer scenario: %w", err)
	}
	if err := scenarioRdtimeEmulation(runCtx, m, verbose); err != nil {
		return fmt.Errorf("rdtime emulation scenario: %w", err)
	}
	if err := scenarioIllegalDelegation(runCtx, m, verbose); err != nil {
		return fmt.Errorf("illegal delegation scenario: %w", err)
	}

	fmt.Println(ansi.Strip("scenario complete: all harts reached their expected HSM states"))

	stop()
	for range m.Harts {
		<-done
	}
	return nil
}

func loadBoard(path string) (*sbi.Board, error) {
	if path == "" {
		return sbi.DefaultBoard(), nil
	}
	return sbi.LoadBoard(path)
}

func logLine(verbose bool, format string, args ...any) {
	if !verbose {
		return
	}
	fmt.Fprintf(os.Stdout, format+"\n", args...)
}

// scenarioHSM starts every non-boot hart from the boot hart and waits for
// each to report STARTED, covering SPEC_FULL.md §8 scenario #2.
func scenarioHSM(ctx context.Context, m *sbi.Machine, verbose bool) error {
	boot := m.Board.BootHartID
	for _, id := range m.Board.Harts() {
		if id == boot {
			continue
		}
		ret, err := sbi.Ecall(ctx, m, boot, sbi.EcallArgs{
			EID: sbi.EidHSM, FID: 0 /* hart_start */, Arg0: id, Arg1: m.Board.RAMBase, Arg2: 0,
		})
		if err != nil {
			return err
		}
		if ret.Error != sbi.ErrSuccess && ret.Error != sbi.ErrAlreadyAvailable {
			return fmt.Errorf("hart_start(%d) failed: %d", id, ret.Error)
		}
		logLine(verbose, "hart %d: hart_start issued by hart %d", id, boot)
	}

	deadline := time.Now().Add(2 * time.Second)
	for _, id := range m.Board.Harts() {
		for {
			ret, err := sbi.Ecall(ctx, m, boot, sbi.EcallArgs{EID: sbi.EidHSM, FID: 2 /* hart_get_status */, Arg0: id})
			if err != nil {
				return err
			}
			if ret.Value == uint64(sbi.HartStarted) {
				logLine(verbose, "hart %d: STARTED", id)
				break
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("hart %d never reached STARTED", id)
			}
			time.Sleep(time.Millisecond)
		}
	}
	return nil
}

// scenarioRFence issues a remote_sfence_vma_asid from the boot hart
// targeting every hart, the boot hart included, covering SPEC_FULL.md §8
// scenario #3.
func scenarioRFence(ctx context.Context, m *sbi.Machine, verbose bool) error {
	boot := m.Board.BootHartID
	mask := sbi.AllHarts()

	ret, err := sbi.Ecall(ctx, m, boot, sbi.EcallArgs{
		EID: sbi.EidRFence, FID: 2, /* remote_sfence_vma_asid */
		Arg0: mask.Bits, Arg1: mask.Base, Arg2: 0x1000, Arg3: 0x2000, Arg4: 7,
	})
	if err != nil {
		return err
	}
	if ret.Error != sbi.ErrSuccess {
		return fmt.Errorf("remote_sfence_vma_asid failed: %d", ret.Error)
	}
	logLine(verbose, "rfence: boot hart issued remote sfence.vma.asid, outstanding drained to 0")
	return nil
}

// scenarioTimer arms sbi_set_timer on the boot hart and waits for the
// machine-timer fast path to forward the interrupt to mip.STIP, covering
// SPEC_FULL.md §8's timer scenario.
func scenarioTimer(ctx context.Context, m *sbi.Machine, verbose bool) error {
	boot := m.Board.BootHartID
	deadline := m.Clint.Mtime() + 50

	ret, err := sbi.Ecall(ctx, m, boot, sbi.EcallArgs{EID: sbi.EidTime, FID: 0, Arg0: deadline})
	if err != nil {
		return err
	}
	if ret.Error != sbi.ErrSuccess {
		return fmt.Errorf("sbi_set_timer failed: %d", ret.Error)
	}

	wait := time.Now().Add(2 * time.Second)
	for {
		mip, err := sbi.QueryMip(ctx, m, boot)
		if err != nil {
			return err
		}
		if mip&sbi.MipSTIP != 0 {
			break
		}
		if time.Now().After(wait) {
			return fmt.Errorf("timer interrupt never forwarded to mip.STIP")
		}
		time.Sleep(time.Millisecond)
	}
	logLine(verbose, "timer: mip.STIP observed set on hart %d", boot)
	return nil
}

// scenarioRdtimeEmulation injects a csrrs a3, time, x0 trap on the boot hart
// and checks that the M-mode handler emulated it from the CLINT's mtime
// rather than delegating it, covering SPEC_FULL.md §8 scenario 4.
func scenarioRdtimeEmulation(ctx context.Context, m *sbi.Machine, verbose bool) error {
	boot := m.Board.BootHartID
	const (
		systemOpcode = 0x73
		csrrsFunct3  = 0b010 << 12
		a3           = 13
		csrTime      = 0xC01
	)
	insn := uint32(systemOpcode) | csrrsFunct3 | (a3 << 7) | (csrTime << 20)

	res, err := sbi.InjectTrap(ctx, m, boot, m.Board.RAMBase, insn)
	if err != nil {
		return err
	}
	if !res.Emulated {
		return fmt.Errorf("rdtime trap was not emulated: %+v", res)
	}
	logLine(verbose, "rdtime: csrrs a3, time, x0 emulated on hart %d", boot)
	return nil
}

// scenarioIllegalDelegation injects a trap on an all-zero instruction word
// (not a recognized rdtime encoding) and checks that the M-mode handler
// delegated it to the S-mode trap handler instead of emulating or halting,
// covering SPEC_FULL.md §8 scenario 6.
func scenarioIllegalDelegation(ctx context.Context, m *sbi.Machine, verbose bool) error {
	boot := m.Board.BootHartID

	res, err := sbi.InjectTrap(ctx, m, boot, m.Board.RAMBase, 0)
	if err != nil {
		return err
	}
	if !res.Delegate {
		return fmt.Errorf("illegal instruction was not delegated: %+v", res)
	}
	logLine(verbose, "illegal instruction: delegated to S-mode trap handler on hart %d", boot)
	return nil
}
