package sbi

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"
)

// Console is the byte-stream capability this core consumes for the legacy
// putchar/getchar calls and the DBCN extension (SPEC_FULL.md §6).
type Console interface {
	WriteBytes(p []byte) (int, error)
	ReadByteNonBlocking() (b byte, ok bool)
}

// TerminalConsole wraps the host terminal in raw mode, the way
// gmofishsauce-wut4's io.go puts the host terminal into raw mode so an
// emulated UART sees unbuffered, unechoed bytes. cmd/sbisim does not use
// it; the simulator CLI runs on a BufferConsole.
type TerminalConsole struct {
	in       *os.File
	out      io.Writer
	mu       sync.Mutex
	oldState *term.State
	pending  bytes.Buffer
}

// NewTerminalConsole puts in into raw mode if it is a terminal and returns
// a Console writing to out. Call Restore when done.
func NewTerminalConsole(in *os.File, out io.Writer) (*TerminalConsole, error) {
	tc := &TerminalConsole{in: in, out: out}
	if term.IsTerminal(int(in.Fd())) {
		st, err := term.MakeRaw(int(in.Fd()))
		if err != nil {
			return nil, fmt.Errorf("put terminal in raw mode: %w", err)
		}
		tc.oldState = st
	}
	return tc, nil
}

// Restore returns the host terminal to its previous mode.
func (c *TerminalConsole) Restore() error {
	if c.oldState == nil {
		return nil
	}
	return term.Restore(int(c.in.Fd()), c.oldState)
}

func (c *TerminalConsole) WriteBytes(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Write(p)
}

// ReadByteNonBlocking returns the next byte queued by Feed; it never reads
// from in itself. With nothing queued it reports ok=false, which legacy
// getchar turns into -1 ("no byte").
func (c *TerminalConsole) ReadByteNonBlocking() (byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending.Len() > 0 {
		b, _ := c.pending.ReadByte()
		return b, true
	}
	return 0, false
}

// Feed injects host-read bytes into the console's pending buffer for
// ReadByteNonBlocking to return; the caller does the reading from the host.
func (c *TerminalConsole) Feed(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending.Write(p)
}

// BufferConsole is an in-memory, mutex-guarded console for tests and
// non-interactive embedding, grounded on internal/hv/riscv/rv64/uart.go's
// byte-queue shape.
type BufferConsole struct {
	mu  sync.Mutex
	out bytes.Buffer
	in  bytes.Buffer
}

// NewBufferConsole creates an empty in-memory console.
func NewBufferConsole() *BufferConsole {
	return &BufferConsole{}
}

func (c *BufferConsole) WriteBytes(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Write(p)
}

func (c *BufferConsole) ReadByteNonBlocking() (byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.in.Len() == 0 {
		return 0, false
	}
	b, _ := c.in.ReadByte()
	return b, true
}

// FeedInput queues bytes for ReadByteNonBlocking to return, for tests that
// exercise console_read / legacy getchar.
func (c *BufferConsole) FeedInput(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.in.Write(p)
}

// Written returns everything written to the console so far, for test
// assertions.
func (c *BufferConsole) Written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.out.Bytes()...)
}
