package sbi

import "testing"

func TestBufferConsoleWriteAndRead(t *testing.T) {
	c := NewBufferConsole()
	n, err := c.WriteBytes([]byte("hi"))
	if err != nil || n != 2 {
		t.Fatalf("WriteBytes = (%d, %v), want (2, nil)", n, err)
	}
	if got := string(c.Written()); got != "hi" {
		t.Errorf("Written() = %q, want %q", got, "hi")
	}
}

func TestBufferConsoleReadByteNonBlockingEmpty(t *testing.T) {
	c := NewBufferConsole()
	if _, ok := c.ReadByteNonBlocking(); ok {
		t.Error("ReadByteNonBlocking() on empty console returned ok=true")
	}
}

func TestBufferConsoleFeedInputThenRead(t *testing.T) {
	c := NewBufferConsole()
	c.FeedInput([]byte("Z"))
	b, ok := c.ReadByteNonBlocking()
	if !ok || b != 'Z' {
		t.Fatalf("ReadByteNonBlocking() = (%q, %v), want ('Z', true)", b, ok)
	}
	if _, ok := c.ReadByteNonBlocking(); ok {
		t.Error("second read should be empty")
	}
}

func TestBufferConsoleWrittenSnapshotIsIndependent(t *testing.T) {
	c := NewBufferConsole()
	c.WriteBytes([]byte("a"))
	snap := c.Written()
	c.WriteBytes([]byte("b"))
	if string(snap) != "a" {
		t.Errorf("earlier snapshot mutated to %q, want %q", snap, "a")
	}
}
