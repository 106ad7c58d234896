package sbi

import (
	"sync"
	"sync/atomic"
)

// RFence operation kinds.
const (
	FenceI uint8 = iota
	SFenceVMA
	SFenceVMAASID
	HFenceGVMA
	HFenceGVMAVMID
	HFenceVVMA
	HFenceVVMAASID
)

// RFenceRequest is a single remote-fence work item, enqueued by a requester
// hart onto a target hart's queue.
type RFenceRequest struct {
	Op          uint8
	StartAddr   uint64
	Size        uint64
	ASIDorVMID  uint64
	RequesterID int
}

// isFullFlush reports whether the request's address range means "flush
// everything" per SPEC_FULL.md §4.3.
func (r RFenceRequest) isFullFlush() bool {
	if r.Size == 0 && r.StartAddr == 0 {
		return true
	}
	if r.Size == HartMaskAllHarts {
		return true
	}
	if r.Size > TLBFlushLimit {
		return true
	}
	return false
}

// FenceEvent is one emitted fence-class instruction, recorded so the
// software model can make "a TLB flush occurred" observable (SPEC_FULL.md
// §4.3's "emission" note).
type FenceEvent struct {
	Op   uint8
	RS1  uint64 // address operand, 0 for full flush
	RS2  uint64 // asid/vmid operand, 0 when not applicable
	Full bool
}

const rfenceQueueCapacity = 4

// RFenceCell is the per-target-hart fence queue plus the requester-side
// outstanding counter described in SPEC_FULL.md §3.
type RFenceCell struct {
	mu    sync.Mutex
	queue []RFenceRequest

	outstanding atomic.Int64

	logMu    sync.Mutex
	fenceLog []FenceEvent
	tlbTags  map[uint64]struct{} // modeled per-ASID TLB tags, for test observability
}

func newRFenceCell() *RFenceCell {
	return &RFenceCell{
		queue:   make([]RFenceRequest, 0, rfenceQueueCapacity),
		tlbTags: make(map[uint64]struct{}),
	}
}

// tryEnqueue pushes req onto the queue if there is room, returning false if
// the queue is full (the caller must self-drain and retry per §4.3).
func (c *RFenceCell) tryEnqueue(req RFenceRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) >= rfenceQueueCapacity {
		return false
	}
	c.queue = append(c.queue, req)
	return true
}

// drainOnce services every request currently queued, applying it to the
// modeled TLB and decrementing the originating requester's outstanding
// counter. Safe to call from the owning hart's machine-soft handler or, per
// the requester self-drain rule, from any hart acting on its own inbound
// queue.
func (c *RFenceCell) drainOnce(requesters func(id int) *RFenceCell) []FenceEvent {
	c.mu.Lock()
	pending := c.queue
	c.queue = make([]RFenceRequest, 0, rfenceQueueCapacity)
	c.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	events := make([]FenceEvent, 0, len(pending))
	for _, req := range pending {
		evs := c.apply(req)
		events = append(events, evs...)
		if target := requesters(req.RequesterID); target != nil {
			target.outstanding.Add(-1)
		}
	}
	return events
}

// apply executes the fence instruction(s) a single request maps to, per the
// variant table in SPEC_FULL.md §4.3, and records them for observability.
func (c *RFenceCell) apply(req RFenceRequest) []FenceEvent {
	c.logMu.Lock()
	defer c.logMu.Unlock()

	var events []FenceEvent
	emit := func(ev FenceEvent) {
		c.fenceLog = append(c.fenceLog, ev)
		events = append(events, ev)
		if ev.Full {
			c.tlbTags = make(map[uint64]struct{})
		} else {
			c.tlbTags[ev.RS1] = struct{}{}
		}
	}

	if req.Op == FenceI || req.isFullFlush() {
		emit(FenceEvent{Op: req.Op, Full: true})
		return events
	}

	start := req.StartAddr - (req.StartAddr % PageSize)
	end := req.StartAddr + req.Size
	for addr := start; addr < end; addr += PageSize {
		emit(FenceEvent{Op: req.Op, RS1: addr, RS2: req.ASIDorVMID})
	}
	return events
}

// FenceLog returns a snapshot of every fence event this hart has serviced,
// for tests.
func (c *RFenceCell) FenceLog() []FenceEvent {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	out := make([]FenceEvent, len(c.fenceLog))
	copy(out, c.fenceLog)
	return out
}

// Outstanding returns the number of in-flight fence requests this hart has
// issued that have not yet been serviced.
func (c *RFenceCell) Outstanding() int64 {
	return c.outstanding.Load()
}

// addOutstanding adjusts this hart's in-flight fence-request counter;
// submitRFence calls it with delta=1 when it issues a request. The
// target-side decrement happens in drainOnce, which updates the counter
// directly.
func (c *RFenceCell) addOutstanding(delta int64) {
	c.outstanding.Add(delta)
}
