package sbi

import "testing"

func TestIsFullFlush(t *testing.T) {
	cases := []struct {
		name string
		req  RFenceRequest
		want bool
	}{
		{"zero start and size", RFenceRequest{StartAddr: 0, Size: 0}, true},
		{"size is all-harts sentinel", RFenceRequest{StartAddr: 4096, Size: HartMaskAllHarts}, true},
		{"size exceeds tlb flush limit", RFenceRequest{StartAddr: 4096, Size: TLBFlushLimit + 1}, true},
		{"small bounded range", RFenceRequest{StartAddr: 4096, Size: 4096}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.req.isFullFlush(); got != c.want {
				t.Errorf("isFullFlush() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestApplyFenceIEmitsOneFullFlush(t *testing.T) {
	c := newRFenceCell()
	events := c.apply(RFenceRequest{Op: FenceI})
	if len(events) != 1 || !events[0].Full {
		t.Fatalf("apply(FENCE_I) = %+v, want one full-flush event", events)
	}
}

func TestApplyRangeEmitsOnePerPage(t *testing.T) {
	c := newRFenceCell()
	events := c.apply(RFenceRequest{Op: SFenceVMA, StartAddr: 0x1000, Size: 0x2000, ASIDorVMID: 7})
	if len(events) != 2 {
		t.Fatalf("apply() produced %d events, want 2", len(events))
	}
	if events[0].RS1 != 0x1000 || events[1].RS1 != 0x2000 {
		t.Errorf("events = %+v, want addrs 0x1000, 0x2000", events)
	}
	for _, ev := range events {
		if ev.RS2 != 7 {
			t.Errorf("event RS2 = %#x, want asid 7", ev.RS2)
		}
	}
}

func TestDrainOnceDecrementsRequesterOutstanding(t *testing.T) {
	requester := newRFenceCell()
	target := newRFenceCell()

	requester.addOutstanding(1)
	if !target.tryEnqueue(RFenceRequest{Op: FenceI, RequesterID: 0}) {
		t.Fatal("tryEnqueue failed on empty queue")
	}

	resolve := func(id int) *RFenceCell {
		if id == 0 {
			return requester
		}
		return nil
	}
	events := target.drainOnce(resolve)
	if len(events) != 1 {
		t.Fatalf("drainOnce produced %d events, want 1", len(events))
	}
	if got := requester.Outstanding(); got != 0 {
		t.Errorf("requester outstanding = %d, want 0", got)
	}
}

func TestTryEnqueueRespectsCapacity(t *testing.T) {
	c := newRFenceCell()
	for i := 0; i < rfenceQueueCapacity; i++ {
		if !c.tryEnqueue(RFenceRequest{Op: FenceI}) {
			t.Fatalf("tryEnqueue #%d failed before capacity reached", i)
		}
	}
	if c.tryEnqueue(RFenceRequest{Op: FenceI}) {
		t.Error("tryEnqueue succeeded past capacity")
	}
}

func TestFenceLogSnapshotIsIndependent(t *testing.T) {
	c := newRFenceCell()
	c.apply(RFenceRequest{Op: FenceI})
	snap := c.FenceLog()
	snap[0].Op = 0xff
	if c.FenceLog()[0].Op == 0xff {
		t.Error("FenceLog() leaked internal slice, mutation visible to original")
	}
}
