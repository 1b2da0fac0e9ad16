package ring

import (
	"testing"
	"time"
)

func TestNewRejectsTooFewBuffers(t *testing.T) {
	if _, err := New(1, 16); err == nil {
		t.Fatal("expected error for buffers < 2")
	}
}

func TestPublishClaimReleaseCycle(t *testing.T) {
	r, err := New(3, 16)
	if err != nil {
		t.Fatal(err)
	}

	slot := r.AcquireEmpty()
	if slot.State != Empty {
		t.Fatalf("expected Empty, got %v", slot.State)
	}
	slot.Frame.Used = 4
	r.Publish(slot)
	if slot.State != Filled {
		t.Fatalf("expected Filled after publish, got %v", slot.State)
	}
	if slot.Generation != 1 {
		t.Fatalf("expected generation 1, got %d", slot.Generation)
	}

	claimed := r.ClaimFilled()
	if claimed.Index != slot.Index {
		t.Fatalf("claimed wrong slot")
	}
	if claimed.State != Claimed {
		t.Fatalf("expected Claimed, got %v", claimed.State)
	}

	r.BeginEncoding(claimed)
	if claimed.State != Encoding {
		t.Fatalf("expected Encoding, got %v", claimed.State)
	}

	r.Release(claimed, nil)
	if claimed.State != Empty {
		t.Fatalf("expected Empty after release, got %v", claimed.State)
	}
}

func TestClaimFilledIsFIFO(t *testing.T) {
	r, _ := New(4, 16)

	var slots []*RawSlot
	for i := 0; i < 3; i++ {
		s := r.AcquireEmpty()
		s.Frame.Used = 1
		r.Publish(s)
		slots = append(slots, s)
	}

	for i := 0; i < 3; i++ {
		got := r.ClaimFilled()
		if got.Index != slots[i].Index {
			t.Fatalf("claim order broken: want %d got %d", slots[i].Index, got.Index)
		}
	}
}

func TestAcquireEmptyBlocksWhenExhausted(t *testing.T) {
	r, _ := New(2, 16)

	s0 := r.AcquireEmpty()
	s0.Frame.Used = 1
	r.Publish(s0)
	c0 := r.ClaimFilled()
	r.BeginEncoding(c0)

	s1 := r.AcquireEmpty()
	s1.Frame.Used = 1
	r.Publish(s1)
	c1 := r.ClaimFilled()
	r.BeginEncoding(c1)

	done := make(chan *RawSlot, 1)
	go func() { done <- r.AcquireEmpty() }()

	select {
	case <-done:
		t.Fatal("AcquireEmpty should have blocked with both slots in flight")
	case <-time.After(50 * time.Millisecond):
	}

	r.Release(c0, nil)

	select {
	case s := <-done:
		if s.Index != c0.Index {
			t.Fatalf("expected released slot %d, got %d", c0.Index, s.Index)
		}
	case <-time.After(time.Second):
		t.Fatal("AcquireEmpty never unblocked after release")
	}
}

func TestCloseUnblocksWaiters(t *testing.T) {
	r, _ := New(2, 16)
	s0 := r.AcquireEmpty()
	s0.Frame.Used = 1
	r.Publish(s0)
	c0 := r.ClaimFilled()
	r.BeginEncoding(c0)

	s1 := r.AcquireEmpty()
	s1.Frame.Used = 1
	r.Publish(s1)
	c1 := r.ClaimFilled()
	r.BeginEncoding(c1)
	_ = c1

	done := make(chan *RawSlot, 1)
	go func() { done <- r.AcquireEmpty() }()

	time.Sleep(20 * time.Millisecond)
	r.Close()

	select {
	case s := <-done:
		if s != nil {
			t.Fatal("expected nil slot after close")
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock AcquireEmpty")
	}

	if got := r.ClaimFilled(); got != nil {
		t.Fatal("expected nil from ClaimFilled after close with empty queue")
	}
}
