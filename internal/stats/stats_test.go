package stats

import (
	"testing"
	"time"
)

func TestSourceFPSZeroBeforeSecondFrame(t *testing.T) {
	s := &Source{}
	s.RecordFrame(1.0)
	if got := s.FPS(); got != 0 {
		t.Fatalf("expected fps 0 with a single sample, got %f", got)
	}
}

func TestSourceFPSConvergesToSteadyRate(t *testing.T) {
	s := &Source{}
	grabTS := 0.0
	for i := 0; i < 200; i++ {
		grabTS += 1.0 / 30.0
		s.RecordFrame(grabTS)
	}
	got := s.FPS()
	if got < 29 || got > 31 {
		t.Fatalf("expected fps to converge near 30, got %f", got)
	}
}

func TestSourceFPSIgnoresNonMonotonicGrabTS(t *testing.T) {
	s := &Source{}
	s.RecordFrame(2.0)
	s.RecordFrame(1.0) // out of order, must not divide by a negative delta
	if got := s.FPS(); got != 0 {
		t.Fatalf("expected fps to stay 0 after an out-of-order sample, got %f", got)
	}
}

func TestStreamFPSTracksOnlyRecordedPublishes(t *testing.T) {
	st := &Stream{}
	if got := st.FPS(); got != 0 {
		t.Fatalf("expected fps 0 before any publish, got %f", got)
	}

	grabTS := 0.0
	for i := 0; i < 200; i++ {
		grabTS += 1.0 / 10.0
		st.RecordPublish(grabTS)
	}
	got := st.FPS()
	if got < 9 || got > 11 {
		t.Fatalf("expected fps to converge near 10, got %f", got)
	}
}

func TestClientIsIdle(t *testing.T) {
	c := &Client{ConnectedAt: time.Now()}
	if c.IsIdle(time.Hour) {
		t.Fatal("expected freshly connected client to not be idle yet")
	}

	c.LastDeliveredSeq.Store(5)
	stale := &Client{ConnectedAt: time.Now().Add(-time.Hour)}
	if stale.IsIdle(time.Millisecond) == false {
		t.Fatal("expected a client with no deliveries long past the window to be idle")
	}
	if c.IsIdle(time.Millisecond) {
		t.Fatal("expected a client that has delivered a frame to never be idle")
	}
}
