package workerpool

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"ustreamer/internal/encoder"
	"ustreamer/internal/frame"
	"ustreamer/internal/ring"
	"ustreamer/internal/stats"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(nopWriter{})
	return logrus.NewEntry(l)
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

// fakeSink records every Published a worker hands it.
type fakeSink struct {
	mu  sync.Mutex
	got []Published
}

func (f *fakeSink) Publish(p Published) {
	f.mu.Lock()
	f.got = append(f.got, p)
	f.mu.Unlock()
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

// failingEncoder always errors on Encode. kind lets a test pick whether the
// downgrade path (hw -> cpu) applies or whether it's already reporting
// KindCPU, in which case a worker has nothing left to fall back to.
type failingEncoder struct {
	kind    encoder.Kind
	encoded int
}

func (f *failingEncoder) Kind() encoder.Kind { return f.kind }

func (f *failingEncoder) Encode(src, dst *frame.Frame) error {
	f.encoded++
	return fmt.Errorf("failingEncoder: forced failure")
}

func (f *failingEncoder) Close() error { return nil }

func fillRawSlot(r *ring.Ring, payload byte) {
	slot := r.AcquireEmpty()
	slot.Frame.Width, slot.Frame.Height = 4, 4
	slot.Frame.Stride = 12
	slot.Frame.Format = frame.FormatRGB24
	need := slot.Frame.Stride * slot.Frame.Height
	if cap(slot.Frame.Buf) < need {
		slot.Frame.Buf = make([]byte, need)
	}
	slot.Frame.Buf = slot.Frame.Buf[:need]
	for i := range slot.Frame.Buf {
		slot.Frame.Buf[i] = payload
	}
	slot.Frame.Used = need
	slot.Frame.GrabTS = float64(payload)
	r.Publish(slot)
}

// TestWorkerDowngradesToCPUAfterFatalEncoderLimit drives a worker through
// fatalEncoderLimit consecutive hardware-encoder failures and checks it
// swaps itself onto the CPU encoder rather than halting the pool, since a
// real CPU encoder can still serve valid raw frames.
func TestWorkerDowngradesToCPUAfterFatalEncoderLimit(t *testing.T) {
	r, err := ring.New(4, 64)
	if err != nil {
		t.Fatalf("ring.New: %v", err)
	}
	sink := &fakeSink{}
	stat := &stats.Encoder{}

	calls := 0
	newEncoder := func() encoder.Encoder {
		calls++
		return &failingEncoder{kind: encoder.KindHwM2mImage}
	}

	p := New(1, r, sink, stat, testLog(), newEncoder)
	p.Start(1)

	for i := 0; i < fatalEncoderLimit; i++ {
		fillRawSlot(r, byte(i+1))
	}
	// One more frame after the downgrade should succeed on the real CPU
	// path and reach the sink.
	fillRawSlot(r, byte(fatalEncoderLimit+1))

	deadline := time.After(time.Second)
	for sink.count() < 1 {
		select {
		case <-deadline:
			t.Fatal("worker never published a frame after downgrading to cpu")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	r.Close()
	p.Wait()

	if got := stat.FatalDowngrades.Load(); got != 1 {
		t.Fatalf("expected exactly one downgrade, got %d", got)
	}
	if got := stat.FramesDropped.Load(); got != uint64(fatalEncoderLimit) {
		t.Fatalf("expected %d dropped frames before downgrade, got %d", fatalEncoderLimit, got)
	}
	select {
	case err := <-p.Halted():
		t.Fatalf("pool halted unexpectedly: %v", err)
	default:
	}
}

// TestPoolHaltsWhenCPUFallbackAlsoFails drives a worker whose encoder
// already reports KindCPU, so a run of fatalEncoderLimit failures has
// nowhere left to downgrade to and the worker must halt the pool.
func TestPoolHaltsWhenCPUFallbackAlsoFails(t *testing.T) {
	r, err := ring.New(4, 64)
	if err != nil {
		t.Fatalf("ring.New: %v", err)
	}
	sink := &fakeSink{}
	stat := &stats.Encoder{}

	newEncoder := func() encoder.Encoder {
		return &failingEncoder{kind: encoder.KindCPU}
	}

	p := New(1, r, sink, stat, testLog(), newEncoder)
	p.Start(1)

	for i := 0; i < fatalEncoderLimit; i++ {
		fillRawSlot(r, byte(i+1))
	}

	select {
	case err := <-p.Halted():
		if err == nil {
			t.Fatal("expected a non-nil halt error")
		}
	case <-time.After(time.Second):
		t.Fatal("pool never halted after exhausting the cpu fallback")
	}

	p.Wait()

	if got := stat.FatalDowngrades.Load(); got != 0 {
		t.Fatalf("expected no downgrade when already on cpu, got %d", got)
	}
	if sink.count() != 0 {
		t.Fatalf("expected no published frames, got %d", sink.count())
	}
}

// TestHaltedOnlyFiresOnce checks haltOne guards against a second worker in
// a multi-worker pool also trying to send on the halt channel, whose
// one-slot buffer is already full.
func TestHaltedOnlyFiresOnce(t *testing.T) {
	r, err := ring.New(4, 64)
	if err != nil {
		t.Fatalf("ring.New: %v", err)
	}
	sink := &fakeSink{}
	stat := &stats.Encoder{}

	newEncoder := func() encoder.Encoder {
		return &failingEncoder{kind: encoder.KindCPU}
	}

	p := New(2, r, sink, stat, testLog(), newEncoder)
	p.Start(2)

	// Feed slots from a background goroutine rather than the test
	// goroutine: once a worker halts, the other may take a while longer
	// to exhaust its own consecutive-failure count, and r.Close() below
	// is what unblocks a producer parked in AcquireEmpty.
	producerDone := make(chan struct{})
	go func() {
		defer close(producerDone)
		i := byte(0)
		for {
			slot := r.AcquireEmpty()
			if slot == nil {
				return
			}
			slot.Frame.Width, slot.Frame.Height = 4, 4
			slot.Frame.Stride = 12
			slot.Frame.Format = frame.FormatRGB24
			need := slot.Frame.Stride * slot.Frame.Height
			if cap(slot.Frame.Buf) < need {
				slot.Frame.Buf = make([]byte, need)
			}
			slot.Frame.Buf = slot.Frame.Buf[:need]
			slot.Frame.Used = need
			i++
			slot.Frame.GrabTS = float64(i)
			r.Publish(slot)
		}
	}()

	select {
	case <-p.Halted():
	case <-time.After(time.Second):
		t.Fatal("pool never halted")
	}

	r.Close()
	p.Wait()
	<-producerDone
}
