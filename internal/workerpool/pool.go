// Package workerpool runs N encode workers, each owning its own Encoder
// instance exclusively, pulling filled raw slots and publishing encoded
// results to the coordinator.
package workerpool

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"ustreamer/internal/clock"
	"ustreamer/internal/encoder"
	"ustreamer/internal/frame"
	"ustreamer/internal/ring"
	"ustreamer/internal/stats"
)

// Published is what a worker hands to the coordinator after a successful
// encode.
type Published struct {
	Encoded    frame.Frame
	SlotIndex  int
	Generation uint64
	GrabTS     float64
}

// Sink is the coordinator-facing publish port. Workers only ever send;
// they never call back into the ring or the capturer.
type Sink interface {
	Publish(Published)
}

const fatalEncoderLimit = 8

// Pool owns N workers. Halt fires (once) if a worker exhausts its CPU
// fallback and must exit; the pool surfaces that as a fatal condition to
// whatever supervises it.
type Pool struct {
	ring *ring.Ring
	sink Sink
	stat *stats.Encoder
	log  *logrus.Entry

	newEncoder func() encoder.Encoder

	wg      sync.WaitGroup
	haltCh  chan error
	haltOne sync.Once
}

// New builds a pool. n is clamped by the caller to
// min(workersHint, ring.Len()-1).
func New(n int, r *ring.Ring, sink Sink, stat *stats.Encoder, log *logrus.Entry, newEncoder func() encoder.Encoder) *Pool {
	return &Pool{
		ring:       r,
		sink:       sink,
		stat:       stat,
		log:        log,
		newEncoder: newEncoder,
		haltCh:     make(chan error, 1),
	}
}

// ClampWorkers enforces N <= workersHint and N <= ring slots - 1,
// always at least 1.
func ClampWorkers(workersHint, ringSlots int) int {
	n := workersHint
	if n <= 0 {
		n = 1
	}
	if max := ringSlots - 1; max >= 1 && n > max {
		n = max
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Start launches n worker goroutines.
func (p *Pool) Start(n int) {
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.runWorker(i)
	}
}

// Wait blocks until all workers have exited. Workers exit once the ring
// is closed and drained, or on a fatal halt.
func (p *Pool) Wait() { p.wg.Wait() }

// Halted returns a channel that receives the fatal error, if any, that
// caused the pool to stop itself. Never receives on a clean shutdown
// through ring.Close.
func (p *Pool) Halted() <-chan error { return p.haltCh }

func (p *Pool) runWorker(id int) {
	defer p.wg.Done()

	log := p.log.WithField("worker", id)
	enc := p.newEncoder()
	defer enc.Close()

	consecutiveFailures := 0
	downgraded := false

	for {
		slot := p.ring.ClaimFilled()
		if slot == nil {
			return // ring closed, pool shutting down
		}

		p.ring.BeginEncoding(slot)

		beginTS := clock.Seconds()
		var out frame.Frame
		err := enc.Encode(&slot.Frame, &out)
		endTS := clock.Seconds()

		if err != nil {
			consecutiveFailures++
			p.stat.FramesDropped.Add(1)
			log.WithError(err).Warn("worker: encode failed, dropping frame")

			if consecutiveFailures >= fatalEncoderLimit {
				if !downgraded && enc.Kind() != encoder.KindCPU {
					log.Warn("worker: downgrading to cpu encoder after repeated failures")
					enc.Close()
					enc = encoder.NewCPU(encoder.Options{})
					downgraded = true
					consecutiveFailures = 0
					p.stat.FatalDowngrades.Add(1)
				} else {
					log.Error("worker: cpu encoder also failing, halting pool")
					p.ring.Release(slot, err)
					p.haltOne.Do(func() {
						p.haltCh <- fmt.Errorf("workerpool: worker %d: %w", id, err)
					})
					return
				}
			}

			p.ring.Release(slot, err)
			continue
		}

		consecutiveFailures = 0
		out.GrabTS = slot.Frame.GrabTS
		out.EncodeBeginTS = beginTS
		out.EncodeEndTS = endTS
		out.Online = slot.Frame.Online

		p.stat.FramesEncoded.Add(1)
		p.sink.Publish(Published{
			Encoded:    out,
			SlotIndex:  slot.Index,
			Generation: slot.Generation,
			GrabTS:     slot.Frame.GrabTS,
		})

		p.ring.Release(slot, nil)
	}
}
