// Package stats holds the atomic counters that back the /state endpoint.
// Every field is updated from its owning goroutine only via atomic ops,
// so a snapshot never needs to stop the pipeline. Shape is grounded on
// framesupplier's SupplierStats/WorkerStats (idle detection, consecutive
// drop streaks, lifetime totals) — the closest analog in the pack to a
// per-consumer health structure feeding an operational endpoint.
package stats

import (
	"math"
	"sync/atomic"
	"time"
)

// fpsEWMAAlpha weights each new instantaneous rate sample against the
// running average. Matches the smoothing constant framesupplier uses for
// its own idle/throughput tracking.
const fpsEWMAAlpha = 0.2

// Source tracks the Capturer's view of the device.
type Source struct {
	FramesCaptured   atomic.Uint64
	BrokenFrames     atomic.Uint64
	Reconnects       atomic.Uint64
	LastGrabTS       atomic.Uint64 // math.Float64bits
	CapturedFPS      atomic.Uint64 // math.Float64bits, EWMA
}

// RecordFrame accounts a captured frame and folds the grab_ts delta since
// the previous one into the EWMA-smoothed captured fps.
func (s *Source) RecordFrame(grabTS float64) {
	s.FramesCaptured.Add(1)
	prev := loadFloat(&s.LastGrabTS)
	if prev > 0 && grabTS > prev {
		ewmaFPS(&s.CapturedFPS, 1/(grabTS-prev))
	}
	storeFloat(&s.LastGrabTS, grabTS)
}

func (s *Source) RecordBroken() { s.BrokenFrames.Add(1) }
func (s *Source) RecordReconnect() { s.Reconnects.Add(1) }

func (s *Source) LastGrab() float64 { return loadFloat(&s.LastGrabTS) }

// FPS reports the current EWMA-smoothed captured frame rate.
func (s *Source) FPS() float64 { return loadFloat(&s.CapturedFPS) }

// Encoder tracks per-worker encode outcomes, aggregated pool-wide.
type Encoder struct {
	FramesEncoded atomic.Uint64
	FramesDropped atomic.Uint64
	FatalDowngrades atomic.Uint64
}

// Stream tracks the coordinator's admitted-publish rate: how often a
// frame actually clears ordering and dedup and reaches subscribers. This
// is what /state reports as queued_fps, distinct from the source's raw
// captured_fps once dedup is dropping repeats.
type Stream struct {
	lastPublishTS atomic.Uint64 // math.Float64bits
	QueuedFPS     atomic.Uint64 // math.Float64bits, EWMA
}

// RecordPublish accounts one admitted publish at grabTS.
func (s *Stream) RecordPublish(grabTS float64) {
	prev := loadFloat(&s.lastPublishTS)
	if prev > 0 && grabTS > prev {
		ewmaFPS(&s.QueuedFPS, 1/(grabTS-prev))
	}
	storeFloat(&s.lastPublishTS, grabTS)
}

// FPS reports the current EWMA-smoothed queued frame rate.
func (s *Stream) FPS() float64 { return loadFloat(&s.QueuedFPS) }

func ewmaFPS(a *atomic.Uint64, inst float64) {
	cur := loadFloat(a)
	if cur == 0 {
		storeFloat(a, inst)
		return
	}
	storeFloat(a, cur+fpsEWMAAlpha*(inst-cur))
}

// Client is a per-subscriber health record, one per live HTTP session.
type Client struct {
	ID               string
	RemoteAddr       string
	ConnectedAt      time.Time
	Delivered        atomic.Uint64
	DroppedForSlow   atomic.Uint64
	LastDeliveredSeq atomic.Uint64
}

// IsIdle reports whether this client has been connected longer than
// window without ever being delivered a frame. A client that has
// received any frame is never idle.
func (c *Client) IsIdle(window time.Duration) bool {
	last := c.LastDeliveredSeq.Load()
	return last == 0 && time.Since(c.ConnectedAt) > window
}

func storeFloat(a *atomic.Uint64, v float64) {
	a.Store(math.Float64bits(v))
}

func loadFloat(a *atomic.Uint64) float64 {
	return math.Float64frombits(a.Load())
}
