// Package coordinator reconciles worker outputs into a monotonic
// published sequence, applies frame-deduplication, maintains the
// current frame, and drives the liveness overlay.
package coordinator

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"ustreamer/internal/clock"
	"ustreamer/internal/frame"
	"ustreamer/internal/placeholder"
	"ustreamer/internal/stats"
	"ustreamer/internal/workerpool"
)

// Notifier is the broadcaster-facing port. The coordinator only ever
// pushes; it has no idea who is subscribed.
type Notifier interface {
	Notify(seq uint64)
}

// Options configures dedup, liveness windows, and placeholder behavior.
type Options struct {
	DropSameFrames int // 0..30, 0 disables
	OnlineWindow   time.Duration
	OfflineRefresh time.Duration
}

func (o *Options) applyDefaults() {
	if o.OnlineWindow <= 0 {
		o.OnlineWindow = time.Second
	}
	if o.OfflineRefresh <= 0 {
		o.OfflineRefresh = time.Second
	}
	if o.DropSameFrames < 0 {
		o.DropSameFrames = 0
	}
	if o.DropSameFrames > 30 {
		o.DropSameFrames = 30
	}
}

// Coordinator implements workerpool.Sink and owns CurrentFrame's
// lifecycle, the published sequence, and the offline placeholder loop.
type Coordinator struct {
	opts Options
	log  *logrus.Entry

	notifier    Notifier
	streamStats *stats.Stream
	cache       *placeholder.Cache

	mu          sync.Mutex
	seq         uint64
	lastGrabTS  float64
	dedup       []uint64
	dedupLen    int
	dedupHead   int
	repeatCount int
	geomW       int
	geomH       int

	ptr currentPointer

	liveMu     sync.Mutex
	lastLiveAt time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Coordinator. streamStats receives one RecordPublish per
// admitted (post-ordering, post-dedup) frame, backing /state's
// stream.queued_fps. Call Start to begin the offline placeholder
// watchdog loop.
func New(opts Options, notifier Notifier, streamStats *stats.Stream, log *logrus.Entry) *Coordinator {
	opts.applyDefaults()
	if streamStats == nil {
		streamStats = &stats.Stream{}
	}
	c := &Coordinator{
		opts:        opts,
		log:         log,
		notifier:    notifier,
		streamStats: streamStats,
		cache:       placeholder.NewCache(),
		dedup:       make([]uint64, opts.DropSameFrames),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	c.lastLiveAt = time.Now()
	return c
}

var _ workerpool.Sink = (*Coordinator)(nil)

// Start launches the offline-placeholder watchdog.
func (c *Coordinator) Start() {
	go c.watchdog()
}

// Stop halts the watchdog and, if configured, publishes a final offline
// placeholder before returning, so subscribers see a clean offline
// frame instead of the last live one hanging on screen.
func (c *Coordinator) Stop(finalPlaceholder bool) {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	<-c.doneCh
	if finalPlaceholder {
		c.publishOffline("shutdown")
	}
}

// UpdateGeometry records the most recently negotiated capture geometry,
// used by the offline placeholder when no real frame has ever arrived
// with these dimensions.
func (c *Coordinator) UpdateGeometry(w, h int) {
	c.mu.Lock()
	c.geomW, c.geomH = w, h
	c.mu.Unlock()
}

// Current returns an acquired reference to the current frame, or nil if
// nothing has ever been published. Callers must call Release when done.
func (c *Coordinator) Current() *CurrentFrame {
	return c.ptr.load()
}

// PublishedSeq reports the last assigned sequence number, 0 if nothing
// has published yet.
func (c *Coordinator) PublishedSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Publish implements workerpool.Sink. It applies the grab-timestamp
// ordering rule, then dedup, then admits the frame into the published
// sequence.
func (c *Coordinator) Publish(p workerpool.Published) {
	c.mu.Lock()

	// Ordering rule: strictly grab-ts order. Late frames are dropped
	// unconditionally — a newer one is already visible.
	if p.GrabTS <= c.lastGrabTS && c.seq > 0 {
		c.mu.Unlock()
		c.log.WithFields(logrus.Fields{"grab_ts": p.GrabTS, "last": c.lastGrabTS}).
			Debug("coordinator: dropping out-of-order frame")
		return
	}
	c.lastGrabTS = p.GrabTS
	c.geomW, c.geomH = p.Encoded.Width, p.Encoded.Height

	admit := c.admitLocked(frame.Hash(p.Encoded.Bytes()))
	c.mu.Unlock()

	// Liveness tracks raw capture activity, not publish admission: a
	// frame suppressed by dedup still proves the source is alive, so
	// the watchdog must not treat a long dedup run as silence.
	c.markLive()

	if !admit {
		return
	}

	c.publishEncoded(frame.EncodedFrame{
		Frame:        p.Encoded,
		SlotIndex:    p.SlotIndex,
		Generation:   p.Generation,
		SourceGrabTS: p.GrabTS,
	})
}

// admitLocked applies the content-hash dedup ring. Caller
// holds c.mu.
func (c *Coordinator) admitLocked(hash uint64) bool {
	if c.opts.DropSameFrames <= 0 {
		return true
	}

	matched := false
	for i := 0; i < c.dedupLen; i++ {
		if c.dedup[i] == hash {
			matched = true
			break
		}
	}

	if !matched {
		c.repeatCount = 0
		c.pushHashLocked(hash)
		return true
	}

	c.repeatCount++
	if c.repeatCount >= c.opts.DropSameFrames {
		c.repeatCount = 0
		c.pushHashLocked(hash)
		return true
	}
	return false
}

func (c *Coordinator) pushHashLocked(hash uint64) {
	n := len(c.dedup)
	if n == 0 {
		return
	}
	c.dedup[c.dedupHead] = hash
	c.dedupHead = (c.dedupHead + 1) % n
	if c.dedupLen < n {
		c.dedupLen++
	}
}

// publishEncoded assigns the next sequence number, swaps CurrentFrame,
// and notifies subscribers. Old current is released once swapped; the
// GC reclaims it once its refcount-tracked readers are done (tracked for
// test assertions, not manual freeing).
func (c *Coordinator) publishEncoded(ef frame.EncodedFrame) {
	c.mu.Lock()
	c.seq++
	ef.PublishedSeq = c.seq
	ef.Hash = frame.Hash(ef.Bytes())
	seq := c.seq
	c.mu.Unlock()

	c.streamStats.RecordPublish(ef.SourceGrabTS)

	next := newCurrentFrame(ef)
	old := c.ptr.swap(next)
	old.Release()

	c.notifier.Notify(seq)
}

func (c *Coordinator) markLive() {
	c.liveMu.Lock()
	c.lastLiveAt = time.Now()
	c.liveMu.Unlock()
}

func (c *Coordinator) sinceLive() time.Duration {
	c.liveMu.Lock()
	defer c.liveMu.Unlock()
	return time.Since(c.lastLiveAt)
}

func (c *Coordinator) watchdog() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.opts.OfflineRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if c.sinceLive() >= c.opts.OnlineWindow {
				c.publishOffline("no source frames")
			}
		}
	}
}

func (c *Coordinator) publishOffline(reason string) {
	c.mu.Lock()
	w, h := c.geomW, c.geomH
	c.mu.Unlock()

	jpegBytes := c.cache.Get(w, h, reason)

	ef := frame.Frame{
		Buf:    jpegBytes,
		Used:   len(jpegBytes),
		Width:  w,
		Height: h,
		Format: frame.FormatJPEG,
		GrabTS: clock.Seconds(),
		Online: false,
	}

	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.lastGrabTS = ef.GrabTS
	c.mu.Unlock()

	next := newCurrentFrame(frame.EncodedFrame{
		Frame:        ef,
		SourceGrabTS: ef.GrabTS,
		PublishedSeq: seq,
		Hash:         frame.Hash(jpegBytes),
	})
	old := c.ptr.swap(next)
	old.Release()

	c.notifier.Notify(seq)
}
