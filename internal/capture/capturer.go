package capture

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"ustreamer/internal/clock"
	"ustreamer/internal/frame"
	"ustreamer/internal/ring"
	"ustreamer/internal/stats"
)

// Capturer drives a CaptureSource: opens it, applies the requested
// geometry, pumps frames into the raw ring, and recovers from failures.
type Capturer struct {
	cfg Config
	src CaptureSource
	ring *ring.Ring
	stat *stats.Source
	log  *logrus.Entry

	mu       sync.Mutex
	state    State
	liveness Liveness
	applied  AppliedFormat

	closeOnce sync.Once
	closeCh   chan struct{}
	doneCh    chan struct{}
}

// New builds a Capturer. Start must be called to begin pumping frames.
func New(cfg Config, src CaptureSource, r *ring.Ring, st *stats.Source, log *logrus.Entry) *Capturer {
	cfg.applyDefaults()
	return &Capturer{
		cfg:     cfg,
		src:     src,
		ring:    r,
		stat:    st,
		log:     log,
		state:   StateClosed,
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start spawns the capture loop. Safe to call once.
func (c *Capturer) Start() {
	c.setState(StateProbing)
	go c.run()
}

func (c *Capturer) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State reports the Capturer's current state machine position.
func (c *Capturer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Liveness reports the current liveness overlay.
func (c *Capturer) Liveness() Liveness {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveness
}

func (c *Capturer) setLiveness(l LivenessState) {
	c.mu.Lock()
	if c.liveness.State != l {
		c.liveness = Liveness{State: l, Since: time.Now()}
	}
	c.mu.Unlock()
}

// AppliedFormat reports the geometry the source actually negotiated.
func (c *Capturer) AppliedFormat() AppliedFormat {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applied
}

// Poll returns the next Filled slot without blocking, or nil. It exists
// for callers (tests, health checks) that want a peek at the ring
// without joining the worker pool's blocking claim loop.
func (c *Capturer) Poll() *ring.RawSlot {
	return c.ring.TryClaimFilled()
}

// Close is idempotent: it stops the capture loop, drains outstanding
// slots via ring.Close, and guarantees the CaptureSource is released on
// every exit path.
func (c *Capturer) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.ring.Close()
		<-c.doneCh
	})
	c.setState(StateClosed)
	return nil
}

func (c *Capturer) run() {
	defer close(c.doneCh)
	defer c.src.Close()

	broken := 0
	backoff := c.cfg.RetryBackoffMin

	for {
		select {
		case <-c.closeCh:
			return
		default:
		}

		switch c.State() {
		case StateProbing:
			applied, err := c.openWithTimeout()
			if err != nil {
				c.log.WithError(err).Warn("capture: open failed, retrying")
				c.setState(StateSourceLost)
				continue
			}
			c.mu.Lock()
			c.applied = applied
			c.mu.Unlock()
			broken = 0
			backoff = c.cfg.RetryBackoffMin
			c.setLiveness(Online)
			c.setState(StateStreaming)
			c.log.WithFields(logrus.Fields{
				"width": applied.Width, "height": applied.Height, "format": applied.Format,
			}).Info("capture: streaming")

		case StateStreaming:
			slot := c.ring.AcquireEmpty()
			if slot == nil {
				return // ring closed under us
			}

			err := c.src.ReadFrame(&slot.Frame)
			grabTS := clock.Seconds()

			select {
			case <-c.closeCh:
				return
			default:
			}

			if err != nil {
				if errors.Is(err, ErrSourceGone) && !c.cfg.Persistent {
					c.log.WithError(err).Error("capture: source gone, not persistent, halting")
					c.setState(StateClosed)
					return
				}
				c.log.WithError(err).Warn("capture: source error")
				c.stat.RecordReconnect()
				c.setLiveness(Reconnecting)
				c.setState(StateSourceLost)
				continue
			}

			if slot.Frame.Used == 0 {
				broken++
				c.stat.RecordBroken()
				if broken > c.cfg.BrokenLimit {
					c.log.Warn("capture: broken frame limit exceeded")
					c.setState(StateSourceLost)
				}
				continue
			}

			c.mu.Lock()
			appliedW, appliedH := c.applied.Width, c.applied.Height
			c.mu.Unlock()
			if slot.Frame.Width != 0 && (slot.Frame.Width != appliedW || slot.Frame.Height != appliedH) {
				c.log.WithFields(logrus.Fields{
					"was": fmt.Sprintf("%dx%d", appliedW, appliedH),
					"now": fmt.Sprintf("%dx%d", slot.Frame.Width, slot.Frame.Height),
				}).Info("capture: source geometry changed mid-stream")
				c.setState(StateResizing)
				continue
			}

			broken = 0
			slot.Frame.GrabTS = grabTS
			slot.Frame.Online = true
			c.ring.Publish(slot)
			c.stat.RecordFrame(grabTS)
			c.setLiveness(Online)

		case StateSourceLost:
			c.setLiveness(Reconnecting)
			c.src.Close()
			timer := time.NewTimer(backoff)
			select {
			case <-c.closeCh:
				timer.Stop()
				return
			case <-timer.C:
			}
			if backoff < c.cfg.RetryBackoffMax {
				backoff *= 2
				if backoff > c.cfg.RetryBackoffMax {
					backoff = c.cfg.RetryBackoffMax
				}
			}
			c.setState(StateProbing)

		case StateResizing:
			c.setState(StateProbing)

		case StateClosed:
			return
		}
	}
}

func (c *Capturer) openWithTimeout() (AppliedFormat, error) {
	type result struct {
		applied AppliedFormat
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		applied, err := c.src.Open(c.cfg.Source)
		ch <- result{applied, err}
	}()

	select {
	case r := <-ch:
		return r.applied, r.err
	case <-time.After(c.cfg.OpenTimeout):
		return AppliedFormat{}, errors.New("capture: open timed out")
	}
}

// Frame is a convenience re-export so callers of this package don't need
// to also import internal/frame just to reference the type in doc
// comments and tests.
type Frame = frame.Frame
