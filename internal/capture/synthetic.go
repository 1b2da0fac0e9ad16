package capture

import (
	"time"

	"ustreamer/internal/frame"
)

// SyntheticSource is the CaptureSource shipped by default. The real
// kernel/host-OS driver is out of scope; this is a runnable stand-in
// generating a moving-rectangle gradient as raw RGB24 pixels, rather
// than pre-encoded JPEG, so it exercises the full ring→worker→encoder
// path rather than bypassing it.
type SyntheticSource struct {
	width, height int
	fps           int
	frameNum      int
	lastEmit      time.Time
	interval      time.Duration

	failNext  int // ReadFrame returns ErrSourceTransient this many more times
	goneAfter int // if > 0, every ReadFrame returns ErrSourceGone
}

// NewSyntheticSource builds a generator; call Open before ReadFrame.
func NewSyntheticSource() *SyntheticSource {
	return &SyntheticSource{}
}

func (s *SyntheticSource) Open(cfg SourceConfig) (AppliedFormat, error) {
	w, h := cfg.DesiredWidth, cfg.DesiredHeight
	if w <= 0 {
		w = 640
	}
	if h <= 0 {
		h = 480
	}
	fps := cfg.DesiredFPS
	if fps <= 0 {
		fps = 30
	}
	s.width, s.height, s.fps = w, h, fps
	s.interval = time.Second / time.Duration(fps)
	s.lastEmit = time.Now()
	return AppliedFormat{Width: w, Height: h, Format: frame.FormatRGB24, FPS: fps}, nil
}

// InjectTransientError makes the next n ReadFrame calls fail
// recoverably, simulating a source that briefly drops frames.
func (s *SyntheticSource) InjectTransientError(n int) { s.failNext = n }

// InjectPermanentLoss makes ReadFrame return ErrSourceGone permanently.
func (s *SyntheticSource) InjectPermanentLoss() { s.goneAfter = 1 }

func (s *SyntheticSource) ReadFrame(dst *frame.Frame) error {
	if s.goneAfter > 0 {
		return ErrSourceGone
	}
	if s.failNext > 0 {
		s.failNext--
		return ErrSourceTransient
	}

	// Pace to the configured FPS so a fast consumer doesn't spin.
	if wait := s.interval - time.Since(s.lastEmit); wait > 0 {
		time.Sleep(wait)
	}
	s.lastEmit = time.Now()

	stride := s.width * 3
	need := stride * s.height
	if cap(dst.Buf) < need {
		dst.Buf = make([]byte, need)
	}
	dst.Buf = dst.Buf[:need]

	r := byte((s.frameNum * 2) % 255)
	g := byte((s.frameNum * 3) % 255)
	b := byte((s.frameNum * 5) % 255)

	rectX := (s.frameNum * 5) % maxInt(s.width-100, 1)
	rectY := (s.frameNum * 3) % maxInt(s.height-100, 1)

	for y := 0; y < s.height; y++ {
		row := dst.Buf[y*stride : y*stride+stride]
		inRectRow := y >= rectY && y < rectY+100
		for x := 0; x < s.width; x++ {
			px := row[x*3 : x*3+3]
			if inRectRow && x >= rectX && x < rectX+100 {
				px[0], px[1], px[2] = 255-r, 255-g, 255-b
			} else {
				px[0], px[1], px[2] = r, g, b
			}
		}
	}

	dst.Used = need
	dst.Width = s.width
	dst.Height = s.height
	dst.Stride = stride
	dst.Format = frame.FormatRGB24
	s.frameNum++
	return nil
}

func (s *SyntheticSource) Close() error { return nil }

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

var _ CaptureSource = (*SyntheticSource)(nil)
