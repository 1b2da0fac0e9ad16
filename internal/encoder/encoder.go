// Package encoder implements the Encoder capability abstraction:
// given a raw Frame, produce a JPEG Frame. Concrete hardware backends
// (M2M image/video, platform-specific) are stubs here — the real
// silicon drivers are out of scope — but the tagged-union selection
// and CPU fallback path are fully implemented so the worker pool's
// downgrade behavior is real.
package encoder

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"ustreamer/internal/frame"
)

// Kind is the tagged union of supported encoder variants.
type Kind int

const (
	KindCPU Kind = iota
	KindHwM2mImage
	KindHwM2mVideo
	KindHwPlatform
)

func (k Kind) String() string {
	switch k {
	case KindHwM2mImage:
		return "m2m-image"
	case KindHwM2mVideo:
		return "m2m-video"
	case KindHwPlatform:
		return "hw"
	default:
		return "cpu"
	}
}

func ParseKind(s string) (Kind, error) {
	switch s {
	case "cpu", "":
		return KindCPU, nil
	case "m2m-image":
		return KindHwM2mImage, nil
	case "m2m-video":
		return KindHwM2mVideo, nil
	case "hw":
		return KindHwPlatform, nil
	default:
		return KindCPU, fmt.Errorf("encoder: unknown kind %q", s)
	}
}

// Options configures an Encoder at construction time.
type Options struct {
	Quality int // 1-100, default 80
}

func (o *Options) applyDefaults() {
	if o.Quality <= 0 {
		o.Quality = 80
	}
}

// Encoder compresses a raw Frame to JPEG. Implementations own whatever
// hardware/software context they need exclusively; the worker pool never
// shares one Encoder instance across goroutines.
type Encoder interface {
	Kind() Kind
	// Encode compresses src into dst, reusing dst.Buf's backing array
	// when it has capacity. Returns an error the worker treats as a
	// single-frame EncoderFrame failure (dropped, not fatal).
	Encode(src *frame.Frame, dst *frame.Frame) error
	Close() error
}

// New constructs an Encoder for kind. Hardware kinds are backed by
// hwStub, which always reports itself unavailable so callers fall back
// to CPU — the real M2M/platform codec is an external collaborator
// this module does not implement.
func New(kind Kind, opts Options) Encoder {
	opts.applyDefaults()
	switch kind {
	case KindHwM2mImage, KindHwM2mVideo, KindHwPlatform:
		return &hwStub{kind: kind, fallback: NewCPU(opts)}
	default:
		return NewCPU(opts)
	}
}

// CPU is the always-available software JPEG encoder, built on the
// standard library's image/jpeg. No third-party JPEG codec is wired in
// here — see DESIGN.md for why image/jpeg is the one stdlib-grounded
// leaf of the encoder stack.
type CPU struct {
	opts Options
}

func NewCPU(opts Options) *CPU {
	opts.applyDefaults()
	return &CPU{opts: opts}
}

func (c *CPU) Kind() Kind { return KindCPU }

func (c *CPU) Encode(src *frame.Frame, dst *frame.Frame) error {
	img, err := toImage(src)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.opts.Quality}); err != nil {
		return fmt.Errorf("encoder: cpu encode: %w", err)
	}

	if cap(dst.Buf) < buf.Len() {
		dst.Buf = make([]byte, buf.Len())
	}
	dst.Buf = dst.Buf[:buf.Len()]
	copy(dst.Buf, buf.Bytes())
	dst.Used = buf.Len()
	dst.Width = src.Width
	dst.Height = src.Height
	dst.Format = frame.FormatJPEG
	dst.Stride = 0
	return nil
}

func (c *CPU) Close() error { return nil }

// hwStub represents a hardware encoder variant whose real driver is out
// of scope. It always fails to encode. The worker pool drops each frame
// it fails on and swaps the worker onto a CPU encoder only after
// fatalEncoderLimit consecutive failures; a failed frame is not
// re-encoded on the CPU.
type hwStub struct {
	kind     Kind
	fallback *CPU
}

func (h *hwStub) Kind() Kind { return h.kind }

func (h *hwStub) Encode(src *frame.Frame, dst *frame.Frame) error {
	return fmt.Errorf("encoder: %s unavailable in this build, use CPU fallback", h.kind)
}

func (h *hwStub) Close() error { return nil }

// toImage adapts a raw Frame into an image.Image image/jpeg can encode.
// Only the formats declared in the data model are accepted.
func toImage(src *frame.Frame) (image.Image, error) {
	switch src.Format {
	case frame.FormatRGB24:
		return rgb24ToImage(src), nil
	case frame.FormatBGR24:
		return bgr24ToImage(src), nil
	case frame.FormatGREY:
		return greyToImage(src), nil
	case frame.FormatYUYV:
		return yuyvToImage(src), nil
	case frame.FormatUYVY:
		return uyvyToImage(src), nil
	default:
		return nil, fmt.Errorf("encoder: unsupported raw format %s", src.Format)
	}
}

func rgb24ToImage(src *frame.Frame) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, src.Width, src.Height))
	buf := src.Bytes()
	stride := src.Stride
	if stride == 0 {
		stride = src.Width * 3
	}
	for y := 0; y < src.Height; y++ {
		row := buf[y*stride:]
		for x := 0; x < src.Width; x++ {
			i := x * 3
			if i+2 >= len(row) {
				break
			}
			off := img.PixOffset(x, y)
			img.Pix[off+0] = row[i+0]
			img.Pix[off+1] = row[i+1]
			img.Pix[off+2] = row[i+2]
			img.Pix[off+3] = 255
		}
	}
	return img
}

func bgr24ToImage(src *frame.Frame) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, src.Width, src.Height))
	buf := src.Bytes()
	stride := src.Stride
	if stride == 0 {
		stride = src.Width * 3
	}
	for y := 0; y < src.Height; y++ {
		row := buf[y*stride:]
		for x := 0; x < src.Width; x++ {
			i := x * 3
			if i+2 >= len(row) {
				break
			}
			off := img.PixOffset(x, y)
			img.Pix[off+0] = row[i+2]
			img.Pix[off+1] = row[i+1]
			img.Pix[off+2] = row[i+0]
			img.Pix[off+3] = 255
		}
	}
	return img
}

func greyToImage(src *frame.Frame) image.Image {
	img := image.NewGray(image.Rect(0, 0, src.Width, src.Height))
	buf := src.Bytes()
	stride := src.Stride
	if stride == 0 {
		stride = src.Width
	}
	for y := 0; y < src.Height; y++ {
		row := buf[y*stride:]
		n := src.Width
		if n > len(row) {
			n = len(row)
		}
		copy(img.Pix[y*img.Stride:y*img.Stride+n], row[:n])
	}
	return img
}

// yuyvToImage converts packed 4:2:2 YUYV into RGBA using BT.601 coefficients.
func yuyvToImage(src *frame.Frame) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, src.Width, src.Height))
	buf := src.Bytes()
	stride := src.Stride
	if stride == 0 {
		stride = src.Width * 2
	}
	for y := 0; y < src.Height; y++ {
		row := buf[y*stride:]
		for x := 0; x+1 < src.Width; x += 2 {
			i := x * 2
			if i+3 >= len(row) {
				break
			}
			y0, u, y1, v := row[i], row[i+1], row[i+2], row[i+3]
			setYUV(img, x, y, y0, u, v)
			setYUV(img, x+1, y, y1, u, v)
		}
	}
	return img
}

// uyvyToImage is YUYV's byte-order sibling.
func uyvyToImage(src *frame.Frame) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, src.Width, src.Height))
	buf := src.Bytes()
	stride := src.Stride
	if stride == 0 {
		stride = src.Width * 2
	}
	for y := 0; y < src.Height; y++ {
		row := buf[y*stride:]
		for x := 0; x+1 < src.Width; x += 2 {
			i := x * 2
			if i+3 >= len(row) {
				break
			}
			u, y0, v, y1 := row[i], row[i+1], row[i+2], row[i+3]
			setYUV(img, x, y, y0, u, v)
			setYUV(img, x+1, y, y1, u, v)
		}
	}
	return img
}

func setYUV(img *image.RGBA, x, y int, yy, u, v byte) {
	c := int(yy) - 16
	d := int(u) - 128
	e := int(v) - 128

	r := clamp8((298*c + 409*e + 128) >> 8)
	g := clamp8((298*c - 100*d - 208*e + 128) >> 8)
	b := clamp8((298*c + 516*d + 128) >> 8)

	off := img.PixOffset(x, y)
	img.Pix[off+0] = r
	img.Pix[off+1] = g
	img.Pix[off+2] = b
	img.Pix[off+3] = 255
}

func clamp8(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
