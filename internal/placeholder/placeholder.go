// Package placeholder generates and caches the "offline" JPEG the
// coordinator republishes while no live frames are arriving. One image
// is generated per distinct (width, height, reason) and cached under
// that plain struct key — there is no frame content to hash before
// it's rendered.
package placeholder

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"sync"
)

// Cache builds and memoizes offline placeholder JPEGs by geometry.
type Cache struct {
	mu    sync.Mutex
	byKey map[key][]byte
}

type key struct {
	w, h int
	msg  string
}

func NewCache() *Cache {
	return &Cache{byKey: map[key][]byte{}}
}

// Get returns the cached placeholder for (w, h, reason), generating and
// caching it on first use.
func (c *Cache) Get(w, h int, reason string) []byte {
	k := key{w, h, reason}

	c.mu.Lock()
	if b, ok := c.byKey[k]; ok {
		c.mu.Unlock()
		return b
	}
	c.mu.Unlock()

	b := render(w, h, reason)

	c.mu.Lock()
	c.byKey[k] = b
	c.mu.Unlock()
	return b
}

// render draws a plain dark frame at the given geometry with a
// horizontal band across its middle whose color is derived from reason, then encodes it as JPEG.
// This is intentionally simple: only the observable semantics matter
// (a JPEG announcing absence of source, distinct per geometry and
// reason), not the image design; drawing shapes with image/draw is a
// stdlib-only leaf, documented in DESIGN.md.
func render(w, h int, reason string) []byte {
	if w <= 0 {
		w = 640
	}
	if h <= 0 {
		h = 480
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.RGBA{20, 20, 24, 255}}, image.Point{}, draw.Src)

	band := reasonColor(reason)
	bandHeight := h / 8
	if bandHeight < 4 {
		bandHeight = 4
	}
	bandRect := image.Rect(0, h/2-bandHeight/2, w, h/2+bandHeight/2)
	draw.Draw(img, bandRect, &image.Uniform{band}, image.Point{}, draw.Src)

	var buf bytes.Buffer
	// Quality is fixed low; this image is republished frequently while
	// offline and its content never changes for a given geometry+reason.
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 70})
	return buf.Bytes()
}

func reasonColor(reason string) color.RGBA {
	var h uint32
	for i := 0; i < len(reason); i++ {
		h = h*31 + uint32(reason[i])
	}
	return color.RGBA{
		R: byte(120 + h%100),
		G: byte(40 + (h>>8)%60),
		B: byte(40 + (h>>16)%60),
		A: 255,
	}
}
