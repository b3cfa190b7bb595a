// Package canvas is the drawing surface behind the compression pipeline:
// it decodes source bytes, composites them onto a sized raster and encodes
// the raster to a target format.
package canvas

import (
	"context"
	"image"
	"image/color"
	"sync"
)

// Surface decodes, composites and encodes rasters.
type Surface interface {
	// Decode turns encoded bytes into an upright image.
	Decode(ctx context.Context, data []byte) (image.Image, error)
	// Draw composites src onto a new canvas described by opts.
	Draw(src image.Image, opts DrawOptions) (Canvas, error)
	// Encode serializes c. quality is the lossy quality in [0,1]; for PNG it is
	// the compression effort in [0,1].
	Encode(c Canvas, mimeType string, quality float64) ([]byte, error)
	// Accelerated reports whether a GPU accelerator is active.
	Accelerated() bool
}

// DrawOptions describes one composite.
type DrawOptions struct {
	Width, Height int
	// CornerRadius clips the image to a rounded rectangle when > 0.
	// Callers clamp it to min(Width, Height)/2.
	CornerRadius float64
	// Background fills the canvas before the image is drawn.
	Background *color.NRGBA
	// SrcRect selects a region of the source. Nil means the whole image.
	SrcRect *image.Rectangle
}

// Canvas is a rendered raster. It must be released exactly once and not read afterwards.
type Canvas interface {
	Width() int
	Height() int
	Image() image.Image
	Release()
}

// raster is the Canvas implementation returned by the surfaces in this package.
type raster struct {
	mu  sync.Mutex
	img image.Image
	w   int
	h   int
}

func newRaster(img image.Image) *raster {
	b := img.Bounds()
	return &raster{img: img, w: b.Dx(), h: b.Dy()}
}

func (r *raster) Width() int  { return r.w }
func (r *raster) Height() int { return r.h }

func (r *raster) Image() image.Image {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.img
}

func (r *raster) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.img = nil
}

// FitWithin scales w×h down to fit a square of side maxDim, preserving aspect ratio.
// Dimensions already within bounds are returned unchanged.
func FitWithin(w, h, maxDim int) (int, int) {
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return w, h
	}
	if w >= h {
		nh := int(float64(h)*float64(maxDim)/float64(w) + 0.5)
		return maxDim, max(nh, 1)
	}
	nw := int(float64(w)*float64(maxDim)/float64(h) + 0.5)
	return max(nw, 1), maxDim
}
