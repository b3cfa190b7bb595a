package canvas

import (
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/gogpu/gg"
	"github.com/sirupsen/logrus"
)

// GGSurface composites with gogpu/gg and resamples with imaging.
type GGSurface struct {
	logger *logrus.Logger
}

// NewGGSurface returns the default drawing surface.
func NewGGSurface(logger *logrus.Logger) *GGSurface {
	return &GGSurface{logger: logger}
}

// Accelerated reports whether gg has a GPU accelerator registered.
func (s *GGSurface) Accelerated() bool {
	return gg.Accelerator() != nil
}

// Decode implements Surface.
func (s *GGSurface) Decode(ctx context.Context, data []byte) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return decode(data, s.logger)
}

// Draw implements Surface.
func (s *GGSurface) Draw(src image.Image, opts DrawOptions) (Canvas, error) {
	if src == nil {
		return nil, fmt.Errorf("no source image")
	}
	if opts.SrcRect != nil {
		r := opts.SrcRect.Add(src.Bounds().Min).Intersect(src.Bounds())
		if r.Empty() {
			return nil, fmt.Errorf("source rectangle %v outside image bounds", *opts.SrcRect)
		}
		src = imaging.Crop(src, r)
	}

	b := src.Bounds()
	w, h := opts.Width, opts.Height
	if w <= 0 || h <= 0 {
		w, h = b.Dx(), b.Dy()
	}

	img := src
	if b.Dx() != w || b.Dy() != h {
		img = imaging.Resize(src, w, h, imaging.Lanczos)
	}

	if opts.Background == nil && opts.CornerRadius <= 0 {
		return newRaster(img), nil
	}

	dc := gg.NewContext(w, h)
	defer dc.Close()

	if opts.Background != nil {
		dc.ClearWithColor(gg.FromColor(*opts.Background))
	}

	buf := gg.ImageBufFromImage(img)
	if opts.CornerRadius > 0 {
		dc.SetFillPattern(dc.CreateImagePattern(buf, 0, 0, w, h))
		dc.DrawRoundedRectangle(0, 0, float64(w), float64(h), opts.CornerRadius)
		if err := dc.Fill(); err != nil {
			return nil, fmt.Errorf("failed to clip corners: %w", err)
		}
	} else {
		dc.DrawImage(buf, 0, 0)
	}

	return newRaster(dc.Image()), nil
}

// Encode implements Surface.
func (s *GGSurface) Encode(c Canvas, mimeType string, quality float64) ([]byte, error) {
	img := c.Image()
	if img == nil {
		return nil, fmt.Errorf("canvas already released")
	}
	return encode(img, mimeType, quality, s.logger)
}
