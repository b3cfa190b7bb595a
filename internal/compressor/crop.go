package compressor

import (
	"context"
	"image"
	"math"

	"pixsqueeze/internal/canvas"
	"pixsqueeze/internal/media"
	"pixsqueeze/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// MaxQuality is the quality used when re-encoding a crop.
const MaxQuality = 100

// Crop cuts rect out of an encoded result and re-encodes it in the same format at
// maximum quality. rect is in the result's pixel coordinates and is clamped to its bounds.
func (p *Pipeline) Crop(ctx context.Context, result *media.EncodedResult, rect image.Rectangle) (*media.EncodedResult, error) {
	timer := prometheus.NewTimer(metrics.CompressionDuration.WithLabelValues("crop"))
	defer timer.ObserveDuration()

	data := result.Bytes()
	if data == nil {
		return nil, media.NewValidationError("crop", "no result to crop")
	}

	img, err := p.surface.Decode(ctx, data)
	if err != nil {
		return nil, media.WrapDecode("crop", err)
	}

	b := img.Bounds()
	r := rect.Canon().Intersect(image.Rect(0, 0, b.Dx(), b.Dy()))
	if r.Empty() {
		return nil, media.WrapValidation("crop", media.ErrEmptyCropRect)
	}

	c, err := p.surface.Draw(img, canvas.DrawOptions{
		Width:   r.Dx(),
		Height:  r.Dy(),
		SrcRect: &r,
	})
	if err != nil {
		return nil, media.WrapEncode("crop", err)
	}
	return p.encode(ctx, c, result.MimeType, EncoderQuality(result.MimeType, MaxQuality))
}

// ScaleRect maps a rectangle drawn on a displayed image of displayW×displayH
// to the image's natural naturalW×naturalH resolution.
func ScaleRect(display image.Rectangle, naturalW, naturalH, displayW, displayH int) image.Rectangle {
	if displayW <= 0 || displayH <= 0 {
		return image.Rectangle{}
	}
	sx := float64(naturalW) / float64(displayW)
	sy := float64(naturalH) / float64(displayH)
	scale := func(v int, s float64) int {
		return int(math.Round(float64(v) * s))
	}
	return image.Rect(
		scale(display.Min.X, sx),
		scale(display.Min.Y, sy),
		scale(display.Max.X, sx),
		scale(display.Max.Y, sy),
	)
}
