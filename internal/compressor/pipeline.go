package compressor

import (
	"context"
	"image"

	"pixsqueeze/internal/canvas"
	"pixsqueeze/internal/heic"
	"pixsqueeze/internal/logger"
	"pixsqueeze/internal/media"
	"pixsqueeze/internal/memory"
	"pixsqueeze/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Pipeline turns a source image into an encoded result: decode, draw, encode.
type Pipeline struct {
	surface canvas.Surface
	cache   *heic.Cache
	guard   *memory.Guard
	limits  Limits
	logger  *logrus.Logger
}

// NewPipeline returns a pipeline drawing on surface. cache and guard may be nil.
func NewPipeline(surface canvas.Surface, cache *heic.Cache, guard *memory.Guard, limits Limits, log *logrus.Logger) *Pipeline {
	if log == nil {
		log = logger.Discard()
	}
	return &Pipeline{
		surface: surface,
		cache:   cache,
		guard:   guard,
		limits:  limits,
		logger:  log,
	}
}

// Limits returns the pipeline limits.
func (p *Pipeline) Limits() Limits {
	return p.limits
}

// Accelerated reports whether the drawing surface has a GPU accelerator.
func (p *Pipeline) Accelerated() bool {
	return p.surface.Accelerated()
}

// EncoderQuality maps a 1..100 quality to the value handed to the encoder.
// Lossy formats take q/100; PNG takes a compression effort of 1 - q/100.
func EncoderQuality(mimeType string, quality int) float64 {
	q := float64(quality) / 100
	if mimeType == media.MimePNG {
		return 1 - q
	}
	return q
}

// ClampRadius limits a corner radius to half the shorter side.
func ClampRadius(radius, width, height int) int {
	if radius <= 0 {
		return 0
	}
	return min(radius, min(width, height)/2)
}

// Process renders and encodes src.
func (p *Pipeline) Process(ctx context.Context, src *media.SourceImage, req media.Request, purpose Purpose) (*media.EncodedResult, error) {
	timer := prometheus.NewTimer(metrics.CompressionDuration.WithLabelValues(purpose.String()))
	defer timer.ObserveDuration()

	c, err := p.Render(ctx, src, req, purpose)
	if err != nil {
		return nil, err
	}
	return p.Encode(ctx, c, req, src)
}

// Render decodes src and draws it onto a canvas sized and styled for req.
func (p *Pipeline) Render(ctx context.Context, src *media.SourceImage, req media.Request, purpose Purpose) (canvas.Canvas, error) {
	maxDim := p.limits.MaxDimension
	if req.Accelerated {
		maxDim = p.limits.MaxAcceleratedDimension
	}
	return p.render(ctx, src, req, purpose, maxDim)
}

func (p *Pipeline) render(ctx context.Context, src *media.SourceImage, req media.Request, purpose Purpose, maxDim int) (c canvas.Canvas, err error) {
	defer func() {
		if r := recover(); r != nil {
			c, err = nil, media.WrapEncode("render", media.RecoverError(r))
		}
	}()

	img, err := p.decode(ctx, src, purpose)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	w, h := canvas.FitWithin(b.Dx(), b.Dy(), maxDim)
	target := media.ResolveMimeType(src.MimeType, req.Format)

	opts := canvas.DrawOptions{Width: w, Height: h}
	if src.CarriesAlpha() && !media.MimeSupportsAlpha(target) {
		bg := req.Background.Color()
		opts.Background = &bg
	}
	if media.SupportsAlpha(req.Format, src.MimeType) {
		if r := ClampRadius(req.CornerRadius, w, h); r > 0 {
			opts.CornerRadius = float64(r)
		}
	}

	c, err = p.surface.Draw(img, opts)
	if err != nil {
		return nil, media.WrapEncode("draw", err)
	}
	return c, nil
}

// Encode serializes c for req and releases it.
func (p *Pipeline) Encode(ctx context.Context, c canvas.Canvas, req media.Request, src *media.SourceImage) (*media.EncodedResult, error) {
	mimeType := media.ResolveMimeType(src.MimeType, req.Format)
	return p.encode(ctx, c, mimeType, EncoderQuality(mimeType, req.Quality))
}

func (p *Pipeline) encode(ctx context.Context, c canvas.Canvas, mimeType string, quality float64) (res *media.EncodedResult, err error) {
	defer c.Release()
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, media.WrapEncode("encode", media.RecoverError(r))
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := p.surface.Encode(c, mimeType, quality)
	if err != nil {
		return nil, media.WrapEncode("encode", err)
	}
	if len(data) == 0 {
		return nil, media.WrapEncode("encode", media.ErrEmptyEncodeOutput)
	}
	return media.NewEncodedResult(data, mimeType, c.Width(), c.Height()), nil
}

// Preview renders a small JPEG of src no larger than maxDim on either side.
func (p *Pipeline) Preview(ctx context.Context, src *media.SourceImage, maxDim int) (*media.EncodedResult, error) {
	timer := prometheus.NewTimer(metrics.CompressionDuration.WithLabelValues(PurposePreview.String()))
	defer timer.ObserveDuration()

	if maxDim <= 0 || maxDim > p.limits.MaxDimension {
		maxDim = p.limits.MaxDimension
	}
	req := media.DefaultRequest()
	req.Format = media.FormatJPEG

	c, err := p.render(ctx, src, req, PurposePreview, maxDim)
	if err != nil {
		return nil, err
	}
	return p.encode(ctx, c, media.MimeJPEG, EncoderQuality(media.MimeJPEG, req.Quality))
}

func (p *Pipeline) decode(ctx context.Context, src *media.SourceImage, purpose Purpose) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !heic.IsHeic(src) {
		img, err := p.surface.Decode(ctx, src.Data)
		if err != nil {
			return nil, media.WrapDecode("decode", err)
		}
		return img, nil
	}

	if img, ok := p.decodeHeicDirect(ctx, src); ok {
		return img, nil
	}
	// The caller may have given up while the surface was trying.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if p.cache == nil {
		return nil, media.WrapDecode("decode", media.ErrHEICUnavailable)
	}
	if p.guard != nil {
		p.guard.Mitigate(EstimateNeed(src))
	}

	quality := p.limits.HEICCompressQuality
	if purpose == PurposePreview {
		quality = p.limits.HEICPreviewQuality
	}
	jpeg, err := p.cache.Decode(ctx, src, quality)
	if err != nil {
		return nil, err
	}

	img, err := p.surface.Decode(ctx, jpeg)
	if err != nil {
		return nil, media.WrapDecode("decode", err)
	}
	return img, nil
}

// decodeHeicDirect gives the drawing surface a bounded chance to decode HEIC natively.
// A result that arrives after the timeout is discarded.
func (p *Pipeline) decodeHeicDirect(ctx context.Context, src *media.SourceImage) (image.Image, bool) {
	timeout := p.limits.HEICProbeTimeout
	if timeout <= 0 {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type decoded struct {
		img image.Image
		err error
	}
	done := make(chan decoded, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- decoded{err: media.RecoverError(r)}
			}
		}()
		img, err := p.surface.Decode(ctx, src.Data)
		done <- decoded{img: img, err: err}
	}()

	select {
	case d := <-done:
		if d.err != nil {
			metrics.HEICDirectDecodes.WithLabelValues("failed").Inc()
			logger.WithFile(p.logger, src.Name).Debugf("Direct HEIC decode failed: %v", d.err)
			return nil, false
		}
		metrics.HEICDirectDecodes.WithLabelValues("ok").Inc()
		return d.img, true
	case <-ctx.Done():
		metrics.HEICDirectDecodes.WithLabelValues("timeout").Inc()
		logger.WithFile(p.logger, src.Name).Debug("Direct HEIC decode timed out")
		return nil, false
	}
}

// EstimateNeed returns a rough figure for the memory needed to process src.
func EstimateNeed(src *media.SourceImage) int64 {
	return src.Size * 8
}
