package heic

import (
	"context"
	"fmt"
	"math"

	"pixsqueeze/internal/libvips"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/sirupsen/logrus"
)

// VipsDecoder decodes HEIC/HEIF through libvips (libheif).
type VipsDecoder struct {
	logger *logrus.Logger
}

// NewVipsDecoder returns a decoder backed by libvips. libvips is started on first use.
func NewVipsDecoder(logger *logrus.Logger) *VipsDecoder {
	return &VipsDecoder{logger: logger}
}

// Decode converts the source bytes to JPEG at req.Quality (0..1).
func (d *VipsDecoder) Decode(ctx context.Context, req DecodeRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Source == nil || len(req.Source.Data) == 0 {
		return nil, fmt.Errorf("empty HEIC source")
	}
	if req.OutputType != "" && req.OutputType != OutputType {
		return nil, fmt.Errorf("unsupported HEIC output type %s", req.OutputType)
	}

	libvips.Init(d.logger)

	ref, err := vips.NewImageFromBuffer(req.Source.Data)
	if err != nil {
		return nil, fmt.Errorf("vips failed to load image: %w", err)
	}
	defer ref.Close()

	if err := ref.AutoRotate(); err != nil {
		return nil, fmt.Errorf("vips failed to orient image: %w", err)
	}

	params := vips.NewJpegExportParams()
	params.Quality = jpegQuality(req.Quality)
	params.OptimizeCoding = true

	data, _, err := ref.ExportJpeg(params)
	if err != nil {
		return nil, fmt.Errorf("vips export failed: %w", err)
	}

	if d.logger != nil {
		d.logger.WithField("file", req.Source.Name).Debugf("Decoded HEIC %dx%d to %d bytes", ref.Width(), ref.Height(), len(data))
	}
	return data, nil
}

func jpegQuality(q float64) int {
	v := int(math.Round(q * 100))
	if v < 1 {
		return 1
	}
	if v > 100 {
		return 100
	}
	return v
}
