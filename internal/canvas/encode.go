package canvas

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"

	"pixsqueeze/internal/libvips"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
)

func encode(img image.Image, mimeType string, quality float64, logger *logrus.Logger) ([]byte, error) {
	var buf bytes.Buffer
	var err error

	switch mimeType {
	case "image/jpeg":
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(percent(quality)))
	case "image/png":
		err = imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(pngLevel(quality)))
	case "image/gif":
		err = imaging.Encode(&buf, img, imaging.GIF)
	case "image/webp", "image/avif":
		return encodeWithVips(img, mimeType, quality, logger)
	default:
		return nil, fmt.Errorf("no encoder for %s", mimeType)
	}

	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeWithVips(img image.Image, mimeType string, quality float64, logger *logrus.Logger) ([]byte, error) {
	libvips.Init(logger)

	// libvips takes encoded input; PNG keeps the alpha channel lossless
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.NoCompression)); err != nil {
		return nil, err
	}

	ref, err := vips.NewImageFromBuffer(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("vips failed to load raster: %w", err)
	}
	defer ref.Close()

	var out []byte
	if mimeType == "image/webp" {
		params := vips.NewWebpExportParams()
		params.Quality = percent(quality)
		out, _, err = ref.ExportWebp(params)
	} else {
		params := vips.NewAvifExportParams()
		params.Quality = percent(quality)
		out, _, err = ref.ExportAvif(params)
	}
	if err != nil {
		return nil, fmt.Errorf("vips export failed: %w", err)
	}
	return out, nil
}

// percent maps a [0,1] quality to the 1..100 scale encoders take.
func percent(q float64) int {
	v := int(math.Round(q * 100))
	return min(max(v, 1), 100)
}

// pngLevel maps a [0,1] compression effort onto the zlib levels image/png exposes.
func pngLevel(effort float64) png.CompressionLevel {
	switch {
	case effort >= 0.66:
		return png.BestCompression
	case effort >= 0.33:
		return png.DefaultCompression
	default:
		return png.BestSpeed
	}
}
