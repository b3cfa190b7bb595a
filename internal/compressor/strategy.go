package compressor

import (
	"context"
	"time"

	"pixsqueeze/internal/logger"
	"pixsqueeze/internal/media"
	"pixsqueeze/internal/memory"
	"pixsqueeze/internal/metrics"
	"pixsqueeze/internal/statistics"

	"github.com/sirupsen/logrus"
)

// Ladder step names.
const (
	StepInitial        = "initial"
	StepPNGToJPEG      = "png-to-jpeg"
	StepWebP           = "webp"
	StepReducedQuality = "reduced-quality"
)

// ReducedQuality is the quality used by the last fallback step.
const ReducedQuality = 50

// fallback is one rung of the retry ladder. It runs only while no attempt has
// produced a file smaller than the source and applies holds for the user's request.
type fallback struct {
	name    string
	applies func(src *media.SourceImage, req media.Request) bool
	next    func(src *media.SourceImage, req media.Request) media.Request
}

var ladder = []fallback{
	{
		name: StepPNGToJPEG,
		applies: func(src *media.SourceImage, req media.Request) bool {
			return src.MimeType == media.MimePNG && req.Format != media.FormatPNG
		},
		next: func(_ *media.SourceImage, req media.Request) media.Request {
			req.Format = media.FormatJPEG
			req.CornerRadius = 0
			return req
		},
	},
	{
		name: StepWebP,
		applies: func(_ *media.SourceImage, req media.Request) bool {
			return req.Format != media.FormatWebP
		},
		next: func(_ *media.SourceImage, req media.Request) media.Request {
			req.Format = media.FormatWebP
			return req
		},
	},
	{
		name: StepReducedQuality,
		applies: func(_ *media.SourceImage, req media.Request) bool {
			return req.Quality > ReducedQuality
		},
		next: func(src *media.SourceImage, req media.Request) media.Request {
			req.Quality = ReducedQuality
			if req.Format == media.FormatAuto {
				req.Format = media.FormatJPEG
			}
			if !media.SupportsAlpha(req.Format, src.MimeType) {
				req.CornerRadius = 0
			}
			return req
		},
	},
}

// Strategy is the default Compressor: it validates the source, runs the pipeline
// and walks the fallback ladder until the output is smaller than the input.
type Strategy struct {
	pipeline *Pipeline
	guard    *memory.Guard
	logger   *logrus.Logger
}

// NewStrategy returns a Strategy over pipeline. guard may be nil.
func NewStrategy(pipeline *Pipeline, guard *memory.Guard, log *logrus.Logger) *Strategy {
	if log == nil {
		log = logger.Discard()
	}
	return &Strategy{
		pipeline: pipeline,
		guard:    guard,
		logger:   log,
	}
}

// Compress implements Compressor.
func (s *Strategy) Compress(ctx context.Context, src *media.SourceImage, req media.Request) (*CompressionResult, error) {
	res := &CompressionResult{
		Name:         src.Name,
		OriginalSize: src.Size,
		StartedAt:    time.Now(),
	}

	if err := req.Validate(); err != nil {
		return s.fail(res, req, err)
	}
	warnings, err := Validate(src, s.pipeline.Limits())
	res.Warnings = append(res.Warnings, warnings...)
	if err != nil {
		return s.fail(res, req, err)
	}

	if s.guard != nil && s.guard.Mitigate(EstimateNeed(src)) {
		res.Warnings = append(res.Warnings, media.WarnHighMemory)
	}

	current, err := s.attempt(ctx, src, req, StepInitial, res)
	if err != nil {
		return s.fail(res, req, err)
	}

	for _, step := range ladder {
		if current.Size < src.Size {
			break
		}
		if !step.applies(src, req) {
			continue
		}
		next, err := s.attempt(ctx, src, step.next(src, req), step.name, res)
		current.Release()
		if err != nil {
			return s.fail(res, req, err)
		}
		current = next
	}

	res.Output = current
	res.CompressedSize = current.Size
	res.PercentageSaved = float64(statistics.ReductionPercent(src.Size, current.Size))
	res.Success = true
	if current.Size >= src.Size {
		res.Action = ActionOptimized
		res.Message = "Compressed file not smaller than original"
		res.Warnings = append(res.Warnings, media.WarnAlreadyOptimized)
	} else {
		res.Action = ActionCompressed
		res.Message = "Image compressed"
	}
	res.FinishedAt = time.Now()

	metrics.CompressionsTotal.WithLabelValues(current.Extension, res.Action).Inc()
	metrics.BytesIn.Add(float64(src.Size))
	metrics.BytesOut.Add(float64(current.Size))

	logger.WithFileOperation(s.logger, src.Name, "compress").WithFields(logrus.Fields{
		"action":   res.Action,
		"original": src.Size,
		"output":   current.Size,
		"format":   current.MimeType,
		"attempts": len(res.Attempts),
	}).Info("Compression finished")

	return res, nil
}

func (s *Strategy) attempt(ctx context.Context, src *media.SourceImage, req media.Request, step string, res *CompressionResult) (*media.EncodedResult, error) {
	out, err := s.pipeline.Process(ctx, src, req, PurposeCompress)
	metrics.LadderStepsTotal.WithLabelValues(step).Inc()
	if err != nil {
		return nil, err
	}

	res.Attempts = append(res.Attempts, Attempt{
		Step:         step,
		MimeType:     out.MimeType,
		Quality:      req.Quality,
		CornerRadius: req.CornerRadius,
		Size:         out.Size,
	})
	logger.WithFileOperation(s.logger, src.Name, step).Debugf("Encoded %s at quality %d: %d bytes", out.MimeType, req.Quality, out.Size)
	return out, nil
}

func (s *Strategy) fail(res *CompressionResult, req media.Request, err error) (*CompressionResult, error) {
	res.Action = ActionError
	res.Message = media.UserMessage(err)
	res.Error = err
	res.FinishedAt = time.Now()

	metrics.CompressionsTotal.WithLabelValues(media.ExtensionFor(req.Format.MimeType()), ActionError).Inc()
	logger.WithFileOperation(s.logger, res.Name, "compress").WithError(err).Warn("Compression failed")
	return res, err
}
