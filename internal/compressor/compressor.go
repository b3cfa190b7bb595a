package compressor

import (
	"context"
	"time"

	"pixsqueeze/internal/media"
)

// Result actions.
const (
	ActionCompressed = "compressed"
	ActionOptimized  = "optimized"
	ActionSkipped    = "skipped"
	ActionError      = "error"
)

// Purpose selects the decode quality used for HEIC sources.
type Purpose int

const (
	PurposeCompress Purpose = iota
	PurposePreview
)

func (p Purpose) String() string {
	if p == PurposePreview {
		return "preview"
	}
	return "compress"
}

// Limits bounds what the pipeline accepts and produces.
type Limits struct {
	MaxFileSize  int64
	MaxHEICSize  int64
	WarnFileSize int64
	MaxBatchSize int64

	MaxDimension            int
	MaxAcceleratedDimension int

	HEICProbeTimeout    time.Duration
	HEICPreviewQuality  float64
	HEICCompressQuality float64
}

// DefaultLimits returns the stock limits.
func DefaultLimits() Limits {
	return Limits{
		MaxFileSize:             1024 * 1024 * 1024,
		MaxHEICSize:             50 * 1024 * 1024,
		WarnFileSize:            200 * 1024 * 1024,
		MaxBatchSize:            1024 * 1024 * 1024,
		MaxDimension:            4000,
		MaxAcceleratedDimension: 8000,
		HEICProbeTimeout:        2 * time.Second,
		HEICPreviewQuality:      0.5,
		HEICCompressQuality:     0.8,
	}
}

// Attempt records one encode run by the retry ladder.
type Attempt struct {
	Step         string `json:"step"`
	MimeType     string `json:"mimeType"`
	Quality      int    `json:"quality"`
	CornerRadius int    `json:"cornerRadius"`
	Size         int64  `json:"size"`
}

// CompressionResult describes the result of compressing a single image.
type CompressionResult struct {
	Name            string
	OriginalSize    int64
	CompressedSize  int64
	PercentageSaved float64
	Action          string
	Message         string
	Success         bool
	Warnings        []media.Warning
	Attempts        []Attempt
	Output          *media.EncodedResult
	StartedAt       time.Time
	FinishedAt      time.Time
	Error           error
}

// Release drops the encoded output held by the result.
func (r *CompressionResult) Release() {
	if r != nil {
		r.Output.Release()
	}
}

// Retries returns the number of fallback encodes after the initial attempt.
func (r *CompressionResult) Retries() int {
	return max(len(r.Attempts)-1, 0)
}

// Compressor defines the interface for image compression.
type Compressor interface {
	// Compress re-encodes src according to req. On failure the returned result
	// carries the error and Action is ActionError.
	Compress(ctx context.Context, src *media.SourceImage, req media.Request) (*CompressionResult, error)
}
