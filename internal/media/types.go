package media

import (
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SoftwareName is written to the Software metadata tag of saved files.
const SoftwareName = "PixSqueeze"

// CornerRadiusCircle is the corner radius sentinel for a fully circular mask.
// Any radius at or above min(width, height)/2 is clamped to that bound, so the
// sentinel needs no special handling downstream.
const CornerRadiusCircle = math.MaxInt32

// SourceImage is an image selected for compression. It is immutable once created.
type SourceImage struct {
	Name     string
	Size     int64
	MimeType string
	ModTime  time.Time
	Data     []byte
}

// Background is the fill used when an alpha-carrying source is flattened.
type Background string

const (
	BackgroundWhite Background = "white"
	BackgroundBlack Background = "black"
)

// Color returns the fill color for the background.
func (b Background) Color() color.NRGBA {
	if b == BackgroundBlack {
		return color.NRGBA{A: 0xff}
	}
	return color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
}

// ParseBackground returns the background for s, defaulting to white.
func ParseBackground(s string) Background {
	if strings.EqualFold(strings.TrimSpace(s), string(BackgroundBlack)) {
		return BackgroundBlack
	}
	return BackgroundWhite
}

// Request holds the user's compression parameters for a single invocation.
type Request struct {
	Quality      int
	Format       Format
	CornerRadius int
	Background   Background
	Accelerated  bool
}

// DefaultRequest returns the parameters used when nothing else is configured.
func DefaultRequest() Request {
	return Request{
		Quality:    80,
		Format:     FormatAuto,
		Background: BackgroundWhite,
	}
}

// Validate rejects out-of-range parameters.
func (r Request) Validate() error {
	if r.Quality < 1 || r.Quality > 100 {
		return NewValidationError("request", fmt.Sprintf("quality must be between 1 and 100, got %d", r.Quality))
	}
	if r.CornerRadius < 0 {
		return NewValidationError("request", fmt.Sprintf("corner radius must not be negative, got %d", r.CornerRadius))
	}
	return nil
}

// ParseCornerRadius parses a pixel radius or the word "circle".
func ParseCornerRadius(s string) (int, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, nil
	}
	if s == "circle" {
		return CornerRadiusCircle, nil
	}
	r, err := strconv.Atoi(strings.TrimSuffix(s, "px"))
	if err != nil {
		return 0, NewValidationError("request", fmt.Sprintf("invalid corner radius %q", s))
	}
	if r < 0 {
		return 0, NewValidationError("request", fmt.Sprintf("corner radius must not be negative, got %d", r))
	}
	return r, nil
}

// EncodedResult is a re-encoded image ready for preview or download.
type EncodedResult struct {
	Data      []byte
	MimeType  string
	Extension string
	Size      int64
	Width     int
	Height    int

	mu       sync.Mutex
	released bool
}

// NewEncodedResult wraps encoded bytes.
func NewEncodedResult(data []byte, mimeType string, width, height int) *EncodedResult {
	return &EncodedResult{
		Data:      data,
		MimeType:  mimeType,
		Extension: ExtensionFor(mimeType),
		Size:      int64(len(data)),
		Width:     width,
		Height:    height,
	}
}

// Release drops the encoded buffer. It is safe to call more than once and on a nil result.
func (r *EncodedResult) Release() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Data = nil
	r.released = true
}

// Released reports whether Release has been called.
func (r *EncodedResult) Released() bool {
	if r == nil {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

// Bytes returns the encoded data, or nil once released.
func (r *EncodedResult) Bytes() []byte {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Data
}

// Warning is a non-fatal condition reported alongside a result.
type Warning string

const (
	WarnAlreadyOptimized   Warning = "Image may already be optimized: no fallback produced a smaller file"
	WarnHighMemory         Warning = "High memory usage detected: caches were cleared before processing"
	WarnHEICDetected       Warning = "HEIC image detected: it will be converted to the selected format"
	WarnLargeFile          Warning = "Large file: processing may be slow and use a lot of memory"
	WarnMetadataNotStamped Warning = "Metadata could not be written to the output file"
)
