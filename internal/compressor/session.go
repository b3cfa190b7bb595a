package compressor

import (
	"context"
	"image"
	"sync"

	"pixsqueeze/internal/heic"
	"pixsqueeze/internal/logger"
	"pixsqueeze/internal/media"
	"pixsqueeze/internal/memory"
	"pixsqueeze/internal/statistics"

	"github.com/sirupsen/logrus"
)

// slot holds the most recent result. Replacing or clearing it releases the old output.
type slot struct {
	mu     sync.Mutex
	result *CompressionResult
}

func (s *slot) get() *CompressionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func (s *slot) replace(r *CompressionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result != nil && s.result != r {
		s.result.Release()
	}
	s.result = r
}

// Release implements memory.Releaser.
func (s *slot) Release() {
	s.replace(nil)
}

// Session serializes the work of one user: one compression in flight at a time
// and one current result.
type Session struct {
	mu       sync.Mutex
	pipeline *Pipeline
	strategy Compressor
	cache    *heic.Cache
	guard    *memory.Guard
	stats    *statistics.Statistics
	logger   *logrus.Logger

	current slot
}

// NewSession wires a session. The session's result and the HEIC cache are
// registered with guard so a memory free drops them.
func NewSession(pipeline *Pipeline, strategy Compressor, cache *heic.Cache, guard *memory.Guard, log *logrus.Logger) *Session {
	if log == nil {
		log = logger.Discard()
	}
	s := &Session{
		pipeline: pipeline,
		strategy: strategy,
		cache:    cache,
		guard:    guard,
		stats:    statistics.NewStatistics(),
		logger:   log,
	}
	if guard != nil {
		if cache != nil {
			guard.Register(cache)
		}
		guard.Register(&s.current)
	}
	return s
}

// RegisterReleaser adds r to the data dropped by a memory free. It is a no-op
// without a guard.
func (s *Session) RegisterReleaser(r memory.Releaser) {
	if s.guard != nil {
		s.guard.Register(r)
	}
}

// Compress runs the strategy on src and makes the outcome the current result.
// A failed compression leaves the previous result in place.
func (s *Session) Compress(ctx context.Context, src *media.SourceImage, req media.Request) (*CompressionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.IncrementFilesFound()
	if heic.IsHeic(src) {
		s.stats.IncrementHEICFilesFound()
	}

	res, err := s.strategy.Compress(ctx, src, req)
	s.stats.IncrementFilesProcessed()
	if err != nil {
		if media.IsValidation(err) {
			s.stats.IncrementFilesRejected()
		} else {
			s.stats.IncrementFilesWithErrors()
		}
		s.stats.AddError(src.Name, "compress", media.UserMessage(err))
		return res, err
	}

	s.stats.AddBytes(res.OriginalSize, res.CompressedSize)
	s.stats.AddRetryAttempts(res.Retries())
	if res.Output != nil {
		s.stats.IncrementFormat(res.Output.Extension)
	}
	if res.Action == ActionOptimized {
		s.stats.IncrementFilesOptimized()
	} else {
		s.stats.IncrementFilesCompressed()
	}
	if s.cache != nil {
		cs := s.cache.Stats()
		s.stats.SetCacheCounters(cs.Hits, cs.Misses)
	}

	s.current.replace(res)
	return res, nil
}

// Result returns the current result, or nil.
func (s *Session) Result() *CompressionResult {
	return s.current.get()
}

// Crop crops the current result in place. rect is in the result's pixel coordinates.
func (s *Session) Crop(ctx context.Context, rect image.Rectangle) (*CompressionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.current.get()
	if res == nil || res.Output.Released() {
		return nil, media.NewValidationError("crop", "no compressed result to crop")
	}

	cropped, err := s.pipeline.Crop(ctx, res.Output, rect)
	if err != nil {
		return nil, err
	}

	next := *res
	next.Output = cropped
	next.CompressedSize = cropped.Size
	next.PercentageSaved = float64(statistics.ReductionPercent(res.OriginalSize, cropped.Size))
	next.Message = "Image cropped"
	s.current.replace(&next)

	logger.WithFileOperation(s.logger, res.Name, "crop").Infof("Cropped to %dx%d: %d bytes", cropped.Width, cropped.Height, cropped.Size)
	return &next, nil
}

// Preview renders a small JPEG of src without touching the current result.
func (s *Session) Preview(ctx context.Context, src *media.SourceImage, maxDim int) (*media.EncodedResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipeline.Preview(ctx, src, maxDim)
}

// Reset drops the current result and the HEIC cache.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current.Release()
	if s.cache != nil {
		s.cache.Purge()
	}
	s.logger.Info("Session reset")
}

// FreeMemory runs a memory free. It is the explicit user action; it also drops
// the current result.
func (s *Session) FreeMemory() {
	s.stats.IncrementMemoryFrees()
	if s.guard != nil {
		s.guard.FreeMemory()
		return
	}
	s.current.Release()
	if s.cache != nil {
		s.cache.Purge()
	}
}

// Stats returns the running statistics of the session.
func (s *Session) Stats() *statistics.Statistics {
	return s.stats
}

// Accelerated reports whether the drawing surface has a GPU accelerator.
func (s *Session) Accelerated() bool {
	return s.pipeline.Accelerated()
}
