package heic

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"pixsqueeze/internal/media"
	"pixsqueeze/internal/metrics"

	"github.com/sirupsen/logrus"
)

const (
	// MaxDecodeSize is the largest HEIC source the decoder is asked to handle.
	MaxDecodeSize = 50 * 1024 * 1024
	// DefaultCapacity is the number of decoded images kept in memory.
	DefaultCapacity = 3
	// OutputType is the MIME type HEIC sources are decoded into.
	OutputType = media.MimeJPEG
)

// DecodeRequest describes one call to the external HEIC decoder.
type DecodeRequest struct {
	Source     *media.SourceImage
	OutputType string
	Quality    float64
}

// Decoder converts HEIC/HEIF bytes into a browser-native raster format.
type Decoder interface {
	Decode(ctx context.Context, req DecodeRequest) ([]byte, error)
}

// CacheStats contains statistics about cache performance.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
	MaxSize   int
	HitRate   float64
}

type entry struct {
	key  string
	data []byte
}

// Cache is a bounded, insertion-ordered cache of decoded HEIC images.
// The oldest entry is evicted when a new one is stored at capacity.
type Cache struct {
	decoder  Decoder
	logger   *logrus.Logger
	capacity int
	maxSize  int64

	mutex   sync.Mutex
	entries []entry
	stats   CacheStats
}

// NewCache returns a cache in front of decoder holding at most capacity entries.
// A non-positive capacity selects DefaultCapacity.
func NewCache(decoder Decoder, capacity int, logger *logrus.Logger) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		decoder:  decoder,
		logger:   logger,
		capacity: capacity,
		maxSize:  MaxDecodeSize,
		entries:  make([]entry, 0, capacity),
	}
}

// SetMaxSize overrides the HEIC size ceiling.
func (c *Cache) SetMaxSize(n int64) {
	if n > 0 {
		c.maxSize = n
	}
}

// IsHeic reports whether src is a HEIC or HEIF image, by extension or MIME type.
func IsHeic(src *media.SourceImage) bool {
	if src == nil {
		return false
	}
	ext := strings.ToLower(filepath.Ext(src.Name))
	if ext == ".heic" || ext == ".heif" {
		return true
	}
	mime := strings.ToLower(src.MimeType)
	return strings.Contains(mime, "heic") || strings.Contains(mime, "heif")
}

// cacheKey identifies a decode by source identity and requested quality.
func cacheKey(src *media.SourceImage, quality float64) string {
	return fmt.Sprintf("%s:%d:%d:%.2f", src.Name, src.Size, src.ModTime.UnixMilli(), quality)
}

// Decode returns src decoded to JPEG at quality, serving repeated requests from the cache.
func (c *Cache) Decode(ctx context.Context, src *media.SourceImage, quality float64) ([]byte, error) {
	key := cacheKey(src, quality)

	c.mutex.Lock()
	defer c.mutex.Unlock()

	for _, e := range c.entries {
		if e.key == key {
			c.stats.Hits++
			metrics.HEICCacheHits.Inc()
			return e.data, nil
		}
	}
	c.stats.Misses++
	metrics.HEICCacheMisses.Inc()

	if src.Size > c.maxSize {
		return nil, media.WrapValidation("heic", media.ErrHEICTooLarge)
	}
	if c.decoder == nil {
		return nil, media.WrapDecode("heic", media.ErrHEICUnavailable)
	}

	data, err := c.decoder.Decode(ctx, DecodeRequest{
		Source:     src,
		OutputType: OutputType,
		Quality:    quality,
	})
	if err != nil {
		return nil, media.WrapDecode("heic", fmt.Errorf("HEIC conversion failed: %w", err))
	}
	if len(data) == 0 {
		return nil, media.WrapDecode("heic", fmt.Errorf("HEIC conversion failed: %w", media.ErrEmptyEncodeOutput))
	}

	if len(c.entries) >= c.capacity {
		evicted := c.entries[0]
		c.entries = append(c.entries[:0], c.entries[1:]...)
		c.stats.Evictions++
		metrics.HEICCacheEvictions.Inc()
		if c.logger != nil {
			c.logger.Debugf("Evicted HEIC decode %s", evicted.key)
		}
	}
	c.entries = append(c.entries, entry{key: key, data: data})

	return data, nil
}

// Purge drops every cached decode. Statistics are kept.
func (c *Cache) Purge() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries = c.entries[:0]
}

// Release implements memory.Releaser.
func (c *Cache) Release() {
	c.Purge()
}

// Len returns the number of cached decodes.
func (c *Cache) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.entries)
}

// Stats returns cache statistics.
func (c *Cache) Stats() CacheStats {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	stats := c.stats
	stats.Size = len(c.entries)
	stats.MaxSize = c.capacity
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}
