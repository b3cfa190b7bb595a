package statistics

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Statistics contains all statistics for a compression run.
type Statistics struct {
	TotalFilesFound     int64
	TotalFilesProcessed int64
	FilesCompressed     int64
	FilesOptimized      int64
	FilesWithErrors     int64
	FilesRejected       int64

	HEICFilesFound int64
	RetryAttempts  int64
	MemoryFrees    int64

	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
	FilesPerSecond  float64
	BytesIn         int64
	BytesOut        int64
	AverageFileSize int64

	CacheHits    int64
	CacheMisses  int64
	CacheHitRate float64

	Errors []StatError

	mutex sync.RWMutex

	FormatStats map[string]int64
}

// StatError represents an error that occurred during processing.
type StatError struct {
	FilePath  string
	Operation string
	Error     string
	Timestamp time.Time
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:   time.Now(),
		FormatStats: make(map[string]int64),
		Errors:      make([]StatError, 0),
	}
}

// IncrementFilesFound increases the count of found files by 1.
func (s *Statistics) IncrementFilesFound() {
	atomic.AddInt64(&s.TotalFilesFound, 1)
}

// IncrementFilesProcessed increases the count of processed files by 1.
func (s *Statistics) IncrementFilesProcessed() {
	atomic.AddInt64(&s.TotalFilesProcessed, 1)
}

// IncrementFilesCompressed increases the count of files that shrank by 1.
func (s *Statistics) IncrementFilesCompressed() {
	atomic.AddInt64(&s.FilesCompressed, 1)
}

// IncrementFilesOptimized increases the count of files that could not be shrunk by 1.
func (s *Statistics) IncrementFilesOptimized() {
	atomic.AddInt64(&s.FilesOptimized, 1)
}

// IncrementFilesWithErrors increases the count of files with errors by 1.
func (s *Statistics) IncrementFilesWithErrors() {
	atomic.AddInt64(&s.FilesWithErrors, 1)
}

// IncrementFilesRejected increases the count of files rejected by validation by 1.
func (s *Statistics) IncrementFilesRejected() {
	atomic.AddInt64(&s.FilesRejected, 1)
}

// IncrementHEICFilesFound increases the count of HEIC sources by 1.
func (s *Statistics) IncrementHEICFilesFound() {
	atomic.AddInt64(&s.HEICFilesFound, 1)
}

// AddRetryAttempts adds fallback encodes run by the retry ladder.
func (s *Statistics) AddRetryAttempts(n int) {
	atomic.AddInt64(&s.RetryAttempts, int64(n))
}

// IncrementMemoryFrees increases the count of memory mitigations by 1.
func (s *Statistics) IncrementMemoryFrees() {
	atomic.AddInt64(&s.MemoryFrees, 1)
}

// SetCacheCounters records the decode cache hit and miss totals.
func (s *Statistics) SetCacheCounters(hits, misses int64) {
	atomic.StoreInt64(&s.CacheHits, hits)
	atomic.StoreInt64(&s.CacheMisses, misses)
}

// UpdateCacheHitRate updates the cache hit rate based on current hits and misses.
func (s *Statistics) UpdateCacheHitRate() {
	hits := atomic.LoadInt64(&s.CacheHits)
	misses := atomic.LoadInt64(&s.CacheMisses)
	total := hits + misses
	if total > 0 {
		s.CacheHitRate = float64(hits) / float64(total)
	}
}

// IncrementFormat increases the count for an output format by 1.
func (s *Statistics) IncrementFormat(format string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.FormatStats[format]++
}

// AddBytes records the input and output sizes of one file.
func (s *Statistics) AddBytes(in, out int64) {
	atomic.AddInt64(&s.BytesIn, in)
	atomic.AddInt64(&s.BytesOut, out)
}

// Finalize calculates final statistics such as duration, files per second, and average file size.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)

	totalProcessed := atomic.LoadInt64(&s.TotalFilesProcessed)
	bytesIn := atomic.LoadInt64(&s.BytesIn)

	if s.Duration.Seconds() > 0 {
		s.FilesPerSecond = float64(totalProcessed) / s.Duration.Seconds()
	}

	if totalProcessed > 0 {
		s.AverageFileSize = bytesIn / totalProcessed
	}

	s.UpdateCacheHitRate()
}

// AddError records an error that occurred during processing.
func (s *Statistics) AddError(filePath, operation, errorMsg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Errors = append(s.Errors, StatError{
		FilePath:  filePath,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

// SavedPercent returns the overall size reduction as a whole percentage.
func (s *Statistics) SavedPercent() int {
	in := atomic.LoadInt64(&s.BytesIn)
	out := atomic.LoadInt64(&s.BytesOut)
	return ReductionPercent(in, out)
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return fmt.Sprintf(`PixSqueeze Statistics Summary:

Files:
		Total Found: %d
		Total Processed: %d
		Compressed: %d
		Already Optimized: %d
		Rejected: %d
		Errors: %d
		HEIC Sources: %d

Compression:
		Bytes In: %s
		Bytes Out: %s
		Size Reduction: %d%%
		Fallback Encodes: %d

Performance:
		Duration: %v
		Files/Second: %.2f
		Average File Size: %s
		Memory Mitigations: %d

Decode Cache:
		Hits: %d
		Misses: %d
		Hit Rate: %.2f%%`,
		atomic.LoadInt64(&s.TotalFilesFound),
		atomic.LoadInt64(&s.TotalFilesProcessed),
		atomic.LoadInt64(&s.FilesCompressed),
		atomic.LoadInt64(&s.FilesOptimized),
		atomic.LoadInt64(&s.FilesRejected),
		atomic.LoadInt64(&s.FilesWithErrors),
		atomic.LoadInt64(&s.HEICFilesFound),
		FormatSize(atomic.LoadInt64(&s.BytesIn)),
		FormatSize(atomic.LoadInt64(&s.BytesOut)),
		s.SavedPercent(),
		atomic.LoadInt64(&s.RetryAttempts),
		s.Duration,
		s.FilesPerSecond,
		FormatSize(s.AverageFileSize),
		atomic.LoadInt64(&s.MemoryFrees),
		atomic.LoadInt64(&s.CacheHits),
		atomic.LoadInt64(&s.CacheMisses),
		s.CacheHitRate*100)
}

// GetFormatBreakdown returns a formatted breakdown of output formats produced.
func (s *Statistics) GetFormatBreakdown() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.FormatStats) == 0 {
		return "No format statistics available"
	}

	result := "Output Format Breakdown:\n"
	for format, count := range s.FormatStats {
		result += fmt.Sprintf("  %s: %d\n", format, count)
	}
	return result
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.FilePath,
			err.Error)
	}
	return result
}

var sizeUnits = []string{"Bytes", "KB", "MB", "GB", "TB"}

// FormatSize returns a human-readable string for a byte count, e.g. "1.5 KB".
func FormatSize(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}
	const k = 1024
	value, i := float64(bytes), 0
	for value >= k && i < len(sizeUnits)-1 {
		value /= k
		i++
	}
	return strconv.FormatFloat(math.Round(value*100)/100, 'f', -1, 64) + " " + sizeUnits[i]
}

// ReductionPercent returns how much smaller out is than in, rounded to a whole percent.
func ReductionPercent(in, out int64) int {
	if in <= 0 {
		return 0
	}
	return int(math.Round(float64(in-out) * 100 / float64(in)))
}

// GetTotalFilesProcessed returns the total number of files processed.
func (s *Statistics) GetTotalFilesProcessed() int64 {
	return atomic.LoadInt64(&s.TotalFilesProcessed)
}

// GetFilesWithErrors returns the total number of files with errors.
func (s *Statistics) GetFilesWithErrors() int64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return int64(len(s.Errors))
}

// GetDuration returns the total duration of the operation.
func (s *Statistics) GetDuration() time.Duration {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.Duration
}
