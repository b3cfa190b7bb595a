package compressor

import (
	"context"
	"math"
	"sync"
	"time"

	"pixsqueeze/internal/heic"
	"pixsqueeze/internal/logger"
	"pixsqueeze/internal/media"
	"pixsqueeze/internal/metrics"
	"pixsqueeze/internal/statistics"

	"github.com/sirupsen/logrus"
)

// ItemStatus is the processing state of a batch item.
type ItemStatus string

const (
	StatusPending    ItemStatus = "pending"
	StatusProcessing ItemStatus = "processing"
	StatusDone       ItemStatus = "done"
	StatusError      ItemStatus = "error"
	StatusInvalid    ItemStatus = "invalid"
)

// ProgressFailed marks an item that was rejected or failed.
const ProgressFailed = -1

// BatchItem is one file of a batch and its outcome.
type BatchItem struct {
	Index    int
	Source   *media.SourceImage
	Status   ItemStatus
	Progress int
	Result   *CompressionResult
	Err      error
	Warnings []media.Warning
}

// BatchReport is the outcome of a batch run.
type BatchReport struct {
	Items      []*BatchItem
	Overall    int
	Completed  int
	Stats      *statistics.Statistics
	StartedAt  time.Time
	FinishedAt time.Time
}

// Release drops the encoded outputs of every item.
func (r *BatchReport) Release() {
	for _, item := range r.Items {
		item.Result.Release()
	}
}

// ProgressFunc receives the overall percentage and the item that just settled.
// It is called from the goroutine running the batch.
type ProgressFunc func(overall int, item *BatchItem)

// BatchOrchestrator compresses a selection of files one at a time.
type BatchOrchestrator struct {
	compressor Compressor
	limits     Limits
	cache      *heic.Cache
	logger     *logrus.Logger

	mutex sync.Mutex
}

// NewBatchOrchestrator returns an orchestrator running compressor. cache is only
// read for statistics and may be nil.
func NewBatchOrchestrator(compressor Compressor, limits Limits, cache *heic.Cache, log *logrus.Logger) *BatchOrchestrator {
	if log == nil {
		log = logger.Discard()
	}
	return &BatchOrchestrator{
		compressor: compressor,
		limits:     limits,
		cache:      cache,
		logger:     log,
	}
}

// NewBatchItems validates sources and returns their items. Invalid items are
// settled with ProgressFailed; the whole selection is rejected if it is too large.
func NewBatchItems(sources []*media.SourceImage, limits Limits) ([]*BatchItem, error) {
	if err := ValidateBatch(sources, limits); err != nil {
		return nil, err
	}
	items := make([]*BatchItem, len(sources))
	for i, src := range sources {
		item := &BatchItem{Index: i, Source: src, Status: StatusPending}
		warnings, err := Validate(src, limits)
		item.Warnings = warnings
		if err != nil {
			item.Status = StatusInvalid
			item.Progress = ProgressFailed
			item.Err = err
		}
		items[i] = item
	}
	return items, nil
}

// Run validates and compresses sources sequentially.
func (b *BatchOrchestrator) Run(ctx context.Context, sources []*media.SourceImage, req media.Request, onProgress ProgressFunc) (*BatchReport, error) {
	items, err := NewBatchItems(sources, b.limits)
	if err != nil {
		return nil, err
	}
	return b.RunItems(ctx, items, req, onProgress)
}

// RunItems compresses pre-validated items in order. Items already settled are skipped.
// When ctx is canceled the remaining items stay pending and ctx's error is returned
// with the partial report.
func (b *BatchOrchestrator) RunItems(ctx context.Context, items []*BatchItem, req media.Request, onProgress ProgressFunc) (*BatchReport, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	stats := statistics.NewStatistics()
	report := &BatchReport{
		Items:     items,
		Stats:     stats,
		StartedAt: time.Now(),
	}
	total := len(items)
	log := logger.WithOperation(b.logger, "batch")
	log.WithField("files", total).Info("Starting batch")

	settle := func(item *BatchItem) {
		report.Completed++
		report.Overall = OverallProgress(report.Completed, total)
		if onProgress != nil {
			onProgress(report.Overall, item)
		}
	}

	for _, item := range items {
		stats.IncrementFilesFound()
		if heic.IsHeic(item.Source) {
			stats.IncrementHEICFilesFound()
		}
		if item.Status == StatusInvalid {
			stats.IncrementFilesRejected()
			stats.AddError(item.Source.Name, "validate", media.UserMessage(item.Err))
			metrics.BatchItemsTotal.WithLabelValues(string(StatusInvalid)).Inc()
			settle(item)
		}
	}

	var runErr error
	for _, item := range items {
		if item.Status != StatusPending {
			continue
		}
		if err := ctx.Err(); err != nil {
			log.WithError(err).Warn("Batch canceled")
			runErr = err
			break
		}

		item.Status = StatusProcessing
		item.Progress = 0

		res, err := b.compressor.Compress(ctx, item.Source, req)
		item.Result = res
		stats.IncrementFilesProcessed()
		if err != nil {
			item.Status = StatusError
			item.Progress = ProgressFailed
			item.Err = err
			stats.IncrementFilesWithErrors()
			stats.AddError(item.Source.Name, "compress", media.UserMessage(err))
			metrics.BatchItemsTotal.WithLabelValues(string(StatusError)).Inc()
			logger.WithFile(b.logger, item.Source.Name).WithError(err).Warn("Batch item failed")
		} else {
			item.Status = StatusDone
			item.Progress = 100
			item.Warnings = appendMissing(item.Warnings, res.Warnings...)
			stats.AddBytes(res.OriginalSize, res.CompressedSize)
			stats.AddRetryAttempts(res.Retries())
			if res.Output != nil {
				stats.IncrementFormat(res.Output.Extension)
			}
			if res.Action == ActionOptimized {
				stats.IncrementFilesOptimized()
			} else {
				stats.IncrementFilesCompressed()
			}
			metrics.BatchItemsTotal.WithLabelValues(string(StatusDone)).Inc()
		}
		settle(item)
	}

	if b.cache != nil {
		cs := b.cache.Stats()
		stats.SetCacheCounters(cs.Hits, cs.Misses)
	}
	stats.Finalize()
	report.FinishedAt = time.Now()

	log.WithFields(logrus.Fields{
		"completed": report.Completed,
		"errors":    stats.GetFilesWithErrors(),
		"saved":     stats.SavedPercent(),
	}).Info("Batch finished")

	return report, runErr
}

// OverallProgress returns round(100 × completed / total).
func OverallProgress(completed, total int) int {
	if total <= 0 {
		return 100
	}
	return int(math.Round(100 * float64(completed) / float64(total)))
}

func appendMissing(list []media.Warning, more ...media.Warning) []media.Warning {
	for _, w := range more {
		found := false
		for _, existing := range list {
			if existing == w {
				found = true
				break
			}
		}
		if !found {
			list = append(list, w)
		}
	}
	return list
}
