// Package watcher compresses images as they appear in a folder.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"pixsqueeze/internal/compressor"
	"pixsqueeze/internal/export"
	"pixsqueeze/internal/logger"
	"pixsqueeze/internal/media"
	"pixsqueeze/internal/statistics"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce is how long a file must stay quiet before it is processed.
const DefaultDebounce = 500 * time.Millisecond

// Outcome reports what happened to one file.
type Outcome struct {
	Path   string
	Saved  *export.Saved
	Result *compressor.CompressionResult
	Err    error
}

// Config holds watcher settings.
type Config struct {
	Directory string
	Recursive bool
	Debounce  time.Duration
	Request   media.Request
}

// Watcher monitors a directory and compresses new images into an exporter.
type Watcher struct {
	config     Config
	compressor compressor.Compressor
	exporter   *export.Exporter
	logger     *logrus.Logger
	stats      *statistics.Statistics

	fsw   *fsnotify.Watcher
	queue chan string

	mu      sync.Mutex
	pending map[string]*time.Timer

	// OnProcessed is called after every file, from the processing goroutine.
	OnProcessed func(Outcome)
}

// NewWatcher creates a new file watcher
func NewWatcher(config Config, c compressor.Compressor, exporter *export.Exporter, log *logrus.Logger) (*Watcher, error) {
	if log == nil {
		log = logger.Discard()
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		config:     config,
		compressor: c,
		exporter:   exporter,
		logger:     log,
		stats:      statistics.NewStatistics(),
		fsw:        fsw,
		queue:      make(chan string, 100),
		pending:    make(map[string]*time.Timer),
	}, nil
}

// Stats returns the running statistics.
func (w *Watcher) Stats() *statistics.Statistics {
	return w.stats
}

// Run watches until ctx is done. Files are compressed one at a time.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	if err := w.addDirs(w.config.Directory); err != nil {
		return err
	}
	w.logger.WithField("directory", w.config.Directory).Info("Watching folder")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.worker(ctx)
	}()

	err := w.processEvents(ctx)

	w.mu.Lock()
	for name, timer := range w.pending {
		timer.Stop()
		delete(w.pending, name)
	}
	w.mu.Unlock()

	wg.Wait()
	return err
}

func (w *Watcher) addDirs(root string) error {
	if !w.config.Recursive {
		if err := w.fsw.Add(root); err != nil {
			return fmt.Errorf("failed to watch folder %s: %w", root, err)
		}
		return nil
	}
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				return fmt.Errorf("failed to watch folder %s: %w", path, err)
			}
		}
		return nil
	})
}

func (w *Watcher) processEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}

			if w.config.Recursive && event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addDirs(event.Name); err != nil {
						w.logger.WithError(err).Warn("Failed to watch new folder")
					}
					continue
				}
			}

			if !compressor.IsCandidate(event.Name) {
				continue
			}
			w.schedule(ctx, event.Name)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Watcher error")
		}
	}
}

// schedule (re)starts the debounce timer for path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, exists := w.pending[path]; exists {
		timer.Stop()
	}
	w.pending[path] = time.AfterFunc(w.config.Debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		select {
		case w.queue <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-w.queue:
			outcome := w.process(ctx, path)
			if w.OnProcessed != nil {
				w.OnProcessed(outcome)
			}
		}
	}
}

// process compresses and saves a single file.
func (w *Watcher) process(ctx context.Context, path string) Outcome {
	log := logger.WithFile(w.logger, path)
	outcome := Outcome{Path: path}
	w.stats.IncrementFilesFound()

	src, err := media.LoadSource(path)
	if err != nil {
		outcome.Err = err
		w.stats.AddError(path, "load", err.Error())
		log.WithError(err).Warn("Failed to read new file")
		return outcome
	}
	if compressor.IsStamped(src.Data) {
		log.Debug("Skipping file already produced by PixSqueeze")
		return outcome
	}

	res, err := w.compressor.Compress(ctx, src, w.config.Request)
	outcome.Result = res
	w.stats.IncrementFilesProcessed()
	if err != nil {
		outcome.Err = err
		if media.IsValidation(err) {
			w.stats.IncrementFilesRejected()
		} else {
			w.stats.IncrementFilesWithErrors()
		}
		w.stats.AddError(path, "compress", media.UserMessage(err))
		log.WithError(err).Warn("Compression failed")
		return outcome
	}
	defer res.Release()

	saved, err := w.exporter.Save(src.Name, res.Output)
	if err != nil {
		outcome.Err = err
		w.stats.IncrementFilesWithErrors()
		w.stats.AddError(path, "save", err.Error())
		log.WithError(err).Error("Failed to save result")
		return outcome
	}
	outcome.Saved = saved

	w.stats.AddBytes(res.OriginalSize, res.CompressedSize)
	w.stats.AddRetryAttempts(res.Retries())
	w.stats.IncrementFormat(res.Output.Extension)
	if res.Action == compressor.ActionOptimized {
		w.stats.IncrementFilesOptimized()
	} else {
		w.stats.IncrementFilesCompressed()
	}

	log.WithFields(logrus.Fields{
		"output": saved.Path,
		"saved":  statistics.FormatSize(res.OriginalSize - res.CompressedSize),
	}).Info("Compressed new file")
	return outcome
}
