package web

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"pixsqueeze/internal/compressor"
	"pixsqueeze/internal/logger"
	"pixsqueeze/internal/media"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// maxFinishedBatches bounds how many finished batches stay downloadable.
const maxFinishedBatches = 20

// BatchItemView is the JSON form of a batch item.
type BatchItemView struct {
	Index    int             `json:"index"`
	Name     string          `json:"name"`
	Size     int64           `json:"size"`
	Status   string          `json:"status"`
	Progress int             `json:"progress"`
	Error    string          `json:"error,omitempty"`
	Warnings []media.Warning `json:"warnings,omitempty"`
	Result   *ResultView     `json:"result,omitempty"`
}

// BatchView is the JSON form of a batch.
type BatchView struct {
	ID        string          `json:"id"`
	Overall   int             `json:"overall"`
	Done      bool            `json:"done"`
	Canceled  bool            `json:"canceled"`
	Summary   string          `json:"summary,omitempty"`
	Saved     int             `json:"saved_percent"`
	StartedAt time.Time       `json:"started_at"`
	Items     []BatchItemView `json:"items"`
}

// batchJob holds a snapshot of a running batch. The orchestrator owns the
// items while it runs; handlers only read the snapshot.
type batchJob struct {
	id        string
	cancel    context.CancelFunc
	startedAt time.Time

	mu       sync.RWMutex
	items    []BatchItemView
	results  []*compressor.CompressionResult
	overall  int
	done     bool
	canceled bool
	removed  bool
	summary  string
	saved    int
}

func newBatchJob(items []*compressor.BatchItem, cancel context.CancelFunc) *batchJob {
	job := &batchJob{
		id:        uuid.New().String(),
		cancel:    cancel,
		startedAt: time.Now(),
		items:     make([]BatchItemView, len(items)),
		results:   make([]*compressor.CompressionResult, len(items)),
	}
	for i, item := range items {
		job.items[i] = itemView(item)
	}
	return job
}

func itemView(item *compressor.BatchItem) BatchItemView {
	v := BatchItemView{
		Index:    item.Index,
		Name:     item.Source.Name,
		Size:     item.Source.Size,
		Status:   string(item.Status),
		Progress: item.Progress,
		Warnings: item.Warnings,
	}
	if item.Err != nil {
		v.Error = media.UserMessage(item.Err)
	}
	if item.Status == compressor.StatusDone {
		v.Result = newResultView(item.Result)
	}
	return v
}

// update records a settled item. Called from the batch goroutine.
func (j *batchJob) update(overall int, item *compressor.BatchItem) BatchItemView {
	v := itemView(item)
	j.mu.Lock()
	defer j.mu.Unlock()
	j.overall = overall
	j.items[item.Index] = v
	if item.Status == compressor.StatusDone {
		j.results[item.Index] = item.Result
	}
	return v
}

func (j *batchJob) finish(report *compressor.BatchReport, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.done = true
	j.canceled = err != nil
	if report != nil {
		j.overall = report.Overall
		j.summary = report.Stats.GetSummary()
		j.saved = report.Stats.SavedPercent()
		for _, item := range report.Items {
			if item.Status == compressor.StatusPending {
				j.items[item.Index] = itemView(item)
			}
		}
	}
}

// markRemoved flags the job as forgotten and reports whether it has finished.
func (j *batchJob) markRemoved() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.removed = true
	return j.done
}

func (j *batchJob) isRemoved() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.removed
}

func (j *batchJob) isDone() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.done
}

func (j *batchJob) view() BatchView {
	j.mu.RLock()
	defer j.mu.RUnlock()
	items := make([]BatchItemView, len(j.items))
	copy(items, j.items)
	return BatchView{
		ID:        j.id,
		Overall:   j.overall,
		Done:      j.done,
		Canceled:  j.canceled,
		Summary:   j.summary,
		Saved:     j.saved,
		StartedAt: j.startedAt,
		Items:     items,
	}
}

func (j *batchJob) result(index int) *compressor.CompressionResult {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if index < 0 || index >= len(j.results) {
		return nil
	}
	return j.results[index]
}

// release drops every encoded output of the batch.
func (j *batchJob) release() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, res := range j.results {
		res.Release()
	}
}

func (s *Server) handleBatchStart(w http.ResponseWriter, r *http.Request) {
	if err := s.parseUpload(w, r); err != nil {
		s.writeFailure(w, err, nil)
		return
	}

	req, err := requestFromForm(r, s.defaults)
	if err != nil {
		s.writeFailure(w, err, nil)
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		s.writeError(w, "At least one file is required", http.StatusBadRequest)
		return
	}

	// last_modified values are sent in file order
	modTimes := r.MultipartForm.Value["last_modified"]

	sources := make([]*media.SourceImage, 0, len(headers))
	for i, header := range headers {
		file, err := header.Open()
		if err != nil {
			s.writeError(w, fmt.Sprintf("Failed to open %s", header.Filename), http.StatusBadRequest)
			return
		}
		var modTime time.Time
		if i < len(modTimes) {
			modTime = parseLastModified(modTimes[i])
		}
		src, err := readSource(file, header, modTime)
		if err != nil {
			s.writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		sources = append(sources, src)
	}

	items, err := compressor.NewBatchItems(sources, s.limits)
	if err != nil {
		s.writeFailure(w, err, nil)
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	job := newBatchJob(items, cancel)

	s.batchMutex.Lock()
	s.pruneFinishedLocked()
	s.batches[job.id] = job
	s.batchMutex.Unlock()

	go s.runBatchAsync(ctx, job, items, req)

	s.writeJSONStatus(w, http.StatusAccepted, APIResponse{
		Success: true,
		Message: fmt.Sprintf("Batch of %d files started", len(items)),
		Data:    job.view(),
	})
}

func (s *Server) runBatchAsync(ctx context.Context, job *batchJob, items []*compressor.BatchItem, req media.Request) {
	defer job.cancel()

	s.broadcastWSMessage("batch_started", map[string]interface{}{
		"id":    job.id,
		"files": len(items),
	})

	report, err := s.batch.RunItems(ctx, items, req, func(overall int, item *compressor.BatchItem) {
		v := job.update(overall, item)
		s.broadcastWSMessage("batch_progress", map[string]interface{}{
			"id":      job.id,
			"overall": overall,
			"item":    v,
		})
	})
	job.finish(report, err)
	if job.isRemoved() {
		job.release()
	}

	if err != nil {
		logger.WithBatch(s.log, job.id).WithError(err).Warn("Batch stopped")
	}

	view := job.view()
	s.broadcastWSMessage("batch_completed", map[string]interface{}{
		"id":            job.id,
		"overall":       view.Overall,
		"canceled":      view.Canceled,
		"saved_percent": view.Saved,
		"summary":       view.Summary,
	})
}

func (s *Server) lookupBatch(w http.ResponseWriter, r *http.Request) *batchJob {
	id := mux.Vars(r)["id"]
	s.batchMutex.RLock()
	job := s.batches[id]
	s.batchMutex.RUnlock()
	if job == nil {
		s.writeError(w, "Batch not found", http.StatusNotFound)
	}
	return job
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	job := s.lookupBatch(w, r)
	if job == nil {
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Data: job.view()})
}

func (s *Server) handleBatchItemDownload(w http.ResponseWriter, r *http.Request) {
	job := s.lookupBatch(w, r)
	if job == nil {
		return
	}
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		s.writeError(w, "Invalid item index", http.StatusBadRequest)
		return
	}
	res := job.result(index)
	if res == nil {
		s.writeError(w, "Item has no result", http.StatusNotFound)
		return
	}
	s.writeResult(w, res.Name, res.Output)
}

func (s *Server) handleBatchDelete(w http.ResponseWriter, r *http.Request) {
	job := s.lookupBatch(w, r)
	if job == nil {
		return
	}
	job.cancel()

	s.batchMutex.Lock()
	delete(s.batches, job.id)
	s.batchMutex.Unlock()

	// A running batch releases its results when it stops
	if job.markRemoved() {
		job.release()
	}

	s.writeJSON(w, APIResponse{Success: true, Message: "Batch removed"})
}

// releaseBatches drops the outputs of finished batches; all also forgets them
// and cancels the running ones. It returns how many batches were released.
// pruneFinishedLocked forgets the oldest finished batches so at most
// maxFinishedBatches-1 remain. The caller holds batchMutex.
func (s *Server) pruneFinishedLocked() int {
	var finished []*batchJob
	for _, job := range s.batches {
		if job.isDone() {
			finished = append(finished, job)
		}
	}
	excess := len(finished) - (maxFinishedBatches - 1)
	if excess <= 0 {
		return 0
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].startedAt.Before(finished[j].startedAt)
	})
	for _, job := range finished[:excess] {
		job.markRemoved()
		job.release()
		delete(s.batches, job.id)
	}
	return excess
}

func (s *Server) releaseBatches(all bool) int {
	s.batchMutex.Lock()
	defer s.batchMutex.Unlock()

	released := 0
	for id, job := range s.batches {
		if all {
			job.cancel()
			delete(s.batches, id)
			if !job.markRemoved() {
				continue
			}
		}
		if job.isDone() {
			job.release()
			released++
		}
	}
	return released
}
