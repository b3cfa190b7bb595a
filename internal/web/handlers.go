package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"pixsqueeze/internal/compressor"
	"pixsqueeze/internal/export"
	"pixsqueeze/internal/media"
	"pixsqueeze/internal/statistics"
)

// ResultView is the JSON form of a compression result.
type ResultView struct {
	Name               string               `json:"name"`
	FileName           string               `json:"file_name,omitempty"`
	OriginalSize       int64                `json:"original_size"`
	CompressedSize     int64                `json:"compressed_size"`
	OriginalSizeText   string               `json:"original_size_text"`
	CompressedSizeText string               `json:"compressed_size_text"`
	PercentageSaved    float64              `json:"percentage_saved"`
	Action             string               `json:"action"`
	Message            string               `json:"message,omitempty"`
	MimeType           string               `json:"mime_type,omitempty"`
	Width              int                  `json:"width,omitempty"`
	Height             int                  `json:"height,omitempty"`
	Warnings           []media.Warning      `json:"warnings,omitempty"`
	Attempts           []compressor.Attempt `json:"attempts,omitempty"`
}

func newResultView(res *compressor.CompressionResult) *ResultView {
	if res == nil {
		return nil
	}
	v := &ResultView{
		Name:               res.Name,
		OriginalSize:       res.OriginalSize,
		CompressedSize:     res.CompressedSize,
		OriginalSizeText:   statistics.FormatSize(res.OriginalSize),
		CompressedSizeText: statistics.FormatSize(res.CompressedSize),
		PercentageSaved:    res.PercentageSaved,
		Action:             res.Action,
		Message:            res.Message,
		Warnings:           res.Warnings,
		Attempts:           res.Attempts,
	}
	if out := res.Output; out != nil && !out.Released() {
		v.FileName = export.FileName(res.Name, out.Extension)
		v.MimeType = out.MimeType
		v.Width = out.Width
		v.Height = out.Height
	}
	return v
}

// CropRequest is a rectangle drawn on the displayed result. When the display
// size is zero the rectangle is in the result's own pixels.
type CropRequest struct {
	X             int `json:"x"`
	Y             int `json:"y"`
	Width         int `json:"width"`
	Height        int `json:"height"`
	DisplayWidth  int `json:"display_width"`
	DisplayHeight int `json:"display_height"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.session.Stats()
	res := s.session.Result()

	s.batchMutex.RLock()
	running := 0
	for _, job := range s.batches {
		if !job.isDone() {
			running++
		}
	}
	total := len(s.batches)
	s.batchMutex.RUnlock()

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"accelerated":     s.session.Accelerated(),
			"has_result":      res != nil && !res.Output.Released(),
			"batches":         total,
			"running_batches": running,
			"defaults": map[string]interface{}{
				"quality":       s.defaults.Quality,
				"format":        s.defaults.Format,
				"corner_radius": s.defaults.CornerRadius,
				"background":    s.defaults.Background,
				"accelerate":    s.defaults.Accelerated,
			},
			"formats": media.Formats(),
			"statistics": map[string]interface{}{
				"summary":         stats.GetSummary(),
				"total_found":     atomic.LoadInt64(&stats.TotalFilesFound),
				"total_processed": atomic.LoadInt64(&stats.TotalFilesProcessed),
				"compressed":      atomic.LoadInt64(&stats.FilesCompressed),
				"optimized":       atomic.LoadInt64(&stats.FilesOptimized),
				"rejected":        atomic.LoadInt64(&stats.FilesRejected),
				"errors":          atomic.LoadInt64(&stats.FilesWithErrors),
				"memory_frees":    atomic.LoadInt64(&stats.MemoryFrees),
				"saved_percent":   stats.SavedPercent(),
			},
		},
	})
}

func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	if err := s.parseUpload(w, r); err != nil {
		s.writeFailure(w, err, nil)
		return
	}

	req, err := requestFromForm(r, s.defaults)
	if err != nil {
		s.writeFailure(w, err, nil)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, "File is required", http.StatusBadRequest)
		return
	}
	src, err := readSource(file, header, parseLastModified(r.FormValue("last_modified")))
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.session.Compress(r.Context(), src, req)
	if err != nil {
		s.writeFailure(w, err, newResultView(res))
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: fmt.Sprintf("Compressed %s: %s → %s", src.Name,
			statistics.FormatSize(res.OriginalSize), statistics.FormatSize(res.CompressedSize)),
		Data: newResultView(res),
	})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	res := s.session.Result()
	if res == nil || res.Output.Released() {
		s.writeError(w, "No compressed result", http.StatusNotFound)
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Data: newResultView(res)})
}

func (s *Server) handleResultDownload(w http.ResponseWriter, r *http.Request) {
	res := s.session.Result()
	if res == nil {
		s.writeError(w, "No compressed result", http.StatusNotFound)
		return
	}
	s.writeResult(w, res.Name, res.Output)
}

func (s *Server) handleCrop(w http.ResponseWriter, r *http.Request) {
	var req CropRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Width <= 0 || req.Height <= 0 {
		s.writeError(w, "Crop width and height must be positive", http.StatusBadRequest)
		return
	}

	current := s.session.Result()
	if current == nil || current.Output.Released() {
		s.writeError(w, "No compressed result to crop", http.StatusNotFound)
		return
	}

	rect := image.Rect(req.X, req.Y, req.X+req.Width, req.Y+req.Height)
	if req.DisplayWidth > 0 && req.DisplayHeight > 0 {
		rect = compressor.ScaleRect(rect, current.Output.Width, current.Output.Height, req.DisplayWidth, req.DisplayHeight)
	}

	res, err := s.session.Crop(r.Context(), rect)
	if err != nil {
		s.writeFailure(w, err, nil)
		return
	}
	s.writeJSON(w, APIResponse{
		Success: true,
		Message: fmt.Sprintf("Cropped to %dx%d", res.Output.Width, res.Output.Height),
		Data:    newResultView(res),
	})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if err := s.parseUpload(w, r); err != nil {
		s.writeFailure(w, err, nil)
		return
	}

	maxDim := s.cfg.Server.PreviewSize
	if v := r.FormValue("max_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, "Invalid max_size", http.StatusBadRequest)
			return
		}
		maxDim = n
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, "File is required", http.StatusBadRequest)
		return
	}
	src, err := readSource(file, header, parseLastModified(r.FormValue("last_modified")))
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := compressor.Validate(src, s.limits); err != nil {
		s.writeFailure(w, err, nil)
		return
	}

	preview, err := s.session.Preview(r.Context(), src, maxDim)
	if err != nil {
		s.writeFailure(w, err, nil)
		return
	}
	defer preview.Release()

	w.Header().Set("Content-Type", preview.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(preview.Size, 10))
	w.Header().Set("Cache-Control", "no-store")
	w.Write(preview.Bytes())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.session.Reset()
	s.releaseBatches(true)

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Session reset",
	})
}

func (s *Server) handleFreeMemory(w http.ResponseWriter, r *http.Request) {
	s.session.FreeMemory()
	released := s.releaseBatches(false)

	s.broadcastWSMessage("memory_freed", map[string]interface{}{
		"released_batches": released,
	})
	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Memory freed",
		Data: map[string]interface{}{
			"released_batches": released,
		},
	})
}

// writeResult sends an encoded result as a download.
func (s *Server) writeResult(w http.ResponseWriter, name string, out *media.EncodedResult) {
	data := out.Bytes()
	if data == nil {
		s.writeError(w, "Result is no longer available", http.StatusGone)
		return
	}
	w.Header().Set("Content-Type", out.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(name, out.Extension)))
	w.Write(data)
}

// parseUpload reads a multipart body capped at the configured upload size.
// A body over the cap is reported as an oversized batch.
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadMB*1024*1024)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return media.WrapValidation("upload",
				fmt.Errorf("%w of %d MB", media.ErrBatchTooLarge, s.cfg.Server.MaxUploadMB))
		}
		return media.WrapValidation("upload", fmt.Errorf("invalid upload: %w", err))
	}
	return nil
}

// parseLastModified reads a browser File.lastModified value (Unix milliseconds).
// It returns the zero time when v is missing or malformed.
func parseLastModified(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// readSource loads an uploaded file. A zero modTime is stamped with the
// upload time by media.NewSource.
func readSource(file multipart.File, header *multipart.FileHeader, modTime time.Time) (*media.SourceImage, error) {
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	return media.NewSource(header.Filename, header.Header.Get("Content-Type"), modTime, data), nil
}

// requestFromForm overrides defaults with the form values that are present.
func requestFromForm(r *http.Request, defaults media.Request) (media.Request, error) {
	req := defaults

	if v := r.FormValue("quality"); v != "" {
		q, err := strconv.Atoi(v)
		if err != nil {
			return req, media.NewValidationError("request", fmt.Sprintf("invalid quality %q", v))
		}
		req.Quality = q
	}
	if v := r.FormValue("format"); v != "" {
		req.Format = media.ParseFormat(v)
	}
	if v := r.FormValue("radius"); v != "" {
		radius, err := media.ParseCornerRadius(v)
		if err != nil {
			return req, err
		}
		req.CornerRadius = radius
	}
	if v := r.FormValue("background"); v != "" {
		req.Background = media.ParseBackground(v)
	}
	if v := r.FormValue("accelerate"); v != "" {
		accel, err := strconv.ParseBool(v)
		if err != nil {
			return req, media.NewValidationError("request", fmt.Sprintf("invalid accelerate flag %q", v))
		}
		req.Accelerated = accel
	}
	return req, req.Validate()
}
