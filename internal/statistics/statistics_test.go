package statistics

import (
	"strings"
	"sync"
	"testing"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{0, "0 Bytes"},
		{-5, "0 Bytes"},
		{1, "1 Bytes"},
		{1023, "1023 Bytes"},
		{1024, "1 KB"},
		{1536, "1.5 KB"},
		{1048576, "1 MB"},
		{1024 * 1024 * 1024, "1 GB"},
		{1288490189, "1.2 GB"},
		{1024 * 1024 * 1024 * 1024 * 3, "3 TB"},
		{1024 * 1024 * 1024 * 1024 * 1024 * 2, "2048 TB"},
	}

	for _, tt := range tests {
		if got := FormatSize(tt.bytes); got != tt.expected {
			t.Errorf("FormatSize(%d) = %q, want %q", tt.bytes, got, tt.expected)
		}
	}
}

func TestReductionPercent(t *testing.T) {
	if got := ReductionPercent(1000, 250); got != 75 {
		t.Errorf("Expected 75, got %d", got)
	}
	if got := ReductionPercent(1000, 1200); got != -20 {
		t.Errorf("Expected -20, got %d", got)
	}
	if got := ReductionPercent(0, 10); got != 0 {
		t.Errorf("Expected 0 for empty input, got %d", got)
	}
}

func TestStatisticsConcurrentCounters(t *testing.T) {
	s := NewStatistics()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.IncrementFilesProcessed()
			s.IncrementFormat("jpg")
			s.AddBytes(100, 40)
		}()
	}
	wg.Wait()
	s.Finalize()

	if s.GetTotalFilesProcessed() != 50 {
		t.Errorf("Expected 50 processed, got %d", s.GetTotalFilesProcessed())
	}
	if s.SavedPercent() != 60 {
		t.Errorf("Expected 60%% saved, got %d", s.SavedPercent())
	}
	if s.AverageFileSize != 100 {
		t.Errorf("Expected average size 100, got %d", s.AverageFileSize)
	}
	if !strings.Contains(s.GetFormatBreakdown(), "jpg: 50") {
		t.Errorf("Unexpected format breakdown: %s", s.GetFormatBreakdown())
	}
}

func TestStatisticsSummaryAndErrors(t *testing.T) {
	s := NewStatistics()
	if s.GetErrorSummary() != "No errors occurred during processing" {
		t.Errorf("Unexpected empty error summary: %s", s.GetErrorSummary())
	}

	for i := 0; i < 12; i++ {
		s.AddError("a.png", "compress", "boom")
	}
	if s.GetFilesWithErrors() != 12 {
		t.Errorf("Expected 12 errors, got %d", s.GetFilesWithErrors())
	}
	if !strings.Contains(s.GetErrorSummary(), "and 2 more errors") {
		t.Errorf("Expected truncated error summary, got %s", s.GetErrorSummary())
	}

	s.SetCacheCounters(3, 1)
	s.Finalize()
	summary := s.GetSummary()
	if !strings.Contains(summary, "Hit Rate: 75.00%") {
		t.Errorf("Expected cache hit rate in summary, got:\n%s", summary)
	}
}
