package metrics

import (
	"testing"
)

func TestMetricsExist(t *testing.T) {
	tests := []struct {
		name   string
		metric interface{}
	}{
		{"CompressionsTotal", CompressionsTotal},
		{"CompressionDuration", CompressionDuration},
		{"LadderStepsTotal", LadderStepsTotal},
		{"BytesIn", BytesIn},
		{"BytesOut", BytesOut},
		{"BatchItemsTotal", BatchItemsTotal},
		{"HEICCacheHits", HEICCacheHits},
		{"HEICCacheMisses", HEICCacheMisses},
		{"HEICDirectDecodes", HEICDirectDecodes},
		{"MemoryFreesTotal", MemoryFreesTotal},
		{"MemoryAvailableBytes", MemoryAvailableBytes},
		{"HTTPRequestsTotal", HTTPRequestsTotal},
		{"HTTPRequestDuration", HTTPRequestDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.metric == nil {
				t.Errorf("%s metric is nil", tt.name)
			}
		})
	}
}
