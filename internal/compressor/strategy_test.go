package compressor

import (
	"context"
	"errors"
	"testing"

	"pixsqueeze/internal/media"
)

func steps(res *CompressionResult) []string {
	var out []string
	for _, a := range res.Attempts {
		out = append(out, a.Step)
	}
	return out
}

func equalSteps(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestStrategyStopsWhenSmaller(t *testing.T) {
	s := &fakeSurface{sizeFn: constSize(400)}
	st := NewStrategy(newTestPipeline(s), nil, nil)

	res, err := st.Compress(context.Background(), source("a.jpg", media.MimeJPEG, 100, 100, 1000), media.DefaultRequest())
	if err != nil {
		t.Fatalf("Compress() error: %v", err)
	}
	if !equalSteps(steps(res), []string{StepInitial}) {
		t.Errorf("Expected a single attempt, got %v", steps(res))
	}
	if res.Action != ActionCompressed || res.CompressedSize != 400 || res.PercentageSaved != 60 {
		t.Errorf("Unexpected result: action=%s size=%d saved=%v", res.Action, res.CompressedSize, res.PercentageSaved)
	}
	if res.Output.Released() {
		t.Error("Returned output must not be released")
	}
}

func TestStrategyFullLadderForPNG(t *testing.T) {
	s := &fakeSurface{sizeFn: constSize(2000)}
	st := NewStrategy(newTestPipeline(s), nil, nil)
	req := media.DefaultRequest()
	req.CornerRadius = 30

	res, err := st.Compress(context.Background(), source("a.png", media.MimePNG, 100, 100, 1000), req)
	if err != nil {
		t.Fatalf("Compress() error: %v", err)
	}

	want := []string{StepInitial, StepPNGToJPEG, StepWebP, StepReducedQuality}
	if !equalSteps(steps(res), want) {
		t.Fatalf("Expected steps %v, got %v", want, steps(res))
	}

	a := res.Attempts
	if a[1].MimeType != media.MimeJPEG || a[1].CornerRadius != 0 {
		t.Errorf("png-to-jpeg should encode JPEG without corners, got %+v", a[1])
	}
	if a[2].MimeType != media.MimeWebP || a[2].CornerRadius != 30 || a[2].Quality != 80 {
		t.Errorf("webp step should keep quality and radius, got %+v", a[2])
	}
	if a[3].MimeType != media.MimeJPEG || a[3].Quality != ReducedQuality || a[3].CornerRadius != 0 {
		t.Errorf("reduced-quality step should be JPEG at 50 without corners, got %+v", a[3])
	}

	if res.Action != ActionOptimized || !res.Success {
		t.Errorf("Expected optimized success, got %s", res.Action)
	}
	found := false
	for _, w := range res.Warnings {
		if w == media.WarnAlreadyOptimized {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected already-optimized warning, got %v", res.Warnings)
	}
	if res.Output == nil || res.Output.Released() || res.Output.MimeType != media.MimeJPEG {
		t.Errorf("Expected the last attempt to be returned live, got %+v", res.Output)
	}
	if res.Retries() != 3 {
		t.Errorf("Expected 3 retries, got %d", res.Retries())
	}
}

func TestStrategyHaltsAtFirstShrink(t *testing.T) {
	s := &fakeSurface{sizeFn: func(mime string, _ float64, _, _ int) int {
		if mime == media.MimeJPEG {
			return 500
		}
		return 2000
	}}
	st := NewStrategy(newTestPipeline(s), nil, nil)

	res, err := st.Compress(context.Background(), source("a.png", media.MimePNG, 100, 100, 1000), media.DefaultRequest())
	if err != nil {
		t.Fatal(err)
	}
	if !equalSteps(steps(res), []string{StepInitial, StepPNGToJPEG}) {
		t.Errorf("Expected ladder to halt after png-to-jpeg, got %v", steps(res))
	}
	if res.Action != ActionCompressed || res.Output.Size != 500 {
		t.Errorf("Expected compressed 500 byte result, got %s %d", res.Action, res.Output.Size)
	}
}

func TestStrategySkipsInapplicableSteps(t *testing.T) {
	s := &fakeSurface{sizeFn: constSize(2000)}
	st := NewStrategy(newTestPipeline(s), nil, nil)
	req := media.DefaultRequest()
	req.Format = media.FormatWebP
	req.Quality = 40

	res, err := st.Compress(context.Background(), source("a.jpg", media.MimeJPEG, 100, 100, 1000), req)
	if err != nil {
		t.Fatal(err)
	}
	if !equalSteps(steps(res), []string{StepInitial}) {
		t.Errorf("Expected no applicable fallbacks, got %v", steps(res))
	}
	if res.Action != ActionOptimized {
		t.Errorf("Expected optimized, got %s", res.Action)
	}
}

func TestStrategyHardErrorAborts(t *testing.T) {
	s := &fakeSurface{
		sizeFn: constSize(2000),
		encodeErr: func(mime string) error {
			if mime == media.MimeWebP {
				return errors.New("webp encoder missing")
			}
			return nil
		},
	}
	st := NewStrategy(newTestPipeline(s), nil, nil)

	res, err := st.Compress(context.Background(), source("a.jpg", media.MimeJPEG, 100, 100, 1000), media.DefaultRequest())
	if !media.IsEncode(err) {
		t.Fatalf("Expected encode error, got %v", err)
	}
	if res.Action != ActionError || res.Output != nil {
		t.Errorf("Expected error result without output, got %s", res.Action)
	}
	if !equalSteps(steps(res), []string{StepInitial}) {
		t.Errorf("Expected only the initial attempt recorded, got %v", steps(res))
	}
}

func TestStrategyValidatesFirst(t *testing.T) {
	s := &fakeSurface{}
	st := NewStrategy(newTestPipeline(s), nil, nil)

	res, err := st.Compress(context.Background(), heicSource("huge.heic", 80*1024*1024), media.DefaultRequest())
	if !errors.Is(err, media.ErrHEICTooLarge) {
		t.Fatalf("Expected HEIC size error, got %v", err)
	}
	if res.Message != media.UserMessage(err) {
		t.Errorf("Expected user message on result, got %q", res.Message)
	}
	if s.decodes != 0 {
		t.Error("Rejected files must not be decoded")
	}

	bad := media.DefaultRequest()
	bad.Quality = 0
	if _, err := st.Compress(context.Background(), source("a.jpg", media.MimeJPEG, 10, 10, 100), bad); !media.IsValidation(err) {
		t.Errorf("Expected validation error for quality 0, got %v", err)
	}
}
