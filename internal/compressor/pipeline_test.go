package compressor

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"pixsqueeze/internal/heic"
	"pixsqueeze/internal/media"
	"pixsqueeze/internal/memory"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestEncoderQuality(t *testing.T) {
	tests := []struct {
		mime     string
		quality  int
		expected float64
	}{
		{media.MimePNG, 90, 0.10},
		{media.MimePNG, 10, 0.90},
		{media.MimePNG, 100, 0},
		{media.MimeJPEG, 80, 0.8},
		{media.MimeWebP, 1, 0.01},
		{media.MimeAVIF, 100, 1},
	}
	for _, tt := range tests {
		if got := EncoderQuality(tt.mime, tt.quality); !approx(got, tt.expected) {
			t.Errorf("EncoderQuality(%s, %d) = %v, want %v", tt.mime, tt.quality, got, tt.expected)
		}
	}
}

func TestClampRadius(t *testing.T) {
	tests := []struct {
		radius, w, h, expected int
	}{
		{9999, 200, 100, 50},
		{media.CornerRadiusCircle, 300, 300, 150},
		{20, 200, 100, 20},
		{0, 200, 100, 0},
		{-5, 200, 100, 0},
	}
	for _, tt := range tests {
		if got := ClampRadius(tt.radius, tt.w, tt.h); got != tt.expected {
			t.Errorf("ClampRadius(%d, %d, %d) = %d, want %d", tt.radius, tt.w, tt.h, got, tt.expected)
		}
	}
}

func TestProcessClampsRadius(t *testing.T) {
	s := &fakeSurface{}
	p := newTestPipeline(s)
	req := media.DefaultRequest()
	req.CornerRadius = 9999

	if _, err := p.Process(context.Background(), source("a.png", media.MimePNG, 200, 100, 1000), req, PurposeCompress); err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if got := s.lastDraw().CornerRadius; got != 50 {
		t.Errorf("Expected radius clamped to 50, got %v", got)
	}
}

func TestProcessSkipsCornersForJPEG(t *testing.T) {
	s := &fakeSurface{}
	p := newTestPipeline(s)
	req := media.DefaultRequest()
	req.Format = media.FormatJPEG
	req.CornerRadius = 20

	res, err := p.Process(context.Background(), source("a.png", media.MimePNG, 200, 100, 1000), req, PurposeCompress)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	draw := s.lastDraw()
	if draw.CornerRadius != 0 {
		t.Errorf("Expected no corner clip for JPEG, got %v", draw.CornerRadius)
	}
	if draw.Background == nil || *draw.Background != media.BackgroundWhite.Color() {
		t.Errorf("Expected white background fill for PNG to JPEG, got %v", draw.Background)
	}
	if res.MimeType != media.MimeJPEG || res.Extension != "jpg" {
		t.Errorf("Expected jpeg output, got %s/%s", res.MimeType, res.Extension)
	}
}

func TestProcessAutoPNGWithRadius(t *testing.T) {
	s := &fakeSurface{}
	p := newTestPipeline(s)
	req := media.DefaultRequest()
	req.CornerRadius = 128

	res, err := p.Process(context.Background(), source("logo.png", media.MimePNG, 2000, 1000, 5000), req, PurposeCompress)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	draw := s.lastDraw()
	if draw.Width != 2000 || draw.Height != 1000 {
		t.Errorf("Expected 2000x1000 canvas, got %dx%d", draw.Width, draw.Height)
	}
	if draw.CornerRadius != 128 {
		t.Errorf("Expected radius 128, got %v", draw.CornerRadius)
	}
	if draw.Background != nil {
		t.Error("Expected no background fill for PNG output")
	}

	enc := s.lastEncode()
	if enc.mimeType != media.MimePNG || !approx(enc.quality, 0.2) {
		t.Errorf("Expected PNG at effort 0.2, got %s at %v", enc.mimeType, enc.quality)
	}
	if res.Width != 2000 || res.Height != 1000 {
		t.Errorf("Expected result 2000x1000, got %dx%d", res.Width, res.Height)
	}
}

func TestProcessDimensionCap(t *testing.T) {
	s := &fakeSurface{}
	p := newTestPipeline(s)
	req := media.DefaultRequest()

	if _, err := p.Process(context.Background(), source("big.jpg", media.MimeJPEG, 8000, 4000, 1000), req, PurposeCompress); err != nil {
		t.Fatal(err)
	}
	if d := s.lastDraw(); d.Width != 4000 || d.Height != 2000 {
		t.Errorf("Expected 4000x2000, got %dx%d", d.Width, d.Height)
	}

	req.Accelerated = true
	if _, err := p.Process(context.Background(), source("big.jpg", media.MimeJPEG, 8000, 4000, 1000), req, PurposeCompress); err != nil {
		t.Fatal(err)
	}
	if d := s.lastDraw(); d.Width != 8000 || d.Height != 4000 {
		t.Errorf("Expected 8000x4000 when accelerated, got %dx%d", d.Width, d.Height)
	}
}

func TestProcessErrors(t *testing.T) {
	t.Run("corrupt source is a decode error", func(t *testing.T) {
		p := newTestPipeline(&fakeSurface{})
		src := &media.SourceImage{Name: "bad.jpg", MimeType: media.MimeJPEG, Size: 10, Data: []byte("garbage")}
		_, err := p.Process(context.Background(), src, media.DefaultRequest(), PurposeCompress)
		if !media.IsDecode(err) {
			t.Errorf("Expected decode error, got %v", err)
		}
	})

	t.Run("empty output is an encode error", func(t *testing.T) {
		p := newTestPipeline(&fakeSurface{sizeFn: constSize(0)})
		_, err := p.Process(context.Background(), source("a.jpg", media.MimeJPEG, 10, 10, 100), media.DefaultRequest(), PurposeCompress)
		if !media.IsEncode(err) || !errors.Is(err, media.ErrEmptyEncodeOutput) {
			t.Errorf("Expected empty-output encode error, got %v", err)
		}
	})

	t.Run("allocation failure is out of memory", func(t *testing.T) {
		p := newTestPipeline(&fakeSurface{encodeErr: func(string) error { return errors.New("cannot allocate memory") }})
		_, err := p.Process(context.Background(), source("a.jpg", media.MimeJPEG, 10, 10, 100), media.DefaultRequest(), PurposeCompress)
		if !media.IsOutOfMemory(err) {
			t.Errorf("Expected out-of-memory error, got %v", err)
		}
	})

	t.Run("encoder panic is recovered", func(t *testing.T) {
		p := newTestPipeline(&fakeSurface{panicOn: media.MimeJPEG})
		_, err := p.Process(context.Background(), source("a.jpg", media.MimeJPEG, 10, 10, 100), media.DefaultRequest(), PurposeCompress)
		if !media.IsOutOfMemory(err) {
			t.Errorf("Expected recovered panic classified as out of memory, got %v", err)
		}
	})
}

func TestHeicFallsBackToCache(t *testing.T) {
	s := &fakeSurface{heicDelay: time.Second}
	dec := &fakeHeicDecoder{}
	cache := heic.NewCache(dec, 3, nil)
	p := NewPipeline(s, cache, nil, testLimits(), nil)

	src := heicSource("IMG_1.HEIC", 1000)

	res, err := p.Process(context.Background(), src, media.DefaultRequest(), PurposeCompress)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if res.MimeType != media.MimeJPEG {
		t.Errorf("Expected HEIC to resolve to JPEG, got %s", res.MimeType)
	}

	if _, err := p.Preview(context.Background(), src, 512); err != nil {
		t.Fatalf("Preview() error: %v", err)
	}

	if len(dec.qualities) != 2 || dec.qualities[0] != 0.8 || dec.qualities[1] != 0.5 {
		t.Errorf("Expected decodes at 0.8 then 0.5, got %v", dec.qualities)
	}

	// Same quality is a cache hit
	if _, err := p.Process(context.Background(), src, media.DefaultRequest(), PurposeCompress); err != nil {
		t.Fatal(err)
	}
	if len(dec.qualities) != 2 {
		t.Errorf("Expected cached decode, got %d decoder calls", len(dec.qualities))
	}
}

func TestHeicDecodesNatively(t *testing.T) {
	dec := &fakeHeicDecoder{}
	cache := heic.NewCache(dec, 3, nil)

	// Headroom is nearly gone, so any mitigation would release
	releases := 0
	guard := memory.NewGuard(memory.DefaultConfig(), fixedHeap{used: 100<<20 - 1, limit: 100 << 20}, nil)
	guard.Register(memory.ReleaserFunc(func() { releases++ }))

	p := NewPipeline(&fakeSurface{heicNative: true}, cache, guard, testLimits(), nil)
	res, err := p.Process(context.Background(), heicSource("IMG_2.HEIC", 1000), media.DefaultRequest(), PurposeCompress)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if res.Width != 300 || res.Height != 200 {
		t.Errorf("Expected 300x200 result, got %dx%d", res.Width, res.Height)
	}
	if len(dec.qualities) != 0 {
		t.Errorf("Expected no converter calls, got %v", dec.qualities)
	}
	if releases != 0 {
		t.Errorf("Expected no memory mitigation, got %d releases", releases)
	}
}

func TestHeicCanceledDuringDirectDecode(t *testing.T) {
	dec := &fakeHeicDecoder{}
	p := NewPipeline(&fakeSurface{heicDelay: time.Second}, heic.NewCache(dec, 3, nil), nil, testLimits(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := p.Process(ctx, heicSource("IMG_3.HEIC", 1000), media.DefaultRequest(), PurposeCompress)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline error, got %v", err)
	}
	if media.IsDecode(err) {
		t.Errorf("Expected cancellation, not a decode error: %v", err)
	}
	if len(dec.qualities) != 0 {
		t.Errorf("Expected no converter calls, got %v", dec.qualities)
	}
}

func TestHeicWithoutDecoder(t *testing.T) {
	p := newTestPipeline(&fakeSurface{})
	_, err := p.Process(context.Background(), heicSource("a.heic", 10), media.DefaultRequest(), PurposeCompress)
	if !media.IsDecode(err) || !errors.Is(err, media.ErrHEICUnavailable) {
		t.Errorf("Expected HEIC unavailable decode error, got %v", err)
	}
}

func TestPreviewIsSmallJPEG(t *testing.T) {
	s := &fakeSurface{}
	p := newTestPipeline(s)

	res, err := p.Preview(context.Background(), source("a.png", media.MimePNG, 2000, 1000, 1000), 500)
	if err != nil {
		t.Fatal(err)
	}
	if res.MimeType != media.MimeJPEG || res.Width != 500 || res.Height != 250 {
		t.Errorf("Expected 500x250 JPEG preview, got %s %dx%d", res.MimeType, res.Width, res.Height)
	}
	if s.lastDraw().Background == nil {
		t.Error("Expected alpha to be flattened for JPEG preview")
	}
}
