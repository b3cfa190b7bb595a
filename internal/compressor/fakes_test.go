package compressor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	"pixsqueeze/internal/canvas"
	"pixsqueeze/internal/heic"
	"pixsqueeze/internal/media"
)

// fakeSurface decodes "fake:WxH;" payloads and encodes to payloads whose
// length comes from sizeFn.
type fakeSurface struct {
	mu sync.Mutex

	sizeFn    func(mimeType string, quality float64, w, h int) int
	encodeErr func(mimeType string) error
	panicOn   string

	draws     []canvas.DrawOptions
	encodes   []encodeCall
	decodes   int
	heicDelay time.Duration
	// heicNative makes HEIC payloads decode as 300x200 images.
	heicNative bool
}

type encodeCall struct {
	mimeType string
	quality  float64
	w, h     int
}

type fakeCanvas struct {
	w, h     int
	released bool
}

func (c *fakeCanvas) Width() int         { return c.w }
func (c *fakeCanvas) Height() int        { return c.h }
func (c *fakeCanvas) Image() image.Image { return image.NewNRGBA(image.Rect(0, 0, c.w, c.h)) }
func (c *fakeCanvas) Release()           { c.released = true }

func fakePayload(w, h, size int) []byte {
	head := fmt.Sprintf("fake:%dx%d;", w, h)
	if size < len(head) {
		size = len(head)
	}
	return []byte(head + strings.Repeat("x", size-len(head)))
}

func (s *fakeSurface) Decode(ctx context.Context, data []byte) (image.Image, error) {
	s.mu.Lock()
	s.decodes++
	delay, native := s.heicDelay, s.heicNative
	s.mu.Unlock()

	str := string(data)
	if strings.HasPrefix(str, "heic") {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if native {
			return image.NewNRGBA(image.Rect(0, 0, 300, 200)), nil
		}
		return nil, errors.New("no native HEIC support")
	}
	var w, h int
	if _, err := fmt.Sscanf(str, "fake:%dx%d;", &w, &h); err != nil {
		return nil, fmt.Errorf("corrupt image data")
	}
	return image.NewNRGBA(image.Rect(0, 0, w, h)), nil
}

func (s *fakeSurface) Draw(src image.Image, opts canvas.DrawOptions) (canvas.Canvas, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draws = append(s.draws, opts)
	w, h := opts.Width, opts.Height
	if w == 0 || h == 0 {
		w, h = src.Bounds().Dx(), src.Bounds().Dy()
	}
	return &fakeCanvas{w: w, h: h}, nil
}

func (s *fakeSurface) Encode(c canvas.Canvas, mimeType string, quality float64) ([]byte, error) {
	s.mu.Lock()
	s.encodes = append(s.encodes, encodeCall{mimeType: mimeType, quality: quality, w: c.Width(), h: c.Height()})
	panicOn, encodeErr, sizeFn := s.panicOn, s.encodeErr, s.sizeFn
	s.mu.Unlock()

	if panicOn != "" && panicOn == mimeType {
		panic("runtime error: makeslice: len out of range")
	}
	if encodeErr != nil {
		if err := encodeErr(mimeType); err != nil {
			return nil, err
		}
	}
	size := 100
	if sizeFn != nil {
		size = sizeFn(mimeType, quality, c.Width(), c.Height())
	}
	if size == 0 {
		return nil, nil
	}
	return fakePayload(c.Width(), c.Height(), size), nil
}

func (s *fakeSurface) Accelerated() bool { return false }

func (s *fakeSurface) lastDraw() canvas.DrawOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draws[len(s.draws)-1]
}

func (s *fakeSurface) lastEncode() encodeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encodes[len(s.encodes)-1]
}

// fakeHeicDecoder returns a decodable payload for any HEIC source.
type fakeHeicDecoder struct {
	mu        sync.Mutex
	qualities []float64
}

func (d *fakeHeicDecoder) Decode(_ context.Context, req heic.DecodeRequest) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.qualities = append(d.qualities, req.Quality)
	return fakePayload(300, 200, 50), nil
}

// fixedHeap reports constant heap figures.
type fixedHeap struct{ used, limit int64 }

func (p fixedHeap) Used() int64  { return p.used }
func (p fixedHeap) Limit() int64 { return p.limit }

func source(name, mimeType string, w, h int, size int64) *media.SourceImage {
	return &media.SourceImage{
		Name:     name,
		MimeType: mimeType,
		Size:     size,
		ModTime:  time.Unix(1700000000, 0),
		Data:     fakePayload(w, h, 0),
	}
}

func heicSource(name string, size int64) *media.SourceImage {
	return &media.SourceImage{
		Name:     name,
		MimeType: "",
		Size:     size,
		ModTime:  time.Unix(1700000000, 0),
		Data:     []byte("heic-bytes"),
	}
}

func testLimits() Limits {
	l := DefaultLimits()
	l.HEICProbeTimeout = 20 * time.Millisecond
	return l
}

func newTestPipeline(s *fakeSurface) *Pipeline {
	return NewPipeline(s, nil, nil, testLimits(), nil)
}

func constSize(n int) func(string, float64, int, int) int {
	return func(string, float64, int, int) int { return n }
}
