package media

import (
	"errors"
	"testing"
	"time"
)

func TestResolveMimeType(t *testing.T) {
	tests := []struct {
		name       string
		sourceType string
		format     Format
		expected   string
	}{
		{"auto keeps png", MimePNG, FormatAuto, MimePNG},
		{"auto keeps webp", MimeWebP, FormatAuto, MimeWebP},
		{"auto keeps jpeg", MimeJPEG, FormatAuto, MimeJPEG},
		{"auto keeps gif", MimeGIF, FormatAuto, MimeGIF},
		{"auto normalizes image/jpg", "image/jpg", FormatAuto, MimeJPEG},
		{"auto heic becomes jpeg", MimeHEIC, FormatAuto, MimeJPEG},
		{"auto empty becomes jpeg", "", FormatAuto, MimeJPEG},
		{"explicit jpeg", MimePNG, FormatJPEG, MimeJPEG},
		{"explicit png", MimeJPEG, FormatPNG, MimePNG},
		{"explicit webp", MimeJPEG, FormatWebP, MimeWebP},
		{"explicit avif", MimeJPEG, FormatAVIF, MimeAVIF},
		{"unknown format is jpeg", MimePNG, Format("tiff"), MimeJPEG},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveMimeType(tt.sourceType, tt.format); got != tt.expected {
				t.Errorf("ResolveMimeType(%q, %q) = %q, want %q", tt.sourceType, tt.format, got, tt.expected)
			}
		})
	}
}

func TestSupportsAlpha(t *testing.T) {
	tests := []struct {
		format     Format
		sourceType string
		expected   bool
	}{
		{FormatPNG, MimeJPEG, true},
		{FormatWebP, MimeJPEG, true},
		{FormatAVIF, MimeJPEG, true},
		{FormatJPEG, MimePNG, false},
		{FormatAuto, MimePNG, true},
		{FormatAuto, MimeGIF, true},
		{FormatAuto, MimeWebP, true},
		{FormatAuto, MimeJPEG, false},
		{FormatAuto, MimeHEIC, false},
		{Format("bogus"), MimePNG, false},
	}

	for _, tt := range tests {
		if got := SupportsAlpha(tt.format, tt.sourceType); got != tt.expected {
			t.Errorf("SupportsAlpha(%q, %q) = %v, want %v", tt.format, tt.sourceType, got, tt.expected)
		}
	}
}

func TestFormatPolicyIsTotal(t *testing.T) {
	sources := []string{"", MimeJPEG, MimePNG, MimeWebP, MimeAVIF, MimeGIF, MimeHEIC, "text/plain", "image/png; charset=binary"}
	formats := append(Formats(), Format(""), Format("gif"))

	for q := 1; q <= 100; q++ {
		for _, f := range formats {
			for _, s := range sources {
				mime := ResolveMimeType(s, f)
				if mime == "" {
					t.Fatalf("ResolveMimeType(%q, %q) returned empty type", s, f)
				}
				if ExtensionFor(mime) == "" {
					t.Fatalf("ExtensionFor(%q) returned empty extension", mime)
				}
				_ = SupportsAlpha(f, s)
			}
		}
	}
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{
		"":      FormatAuto,
		"AUTO":  FormatAuto,
		"png":   FormatPNG,
		"webp":  FormatWebP,
		"avif":  FormatAVIF,
		"jpeg":  FormatJPEG,
		"jpg":   FormatJPEG,
		"bmp":   FormatJPEG,
		" Png ": FormatPNG,
	}
	for in, want := range tests {
		if got := ParseFormat(in); got != want {
			t.Errorf("ParseFormat(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExtensionFor(t *testing.T) {
	tests := map[string]string{
		MimeJPEG: "jpg",
		MimePNG:  "png",
		MimeWebP: "webp",
		MimeAVIF: "avif",
		MimeGIF:  "gif",
		"":       "jpg",
	}
	for in, want := range tests {
		if got := ExtensionFor(in); got != want {
			t.Errorf("ExtensionFor(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewSourceMimeDetection(t *testing.T) {
	t.Run("declared type wins", func(t *testing.T) {
		src := NewSource("photo.bin", "image/png", time.Time{}, []byte("x"))
		if src.MimeType != MimePNG {
			t.Errorf("Expected %s, got %s", MimePNG, src.MimeType)
		}
	})

	t.Run("blank heic type falls back to extension", func(t *testing.T) {
		src := NewSource("IMG_0001.HEIC", "", time.Time{}, []byte("x"))
		if src.MimeType != MimeHEIC {
			t.Errorf("Expected %s, got %s", MimeHEIC, src.MimeType)
		}
		if src.ModTime.IsZero() {
			t.Error("Expected ModTime to default to now")
		}
	})

	t.Run("content sniffing", func(t *testing.T) {
		png := []byte("\x89PNG\r\n\x1a\n0000000000000000")
		src := NewSource("noext", "", time.Time{}, png)
		if src.MimeType != MimePNG {
			t.Errorf("Expected %s, got %s", MimePNG, src.MimeType)
		}
	})

	t.Run("base name", func(t *testing.T) {
		src := NewSource("dir/holiday.photo.jpg", "", time.Time{}, nil)
		if src.BaseName() != "holiday.photo" {
			t.Errorf("Expected holiday.photo, got %s", src.BaseName())
		}
	})
}

func TestParseCornerRadius(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"", 0, false},
		{"0", 0, false},
		{"128", 128, false},
		{"24px", 24, false},
		{"circle", CornerRadiusCircle, false},
		{"-3", 0, true},
		{"round", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseCornerRadius(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCornerRadius(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err != nil && !IsValidation(err) {
			t.Errorf("ParseCornerRadius(%q) error should be a validation error, got %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseCornerRadius(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestErrorClassification(t *testing.T) {
	t.Run("memory keywords become out of memory", func(t *testing.T) {
		err := WrapEncode("encode", errors.New("runtime: cannot allocate memory"))
		if !IsOutOfMemory(err) {
			t.Errorf("Expected out-of-memory error, got %v", err)
		}
		if IsEncode(err) {
			t.Error("Out-of-memory error must not also classify as encode")
		}
	})

	t.Run("plain encode failure", func(t *testing.T) {
		err := WrapEncode("encode", ErrEmptyEncodeOutput)
		if !IsEncode(err) {
			t.Errorf("Expected encode error, got %v", err)
		}
		if !errors.Is(err, ErrEmptyEncodeOutput) {
			t.Error("Expected wrapped sentinel to be reachable")
		}
	})

	t.Run("decode keeps cause", func(t *testing.T) {
		cause := errors.New("bad huffman table")
		err := WrapDecode("decode", cause)
		if !IsDecode(err) || !errors.Is(err, cause) {
			t.Errorf("Expected decode error wrapping cause, got %v", err)
		}
	})

	t.Run("validation user message", func(t *testing.T) {
		err := WrapValidation("validate", ErrHEICTooLarge)
		if UserMessage(err) != ErrHEICTooLarge.Error() {
			t.Errorf("Unexpected user message %q", UserMessage(err))
		}
	})
}

func TestEncodedResultRelease(t *testing.T) {
	r := NewEncodedResult([]byte{1, 2, 3}, MimePNG, 2, 2)
	if r.Extension != "png" || r.Size != 3 {
		t.Fatalf("Unexpected result metadata: %+v", r)
	}
	r.Release()
	r.Release()
	if !r.Released() || r.Bytes() != nil {
		t.Error("Expected released result to drop its buffer")
	}

	var nilResult *EncodedResult
	nilResult.Release()
	if !nilResult.Released() {
		t.Error("Expected nil result to report released")
	}
}

func TestRequestValidate(t *testing.T) {
	if err := DefaultRequest().Validate(); err != nil {
		t.Fatalf("Default request should be valid: %v", err)
	}
	bad := DefaultRequest()
	bad.Quality = 0
	if err := bad.Validate(); !IsValidation(err) {
		t.Errorf("Expected validation error for quality 0, got %v", err)
	}
	bad = DefaultRequest()
	bad.Quality = 101
	if err := bad.Validate(); !IsValidation(err) {
		t.Errorf("Expected validation error for quality 101, got %v", err)
	}
}
