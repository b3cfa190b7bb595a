package compressor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"pixsqueeze/internal/media"
)

const mb = 1024 * 1024

func TestValidate(t *testing.T) {
	limits := DefaultLimits()

	tests := []struct {
		name        string
		src         *media.SourceImage
		wantErr     error
		wantWarning media.Warning
	}{
		{
			name:    "HEIC over 50MB fails on the HEIC limit first",
			src:     &media.SourceImage{Name: "IMG.HEIC", Size: 80 * mb},
			wantErr: media.ErrHEICTooLarge,
		},
		{
			name:    "HEIC over 1GB still reports the HEIC limit",
			src:     &media.SourceImage{Name: "IMG.heic", Size: 2048 * mb},
			wantErr: media.ErrHEICTooLarge,
		},
		{
			name:    "general ceiling",
			src:     &media.SourceImage{Name: "huge.jpg", MimeType: media.MimeJPEG, Size: 1025 * mb},
			wantErr: media.ErrFileTooLarge,
		},
		{
			name:    "oversized unsupported file hits the size limit before the type check",
			src:     &media.SourceImage{Name: "huge.bin", MimeType: "application/zip", Size: 1025 * mb},
			wantErr: media.ErrFileTooLarge,
		},
		{
			name:    "unsupported type",
			src:     &media.SourceImage{Name: "doc.pdf", MimeType: "application/pdf", Size: 10},
			wantErr: media.ErrUnsupportedType,
		},
		{
			name: "supported by extension",
			src:  &media.SourceImage{Name: "photo.webp", Size: 10},
		},
		{
			name:        "large file warns",
			src:         &media.SourceImage{Name: "pano.jpg", MimeType: media.MimeJPEG, Size: 300 * mb},
			wantWarning: media.WarnLargeFile,
		},
		{
			name:        "HEIC warns",
			src:         &media.SourceImage{Name: "IMG.heic", Size: 10 * mb},
			wantWarning: media.WarnHEICDetected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			warnings, err := Validate(tt.src, limits)
			if tt.wantErr != nil {
				if !media.IsValidation(err) || !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if tt.wantWarning != "" {
				found := false
				for _, w := range warnings {
					if w == tt.wantWarning {
						found = true
					}
				}
				if !found {
					t.Errorf("Expected warning %q, got %v", tt.wantWarning, warnings)
				}
			}
		})
	}
}

func TestValidateBatch(t *testing.T) {
	limits := DefaultLimits()
	ok := []*media.SourceImage{{Size: 500 * mb}, {Size: 500 * mb}}
	if err := ValidateBatch(ok, limits); err != nil {
		t.Errorf("Expected 1000MB batch to pass, got %v", err)
	}
	tooBig := []*media.SourceImage{{Size: 600 * mb}, {Size: 600 * mb}}
	if err := ValidateBatch(tooBig, limits); !errors.Is(err, media.ErrBatchTooLarge) {
		t.Errorf("Expected batch limit error, got %v", err)
	}
}

func TestCollectImageFiles(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "nested")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a.jpg", "b.PNG", "notes.txt", "compressed_a.jpg", ".hidden.png", "nested/c.heic"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := CollectImageFiles([]string{dir})
	if err != nil {
		t.Fatalf("CollectImageFiles() error: %v", err)
	}
	if len(files) != 3 {
		t.Errorf("Expected 3 candidates, got %v", files)
	}

	if _, err := CollectImageFiles([]string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("Expected error for a missing path")
	}
}

func TestIsStamped(t *testing.T) {
	if IsStamped([]byte("not a jpeg")) {
		t.Error("Expected garbage to be unstamped")
	}
}
