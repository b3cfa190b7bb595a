package media

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// NewSource builds a SourceImage from uploaded bytes. An empty or generic
// declared type is replaced by a guess from the name, then from the content.
func NewSource(name, declaredType string, modTime time.Time, data []byte) *SourceImage {
	mimeType := normalizeMime(declaredType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = MimeFromName(name)
	}
	if mimeType == "" && len(data) > 0 {
		if sniffed := http.DetectContentType(data); strings.HasPrefix(sniffed, "image/") {
			mimeType = normalizeMime(sniffed)
		}
	}
	if modTime.IsZero() {
		modTime = time.Now()
	}
	return &SourceImage{
		Name:     filepath.Base(name),
		Size:     int64(len(data)),
		MimeType: mimeType,
		ModTime:  modTime,
		Data:     data,
	}
}

// LoadSource reads a file from disk into a SourceImage.
func LoadSource(path string) (*SourceImage, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("not a file: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return NewSource(info.Name(), "", info.ModTime(), data), nil
}

// BaseName returns the source name without its extension.
func (s *SourceImage) BaseName() string {
	return strings.TrimSuffix(s.Name, filepath.Ext(s.Name))
}

// CarriesAlpha reports whether the source format can carry transparency.
func (s *SourceImage) CarriesAlpha() bool {
	return MimeSupportsAlpha(s.MimeType)
}
