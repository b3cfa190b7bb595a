// Package export writes encoded results to disk under their download names.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pixsqueeze/internal/logger"
	"pixsqueeze/internal/media"

	"github.com/barasher/go-exiftool"
	"github.com/sirupsen/logrus"
)

// Prefix is prepended to the base name of every saved result.
const Prefix = "compressed_"

// Stamper marks a saved file as produced by PixSqueeze.
type Stamper interface {
	Stamp(path string) error
}

// FileName returns the download name of a result: compressed_<base>.<ext>.
func FileName(original, ext string) string {
	base := filepath.Base(original)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "image"
	}
	return Prefix + base + "." + strings.TrimPrefix(ext, ".")
}

// Options controls how results are saved.
type Options struct {
	// Overwrite replaces an existing file instead of picking a numbered name.
	Overwrite bool
	// Stamper, when set, writes the Software tag after saving.
	Stamper Stamper
}

// Saved describes a file written by Save.
type Saved struct {
	Path     string
	Size     int64
	Warnings []media.Warning
}

// Exporter saves results into a directory.
type Exporter struct {
	dir     string
	options Options
	logger  *logrus.Logger
}

// NewExporter returns an exporter writing into dir.
func NewExporter(dir string, options Options, log *logrus.Logger) *Exporter {
	if log == nil {
		log = logger.Discard()
	}
	return &Exporter{dir: dir, options: options, logger: log}
}

// Dir returns the output directory.
func (e *Exporter) Dir() string {
	return e.dir
}

// Save writes result for the source named original. The file is written to a
// temporary name in the same directory and renamed into place.
// A failed metadata stamp is reported as a warning.
func (e *Exporter) Save(original string, result *media.EncodedResult) (*Saved, error) {
	data := result.Bytes()
	if data == nil {
		return nil, media.NewValidationError("export", "result has been released")
	}

	if err := os.MkdirAll(e.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	target := filepath.Join(e.dir, FileName(original, result.Extension))
	if !e.options.Overwrite {
		target = uniquePath(target)
	}

	if err := writeAtomic(target, data); err != nil {
		return nil, err
	}

	saved := &Saved{Path: target, Size: int64(len(data))}
	log := logger.WithFileOperation(e.logger, target, "save")

	if e.options.Stamper != nil {
		if err := e.options.Stamper.Stamp(target); err != nil {
			log.WithError(err).Warn("Failed to stamp metadata")
			saved.Warnings = append(saved.Warnings, media.WarnMetadataNotStamped)
		}
	}

	log.Infof("Saved %d bytes", saved.Size)
	return saved, nil
}

// Save writes result into dir with default options.
func Save(dir, original string, result *media.EncodedResult) (*Saved, error) {
	return NewExporter(dir, Options{}, nil).Save(original, result)
}

func writeAtomic(target string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".pixsqueeze-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write result: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("failed to move result into place: %w", err)
	}
	return nil
}

// uniquePath returns path, or path with a counter added if it already exists.
func uniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	name := strings.TrimSuffix(filepath.Base(path), ext)

	for counter := 1; ; counter++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s_%d%s", name, counter, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// ExiftoolStamper sets the Software tag with the exiftool binary.
type ExiftoolStamper struct {
	Software string
}

// NewExiftoolStamper returns a stamper writing media.SoftwareName.
func NewExiftoolStamper() *ExiftoolStamper {
	return &ExiftoolStamper{Software: media.SoftwareName}
}

// Stamp writes the Software tag into path in place.
func (s *ExiftoolStamper) Stamp(path string) error {
	et, err := exiftool.NewExiftool()
	if err != nil {
		return fmt.Errorf("exiftool unavailable: %w", err)
	}
	defer et.Close()

	files := et.ExtractMetadata(path)
	if len(files) == 0 {
		return fmt.Errorf("exiftool returned no metadata for %s", path)
	}
	if files[0].Err != nil {
		return fmt.Errorf("exiftool read failed: %w", files[0].Err)
	}

	files[0].SetString("Software", s.Software)
	et.WriteMetadata(files)
	if files[0].Err != nil {
		return fmt.Errorf("exiftool set Software failed: %w", files[0].Err)
	}
	return nil
}
