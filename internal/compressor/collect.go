package compressor

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"pixsqueeze/internal/export"
	"pixsqueeze/internal/media"

	"github.com/rwcarlsen/goexif/exif"
)

// CollectImageFiles expands files and directories into the supported image files they contain.
// Directories are walked recursively; previously saved results are left out.
func CollectImageFiles(inputPaths []string) ([]string, error) {
	var files []string
	visit := func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if IsCandidate(d.Name()) {
			files = append(files, path)
		}
		return nil
	}
	for _, in := range inputPaths {
		info, err := os.Stat(in)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			if err := filepath.WalkDir(in, visit); err != nil {
				return nil, err
			}
		} else if IsCandidate(info.Name()) {
			files = append(files, in)
		}
	}
	return files, nil
}

// IsCandidate reports whether a file name looks like a supported source image
// rather than an earlier output.
func IsCandidate(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, export.Prefix) || strings.HasPrefix(base, ".") {
		return false
	}
	return media.MimeFromName(base) != ""
}

// IsStamped returns true if the EXIF Software tag names PixSqueeze.
func IsStamped(data []byte) bool {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return false
	}
	tag, err := x.Get(exif.Software)
	if err != nil {
		return false
	}
	val, err := tag.StringVal()
	if err != nil {
		return false
	}
	return strings.Contains(val, media.SoftwareName)
}
