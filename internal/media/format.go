package media

import (
	"path/filepath"
	"strings"
)

// Format is a requested output format.
type Format string

const (
	FormatAuto Format = "auto"
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
	FormatAVIF Format = "avif"
)

// MIME types handled by the pipeline.
const (
	MimeJPEG = "image/jpeg"
	MimePNG  = "image/png"
	MimeWebP = "image/webp"
	MimeAVIF = "image/avif"
	MimeGIF  = "image/gif"
	MimeHEIC = "image/heic"
	MimeHEIF = "image/heif"
)

// Formats lists the selectable output formats.
func Formats() []Format {
	return []Format{FormatAuto, FormatJPEG, FormatPNG, FormatWebP, FormatAVIF}
}

// ParseFormat maps a user string to a Format. Unknown values get JPEG semantics.
func ParseFormat(s string) Format {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto", "":
		return FormatAuto
	case "png":
		return FormatPNG
	case "webp":
		return FormatWebP
	case "avif":
		return FormatAVIF
	default:
		return FormatJPEG
	}
}

// MimeType returns the canonical MIME type of a concrete format.
// FormatAuto and unknown formats map to JPEG.
func (f Format) MimeType() string {
	switch f {
	case FormatPNG:
		return MimePNG
	case FormatWebP:
		return MimeWebP
	case FormatAVIF:
		return MimeAVIF
	default:
		return MimeJPEG
	}
}

// ResolveMimeType decides the output MIME type for a source type and requested format.
// FormatAuto preserves the source type when an encoder exists for it.
func ResolveMimeType(sourceType string, format Format) string {
	if format != FormatAuto {
		return format.MimeType()
	}
	switch normalizeMime(sourceType) {
	case MimePNG:
		return MimePNG
	case MimeWebP:
		return MimeWebP
	case MimeAVIF:
		return MimeAVIF
	case MimeGIF:
		return MimeGIF
	default:
		return MimeJPEG
	}
}

// SupportsAlpha reports whether the output for format can carry transparency.
func SupportsAlpha(format Format, sourceType string) bool {
	switch format {
	case FormatPNG, FormatWebP, FormatAVIF:
		return true
	case FormatAuto:
		return MimeSupportsAlpha(sourceType)
	default:
		return false
	}
}

// MimeSupportsAlpha reports whether a MIME type denotes an alpha-capable format.
func MimeSupportsAlpha(mimeType string) bool {
	switch normalizeMime(mimeType) {
	case MimePNG, MimeWebP, MimeAVIF, MimeGIF:
		return true
	default:
		return false
	}
}

// ExtensionFor returns the file extension (without dot) for a MIME type.
func ExtensionFor(mimeType string) string {
	switch normalizeMime(mimeType) {
	case MimePNG:
		return "png"
	case MimeWebP:
		return "webp"
	case MimeAVIF:
		return "avif"
	case MimeGIF:
		return "gif"
	default:
		return "jpg"
	}
}

// MimeFromName guesses a MIME type from a file name's extension.
// It returns "" for unknown extensions.
func MimeFromName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".jfif":
		return MimeJPEG
	case ".png":
		return MimePNG
	case ".webp":
		return MimeWebP
	case ".avif":
		return MimeAVIF
	case ".gif":
		return MimeGIF
	case ".heic":
		return MimeHEIC
	case ".heif":
		return MimeHEIF
	default:
		return ""
	}
}

// IsSupportedMime reports whether the pipeline accepts a source of this type.
func IsSupportedMime(mimeType string) bool {
	switch normalizeMime(mimeType) {
	case MimeJPEG, MimePNG, MimeWebP, MimeAVIF, MimeGIF, MimeHEIC, MimeHEIF:
		return true
	default:
		return false
	}
}

func normalizeMime(mimeType string) string {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	if m == "image/jpg" || m == "image/pjpeg" {
		return MimeJPEG
	}
	return m
}
