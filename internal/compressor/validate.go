package compressor

import (
	"fmt"

	"pixsqueeze/internal/heic"
	"pixsqueeze/internal/media"
	"pixsqueeze/internal/statistics"
)

// Validate checks a selected file against limits. The HEIC ceiling is checked
// before the general size ceiling, and both before the type check.
// Accepted files may still carry warnings.
func Validate(src *media.SourceImage, limits Limits) ([]media.Warning, error) {
	isHeic := heic.IsHeic(src)

	if isHeic && src.Size > limits.MaxHEICSize {
		return nil, media.WrapValidation("validate", fmt.Errorf("%w (%s is %s)",
			media.ErrHEICTooLarge, src.Name, statistics.FormatSize(src.Size)))
	}
	if src.Size > limits.MaxFileSize {
		return nil, media.WrapValidation("validate", fmt.Errorf("%w of %s (%s is %s)",
			media.ErrFileTooLarge, statistics.FormatSize(limits.MaxFileSize), src.Name, statistics.FormatSize(src.Size)))
	}
	if !isHeic && !media.IsSupportedMime(src.MimeType) && !media.IsSupportedMime(media.MimeFromName(src.Name)) {
		return nil, media.WrapValidation("validate", media.ErrUnsupportedType)
	}

	var warnings []media.Warning
	if isHeic {
		warnings = append(warnings, media.WarnHEICDetected)
	}
	if src.Size > limits.WarnFileSize {
		warnings = append(warnings, media.WarnLargeFile)
	}
	return warnings, nil
}

// ValidateBatch rejects a selection whose combined size exceeds the batch limit.
func ValidateBatch(sources []*media.SourceImage, limits Limits) error {
	var total int64
	for _, src := range sources {
		total += src.Size
	}
	if total > limits.MaxBatchSize {
		return media.WrapValidation("validate", fmt.Errorf("%w of %s (selected %s)",
			media.ErrBatchTooLarge, statistics.FormatSize(limits.MaxBatchSize), statistics.FormatSize(total)))
	}
	return nil
}
