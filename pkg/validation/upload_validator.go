package validation

import (
	"mime/multipart"
	"strings"

	apperrors "go-gender-classifier/internal/errors"
)

// UploadValidator checks multipart file parts before any bytes are read.
// It only inspects part metadata; decoding and content checks happen later
// in the prediction pipeline.
type UploadValidator struct {
	maxFileSize int64
}

// NewUploadValidator creates a validator enforcing the given per-file size
// limit. A limit of zero disables the size check.
func NewUploadValidator(maxFileSize int64) *UploadValidator {
	return &UploadValidator{maxFileSize: maxFileSize}
}

// Validate rejects parts that are empty, oversized, or not declared as an
// image. Returns a validation AppError describing the first problem found.
func (v *UploadValidator) Validate(file *multipart.FileHeader) error {
	if file == nil {
		return apperrors.NewValidationError("image file is required", nil)
	}
	if file.Size == 0 {
		return apperrors.NewValidationError("uploaded file is empty", nil)
	}
	if v.maxFileSize > 0 && file.Size > v.maxFileSize {
		return apperrors.NewValidationError("uploaded file exceeds the size limit", nil)
	}
	if !strings.HasPrefix(file.Header.Get("Content-Type"), "image/") {
		return apperrors.NewValidationError("File must be an image", nil)
	}
	return nil
}
