package artifact

import (
	"fmt"
)

// RequiredFiles is the fixed set of files a complete model bundle consists of.
// A cache directory is only treated as a usable bundle when every one of
// these is present.
var RequiredFiles = []string{
	"classifier.onnx",
	"classifier_config.json",
	"preprocessor_config.json",
	"detector.onnx",
	"detector_config.json",
}

// ErrorKind categorizes artifact fetch failures
type ErrorKind string

const (
	ErrMissingFile ErrorKind = "missing_file"
	ErrNetwork     ErrorKind = "network_error"
	ErrPermission  ErrorKind = "permission_error"
)

// FetchError reports the first file that could not be downloaded and why
type FetchError struct {
	Kind ErrorKind
	File string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("artifact fetch failed (%s): %s: %v", e.Kind, e.File, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
