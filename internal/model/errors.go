package model

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// Sentinel errors. Wrap them with eris and test with errors.Is.
var (
	ErrMalformedInput       = eris.New("malformed input")
	ErrMissingRequiredField = eris.New("missing required field")
	ErrCacheBuildFailure    = eris.New("cache build failure")
	ErrTimeoutExceeded      = eris.New("timeout exceeded")
	ErrUnsupportedFormat    = eris.New("unsupported format")
	ErrSourceTooLarge       = eris.New("source exceeds size limit")
	ErrAllSourcesFailed     = eris.New("all sources failed")
)

// ErrorKind classifies a recovered or file-level problem in a report.
type ErrorKind string

const (
	KindMalformedInput       ErrorKind = "malformed_input"
	KindRowParseError        ErrorKind = "row_parse_error"
	KindRecordParseError     ErrorKind = "record_parse_error"
	KindMissingRequiredField ErrorKind = "missing_required_field"
	KindNoTabularDataFound   ErrorKind = "no_tabular_data_found"
	KindCacheBuildFailure    ErrorKind = "cache_build_failure"
	KindTimeoutExceeded      ErrorKind = "timeout_exceeded"
	KindUnsupportedFormat    ErrorKind = "unsupported_format"
	KindSourceUnavailable    ErrorKind = "source_unavailable"
)

// RecordError describes one skipped record, or a file-level warning.
// Row and Page are 1-based; zero means not applicable.
type RecordError struct {
	Kind    ErrorKind `json:"kind"`
	Row     int       `json:"row,omitempty"`
	Page    int       `json:"page,omitempty"`
	Field   string    `json:"field,omitempty"`
	Message string    `json:"message"`
}

func (e RecordError) Error() string {
	switch {
	case e.Page > 0 && e.Row > 0:
		return fmt.Sprintf("%s: page %d row %d: %s", e.Kind, e.Page, e.Row, e.Message)
	case e.Page > 0:
		return fmt.Sprintf("%s: page %d: %s", e.Kind, e.Page, e.Message)
	case e.Row > 0:
		return fmt.Sprintf("%s: row %d: %s", e.Kind, e.Row, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// BuildError reports a failed cache build. It matches ErrCacheBuildFailure
// and still unwraps to the underlying cause.
type BuildError struct {
	Fingerprint string
	Err         error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("cache build %s: %v", e.Fingerprint, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrCacheBuildFailure) succeed.
func (e *BuildError) Is(target error) bool { return target == ErrCacheBuildFailure }

// KindOf maps a file-level error onto the report taxonomy.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrMalformedInput):
		return KindMalformedInput
	case errors.Is(err, ErrTimeoutExceeded):
		return KindTimeoutExceeded
	case errors.Is(err, ErrUnsupportedFormat):
		return KindUnsupportedFormat
	case errors.Is(err, ErrCacheBuildFailure):
		return KindCacheBuildFailure
	}
	return KindSourceUnavailable
}
