package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies the reason a pipeline stage failed, so the dispatcher
// can record a consistent error taxonomy in tasks.error regardless of
// which stage produced it.
type Kind string

const (
	KindConfigurationInvalid Kind = "configuration_invalid"
	KindSourceNotFound       Kind = "source_not_found"
	KindUnsupportedURL       Kind = "unsupported_url"
	KindHTTPTransient        Kind = "http_transient"
	KindHTTPExhausted        Kind = "http_exhausted"
	KindParseError           Kind = "parse_error"
	KindFileSystemError      Kind = "filesystem_error"
	KindLockTimeout          Kind = "lock_timeout"
	KindTagError             Kind = "tag_error"
	KindLLMError             Kind = "llm_error"
	KindSkippedByUser        Kind = "skipped_by_user"
	KindCancelled            Kind = "cancelled"
)

// StageError is the one sum-typed error the pipeline produces: every
// stage wraps its underlying error in a StageError so the worker routine
// can branch on Kind without string-matching messages.
type StageError struct {
	Kind Kind
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(kind Kind, format string, args ...any) error {
	return &StageError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// AsStageErrorKind returns the Kind of the *StageError wrapped by err,
// returning ok=false if err doesn't wrap one (e.g. a plain context
// cancellation).
func AsStageErrorKind(err error) (Kind, bool) {
	var se *StageError
	if !errors.As(err, &se) {
		return "", false
	}
	return se.Kind, true
}
