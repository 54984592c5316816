package conversion

import (
	stderrors "errors"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeInvalidTransition = "CNV_INVALID_TRANSITION"
	ErrCodeUnknownSignal     = "CNV_UNKNOWN_SIGNAL"
	ErrCodeJobNotFound       = "CNV_JOB_NOT_FOUND"
	ErrCodeJobFinished       = "CNV_JOB_FINISHED"
	ErrCodeCancelRequested   = "CNV_CANCEL_REQUESTED"
	ErrCodeRetryExhausted    = "CNV_RETRY_EXHAUSTED"
	ErrCodeVersionConflict   = "CNV_VERSION_CONFLICT"
	ErrCodePrecondition      = "CNV_PRECONDITION_FAILED"
	ErrCodeFatal             = "CNV_FATAL"
)

var (
	ErrInvalidTransition = apperrors.New("signal not legal from current state", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeInvalidTransition)
	ErrUnknownSignal = apperrors.New("signal not present in transition table", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeUnknownSignal)
	ErrJobNotFound = apperrors.New("job not found", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeJobNotFound)
	ErrJobFinished = apperrors.New("job already reached terminal state", apperrors.CategoryConflict).
			WithTextCode(ErrCodeJobFinished)
	ErrCancelRequested = apperrors.New("task requested cancellation", apperrors.CategoryExternal).
				WithTextCode(ErrCodeCancelRequested)
	ErrRetryExhausted = apperrors.New("state retry budget exhausted", apperrors.CategoryHandler).
				WithTextCode(ErrCodeRetryExhausted)
	ErrVersionConflict = apperrors.New("job version conflict", apperrors.CategoryConflict).
				WithTextCode(ErrCodeVersionConflict)
	ErrPrecondition = apperrors.New("precondition failed", apperrors.CategoryBadInput).
			WithTextCode(ErrCodePrecondition)
	ErrFatal = apperrors.New("fatal job failure", apperrors.CategoryHandler).
			WithTextCode(ErrCodeFatal)
)

// CloneError derives a contextualized error from one of the package
// sentinels, preserving the text code while attaching message, source and
// metadata.
func CloneError(base *apperrors.Error, message string, source error, metadata map[string]any) *apperrors.Error {
	if base == nil {
		base = ErrPrecondition
	}
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// ErrorCode extracts the text code from a wrapped sentinel, or "".
func ErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// IsCancelRequested reports whether err carries the cancel-requested code.
func IsCancelRequested(err error) bool {
	return ErrorCode(err) == ErrCodeCancelRequested
}

// IsFatal reports whether err carries the fatal code; fatal failures skip the
// abort overlay and finish the job directly.
func IsFatal(err error) bool {
	return ErrorCode(err) == ErrCodeFatal
}
