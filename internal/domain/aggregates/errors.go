package aggregates

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode standardizes failure semantics across the course builder.
type ErrorCode string

const (
	CodeValidation           ErrorCode = "validation"
	CodeNotFound             ErrorCode = "not_found"
	CodeConflict             ErrorCode = "conflict"
	CodeStaleState           ErrorCode = "stale_state"
	CodeBusy                 ErrorCode = "busy"
	CodeGenerationInProgress ErrorCode = "generation_in_progress"
	CodeParseFailure         ErrorCode = "parse_failure"
	CodeAIUnavailable        ErrorCode = "ai_unavailable"
	CodePartialGeneration    ErrorCode = "partial_generation"
	CodeInvariantViolation   ErrorCode = "invariant_violation"
	CodeRetryable            ErrorCode = "retryable"
	CodeCanceled             ErrorCode = "canceled"
	CodeStorage              ErrorCode = "storage"
	CodeInternal             ErrorCode = "internal"
)

// Error is the canonical error wrapper. CorrelationID is set for storage and
// internal failures so operators can match a user report to log lines.
type Error struct {
	Code          ErrorCode
	Op            string
	Message       string
	Cause         error
	CorrelationID string
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	op := strings.TrimSpace(e.Op)
	msg := strings.TrimSpace(e.Message)
	var s string
	switch {
	case op != "" && msg != "":
		s = fmt.Sprintf("%s: %s (%s)", op, msg, e.Code)
	case op != "":
		s = fmt.Sprintf("%s (%s)", op, e.Code)
	case msg != "":
		s = fmt.Sprintf("%s (%s)", msg, e.Code)
	default:
		s = string(e.Code)
	}
	if e.CorrelationID != "" {
		s += " [correlation_id=" + e.CorrelationID + "]"
	}
	return s
}

func (e *Error) Unwrap() error { return e.Cause }

func NewError(code ErrorCode, op, message string, cause error) error {
	return &Error{
		Code:    code,
		Op:      strings.TrimSpace(op),
		Message: strings.TrimSpace(message),
		Cause:   cause,
	}
}

// Wrap annotates err with a code, keeping an existing *Error untouched.
func Wrap(code ErrorCode, op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) && existing.Code == code {
		return err
	}
	return NewError(code, op, err.Error(), err)
}

// WithCorrelation stamps id on the outermost *Error in err.
func WithCorrelation(err error, id string) error {
	var aggErr *Error
	if err == nil || !errors.As(err, &aggErr) {
		return err
	}
	if aggErr.CorrelationID == "" {
		aggErr.CorrelationID = strings.TrimSpace(id)
	}
	return err
}

func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

func CodeOf(err error) ErrorCode {
	var aggErr *Error
	if !errors.As(err, &aggErr) {
		return ""
	}
	return aggErr.Code
}

func CorrelationOf(err error) string {
	var aggErr *Error
	if !errors.As(err, &aggErr) {
		return ""
	}
	return aggErr.CorrelationID
}

// MessageOf returns the user-facing message of the outermost *Error.
func MessageOf(err error) string {
	var aggErr *Error
	if errors.As(err, &aggErr) && aggErr.Message != "" {
		return aggErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
