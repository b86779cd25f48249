package sieve

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of error.
type ErrorType string

const (
	// ErrorTypeConfig marks a programming or configuration mistake by the
	// host application. These fail loudly at the point of misuse and are
	// never swallowed internally.
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeInput marks invalid user-supplied input (URL rules and the
	// like). The safe default applies: discard and show everything.
	ErrorTypeInput ErrorType = "input"
	// ErrorTypeInternal marks unexpected internal failures.
	ErrorTypeInternal ErrorType = "internal"
)

// Error codes.
const (
	ErrCodeUnsupportedRegexFlag = "UNSUPPORTED_REGEX_FLAG"
	ErrCodeInvalidCustomSort    = "INVALID_CUSTOM_SORT"
	ErrCodeNoUsableOperator     = "NO_USABLE_OPERATOR"
	ErrCodeInvalidFilterRules   = "INVALID_FILTER_RULES"
	ErrCodeInvalidSchema        = "INVALID_SCHEMA"
	ErrCodeInvalidView          = "INVALID_VIEW"
)

// EngineError is the unified error type of the query engine.
type EngineError struct {
	Type    ErrorType      `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Field   string         `json:"field,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *EngineError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s:%s] field '%s': %s", e.Type, e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// WithField adds field context to the error.
func (e *EngineError) WithField(field string) *EngineError {
	e.Field = field
	return e
}

// WithDetail adds a single detail to the error.
func (e *EngineError) WithDetail(key string, value any) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause adds a cause to the error.
func (e *EngineError) WithCause(cause error) *EngineError {
	e.Cause = cause
	return e
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *EngineError {
	return &EngineError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// NewUnsupportedRegexFlagError reports a regex flag other than "i" inside a
// filter fragment. Only case-insensitive matching can be lowered, so anything
// else is a contract violation by the caller.
func NewUnsupportedRegexFlagError(flags string) *EngineError {
	return NewConfigError(ErrCodeUnsupportedRegexFlag,
		fmt.Sprintf("unsupported regex flags %q: only the 'i' flag is supported", flags))
}

// NewInvalidCustomSortError reports a custom-sort override of the wrong shape.
// Override values must be a string or a non-empty string slice.
func NewInvalidCustomSortError(field string, value any) *EngineError {
	return NewConfigError(ErrCodeInvalidCustomSort,
		fmt.Sprintf("custom sort for '%s' must be a string or non-empty []string, got %T", field, value)).
		WithField(field)
}

// NewNoUsableOperatorError reports a filter fragment the server-query compiler
// cannot lower. There is no safe default here: an un-lowerable filter would
// otherwise silently stop filtering on the server.
func NewNoUsableOperatorError(fragment any) *EngineError {
	return NewConfigError(ErrCodeNoUsableOperator,
		"no usable operator found in filter fragment").
		WithDetail("fragment", fragment)
}

// NewInputError creates a user-input error.
func NewInputError(code, message string) *EngineError {
	return &EngineError{
		Type:    ErrorTypeInput,
		Code:    code,
		Message: message,
	}
}

// IsConfigError checks whether an error is a configuration error.
func IsConfigError(err error) bool {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Type == ErrorTypeConfig
	}
	return false
}

// IsInputError checks whether an error is a user-input error.
func IsInputError(err error) bool {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Type == ErrorTypeInput
	}
	return false
}
