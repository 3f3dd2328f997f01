package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrTypeConnection   ErrorType = "connection"
	ErrTypeIngestion    ErrorType = "ingestion"
	ErrTypeExecution    ErrorType = "execution"
	ErrTypeToolArgument ErrorType = "tool_argument"
	ErrTypeRender       ErrorType = "render"
	ErrTypeModel        ErrorType = "model"
	ErrTypeEmbedding    ErrorType = "embedding"
	ErrTypeValidation   ErrorType = "validation"
	ErrTypeNotFound     ErrorType = "not_found"
	ErrTypeConfig       ErrorType = "config"
	ErrTypeFileSystem   ErrorType = "filesystem"
	ErrTypeInternal     ErrorType = "internal"
)

// Error represents a structured error with type and optional suggestions
type Error struct {
	Type        ErrorType
	Message     string
	Cause       error
	Suggestions []string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithSuggestion adds a suggestion for resolving the error
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// New creates a new structured error
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// Newf creates a new structured error with formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with formatted message
func Wrapf(err error, errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.Type == errType
	}

	return false
}

// GetType returns the error type if it's a structured error
func GetType(err error) ErrorType {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.Type
	}

	return ErrTypeInternal
}

// UserMessage returns the text shown to a chat user: the message of the
// outermost structured error followed by its root cause, without type prefixes.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var structErr *Error
	if !errors.As(err, &structErr) {
		return err.Error()
	}

	if structErr.Cause == nil {
		return structErr.Message
	}

	cause := structErr.Cause
	for {
		next := errors.Unwrap(cause)
		if next == nil {
			break
		}
		cause = next
	}

	msg := cause.Error()
	if root, ok := cause.(*Error); ok {
		msg = root.Message
	}

	if strings.Contains(structErr.Message, msg) {
		return structErr.Message
	}

	return structErr.Message + ": " + msg
}

// NewConfigError creates a configuration error with suggestions
func NewConfigError(message, field string) *Error {
	err := New(ErrTypeConfig, message)
	if field != "" {
		err.Message = fmt.Sprintf("%s (field: %s)", message, field)
	}

	return err.
		WithSuggestion("Check your configuration file syntax").
		WithSuggestion("Run with --help to see valid configuration options")
}

// NewConnectionError reports an external database that could not be reached
func NewConnectionError(dbType string, cause error) *Error {
	return Wrapf(cause, ErrTypeConnection, "failed to connect to %s database", dbType).
		WithSuggestion("Check host, port and credentials").
		WithSuggestion("Verify the database accepts connections from this machine")
}

// NewIngestionError reports a file that could not be loaded into the workspace
func NewIngestionError(file string, cause error) *Error {
	return Wrapf(cause, ErrTypeIngestion, "failed to load %s", file).
		WithSuggestion("Make sure the file is a readable CSV with a header row")
}

// NewToolArgumentError reports a tool call whose arguments do not satisfy the tool schema
func NewToolArgumentError(toolName, message string) *Error {
	return Newf(ErrTypeToolArgument, "invalid arguments for tool %s: %s", toolName, message)
}
