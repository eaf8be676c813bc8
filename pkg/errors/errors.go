package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the different kinds of failure a batch can run into
type ErrorType string

const (
	ErrorTypeItem         ErrorType = "item"
	ErrorTypeCheckpoint   ErrorType = "checkpoint"
	ErrorTypeMemorySample ErrorType = "memory_sample"
	ErrorTypeCancelled    ErrorType = "cancelled"
	ErrorTypeTimeout      ErrorType = "timeout"
	ErrorTypeConfig       ErrorType = "config"
	ErrorTypeCommand      ErrorType = "command"
	ErrorTypeUnknown      ErrorType = "unknown"
)

// Error carries a failure together with its type and, for item failures,
// the input index it belongs to. Index is -1 when not tied to an item.
type Error struct {
	Type    ErrorType
	Message string
	Index   int
	Err     error
}

func (e *Error) Error() string {
	if e.Index >= 0 {
		if e.Err != nil {
			return fmt.Sprintf("%s error (item %d): %s: %v", e.Type, e.Index, e.Message, e.Err)
		}
		return fmt.Sprintf("%s error (item %d): %s", e.Type, e.Index, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given type that is not bound to an item
func New(errorType ErrorType, message string, err error) *Error {
	return &Error{Type: errorType, Message: message, Index: -1, Err: err}
}

// Item wraps a work function failure for the item at index
func Item(index int, err error) *Error {
	return &Error{Type: ErrorTypeItem, Message: "work function failed", Index: index, Err: err}
}

// Checkpoint wraps a checkpoint I/O failure
func Checkpoint(message string, err error) *Error {
	return New(ErrorTypeCheckpoint, message, err)
}

// Timeout reports that an operation ran past its deadline
func Timeout(message string, err error) *Error {
	return New(ErrorTypeTimeout, message, err)
}

// TypeOf returns the ErrorType of err, or ErrorTypeUnknown when err is not an *Error
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// IsType reports whether any error in err's chain has the given type
func IsType(err error, errorType ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errorType {
			return true
		}
		err = e.Err
	}
	return false
}

// IsRetryable checks if an error type is worth retrying by the caller
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeTimeout, ErrorTypeCommand, ErrorTypeCheckpoint, ErrorTypeUnknown:
		return true
	case ErrorTypeCancelled, ErrorTypeConfig, ErrorTypeMemorySample:
		return false
	default:
		return false
	}
}
