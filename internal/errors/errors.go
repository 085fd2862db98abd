// Package errors defines coded application errors shared by the ingestion
// pipeline, its storage layer and the CLI and bot front ends.
package errors

import (
	"errors"
	"fmt"
)

// Standard error codes for the application.
const (
	CodeUnknown    = "UNKNOWN"
	CodeDatabase   = "DATABASE"
	CodeValidation = "VALIDATION"
	CodeConfig     = "CONFIG"
	CodeParse      = "PARSE"
)

// ApplicationError is the interface that all our custom errors implement.
type ApplicationError interface {
	error
	Code() string
	Unwrap() error
}

// Error represents a basic application error.
type Error struct {
	code    string
	message string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.message, e.err)
	}

	return e.message
}

func (e *Error) Code() string {
	return e.code
}

func (e *Error) Unwrap() error {
	return e.err
}

// Code returns the code of the first ApplicationError in err's chain,
// or CodeUnknown if it doesn't carry one.
func Code(err error) string {
	var appErr ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Code()
	}

	return CodeUnknown
}

// NewDatabaseError marks a storage failure that aborted an operation.
func NewDatabaseError(message string, cause error) error {
	return &Error{code: CodeDatabase, message: message, err: cause}
}

// NewValidationError marks invalid caller input.
func NewValidationError(message string, cause error) error {
	return &Error{code: CodeValidation, message: message, err: cause}
}

// NewConfigError marks an unusable configuration.
func NewConfigError(message string, cause error) error {
	return &Error{code: CodeConfig, message: message, err: cause}
}

// NewParseError marks an export that could not be read.
func NewParseError(message string, cause error) error {
	return &Error{code: CodeParse, message: message, err: cause}
}
