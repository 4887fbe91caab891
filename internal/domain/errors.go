// Package domain defines the semantic manifest model, time granularities and the
// error taxonomy shared by the query compiler.
package domain

import (
	"errors"
	"fmt"
)

// NotFoundError indicates a manifest element was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates a structurally invalid manifest or configuration.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// InvalidQueryError indicates a query that cannot be satisfied against the model.
type InvalidQueryError struct {
	Message string
}

func (e *InvalidQueryError) Error() string { return e.Message }

// RequestTimeGranularityError indicates a requested time granularity that the
// queried metrics cannot be aggregated to.
type RequestTimeGranularityError struct {
	Message string
}

func (e *RequestTimeGranularityError) Error() string { return e.Message }

// NotImplementedError indicates a valid model shape the compiler does not handle yet.
type NotImplementedError struct {
	Message string
}

func (e *NotImplementedError) Error() string { return e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrInvalidQuery creates an InvalidQueryError with a formatted message.
func ErrInvalidQuery(format string, args ...interface{}) *InvalidQueryError {
	return &InvalidQueryError{Message: fmt.Sprintf(format, args...)}
}

// ErrRequestTimeGranularity creates a RequestTimeGranularityError with a formatted message.
func ErrRequestTimeGranularity(format string, args ...interface{}) *RequestTimeGranularityError {
	return &RequestTimeGranularityError{Message: fmt.Sprintf(format, args...)}
}

// ErrNotImplemented creates a NotImplementedError with a formatted message.
func ErrNotImplemented(format string, args ...interface{}) *NotImplementedError {
	return &NotImplementedError{Message: fmt.Sprintf(format, args...)}
}

// IsUserError reports whether err (or anything it wraps) is a user query error or
// an unsupported-configuration error. Such errors are surfaced verbatim and never
// retried at a lower optimization level.
func IsUserError(err error) bool {
	var (
		invalidQuery *InvalidQueryError
		granularity  *RequestTimeGranularityError
		notImpl      *NotImplementedError
		notFound     *NotFoundError
		validation   *ValidationError
	)
	return errors.As(err, &invalidQuery) ||
		errors.As(err, &granularity) ||
		errors.As(err, &notImpl) ||
		errors.As(err, &notFound) ||
		errors.As(err, &validation)
}
