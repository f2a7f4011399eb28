package semantic

import "fmt"

// Compile-time errors are a deterministic function of model plus request:
// they fail fast, are never retried, and carry no backend state. Execution
// errors from the database layer propagate untouched.

// UnknownFieldError indicates a group key, measure, filter, or order-by
// field absent from the merged namespace after exact-then-suffix resolution.
type UnknownFieldError struct {
	Message string
}

func (e *UnknownFieldError) Error() string { return e.Message }

// AmbiguousFieldError indicates an unprefixed lookup whose suffix matches
// fields on more than one joined table.
type AmbiguousFieldError struct {
	Message string
}

func (e *AmbiguousFieldError) Error() string { return e.Message }

// InvalidTimeGrainError indicates an unrecognized grain literal or a grain
// finer than a dimension's configured minimum.
type InvalidTimeGrainError struct {
	Message string
}

func (e *InvalidTimeGrainError) Error() string { return e.Message }

// MalformedFilterSpecError indicates a spec with the wrong shape: a filter
// missing required keys for its operator, a request using a measure where a
// dimension belongs, or a definition with a missing or non-aggregate
// expression.
type MalformedFilterSpecError struct {
	Message string
}

func (e *MalformedFilterSpecError) Error() string { return e.Message }

// UnsupportedFilterOperatorError indicates a comparison operator outside
// the supported set.
type UnsupportedFilterOperatorError struct {
	Message string
}

func (e *UnsupportedFilterOperatorError) Error() string { return e.Message }

// EmptyCompoundFilterError indicates an AND/OR with no children.
type EmptyCompoundFilterError struct {
	Message string
}

func (e *EmptyCompoundFilterError) Error() string { return e.Message }

// CircularMeasureError indicates a calculated measure that references
// itself, directly or through other calculated measures.
type CircularMeasureError struct {
	Message string
}

func (e *CircularMeasureError) Error() string { return e.Message }

// ErrUnknownField creates an UnknownFieldError with a formatted message.
func ErrUnknownField(format string, args ...interface{}) *UnknownFieldError {
	return &UnknownFieldError{Message: fmt.Sprintf(format, args...)}
}

// ErrAmbiguousField creates an AmbiguousFieldError with a formatted message.
func ErrAmbiguousField(format string, args ...interface{}) *AmbiguousFieldError {
	return &AmbiguousFieldError{Message: fmt.Sprintf(format, args...)}
}

// ErrInvalidTimeGrain creates an InvalidTimeGrainError with a formatted message.
func ErrInvalidTimeGrain(format string, args ...interface{}) *InvalidTimeGrainError {
	return &InvalidTimeGrainError{Message: fmt.Sprintf(format, args...)}
}

// ErrMalformedFilterSpec creates a MalformedFilterSpecError with a formatted message.
func ErrMalformedFilterSpec(format string, args ...interface{}) *MalformedFilterSpecError {
	return &MalformedFilterSpecError{Message: fmt.Sprintf(format, args...)}
}

// ErrUnsupportedFilterOperator creates an UnsupportedFilterOperatorError with a formatted message.
func ErrUnsupportedFilterOperator(format string, args ...interface{}) *UnsupportedFilterOperatorError {
	return &UnsupportedFilterOperatorError{Message: fmt.Sprintf(format, args...)}
}

// ErrEmptyCompoundFilter creates an EmptyCompoundFilterError with a formatted message.
func ErrEmptyCompoundFilter(format string, args ...interface{}) *EmptyCompoundFilterError {
	return &EmptyCompoundFilterError{Message: fmt.Sprintf(format, args...)}
}

// ErrCircularMeasure creates a CircularMeasureError with a formatted message.
func ErrCircularMeasure(format string, args ...interface{}) *CircularMeasureError {
	return &CircularMeasureError{Message: fmt.Sprintf(format, args...)}
}
