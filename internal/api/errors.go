package api

import (
	"errors"
	"net/http"

	"semlayer/internal/domain"
	"semlayer/internal/semantic"
)

// httpStatusFromError maps domain and compiler errors to HTTP status codes.
// Every compiler error is a client error: the request named a field, grain,
// or filter the model cannot satisfy.
func httpStatusFromError(err error) int {
	var notFound *domain.NotFoundError
	var validation *domain.ValidationError

	var unknownField *semantic.UnknownFieldError
	var ambiguousField *semantic.AmbiguousFieldError
	var invalidGrain *semantic.InvalidTimeGrainError
	var malformedFilter *semantic.MalformedFilterSpecError
	var badOperator *semantic.UnsupportedFilterOperatorError
	var emptyCompound *semantic.EmptyCompoundFilterError
	var circular *semantic.CircularMeasureError

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &validation),
		errors.As(err, &unknownField),
		errors.As(err, &ambiguousField),
		errors.As(err, &invalidGrain),
		errors.As(err, &malformedFilter),
		errors.As(err, &badOperator),
		errors.As(err, &emptyCompound),
		errors.As(err, &circular):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
