package errors

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeUnauthorized ErrorCode = "AUTH_001"
	CodeTokenExpired ErrorCode = "AUTH_002"
	CodeTokenInvalid ErrorCode = "AUTH_003"

	CodeInvalidRequest       ErrorCode = "VALIDATION_001"
	CodeMissingRequiredField ErrorCode = "VALIDATION_002"
	CodeInvalidFieldFormat   ErrorCode = "VALIDATION_003"
	CodeInvalidAmount        ErrorCode = "VALIDATION_004"
	CodeInvalidDays          ErrorCode = "VALIDATION_005"
	CodeInvalidTravelers     ErrorCode = "VALIDATION_006"

	CodeTripNotFound     ErrorCode = "NOT_FOUND_001"
	CodeItemNotFound     ErrorCode = "NOT_FOUND_002"
	CodeExpenseNotFound  ErrorCode = "NOT_FOUND_003"
	CodeLocationNotFound ErrorCode = "NOT_FOUND_004"

	CodeNoActiveTrip  ErrorCode = "TRIP_001"
	CodeDayOutOfRange ErrorCode = "TRIP_002"

	CodeExternalServiceError ErrorCode = "EXTERNAL_001"
	CodePersistenceError     ErrorCode = "EXTERNAL_002"
	CodeAIServiceError       ErrorCode = "EXTERNAL_003"
	CodeLocationServiceError ErrorCode = "EXTERNAL_004"

	CodeInternalError ErrorCode = "INTERNAL_001"
)

type ErrorType int

const (
	ErrorTypeUnauthorized ErrorType = iota
	ErrorTypeForbidden
	ErrorTypeBadRequest
	ErrorTypeNotFound
	ErrorTypeConflict
	ErrorTypeUnprocessable
	ErrorTypeInternal
	ErrorTypeServiceUnavailable
)

type AppError struct {
	Type    ErrorType `json:"-"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches on code so sentinel values like ErrNoActiveTrip work with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

var ErrNoActiveTrip = &AppError{
	Type:    ErrorTypeConflict,
	Code:    CodeNoActiveTrip,
	Message: "No trip is currently selected. Complete trip setup first.",
}

func Unauthorized(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeUnauthorized,
		Code:    CodeUnauthorized,
		Message: message,
	}
}

func TokenExpired() *AppError {
	return &AppError{
		Type:    ErrorTypeUnauthorized,
		Code:    CodeTokenExpired,
		Message: "Your session has expired. Please log in again.",
	}
}

func TokenInvalid() *AppError {
	return &AppError{
		Type:    ErrorTypeUnauthorized,
		Code:    CodeTokenInvalid,
		Message: "Invalid authentication token.",
	}
}

func InvalidRequest(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeBadRequest,
		Code:    CodeInvalidRequest,
		Message: message,
	}
}

func InvalidRequestWithDetails(message, details string) *AppError {
	return &AppError{
		Type:    ErrorTypeBadRequest,
		Code:    CodeInvalidRequest,
		Message: message,
		Details: details,
	}
}

func MissingRequiredField(fieldName string) *AppError {
	return &AppError{
		Type:    ErrorTypeBadRequest,
		Code:    CodeMissingRequiredField,
		Message: fmt.Sprintf("%s is required", fieldName),
	}
}

func InvalidFieldFormat(fieldName, expectedFormat string) *AppError {
	return &AppError{
		Type:    ErrorTypeBadRequest,
		Code:    CodeInvalidFieldFormat,
		Message: fmt.Sprintf("Invalid format for %s.", fieldName),
		Details: fmt.Sprintf("Expected format: %s", expectedFormat),
	}
}

func InvalidAmount(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeBadRequest,
		Code:    CodeInvalidAmount,
		Message: message,
	}
}

func InvalidDays(min, max int) *AppError {
	return &AppError{
		Type:    ErrorTypeBadRequest,
		Code:    CodeInvalidDays,
		Message: fmt.Sprintf("Days must be between %d and %d", min, max),
	}
}

func InvalidTravelers() *AppError {
	return &AppError{
		Type:    ErrorTypeBadRequest,
		Code:    CodeInvalidTravelers,
		Message: "At least one traveler is required.",
	}
}

func TripNotFound() *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Code:    CodeTripNotFound,
		Message: "Trip not found.",
	}
}

func ItemNotFound() *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Code:    CodeItemNotFound,
		Message: "Itinerary item not found.",
	}
}

func ExpenseNotFound() *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Code:    CodeExpenseNotFound,
		Message: "Expense not found.",
	}
}

func LocationNotFound() *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Code:    CodeLocationNotFound,
		Message: "Location not found",
	}
}

func DayOutOfRange(day, days int) *AppError {
	return &AppError{
		Type:    ErrorTypeBadRequest,
		Code:    CodeDayOutOfRange,
		Message: fmt.Sprintf("Day %d is outside the trip (%d days).", day, days),
	}
}

func PersistenceError(operation string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeServiceUnavailable,
		Code:    CodePersistenceError,
		Message: "Trip data could not be synced. Changes are kept locally.",
		Details: operation,
		Err:     err,
	}
}

func AIServiceError(err error) *AppError {
	return &AppError{
		Type:    ErrorTypeServiceUnavailable,
		Code:    CodeAIServiceError,
		Message: "AI service is temporarily unavailable. Please try again later.",
		Err:     err,
	}
}

func LocationServiceError(operation string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeServiceUnavailable,
		Code:    CodeLocationServiceError,
		Message: "Location service is temporarily unavailable.",
		Details: operation,
		Err:     err,
	}
}

func InternalError(err error) *AppError {
	return &AppError{
		Type:    ErrorTypeInternal,
		Code:    CodeInternalError,
		Message: "An unexpected error occurred. Please try again.",
		Err:     err,
	}
}

func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func GetHTTPStatus(errType ErrorType) int {
	switch errType {
	case ErrorTypeUnauthorized:
		return 401
	case ErrorTypeForbidden:
		return 403
	case ErrorTypeBadRequest:
		return 400
	case ErrorTypeNotFound:
		return 404
	case ErrorTypeConflict:
		return 409
	case ErrorTypeUnprocessable:
		return 422
	case ErrorTypeServiceUnavailable:
		return 503
	default:
		return 500
	}
}
