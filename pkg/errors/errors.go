package errors

import "fmt"

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeNetwork        ErrorType = "network"
	ErrorTypeRateLimit      ErrorType = "rate_limit"
	ErrorTypeAuth           ErrorType = "auth"
	ErrorTypeParsing        ErrorType = "parsing"
	ErrorTypeStorage        ErrorType = "storage"
	ErrorTypeClassification ErrorType = "classification"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeServerError    ErrorType = "server_error"
	ErrorTypeUnknown        ErrorType = "unknown"
)

// Error represents a typed error with an optional protocol code
type Error struct {
	Type    ErrorType
	Message string
	Code    int
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

// New creates a typed error without a protocol code
func New(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// NewWithCode creates a typed error carrying an HTTP status code
func NewWithCode(errorType ErrorType, message string, code int) *Error {
	return &Error{Type: errorType, Message: message, Code: code}
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	case ErrorTypeAuth, ErrorTypeNotFound, ErrorTypeParsing, ErrorTypeStorage, ErrorTypeClassification:
		return false
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 429: // Too Many Requests
		return true
	case 500, 502, 503, 504: // Server errors
		return true
	case 401, 403, 404: // Client errors that won't change
		return false
	default:
		return statusCode >= 500 // Retry all 5xx errors
	}
}

// TypeFromStatusCode maps an HTTP status code to an error type
func TypeFromStatusCode(statusCode int) ErrorType {
	switch {
	case statusCode == 401 || statusCode == 403:
		return ErrorTypeAuth
	case statusCode == 404:
		return ErrorTypeNotFound
	case statusCode == 429:
		return ErrorTypeRateLimit
	case statusCode >= 500:
		return ErrorTypeServerError
	default:
		return ErrorTypeUnknown
	}
}
