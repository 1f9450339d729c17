package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorType classifies a failed exchange.
type ErrorType string

const (
	// ErrorTypeUnknownModel indicates no provider could be resolved for the
	// requested model. Fails fast, before any network call.
	ErrorTypeUnknownModel ErrorType = "unknown_model_error"
	// ErrorTypeProvider indicates an upstream provider failure.
	ErrorTypeProvider ErrorType = "provider_error"
	// ErrorTypeAccounting indicates tokenization or usage accounting failed
	// after a successful stream. The text is preserved; no cost is billed.
	ErrorTypeAccounting ErrorType = "accounting_error"
	// ErrorTypeInvalidRequest indicates a client error (4xx)
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeNotFound indicates a not found error (404)
	ErrorTypeNotFound ErrorType = "not_found_error"
)

// RouterError is the base error type for all gateway errors.
type RouterError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	Provider   string    `json:"provider,omitempty"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *RouterError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *RouterError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *RouterError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeUnknownModel, ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map
func (e *RouterError) ToJSON() map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"type":    e.Type,
			"message": e.Message,
		},
	}
}

// NewUnknownModelError creates an error for a model no provider can serve.
func NewUnknownModelError(model string) *RouterError {
	return &RouterError{
		Type:       ErrorTypeUnknownModel,
		Message:    "unknown model: " + model,
		StatusCode: http.StatusBadRequest,
	}
}

// NewProviderError creates a new provider error (upstream failure)
func NewProviderError(provider string, statusCode int, message string, err error) *RouterError {
	return &RouterError{
		Type:       ErrorTypeProvider,
		Message:    message,
		StatusCode: statusCode,
		Provider:   provider,
		Err:        err,
	}
}

// NewAccountingError creates an error for a post-stream accounting failure.
func NewAccountingError(provider string, message string, err error) *RouterError {
	return &RouterError{
		Type:       ErrorTypeAccounting,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Provider:   provider,
		Err:        err,
	}
}

// NewInvalidRequestError creates a new invalid request error (400)
func NewInvalidRequestError(message string, err error) *RouterError {
	return &RouterError{
		Type:       ErrorTypeInvalidRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

// NewNotFoundError creates a new not found error (404)
func NewNotFoundError(message string) *RouterError {
	return &RouterError{
		Type:       ErrorTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

// ParseProviderError parses an error response body from a provider and
// returns an appropriate RouterError. The upstream message is surfaced
// verbatim for diagnosability.
func ParseProviderError(provider string, statusCode int, body []byte, originalErr error) *RouterError {
	var errorResponse struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}

	message := string(body)
	if err := json.Unmarshal(body, &errorResponse); err == nil && errorResponse.Error.Message != "" {
		message = errorResponse.Error.Message
	}

	switch {
	case statusCode >= 400 && statusCode < 500:
		err := NewInvalidRequestError(message, originalErr)
		err.StatusCode = statusCode
		err.Provider = provider
		return err
	default:
		return NewProviderError(provider, http.StatusBadGateway, message, originalErr)
	}
}

// ClassifyError maps any error to its ErrorType, defaulting to
// ErrorTypeProvider for errors outside the taxonomy.
func ClassifyError(err error) ErrorType {
	var re *RouterError
	if errors.As(err, &re) {
		return re.Type
	}
	return ErrorTypeProvider
}
