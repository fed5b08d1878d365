package errors

import (
	"fmt"
	"net/http"
)

// NewValidationError creates a validation error with field context
func NewValidationError(field, value, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithContext("value", value).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Database operation failed")
}

// NewStoreIntegrityError marks an unexpected persistence failure. It is fatal
// to the current operation only.
func NewStoreIntegrityError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeStoreIntegrity, fmt.Sprintf("store %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("❌ Storage error. Please try again later.")
}

// NewTransportError creates a transient transport error. statusCode is 0 when
// the request never reached the server.
func NewTransportError(operation, endpoint string, statusCode int, err error) *AppError {
	appErr := Wrap(err, ErrCodeTransportTransient, fmt.Sprintf("signal %s failed", operation)).
		WithContext("operation", operation).
		WithContext("endpoint", endpoint)
	if statusCode != 0 {
		appErr.WithContext("status_code", statusCode)
	}
	appErr.Retryable = statusCode == 0 || statusCode >= 500 || statusCode == 429 || statusCode == 408
	return appErr
}

// NewBackendUnavailableError reports a failed or timed out summarization call.
// It is never retried within the same run.
func NewBackendUnavailableError(backend string, err error) *AppError {
	return Wrap(err, ErrCodeBackendUnavailable, fmt.Sprintf("%s backend unavailable", backend)).
		WithContext("backend", backend).
		WithUserMessage("❌ Summary service unavailable. Try again later.")
}

// NewPermissionDeniedError rejects an admin-only command.
func NewPermissionDeniedError(command string) *AppError {
	return New(ErrCodePermissionDenied, "command requires group admin").
		WithContext("command", command).
		WithUserMessage("🔒 This command is admin-only. Ask a room admin to run it.")
}

// NewPolicyConflictError rejects an invalid policy value without mutating state.
func NewPolicyConflictError(setting, value, userMessage string) *AppError {
	return New(ErrCodePolicyConflict, fmt.Sprintf("invalid %s value", setting)).
		WithContext("setting", setting).
		WithContext("value", value).
		WithUserMessage(userMessage)
}

// NewTimeoutError creates a timeout error with context
func NewTimeoutError(operation string, duration string) *AppError {
	return New(ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithContext("operation", operation).
		WithContext("timeout", duration).
		WithUserMessage("Operation timed out, please try again")
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// HTTPStatusCode maps error codes to HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeValidationFailed, ErrCodeInvalidInput, ErrCodeInvalidConfig, ErrCodePolicyConflict:
		return http.StatusBadRequest
	case ErrCodePermissionDenied:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeTimeout:
		return http.StatusRequestTimeout
	case ErrCodeTransportTransient, ErrCodeBackendUnavailable:
		if IsRetryable(err) {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	case ErrCodeDatabaseConnection, ErrCodeDatabaseQuery, ErrCodeDatabaseMigration, ErrCodeStoreIntegrity:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the JSON body written for failed API requests
type HTTPErrorResponse struct {
	Error struct {
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Context interface{} `json:"context,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{
		RequestID: requestID,
	}

	response.Error.Code = GetCode(err)
	response.Error.Message = GetUserMessage(err)

	if appErr, ok := As(err); ok && len(appErr.Context) > 0 {
		publicContext := make(map[string]interface{})
		for k, v := range appErr.Context {
			if k != "sender_id" && k != "token" && k != "secret" {
				publicContext[k] = v
			}
		}
		if len(publicContext) > 0 {
			response.Error.Context = publicContext
		}
	}

	return response
}
