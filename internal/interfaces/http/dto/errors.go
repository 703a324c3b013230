package dto

import (
	"net/http"

	"github.com/giadungplus/opscore/internal/domain/integration"
)

// Integration error codes, as returned by integration.ErrorCode
const (
	ErrCodeAuthInProgress        = "AUTH_IN_PROGRESS"
	ErrCodeAuthTimeout           = "AUTH_TIMEOUT"
	ErrCodeAuthFailed            = "AUTH_FAILED"
	ErrCodeAuthLost              = "AUTH_LOST"
	ErrCodeRemoteNotFound        = "REMOTE_NOT_FOUND"
	ErrCodeRemoteConflict        = "REMOTE_CONFLICT"
	ErrCodeRemoteRateLimited     = "REMOTE_RATE_LIMITED"
	ErrCodeRemoteUnavailable     = "REMOTE_UNAVAILABLE"
	ErrCodeRemoteInvalidResponse = "REMOTE_INVALID_RESPONSE"
	ErrCodePromotionDataInvalid  = "PROMOTION_DATA_INVALID"
	ErrCodeShopNotFound          = "SHOP_NOT_FOUND"
	ErrCodeInternal              = "INTERNAL_ERROR"
)

// Request error codes
const (
	ErrCodeBadRequest   = "BAD_REQUEST"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeBusy         = "BUSY"
	ErrCodeTimeout      = "TIMEOUT"
	ErrCodeBodyTooLarge = "REQUEST_TOO_LARGE"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes.
// Remote failures surface as gateway errors; the operator reads the logs.
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeAuthInProgress:        http.StatusServiceUnavailable,
	ErrCodeAuthTimeout:           http.StatusGatewayTimeout,
	ErrCodeAuthFailed:            http.StatusBadGateway,
	ErrCodeAuthLost:              http.StatusBadGateway,
	ErrCodeRemoteNotFound:        http.StatusNotFound,
	ErrCodeRemoteConflict:        http.StatusConflict,
	ErrCodeRemoteRateLimited:     http.StatusTooManyRequests,
	ErrCodeRemoteUnavailable:     http.StatusBadGateway,
	ErrCodeRemoteInvalidResponse: http.StatusBadGateway,
	ErrCodePromotionDataInvalid:  http.StatusServiceUnavailable,
	ErrCodeShopNotFound:          http.StatusNotFound,
	ErrCodeInternal:              http.StatusInternalServerError,

	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeNotFound:     http.StatusNotFound,
	ErrCodeBusy:         http.StatusConflict,
	ErrCodeTimeout:      http.StatusGatewayTimeout,
	ErrCodeBodyTooLarge: http.StatusRequestEntityTooLarge,
}

// GetHTTPStatus returns the HTTP status code for an error code.
// Unknown codes map to 500.
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// FromError builds the error envelope and status for err
func FromError(err error, requestID string) (int, Response) {
	code := integration.ErrorCode(err)
	message := err.Error()
	if code == ErrCodeInternal {
		message = "An unexpected error occurred"
	}
	return GetHTTPStatus(code), NewErrorResponseWithRequestID(code, message, requestID)
}
