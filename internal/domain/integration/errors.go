package integration

import "errors"

// Authentication errors
var (
	// ErrAuthInProgress is returned when a login is running elsewhere and the caller chose not to wait
	ErrAuthInProgress = errors.New("integration: login in progress")

	// ErrAuthTimeout is returned when a waiter passed its deadline before a concurrent login finished
	ErrAuthTimeout = errors.New("integration: timed out waiting for login")

	// ErrAuthFailed is returned when a login attempt did not produce usable credentials
	ErrAuthFailed = errors.New("integration: login failed")

	// ErrAuthLost is returned when a remote kept rejecting credentials after all auth retries
	ErrAuthLost = errors.New("integration: authentication lost")
)

// Remote errors
var (
	// ErrRemoteNotFound is returned when the remote resource does not exist
	ErrRemoteNotFound = errors.New("integration: remote resource not found")

	// ErrRemoteConflict is returned when the remote refused the requested transition
	ErrRemoteConflict = errors.New("integration: remote refused the transition")

	// ErrRemoteRateLimited is returned when the remote throttled the caller
	ErrRemoteRateLimited = errors.New("integration: remote rate limited")

	// ErrRemoteUnavailable is returned for transport failures and 5xx responses
	ErrRemoteUnavailable = errors.New("integration: remote unavailable")

	// ErrRemoteInvalidResponse is returned when a response body cannot be decoded
	ErrRemoteInvalidResponse = errors.New("integration: invalid remote response")
)

// Data errors
var (
	// ErrPromotionDataInvalid is returned when the cached promotion catalogue cannot be parsed
	ErrPromotionDataInvalid = errors.New("integration: promotion data invalid")

	// ErrShopNotFound is returned when no Shopee shop is registered for a connection
	ErrShopNotFound = errors.New("integration: shop not found")
)

// IsAuthError reports whether err belongs to the authentication family.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuthInProgress) ||
		errors.Is(err, ErrAuthTimeout) ||
		errors.Is(err, ErrAuthFailed) ||
		errors.Is(err, ErrAuthLost)
}

// ErrorCode returns the stable code exposed to the web layer for err.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthInProgress):
		return "AUTH_IN_PROGRESS"
	case errors.Is(err, ErrAuthTimeout):
		return "AUTH_TIMEOUT"
	case errors.Is(err, ErrAuthFailed):
		return "AUTH_FAILED"
	case errors.Is(err, ErrAuthLost):
		return "AUTH_LOST"
	case errors.Is(err, ErrRemoteNotFound):
		return "REMOTE_NOT_FOUND"
	case errors.Is(err, ErrRemoteConflict):
		return "REMOTE_CONFLICT"
	case errors.Is(err, ErrRemoteRateLimited):
		return "REMOTE_RATE_LIMITED"
	case errors.Is(err, ErrRemoteUnavailable):
		return "REMOTE_UNAVAILABLE"
	case errors.Is(err, ErrRemoteInvalidResponse):
		return "REMOTE_INVALID_RESPONSE"
	case errors.Is(err, ErrPromotionDataInvalid):
		return "PROMOTION_DATA_INVALID"
	case errors.Is(err, ErrShopNotFound):
		return "SHOP_NOT_FOUND"
	default:
		return "INTERNAL_ERROR"
	}
}
