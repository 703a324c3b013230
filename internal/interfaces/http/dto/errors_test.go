package dto

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giadungplus/opscore/internal/domain/integration"
	"github.com/giadungplus/opscore/internal/infrastructure/sapo"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		code     string
		expected int
	}{
		{ErrCodeAuthInProgress, http.StatusServiceUnavailable},
		{ErrCodeAuthTimeout, http.StatusGatewayTimeout},
		{ErrCodeAuthFailed, http.StatusBadGateway},
		{ErrCodeAuthLost, http.StatusBadGateway},
		{ErrCodeRemoteNotFound, http.StatusNotFound},
		{ErrCodeRemoteConflict, http.StatusConflict},
		{ErrCodeRemoteRateLimited, http.StatusTooManyRequests},
		{ErrCodeRemoteUnavailable, http.StatusBadGateway},
		{ErrCodePromotionDataInvalid, http.StatusServiceUnavailable},
		{ErrCodeBadRequest, http.StatusBadRequest},
		{ErrCodeUnauthorized, http.StatusUnauthorized},
		{ErrCodeInternal, http.StatusInternalServerError},
		{"UNKNOWN_CODE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetHTTPStatus(tt.code))
		})
	}
}

func TestFromError(t *testing.T) {
	status, resp := FromError(fmt.Errorf("%w: order 7", integration.ErrRemoteNotFound), "req-1")
	assert.Equal(t, http.StatusNotFound, status)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeRemoteNotFound, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "order 7")
	assert.Equal(t, "req-1", resp.Error.RequestID)

	status, resp = FromError(errors.New("database password is hunter2"), "")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, ErrCodeInternal, resp.Error.Code)
	assert.NotContains(t, resp.Error.Message, "hunter2")
}

func TestErrorCodesMatchIntegration(t *testing.T) {
	sentinels := []error{
		integration.ErrAuthInProgress,
		integration.ErrAuthTimeout,
		integration.ErrAuthFailed,
		integration.ErrAuthLost,
		integration.ErrRemoteNotFound,
		integration.ErrRemoteConflict,
		integration.ErrRemoteRateLimited,
		integration.ErrRemoteUnavailable,
		integration.ErrRemoteInvalidResponse,
		integration.ErrPromotionDataInvalid,
		integration.ErrShopNotFound,
	}
	for _, err := range sentinels {
		_, ok := ErrorCodeHTTPStatus[integration.ErrorCode(err)]
		assert.True(t, ok, "no status for %v", err)
	}
}

func TestErrorResponseJSON(t *testing.T) {
	data, err := json.Marshal(NewErrorResponse(ErrCodeBadRequest, "limit must be positive"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":{"code":"BAD_REQUEST","message":"limit must be positive"}}`, string(data))
}

func TestNewSessionStatusResponse(t *testing.T) {
	at := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)
	valid := sapo.SessionStatus{Kind: integration.SessionCore, State: integration.SessionStateValid, CapturedAt: &at}
	loading := sapo.SessionStatus{Kind: integration.SessionMarketplace, State: integration.SessionStateInit, Loading: true}

	assert.True(t, NewSessionStatusResponse([]sapo.SessionStatus{valid, valid}).Ready)
	assert.False(t, NewSessionStatusResponse([]sapo.SessionStatus{valid, loading}).Ready)
	assert.False(t, NewSessionStatusResponse(nil).Ready)
}
