package sapo

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/giadungplus/opscore/internal/domain/integration"
)

func TestStatusError(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusOK, nil},
		{http.StatusCreated, nil},
		{http.StatusBadRequest, integration.ErrRemoteConflict},
		{http.StatusConflict, integration.ErrRemoteConflict},
		{http.StatusNotFound, integration.ErrRemoteNotFound},
		{http.StatusTooManyRequests, integration.ErrRemoteRateLimited},
		{http.StatusInternalServerError, integration.ErrRemoteUnavailable},
		{http.StatusServiceUnavailable, integration.ErrRemoteUnavailable},
	}
	for _, tt := range tests {
		err := StatusError(tt.status, []byte("body"))
		if tt.want == nil {
			assert.NoError(t, err, "status %d", tt.status)
			continue
		}
		assert.ErrorIs(t, err, tt.want, "status %d", tt.status)
	}
}

func TestStatusError_TruncatesBody(t *testing.T) {
	err := StatusError(http.StatusBadRequest, []byte(strings.Repeat("x", 500)))
	assert.Less(t, len(err.Error()), 300)
	assert.True(t, strings.HasSuffix(err.Error(), "..."))
}
