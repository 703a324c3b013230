package handler

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giadungplus/opscore/internal/infrastructure/auth"
	"github.com/giadungplus/opscore/internal/infrastructure/config"
	"github.com/giadungplus/opscore/internal/interfaces/http/dto"
)

func TestAuthHandler_Token(t *testing.T) {
	hash, err := auth.HashPassword("kho-2026")
	require.NoError(t, err)
	operators, err := auth.ParseOperators([]string{"kho:" + hash})
	require.NoError(t, err)
	tokens := auth.NewTokenService(config.AuthConfig{
		Secret:   "0123456789abcdef0123456789abcdef",
		Issuer:   "opscore",
		TokenTTL: time.Hour,
	})
	h := NewAuthHandler(operators, tokens)

	t.Run("valid credentials", func(t *testing.T) {
		w := performRequest(h.Token, http.MethodPost, "/api/v1/auth/token", `{"operator":"kho","password":"kho-2026"}`)

		require.Equal(t, http.StatusOK, w.Code)
		data := decode(t, w)["data"].(map[string]any)
		assert.Equal(t, "Bearer", data["token_type"])

		claims, err := tokens.Validate(data["access_token"].(string))
		require.NoError(t, err)
		assert.Equal(t, "kho", claims.Operator)
	})

	t.Run("wrong password", func(t *testing.T) {
		w := performRequest(h.Token, http.MethodPost, "/api/v1/auth/token", `{"operator":"kho","password":"nope"}`)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		errInfo := decode(t, w)["error"].(map[string]any)
		assert.Equal(t, dto.ErrCodeUnauthorized, errInfo["code"])
	})

	t.Run("missing password", func(t *testing.T) {
		w := performRequest(h.Token, http.MethodPost, "/api/v1/auth/token", `{"operator":"kho"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
