package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/imaginegw/imagine-gateway-go/internal/errors"
)

func TestStatusFromCode(t *testing.T) {
	cases := map[apperrors.ErrorCode]int{
		apperrors.ErrCodeValidation:              http.StatusBadRequest,
		apperrors.ErrCodeMissingRequired:         http.StatusBadRequest,
		apperrors.ErrCodeUpstreamContentRejected: http.StatusBadRequest,
		apperrors.ErrCodeUnauthorized:            http.StatusUnauthorized,
		apperrors.ErrCodeNotFound:                http.StatusNotFound,
		apperrors.ErrCodeAllSessionsExhausted:    http.StatusTooManyRequests,
		apperrors.ErrCodeVerificationFailed:      http.StatusBadGateway,
		apperrors.ErrCodeUpstreamRejected:        http.StatusBadGateway,
		apperrors.ErrCodeUpstreamTimeout:         http.StatusServiceUnavailable,
		apperrors.ErrCodeUpstreamConnection:      http.StatusServiceUnavailable,
		apperrors.ErrCodeInternal:                http.StatusInternalServerError,
		apperrors.ErrCodeStore:                   http.StatusInternalServerError,
		apperrors.ErrorCode("SOMETHING_NEW"):     http.StatusInternalServerError,
	}

	for code, want := range cases {
		assert.Equal(t, want, StatusFromCode(code), "code %s", code)
	}
}

func TestWriteError(t *testing.T) {
	t.Run("app error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, apperrors.AllSessionsExhausted())

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, apperrors.ErrCodeAllSessionsExhausted, resp.Code)
		assert.Equal(t, "No eligible session available", resp.Error)
	})

	t.Run("plain error becomes internal", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, fmt.Errorf("disk on fire"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, apperrors.ErrCodeInternal, resp.Code)
		assert.NotContains(t, rec.Body.String(), "disk on fire")
	})
}
