package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthMiddleware(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("passes through when no key configured", func(t *testing.T) {
		handler := NewAuthMiddleware("").Handler(okHandler)

		req := httptest.NewRequest("POST", "/v1/images/generations", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("rejects missing header", func(t *testing.T) {
		handler := NewAuthMiddleware("secret-key").Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest("POST", "/v1/images/generations", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects wrong key", func(t *testing.T) {
		handler := NewAuthMiddleware("secret-key").Handler(okHandler)

		req := httptest.NewRequest("POST", "/v1/images/generations", nil)
		req.Header.Set("Authorization", "Bearer wrong-key")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects non-bearer scheme", func(t *testing.T) {
		handler := NewAuthMiddleware("secret-key").Handler(okHandler)

		req := httptest.NewRequest("POST", "/v1/images/generations", nil)
		req.Header.Set("Authorization", "Basic secret-key")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("accepts correct key", func(t *testing.T) {
		handler := NewAuthMiddleware("secret-key").Handler(okHandler)

		req := httptest.NewRequest("POST", "/v1/images/generations", nil)
		req.Header.Set("Authorization", "Bearer secret-key")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestBodyLimitMiddleware(t *testing.T) {
	handler := NewBodyLimitMiddleware(10).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("rejects oversized declared length", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/v1/images/generations", nil)
		req.ContentLength = 100
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("allows small bodies", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/v1/images/generations", nil)
		req.ContentLength = 5
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
