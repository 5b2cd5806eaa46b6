package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	apperrors "github.com/imaginegw/imagine-gateway-go/internal/errors"
	"github.com/imaginegw/imagine-gateway-go/internal/util"
)

// AuthMiddleware gates the OpenAI-compatible surface behind a single
// static API key. An empty configured key disables the check, which is
// only sensible for local use.
type AuthMiddleware struct {
	apiKey string
}

func NewAuthMiddleware(apiKey string) *AuthMiddleware {
	return &AuthMiddleware{apiKey: apiKey}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := extractBearer(r)
		if token == "" {
			writeError(w, apperrors.Unauthorized("Missing API key"))
			return
		}

		if !util.ConstantTimeEqual(token, m.apiKey) {
			log.Warn().Msg("auth middleware: invalid API key attempt")
			writeError(w, apperrors.Unauthorized("Invalid API key"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func extractBearer(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}
