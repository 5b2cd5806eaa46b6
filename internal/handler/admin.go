package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/imaginegw/imagine-gateway-go/internal/errors"
	"github.com/imaginegw/imagine-gateway-go/internal/model"
	"github.com/imaginegw/imagine-gateway-go/internal/pool"
)

// PoolAdmin is the pool surface the admin endpoints need.
type PoolAdmin interface {
	Status() pool.Status
	ResetDailyUsage(ctx context.Context)
}

// ArtifactAdmin is the cache surface the admin endpoints need.
type ArtifactAdmin interface {
	List() []model.CacheEntry
	Clear() int
}

type AdminHandler struct {
	pool   PoolAdmin
	cache  ArtifactAdmin
	reload func(ctx context.Context) (int, error)
}

func NewAdminHandler(p PoolAdmin, c ArtifactAdmin, reload func(ctx context.Context) (int, error)) *AdminHandler {
	return &AdminHandler{pool: p, cache: c, reload: reload}
}

func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/status", h.Status)
	r.Post("/sessions/reload", h.ReloadSessions)
	r.Post("/sessions/reset-usage", h.ResetUsage)
	r.Get("/images", h.ListImages)
	r.Delete("/images", h.ClearImages)

	return r
}

func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pool.Status())
}

// ReloadSessions re-reads the credential list and reconciles the pool
// against it without a restart.
func (h *AdminHandler) ReloadSessions(w http.ResponseWriter, r *http.Request) {
	count, err := h.reload(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("session reload failed")
		writeError(w, apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to reload sessions", err))
		return
	}

	log.Info().Int("sessions", count).Msg("sessions reloaded")
	writeJSON(w, http.StatusOK, map[string]any{
		"reloaded": true,
		"sessions": count,
	})
}

func (h *AdminHandler) ResetUsage(w http.ResponseWriter, r *http.Request) {
	h.pool.ResetDailyUsage(r.Context())
	log.Info().Msg("daily usage reset")
	writeJSON(w, http.StatusOK, map[string]any{"reset": true})
}

func (h *AdminHandler) ListImages(w http.ResponseWriter, r *http.Request) {
	entries := h.cache.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(entries),
		"images": entries,
	})
}

func (h *AdminHandler) ClearImages(w http.ResponseWriter, r *http.Request) {
	removed := h.cache.Clear()
	log.Info().Int("removed", removed).Msg("artifact cache cleared")
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}
