package handler

import "net/http"

type HealthHandler struct {
	pool PoolAdmin
}

func NewHealthHandler(p PoolAdmin) *HealthHandler {
	return &HealthHandler{pool: p}
}

func (h *HealthHandler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "imagine-gateway",
		"status":  "running",
	})
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	st := h.pool.Status()
	status := "healthy"
	if st.Eligible == 0 {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   status,
		"sessions": st.TotalSessions,
		"eligible": st.Eligible,
		"blocked":  st.Blocked,
	})
}
