package handler

import (
	"net/http"
	"time"
)

// Models handles GET /v1/models with the fixed model list.
func Models(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data": []map[string]any{{
			"id":       chatModelName,
			"object":   "model",
			"created":  time.Now().Unix(),
			"owned_by": "imagine-gateway",
		}},
	})
}
