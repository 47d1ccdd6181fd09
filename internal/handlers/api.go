package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/credbridge/internal/common"
)

type APIHandler struct {
	providers []string
	logger    arbor.ILogger
}

func NewAPIHandler(providers []string, logger arbor.ILogger) *APIHandler {
	return &APIHandler{providers: providers, logger: logger}
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.Build,
		"commit":  common.GitCommit,
	})
}

// HealthHandler returns health check status plus the registered providers.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"providers": h.providers,
	})
}

// NotFoundHandler handles unmatched API routes with a JSON body.
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]string{
		"error": "not_found",
		"path":  r.URL.Path,
	})
}
