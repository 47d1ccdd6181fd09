package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Session API (backend + worker callbacks)
	mux.HandleFunc("/v1/sessions", s.app.SessionHandler.CreateHandler)
	mux.HandleFunc("/v1/sessions/", s.handleSessionRoutes) // /{id}/events, /{id}/result, ...

	// Public widget surface (session id is the bearer token)
	mux.HandleFunc("/widget/", s.handleWidgetRoutes) // POST /{id}/start

	// WebSocket event stream
	mux.HandleFunc("/ws/sessions/", s.handleStreamRoutes) // GET /{id}

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleSessionRoutes dispatches /v1/sessions/{id}[/op] by operation suffix.
func (s *Server) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	id, op := splitResourcePath(r.URL.Path, "/v1/sessions/")
	if id == "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	switch op {
	case "events":
		s.app.SessionHandler.EventsHandler(w, r, id)
	case "status", "":
		s.app.SessionHandler.StatusHandler(w, r, id)
	case "result":
		s.app.SessionHandler.ResultHandler(w, r, id)
	case "pretty":
		s.app.SessionHandler.PrettyHandler(w, r, id)
	case "pretty.html":
		s.app.SessionHandler.PrettyHTMLHandler(w, r, id)
	case "report.pdf":
		s.app.SessionHandler.PDFHandler(w, r, id)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleWidgetRoutes dispatches /widget/{id}/start.
func (s *Server) handleWidgetRoutes(w http.ResponseWriter, r *http.Request) {
	id, op := splitResourcePath(r.URL.Path, "/widget/")
	if id == "" || op != "start" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	s.app.WidgetHandler.StartHandler(w, r, id)
}

// handleStreamRoutes dispatches /ws/sessions/{id}.
func (s *Server) handleStreamRoutes(w http.ResponseWriter, r *http.Request) {
	id, op := splitResourcePath(r.URL.Path, "/ws/sessions/")
	if id == "" || op != "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	s.app.WSHandler.StreamHandler(w, r, id)
}

// splitResourcePath extracts the resource id and the single operation
// segment after it, e.g. "/v1/sessions/abc/events" -> ("abc", "events").
func splitResourcePath(path, prefix string) (id, op string) {
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return "", ""
	}
	parts := strings.SplitN(rest, "/", 2)
	id = parts[0]
	if len(parts) == 2 {
		op = parts[1]
	}
	return id, op
}
