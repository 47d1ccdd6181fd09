// Package handlers implements the intake HTTP surface: session lifecycle,
// worker callbacks, credential submission, report views, and the websocket
// event stream.
package handlers

import (
	"encoding/json"
	"net/http"
)

// RequireMethod validates that the request uses the given method, writing a
// 405 otherwise.
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes the wire-format error body {"error": code}.
func WriteError(w http.ResponseWriter, statusCode int, code string) error {
	return WriteJSON(w, statusCode, map[string]string{"error": code})
}

// WriteOK writes the wire-format acknowledgement {"ok": true}.
func WriteOK(w http.ResponseWriter) error {
	return WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
