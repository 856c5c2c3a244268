package messaging

import (
	"net/http"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
)

// Snapshot returns the JSON-serialisable state served on the slots endpoint.
type Snapshot func() any

type handlerFunc func(http.ResponseWriter, *http.Request)

// NewHandler mounts the websocket bridge at path plus read-only slot and health endpoints.
func NewHandler(path string, bridge *Bridge, snapshot Snapshot) http.Handler {
	path = "/" + strings.Trim(strings.TrimSpace(path), "/")
	mux := http.NewServeMux()
	mux.Handle(path, bridge)
	mux.Handle("/slots", methodHandlers(map[string]handlerFunc{
		http.MethodGet: func(w http.ResponseWriter, _ *http.Request) {
			if snapshot == nil {
				writeJSON(w, http.StatusOK, map[string]any{"slots": []any{}})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"slots": snapshot()})
		},
	}))
	mux.Handle("/healthz", methodHandlers(map[string]handlerFunc{
		http.MethodGet: func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "controllers": bridge.Clients()})
		},
	}))
	return withCORS(mux)
}

func methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		w.Header().Set("Allow", strings.Join(allowed, ", "))
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

func withCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
