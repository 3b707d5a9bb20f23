package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/slotwatch/service/cursor"
	"github.com/brojonat/slotwatch/service/poller"
)

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Info
	Uptime     string             `json:"uptime"`
	Cursor     *uint64            `json:"cursor,omitempty"`
	LastWindow *poller.StepResult `json:"last_window,omitempty"`
}

// CursorResponse is the body of GET /api/v1/cursors/{key}.
type CursorResponse struct {
	Key  string `json:"key"`
	Slot uint64 `json:"slot"`
}

func handleStatus(info Info, status StatusSource, store cursor.Store, started time.Time, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{
			Info:   info,
			Uptime: time.Since(started).Truncate(time.Second).String(),
		}

		if status != nil {
			resp.LastWindow = status.LastResult()
		}

		if store != nil && info.CursorKey != "" {
			slot, ok, err := store.Load(r.Context(), info.CursorKey)
			if err != nil {
				logger.ErrorContext(r.Context(), "failed to load cursor", "key", info.CursorKey, "error", err)
				writeError(w, "failed to load cursor", http.StatusInternalServerError)
				return
			}
			if ok {
				resp.Cursor = &slot
			}
		}

		writeJSON(w, resp, http.StatusOK)
	})
}

func handleGetCursor(store cursor.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeError(w, "cursor store not configured", http.StatusServiceUnavailable)
			return
		}

		key := r.PathValue("key")
		if key == "" {
			writeError(w, "key is required", http.StatusBadRequest)
			return
		}

		slot, ok, err := store.Load(r.Context(), key)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to load cursor", "key", key, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if !ok {
			writeError(w, "cursor not found", http.StatusNotFound)
			return
		}

		writeJSON(w, CursorResponse{Key: key, Slot: slot}, http.StatusOK)
	})
}

func handleListCursors(store cursor.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeError(w, "cursor store not configured", http.StatusServiceUnavailable)
			return
		}

		entries, err := store.List(r.Context())
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list cursors", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]CursorResponse, len(entries))
		for i, e := range entries {
			resp[i] = CursorResponse{Key: e.Key, Slot: e.Slot}
		}
		writeJSON(w, map[string]interface{}{
			"cursors": resp,
			"count":   len(resp),
		}, http.StatusOK)
	})
}

func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
