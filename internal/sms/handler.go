package sms

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

type Request struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type Response struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Sender is the gateway used by the relay endpoint.
type Sender interface {
	Send(ctx context.Context, to, message string) (string, error)
}

// Handler serves POST /api/sms.
func Handler(sender Sender) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, Response{Error: "Invalid JSON body"})
			return
		}
		req.To = strings.TrimSpace(req.To)
		if req.To == "" || req.Message == "" {
			writeJSON(w, http.StatusBadRequest, Response{Error: "Missing 'to' or 'message'"})
			return
		}

		id, err := sender.Send(r.Context(), req.To, req.Message)
		WriteResult(w, id, err)
	}
}

// WriteResult maps the outcome of a send onto the relay response: missing
// credentials are a client error, gateway errors keep the gateway status.
func WriteResult(w http.ResponseWriter, id string, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, Response{Success: true, ID: id})
		return
	}
	var apiErr *APIError
	switch {
	case errors.Is(err, ErrNotConfigured):
		writeJSON(w, http.StatusBadRequest, Response{Error: err.Error()})
	case errors.As(err, &apiErr):
		slog.Warn("SMS gateway rejected message", "status", apiErr.StatusCode, "error", apiErr.Message)
		writeJSON(w, apiErr.StatusCode, Response{Error: apiErr.Message})
	default:
		slog.Error("SMS relay failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, Response{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
