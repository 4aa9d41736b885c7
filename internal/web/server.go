package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/noahxzhu/pillbox/internal/model"
	"github.com/noahxzhu/pillbox/internal/notify"
	"github.com/noahxzhu/pillbox/internal/sms"
	"github.com/noahxzhu/pillbox/internal/storage"
)

// PopupSnoozeMinutes is the fixed snooze offered on the popup.
const PopupSnoozeMinutes = 10

// Actions are the reminder operations exposed over HTTP.
type Actions interface {
	Add(ctx context.Context, in model.NewReminder) (model.Reminder, error)
	Remove(ctx context.Context, id string) error
	Update(ctx context.Context, id string, p model.Patch) (model.Reminder, error)
	TogglePause(ctx context.Context, id string) (model.Reminder, error)
	Snooze(ctx context.Context, id string, minutes int) (model.Reminder, error)
	MarkTaken(ctx context.Context, id string) (model.Reminder, bool, error)
	AddNote(ctx context.Context, id, note string) (model.Reminder, error)
	MarkMissed(ctx context.Context, id string) (model.Reminder, error)
}

// Reader is the read side of the reminder store.
type Reader interface {
	List() []model.Reminder
	Get(id string) (model.Reminder, bool)
	Upcoming() []model.Reminder
}

type Deps struct {
	Store       Reader
	Actions     Actions
	Popup       *Popup
	Toasts      *notify.Toasts
	Permission  notify.Permission
	SMS         sms.Sender
	MCP         http.Handler // mounted at /mcp when set
	PingMessage string
}

type Server struct {
	Deps
	router *mux.Router
}

func NewServer(d Deps) *Server {
	if d.PingMessage == "" {
		d.PingMessage = "ping"
	}
	s := &Server{
		Deps:   d,
		router: mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(logRequests)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/ping", s.handlePing).Methods(http.MethodGet)

	api.HandleFunc("/reminders", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/reminders", s.handleAdd).Methods(http.MethodPost)
	api.HandleFunc("/reminders/upcoming", s.handleUpcoming).Methods(http.MethodGet)
	api.HandleFunc("/reminders/{id}", s.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/reminders/{id}", s.handleUpdate).Methods(http.MethodPatch)
	api.HandleFunc("/reminders/{id}", s.handleRemove).Methods(http.MethodDelete)
	api.HandleFunc("/reminders/{id}/pause", s.handlePause).Methods(http.MethodPost)
	api.HandleFunc("/reminders/{id}/snooze", s.handleSnooze).Methods(http.MethodPost)
	api.HandleFunc("/reminders/{id}/taken", s.handleTaken).Methods(http.MethodPost)
	api.HandleFunc("/reminders/{id}/missed", s.handleMissed).Methods(http.MethodPost)
	api.HandleFunc("/reminders/{id}/notes", s.handleNote).Methods(http.MethodPost)

	api.HandleFunc("/popup", s.handlePopup).Methods(http.MethodGet)
	api.HandleFunc("/popup/dismiss", s.handlePopupDismiss).Methods(http.MethodPost)
	api.HandleFunc("/popup/snooze", s.handlePopupSnooze).Methods(http.MethodPost)
	api.HandleFunc("/popup/taken", s.handlePopupTaken).Methods(http.MethodPost)
	api.HandleFunc("/popup/pause", s.handlePopupPause).Methods(http.MethodPost)
	api.HandleFunc("/popup/delete", s.handlePopupDelete).Methods(http.MethodPost)
	api.HandleFunc("/popup/sms", s.handlePopupSMS).Methods(http.MethodPost)
	api.HandleFunc("/popup/notes", s.handlePopupNote).Methods(http.MethodPost)

	api.HandleFunc("/toasts", s.handleToasts).Methods(http.MethodGet)
	api.HandleFunc("/notifications/permission", s.handlePermission).Methods(http.MethodGet)

	if s.SMS != nil {
		api.Handle("/sms", sms.Handler(s.SMS)).Methods(http.MethodPost)
	}
	if s.MCP != nil {
		s.router.PathPrefix("/mcp").Handler(s.MCP)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Middleware
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

// Handlers

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": s.PingMessage})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Store.List())
}

func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Store.Upcoming())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rem, ok := s.Store.Get(mux.Vars(r)["id"])
	if !ok {
		writeError(w, storage.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rem)
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var in model.NewReminder
	if !decode(w, r, &in) {
		return
	}
	rem, err := s.Actions.Add(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rem)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var p model.Patch
	if !decode(w, r, &p) {
		return
	}
	rem, err := s.Actions.Update(r.Context(), mux.Vars(r)["id"], p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rem)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	if err := s.Actions.Remove(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	rem, err := s.Actions.TogglePause(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rem)
}

type snoozeRequest struct {
	Minutes int `json:"minutes"`
}

func (s *Server) handleSnooze(w http.ResponseWriter, r *http.Request) {
	req := snoozeRequest{Minutes: PopupSnoozeMinutes}
	if v := r.URL.Query().Get("minutes"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "minutes must be an integer"})
			return
		}
		req.Minutes = m
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		// An empty body keeps the default.
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error()})
		return
	}
	rem, err := s.Actions.Snooze(r.Context(), mux.Vars(r)["id"], req.Minutes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rem)
}

type takenResponse struct {
	Reminder model.Reminder `json:"reminder"`
	Removed  bool           `json:"removed"`
}

func (s *Server) handleTaken(w http.ResponseWriter, r *http.Request) {
	rem, removed, err := s.Actions.MarkTaken(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, takenResponse{Reminder: rem, Removed: removed})
}

func (s *Server) handleMissed(w http.ResponseWriter, r *http.Request) {
	rem, err := s.Actions.MarkMissed(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rem)
}

type noteRequest struct {
	Note string `json:"note"`
}

func (s *Server) handleNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if !decode(w, r, &req) {
		return
	}
	rem, err := s.Actions.AddNote(r.Context(), mux.Vars(r)["id"], req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rem)
}

// Popup

func (s *Server) handlePopup(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Popup.View())
}

func (s *Server) handlePopupDismiss(w http.ResponseWriter, r *http.Request) {
	s.Popup.Dismiss()
	w.WriteHeader(http.StatusNoContent)
}

// popupTarget returns the reminder currently shown, or writes 404.
func (s *Server) popupTarget(w http.ResponseWriter) (model.FiredEvent, bool) {
	ev, ok := s.Popup.Current()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no reminder is being shown"})
	}
	return ev, ok
}

func (s *Server) handlePopupSnooze(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.popupTarget(w)
	if !ok {
		return
	}
	rem, err := s.Actions.Snooze(r.Context(), ev.ID, PopupSnoozeMinutes)
	if err != nil {
		writeError(w, err)
		return
	}
	s.Popup.Hide()
	writeJSON(w, http.StatusOK, rem)
}

func (s *Server) handlePopupTaken(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.popupTarget(w)
	if !ok {
		return
	}
	rem, removed, err := s.Actions.MarkTaken(r.Context(), ev.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	s.Popup.Hide()
	writeJSON(w, http.StatusOK, takenResponse{Reminder: rem, Removed: removed})
}

func (s *Server) handlePopupPause(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.popupTarget(w)
	if !ok {
		return
	}
	rem, err := s.Actions.TogglePause(r.Context(), ev.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rem)
}

func (s *Server) handlePopupDelete(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.popupTarget(w)
	if !ok {
		return
	}
	if err := s.Actions.Remove(r.Context(), ev.ID); err != nil {
		writeError(w, err)
		return
	}
	s.Popup.Hide()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePopupNote(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.popupTarget(w)
	if !ok {
		return
	}
	var req noteRequest
	if !decode(w, r, &req) {
		return
	}
	rem, err := s.Actions.AddNote(r.Context(), ev.ID, req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rem)
}

func (s *Server) handlePopupSMS(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.popupTarget(w)
	if !ok {
		return
	}
	if ev.Phone == "" {
		writeJSON(w, http.StatusBadRequest, sms.Response{Error: "reminder has no phone number"})
		return
	}
	if s.SMS == nil {
		sms.WriteResult(w, "", sms.ErrNotConfigured)
		return
	}
	msg := strings.TrimSpace("Reminder: " + ev.Name + " " + ev.Dosage)
	id, err := s.SMS.Send(r.Context(), ev.Phone, msg)
	sms.WriteResult(w, id, err)
}

// Notifications

func (s *Server) handleToasts(w http.ResponseWriter, r *http.Request) {
	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "since must be an integer"})
			return
		}
		since = n
	}
	toasts := []notify.Toast{}
	if s.Toasts != nil {
		toasts = append(toasts, s.Toasts.Since(since)...)
	}
	writeJSON(w, http.StatusOK, toasts)
}

func (s *Server) handlePermission(w http.ResponseWriter, r *http.Request) {
	perm := s.Permission
	if perm == "" {
		perm = notify.PermissionDefault
	}
	writeJSON(w, http.StatusOK, map[string]notify.Permission{"permission": perm})
}

// Helpers

type errorBody struct {
	Error string `json:"error"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, model.ErrInvalidReminder):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	default:
		slog.Error("Request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
