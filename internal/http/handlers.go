package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/unveil/guest-messaging/internal/core"
	"github.com/unveil/guest-messaging/internal/history"
	"github.com/unveil/guest-messaging/internal/metrics"
	"github.com/unveil/guest-messaging/internal/recipient"
	"github.com/unveil/guest-messaging/internal/schedule"
)

// Reader is the read-only surface the API needs beyond the scheduling
// engine: realized messages for the history view and the roster for
// recipient previews.
type Reader interface {
	ListMessagesByEvent(ctx context.Context, eventID string) ([]core.Message, error)
	GuestsByEvent(ctx context.Context, eventID string) ([]core.Guest, error)
}

type Server struct {
	Engine *schedule.Engine
	Reader Reader
	Ping   func(ctx context.Context) error // nil when no DB backs the server
}

func NewServer(engine *schedule.Engine, reader Reader, ping func(ctx context.Context) error) *Server {
	return &Server{Engine: engine, Reader: reader, Ping: ping}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, instrument)

	r.Post("/events/{eventID}/scheduled-messages", s.createScheduled)
	r.Get("/events/{eventID}/scheduled-messages", s.listScheduled)
	r.Get("/events/{eventID}/history", s.eventHistory)
	r.Post("/events/{eventID}/recipients/preview", s.previewRecipients)
	r.Patch("/scheduled-messages/{id}", s.modifyScheduled)
	r.Delete("/scheduled-messages/{id}", s.cancelScheduled)

	s.mountHealth(r)
	s.mountMetrics(r)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr maps the sentinel taxonomy onto HTTP codes. State conflicts get
// 409 with the specific reason so the client can explain why the action was
// refused instead of showing a generic failure.
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrEmptyContent),
		errors.Is(err, core.ErrInvalidTimezone),
		errors.Is(err, core.ErrInvalidWallClock),
		errors.Is(err, core.ErrLeadTimeTooShort):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrTooCloseToSend),
		errors.Is(err, core.ErrAlreadyTerminal):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type createBody struct {
	Content     string               `json:"content"`
	MessageType string               `json:"message_type"`
	Filter      core.RecipientFilter `json:"filter"`
	Date        string               `json:"date"`
	Time        string               `json:"time"`
	Timezone    string               `json:"timezone"`
}

func (s *Server) createScheduled(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	var in createBody
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}
	if in.MessageType == "" {
		in.MessageType = core.TypeAnnouncement
	}
	sm, existing, err := s.Engine.Create(r.Context(), schedule.CreateRequest{
		EventID:     eventID,
		Content:     in.Content,
		MessageType: in.MessageType,
		Filter:      in.Filter,
		Date:        in.Date,
		Clock:       in.Time,
		Timezone:    in.Timezone,
	})
	if err != nil {
		metrics.ScheduleTotal.WithLabelValues("rejected").Inc()
		writeErr(w, err)
		return
	}
	if existing {
		// Idempotent replay: same row, not a new resource.
		metrics.ScheduleTotal.WithLabelValues("idempotent").Inc()
		writeJSON(w, http.StatusOK, sm)
		return
	}
	metrics.ScheduleTotal.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusCreated, sm)
}

type modifyBody struct {
	Content     *string               `json:"content"`
	MessageType *string               `json:"message_type"`
	Filter      *core.RecipientFilter `json:"filter"`
	Date        *string               `json:"date"`
	Time        *string               `json:"time"`
	Timezone    *string               `json:"timezone"`
}

func (s *Server) modifyScheduled(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var in modifyBody
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}
	sm, err := s.Engine.Modify(r.Context(), id, schedule.ModifyRequest{
		Content:     in.Content,
		MessageType: in.MessageType,
		Filter:      in.Filter,
		Date:        in.Date,
		Clock:       in.Time,
		Timezone:    in.Timezone,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sm)
}

func (s *Server) cancelScheduled(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sm, err := s.Engine.Cancel(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sm)
}

func (s *Server) listScheduled(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	items, err := s.Engine.ListByEvent(r.Context(), eventID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// eventHistory serves the unified view: realized messages and scheduled
// rows reconciled so a dispatched schedule never shows up twice.
func (s *Server) eventHistory(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	msgs, err := s.Reader.ListMessagesByEvent(r.Context(), eventID)
	if err != nil {
		writeErr(w, err)
		return
	}
	scheduled, err := s.Engine.ListByEvent(r.Context(), eventID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": history.Reconcile(msgs, scheduled)})
}

// previewRecipients dry-runs a filter so the host sees who a message would
// reach, including how many matched guests would be skipped as
// uncontactable.
func (s *Server) previewRecipients(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	var in struct {
		Filter core.RecipientFilter `json:"filter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}
	roster, err := s.Reader.GuestsByEvent(r.Context(), eventID)
	if err != nil {
		writeErr(w, err)
		return
	}
	res := recipient.Resolve(roster, in.Filter)
	writeJSON(w, http.StatusOK, map[string]any{
		"total_matched": res.TotalMatched,
		"contactable":   res.Contactable,
		"skipped":       res.Skipped,
	})
}
