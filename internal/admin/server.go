// Package admin exposes a read-mostly HTTP API over a PersistenceProvider
// for operators: browsing instances, subscriptions and events, publishing
// events and replaying them.
package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/petrijr/wfstore/pkg/api"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Server serves the admin API.
type Server struct {
	provider api.PersistenceProvider
	logger   *slog.Logger
	now      func() time.Time
	mux      *http.ServeMux
}

// NewServer creates a Server over provider. If logger is nil, slog.Default()
// is used.
func NewServer(provider api.PersistenceProvider, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		provider: provider,
		logger:   logger,
		now:      time.Now,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /api/workflows", s.handleListWorkflows)
	s.mux.HandleFunc("GET /api/workflows/{id}", s.handleGetWorkflow)
	s.mux.HandleFunc("GET /api/subscriptions/{id}", s.handleGetSubscription)
	s.mux.HandleFunc("GET /api/events/{id}", s.handleGetEvent)
	s.mux.HandleFunc("POST /api/events", s.handlePublishEvent)
	s.mux.HandleFunc("POST /api/events/{id}/replay", s.handleReplayEvent)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)
	s.logger.DebugContext(r.Context(), "http request",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", rec.status),
		slog.Duration("duration", time.Since(start)),
	)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"scheduled_commands": s.provider.SupportsScheduledCommands(),
	})
}

// GET /api/workflows?status=&type=&createdFrom=&createdTo=&skip=&take=
func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	filter, err := parseInstanceFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	instances, err := s.provider.GetWorkflowInstances(r.Context(), filter)
	if err != nil {
		s.internalError(w, r, "GetWorkflowInstances", err)
		return
	}

	out := make([]workflowView, 0, len(instances))
	for _, wf := range instances {
		out = append(out, newWorkflowView(wf))
	}
	writeJSON(w, http.StatusOK, out)
}

func parseInstanceFilter(r *http.Request) (api.InstanceFilter, error) {
	q := r.URL.Query()
	filter := api.InstanceFilter{
		Type: q.Get("type"),
		Take: defaultPageSize,
	}

	if v := q.Get("status"); v != "" {
		st, err := api.ParseWorkflowStatus(v)
		if err != nil {
			return filter, err
		}
		filter.Status = &st
	}
	for name, dst := range map[string]**time.Time{
		"createdFrom": &filter.CreatedFrom,
		"createdTo":   &filter.CreatedTo,
	} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return filter, fmt.Errorf("%s: expected RFC 3339 time", name)
		}
		*dst = &t
	}
	if v := q.Get("skip"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, errors.New("skip must be a non-negative integer")
		}
		filter.Skip = n
	}
	if v := q.Get("take"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxPageSize {
			return filter, fmt.Errorf("take must be between 1 and %d", maxPageSize)
		}
		filter.Take = n
	}
	return filter, nil
}

// GET /api/workflows/{id}
func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.provider.GetWorkflowInstance(r.Context(), r.PathValue("id"))
	if err != nil {
		s.internalError(w, r, "GetWorkflowInstance", err)
		return
	}
	if wf == nil {
		http.Error(w, "workflow instance not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newWorkflowView(wf))
}

// GET /api/subscriptions/{id}
func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.provider.GetSubscription(r.Context(), r.PathValue("id"))
	if err != nil {
		s.internalError(w, r, "GetSubscription", err)
		return
	}
	if sub == nil {
		http.Error(w, "event subscription not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newSubscriptionView(sub))
}

// GET /api/events/{id}
func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.provider.GetEvent(r.Context(), r.PathValue("id"))
	if err != nil {
		s.internalError(w, r, "GetEvent", err)
		return
	}
	if ev == nil {
		http.Error(w, "event not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newEventView(ev))
}

// POST /api/events
//
// Body JSON:
//
//	{ "event_name": "approved", "event_key": "A-1", "event_data": {...}, "event_time": "..." }
//
// event_time defaults to now. Responds 201 with the new event id, after
// scheduling a ProcessEvent command when the store supports it.
func (s *Server) handlePublishEvent(w http.ResponseWriter, r *http.Request) {
	var in struct {
		EventName string     `json:"event_name"`
		EventKey  string     `json:"event_key"`
		EventData any        `json:"event_data"`
		EventTime *time.Time `json:"event_time"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if in.EventName == "" {
		http.Error(w, "event_name is required", http.StatusBadRequest)
		return
	}

	ev := &api.Event{
		EventName: in.EventName,
		EventKey:  in.EventKey,
		EventData: in.EventData,
		EventTime: s.now().UTC(),
	}
	if in.EventTime != nil {
		ev.EventTime = in.EventTime.UTC()
	}

	id, err := s.provider.CreateEvent(r.Context(), ev)
	if err != nil {
		s.internalError(w, r, "CreateEvent", err)
		return
	}
	if s.provider.SupportsScheduledCommands() {
		s.provider.ScheduleCommand(r.Context(), &api.ScheduledCommand{
			CommandName: api.CommandProcessEvent,
			Data:        id,
			ExecuteTime: ev.EventTime,
		})
	}

	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

// POST /api/events/{id}/replay marks the event unprocessed so the host
// engine picks it up again.
func (s *Server) handleReplayEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ev, err := s.provider.GetEvent(r.Context(), id)
	if err != nil {
		s.internalError(w, r, "GetEvent", err)
		return
	}
	if ev == nil {
		http.Error(w, "event not found", http.StatusNotFound)
		return
	}
	if err := s.provider.MarkEventUnprocessed(r.Context(), id); err != nil {
		s.internalError(w, r, "MarkEventUnprocessed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "is_processed": false})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.logger.ErrorContext(r.Context(), "admin request failed",
		slog.String("operation", op),
		slog.String("path", r.URL.Path),
		slog.Any("error", err),
	)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
