package gateway

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/basket/genie/internal/bus"
	"github.com/basket/genie/internal/engine"
	"github.com/basket/genie/internal/shared"
)

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req credentials
	if !decodeBody(w, r, &req) {
		return
	}
	req = req.trimmed()
	if req.ClientID == "" || req.Secret == "" {
		writeError(w, http.StatusBadRequest, "client_id and secret are required")
		return
	}
	if err := s.cfg.Store.RegisterDevice(r.Context(), req.ClientID, req.Secret); err != nil {
		s.logger.ErrorContext(r.Context(), "register device failed", "error", err)
		writeError(w, http.StatusInternalServerError, "register device failed")
		return
	}
	s.logger.InfoContext(r.Context(), "device registered", "client_id", req.ClientID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "registered", "client_id": req.ClientID})
}

func (s *Server) handleSecretCount(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req credentials
	if !decodeBody(w, r, &req) {
		return
	}
	req = req.trimmed()
	n, err := s.cfg.Store.CountCredentials(r.Context(), req.ClientID, req.Secret)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "count credentials failed", "error", err)
		writeError(w, http.StatusInternalServerError, "count failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

type chatRequest struct {
	credentials
	Question string `json:"question"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := shared.WithTraceID(r.Context(), shared.NewTraceID())
	answer, err := s.cfg.Chat.Chat(ctx, req.ClientID, req.Secret, req.Question)
	switch {
	case errors.Is(err, engine.ErrUnauthorized):
		writeError(w, http.StatusForbidden, invalidCredentials)
	case errors.Is(err, engine.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		s.logger.ErrorContext(ctx, "chat failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"response": answer})
	}
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	c := queryCredentials(r)
	limit := s.cfg.HistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	turns, err := s.cfg.Chat.History(r.Context(), c.ClientID, c.Secret, limit)
	switch {
	case errors.Is(err, engine.ErrUnauthorized):
		writeError(w, http.StatusForbidden, invalidCredentials)
	case err != nil:
		s.logger.ErrorContext(r.Context(), "load history failed", "error", err)
		writeError(w, http.StatusInternalServerError, "load history failed")
	default:
		writeJSON(w, http.StatusOK, turns)
	}
}

type calendarRequest struct {
	credentials
	Title     string `json:"title"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func (s *Server) handleCalendarEvents(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, http.MethodPost, http.MethodDelete) {
		return
	}
	ctx := r.Context()
	if r.Method == http.MethodGet {
		c := queryCredentials(r)
		if !s.authorize(w, r, c) {
			return
		}
		events, err := s.cfg.Store.ListCalendarEvents(ctx, c.ClientID)
		if err != nil {
			s.storageError(w, r, "list calendar events", err)
			return
		}
		writeJSON(w, http.StatusOK, events)
		return
	}

	var req calendarRequest
	if !decodeBody(w, r, &req) || !s.authorize(w, r, req.credentials) {
		return
	}
	clientID := strings.TrimSpace(req.ClientID)
	title := strings.TrimSpace(req.Title)
	if title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if r.Method == http.MethodDelete {
		if _, err := s.cfg.Store.RemoveCalendarEvent(ctx, clientID, title); err != nil {
			s.storageError(w, r, "remove calendar event", err)
			return
		}
		s.cfg.Hub.Publish(bus.Notification{Command: bus.CommandRemoveEvent, Parameters: []string{title}})
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
		return
	}
	if req.StartTime == "" || req.EndTime == "" {
		writeError(w, http.StatusBadRequest, "start_time and end_time are required")
		return
	}
	id, err := s.cfg.Store.AddCalendarEvent(ctx, clientID, title, req.StartTime, req.EndTime)
	if err != nil {
		s.storageError(w, r, "add calendar event", err)
		return
	}
	s.cfg.Hub.Publish(bus.Notification{Command: bus.CommandAddEvent, Parameters: []string{title, req.StartTime, req.EndTime}})
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": "success"})
}

type objectiveRequest struct {
	credentials
	ID          flexID `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (s *Server) handleObjectives(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, http.MethodPost, http.MethodDelete) {
		return
	}
	ctx := r.Context()
	if r.Method == http.MethodGet {
		c := queryCredentials(r)
		if !s.authorize(w, r, c) {
			return
		}
		objs, err := s.cfg.Store.ListObjectives(ctx, c.ClientID)
		if err != nil {
			s.storageError(w, r, "list objectives", err)
			return
		}
		writeJSON(w, http.StatusOK, objs)
		return
	}

	var req objectiveRequest
	if !decodeBody(w, r, &req) || !s.authorize(w, r, req.credentials) {
		return
	}
	clientID := strings.TrimSpace(req.ClientID)
	if r.Method == http.MethodDelete {
		if _, err := s.cfg.Store.RemoveObjective(ctx, clientID, int64(req.ID)); err != nil {
			s.storageError(w, r, "remove objective", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	id, err := s.cfg.Store.AddObjective(ctx, clientID, title, req.Description)
	if err != nil {
		s.storageError(w, r, "add objective", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": "success"})
}

type idRequest struct {
	credentials
	ID flexID `json:"id"`
}

func (s *Server) handleCompleteObjective(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req idRequest
	if !decodeBody(w, r, &req) || !s.authorize(w, r, req.credentials) {
		return
	}
	ok, err := s.cfg.Store.CompleteObjective(r.Context(), strings.TrimSpace(req.ClientID), int64(req.ID))
	if err != nil {
		s.storageError(w, r, "complete objective", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": successOrFailed(ok)})
}

type taskRequest struct {
	credentials
	ID          flexID `json:"id"`
	ObjectiveID flexID `json:"objective_id"`
	Title       string `json:"title"`
	Weight      int    `json:"weight"`
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost, http.MethodDelete) {
		return
	}
	var req taskRequest
	if !decodeBody(w, r, &req) || !s.authorize(w, r, req.credentials) {
		return
	}
	ctx := r.Context()
	clientID := strings.TrimSpace(req.ClientID)
	if r.Method == http.MethodDelete {
		if _, err := s.cfg.Store.RemoveTask(ctx, clientID, int64(req.ID)); err != nil {
			s.storageError(w, r, "remove task", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	id, added, err := s.cfg.Store.AddTask(ctx, clientID, int64(req.ObjectiveID), title, req.Weight)
	if err != nil {
		s.storageError(w, r, "add task", err)
		return
	}
	if !added {
		writeJSON(w, http.StatusOK, map[string]string{"status": "failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": "success"})
}

func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req idRequest
	if !decodeBody(w, r, &req) || !s.authorize(w, r, req.credentials) {
		return
	}
	ok, err := s.cfg.Store.CompleteTask(r.Context(), strings.TrimSpace(req.ClientID), int64(req.ID))
	if err != nil {
		s.storageError(w, r, "complete task", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": successOrFailed(ok)})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	c := queryCredentials(r)
	if !s.authorize(w, r, c) {
		return
	}
	st, err := s.cfg.Store.Stats(r.Context(), c.ClientID)
	if err != nil {
		s.storageError(w, r, "load stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) storageError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.logger.ErrorContext(r.Context(), op+" failed", "error", err)
	writeError(w, http.StatusInternalServerError, op+" failed")
}

func successOrFailed(ok bool) string {
	if ok {
		return "success"
	}
	return "failed"
}
