package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chatmind/chatmind/internal/core"
)

// --- Ingest ---

// handleIngest accepts one raw notification and runs it through the
// pipeline. The response says whether the event was accepted; duplicates
// and digest notifications come back accepted=false with 200, not an
// error, because they are expected-frequency inputs.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var ev core.RawEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if ev.SourceApp == "" || ev.Text == "" {
		s.respondError(w, http.StatusBadRequest, core.ErrMissingRequired.Error()+": source_app, text")
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	accepted := s.store.Ingest(ev)

	resp := map[string]interface{}{
		"accepted": accepted,
		"hash":     ev.ContentHash(),
	}

	// Fire-and-forget detection on accepted incoming messages; results
	// reach clients over the websocket.
	if accepted && s.engine != nil {
		if msg, ok := s.store.GetMessage(ev.ContentHash()); ok && !msg.Outgoing {
			convID := msg.ConversationID
			ctxMsgs := s.store.Context(convID, s.contextLines)
			// Detached from the request context: detection outlives the
			// response.
			s.engine.DetectAsync(context.Background(), msg.Text, ctxMsgs, core.ProvenanceChat, convID,
				func(in *core.DetectedIntent) {
					if in != nil {
						s.Broadcast("intent.detected", in)
					}
				})
		}
	}

	s.respondJSON(w, http.StatusOK, resp)
}

// --- Conversations ---

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs := s.store.Conversations()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": convs,
		"count":         len(convs),
	})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := core.ConversationID(chi.URLParam(r, "id"))
	conv, ok := s.store.GetConversation(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, "conversation not found")
		return
	}
	s.respondJSON(w, http.StatusOK, conv)
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	id := core.ConversationID(chi.URLParam(r, "id"))
	if _, ok := s.store.GetConversation(id); !ok {
		s.respondError(w, http.StatusNotFound, "conversation not found")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	msgs := s.store.Context(id, limit)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"messages": msgs,
		"count":    len(msgs),
	})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id := core.ConversationID(chi.URLParam(r, "id"))
	if !s.store.MarkRead(id) {
		s.respondError(w, http.StatusNotFound, "conversation not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := core.ConversationID(chi.URLParam(r, "id"))
	if !s.store.DeleteConversation(id) {
		s.respondError(w, http.StatusNotFound, "conversation not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- Messages ---

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	if !s.store.DeleteMessage(hash) {
		s.respondError(w, http.StatusNotFound, "message not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleGenerateReply(w http.ResponseWriter, r *http.Request) {
	if s.replies == nil {
		s.respondError(w, http.StatusServiceUnavailable, "reply generation not configured")
		return
	}

	hash := chi.URLParam(r, "hash")
	draft, err := s.replies.Generate(r.Context(), hash)
	switch {
	case errors.Is(err, core.ErrMessageNotFound):
		s.respondError(w, http.StatusNotFound, "message not found")
	case errors.Is(err, core.ErrInvalidInput):
		s.respondError(w, http.StatusBadRequest, "cannot reply to an outgoing message")
	case errors.Is(err, core.ErrLLMUnavailable):
		s.respondError(w, http.StatusServiceUnavailable, "no language model available")
	case err != nil:
		s.respondError(w, http.StatusBadGateway, "reply generation failed")
	default:
		s.respondJSON(w, http.StatusOK, map[string]string{"hash": hash, "reply": draft})
	}
}

func (s *Server) handleSendReply(w http.ResponseWriter, r *http.Request) {
	if s.replies == nil {
		s.respondError(w, http.StatusServiceUnavailable, "reply delivery not configured")
		return
	}

	hash := chi.URLParam(r, "hash")
	sent := s.replies.Send(hash)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"hash": hash, "sent": sent})
}

// --- Intent detection ---

// DetectRequest asks for intent detection on a piece of chat text. When
// conversation_id is set, recent messages from that conversation are fed
// to the model as context.
type DetectRequest struct {
	Text           string              `json:"text"`
	ConversationID core.ConversationID `json:"conversation_id,omitempty"`
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		s.respondError(w, http.StatusServiceUnavailable, "detection not configured")
		return
	}

	var req DetectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		s.respondError(w, http.StatusBadRequest, core.ErrMissingRequired.Error()+": text")
		return
	}

	var ctxMsgs []core.Message
	if req.ConversationID != "" {
		ctxMsgs = s.store.Context(req.ConversationID, s.contextLines)
	}

	intent := s.engine.Detect(r.Context(), req.Text, ctxMsgs, core.ProvenanceChat, req.ConversationID)
	if intent == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"found": false})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"found": true, "intent": intent})
}

// --- Reminders ---

// CreateReminderRequest confirms a detected intent (or creates a manual
// reminder) as a durable, scheduled reminder.
type CreateReminderRequest struct {
	Title       string             `json:"title"`
	Description string             `json:"description,omitempty"`
	EventAt     time.Time          `json:"event_at"`
	Category    core.EventCategory `json:"category,omitempty"`
	Provenance  core.Provenance    `json:"provenance,omitempty"`
	Color       string             `json:"color,omitempty"`
	Owner       string             `json:"owner,omitempty"`
}

func (s *Server) handleCreateReminder(w http.ResponseWriter, r *http.Request) {
	var req CreateReminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" || req.EventAt.IsZero() {
		s.respondError(w, http.StatusBadRequest, core.ErrMissingRequired.Error()+": title, event_at")
		return
	}

	category := req.Category
	if !core.KnownCategory(string(category)) {
		category = core.CategoryOther
	}
	provenance := req.Provenance
	if provenance == "" {
		provenance = core.ProvenanceManual
	}

	reminder := &core.Reminder{
		ID:          core.ReminderID(uuid.New().String()),
		Owner:       req.Owner,
		Title:       req.Title,
		Description: req.Description,
		EventAt:     req.EventAt,
		NotifyAt:    req.EventAt.Add(-s.lead),
		Category:    category,
		Provenance:  provenance,
		Color:       req.Color,
	}

	if err := s.reminders.Create(reminder); err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to save reminder")
		return
	}

	armed := false
	if s.sched != nil {
		armed = s.sched.Schedule(reminder)
	}

	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"reminder": reminder,
		"armed":    armed,
	})
}

func (s *Server) handleListReminders(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	reminders, err := s.reminders.List(limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"reminders": reminders,
		"count":     len(reminders),
	})
}

func (s *Server) handleUpcomingReminders(w http.ResponseWriter, r *http.Request) {
	reminders, err := s.reminders.GetUpcoming(time.Now())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"reminders": reminders,
		"count":     len(reminders),
	})
}

func (s *Server) handleGetReminder(w http.ResponseWriter, r *http.Request) {
	id := core.ReminderID(chi.URLParam(r, "id"))
	reminder, err := s.reminders.GetByID(id)
	if errors.Is(err, core.ErrReminderNotFound) {
		s.respondError(w, http.StatusNotFound, "reminder not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, reminder)
}

func (s *Server) handleReminderDone(w http.ResponseWriter, r *http.Request) {
	id := core.ReminderID(chi.URLParam(r, "id"))
	if err := s.center.MarkDone(id); err != nil {
		if errors.Is(err, core.ErrReminderNotFound) {
			s.respondError(w, http.StatusNotFound, "reminder not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleReminderSnooze(w http.ResponseWriter, r *http.Request) {
	id := core.ReminderID(chi.URLParam(r, "id"))
	if err := s.center.Snooze(id); err != nil {
		if errors.Is(err, core.ErrReminderNotFound) {
			s.respondError(w, http.StatusNotFound, "reminder not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleReminderCancel(w http.ResponseWriter, r *http.Request) {
	id := core.ReminderID(chi.URLParam(r, "id"))
	if s.sched != nil {
		s.sched.Cancel(id)
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- Notifications ---

func (s *Server) handleActiveNotifications(w http.ResponseWriter, r *http.Request) {
	if s.center == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"notifications": []struct{}{}, "count": 0})
		return
	}
	active := s.center.Active()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": active,
		"count":         len(active),
	})
}
