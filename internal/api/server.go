// Package api provides the HTTP and WebSocket surface for the chatmind
// daemon: notification ingest, conversation and reminder queries, intent
// detection, and reminder actions.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/chatmind/chatmind/internal/convstore"
	"github.com/chatmind/chatmind/internal/delivery"
	"github.com/chatmind/chatmind/internal/intent"
	"github.com/chatmind/chatmind/internal/logging"
	"github.com/chatmind/chatmind/internal/reply"
	"github.com/chatmind/chatmind/internal/scheduler"
	"github.com/chatmind/chatmind/internal/storage"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	wsHub      *WebSocketHub

	store     *convstore.Store
	reminders *storage.ReminderStore
	engine    *intent.Engine
	sched     *scheduler.Scheduler
	center    *delivery.Center
	replies   *reply.Generator

	lead         time.Duration
	contextLines int
}

// Config for the server
type Config struct {
	Host string
	Port int

	Store         *convstore.Store
	ReminderStore *storage.ReminderStore
	Engine        *intent.Engine
	Scheduler     *scheduler.Scheduler
	Center        *delivery.Center
	Replies       *reply.Generator

	Lead         time.Duration
	ContextLines int
}

// New creates a new API server
func New(cfg Config) *Server {
	if cfg.Lead <= 0 {
		cfg.Lead = scheduler.DefaultLead
	}
	if cfg.ContextLines <= 0 {
		cfg.ContextLines = 5
	}

	s := &Server{
		store:        cfg.Store,
		reminders:    cfg.ReminderStore,
		engine:       cfg.Engine,
		sched:        cfg.Scheduler,
		center:       cfg.Center,
		replies:      cfg.Replies,
		lead:         cfg.Lead,
		contextLines: cfg.ContextLines,
		wsHub:        NewWebSocketHub(),
	}

	s.setupRouter()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRouter configures all routes
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/ingest", s.handleIngest)

		r.Get("/conversations", s.handleListConversations)
		r.Get("/conversations/{id}", s.handleGetConversation)
		r.Get("/conversations/{id}/messages", s.handleGetMessages)
		r.Post("/conversations/{id}/read", s.handleMarkRead)
		r.Delete("/conversations/{id}", s.handleDeleteConversation)

		r.Delete("/messages/{hash}", s.handleDeleteMessage)
		r.Post("/messages/{hash}/reply", s.handleGenerateReply)
		r.Post("/messages/{hash}/send", s.handleSendReply)

		r.Post("/detect", s.handleDetect)

		r.Post("/reminders", s.handleCreateReminder)
		r.Get("/reminders", s.handleListReminders)
		r.Get("/reminders/upcoming", s.handleUpcomingReminders)
		r.Get("/reminders/{id}", s.handleGetReminder)
		r.Post("/reminders/{id}/done", s.handleReminderDone)
		r.Post("/reminders/{id}/snooze", s.handleReminderSnooze)
		r.Post("/reminders/{id}/cancel", s.handleReminderCancel)

		r.Get("/notifications", s.handleActiveNotifications)
	})

	r.Get("/ws", s.handleWebSocket)

	s.router = r
}

// Start starts the HTTP server and wires the real-time push path.
func (s *Server) Start() error {
	go s.wsHub.Run()

	if s.store != nil {
		s.store.Subscribe(&storePusher{server: s, id: "ws-push-" + uuid.New().String()})
	}
	if s.center != nil {
		s.center.Subscribe(&firedPusher{server: s, id: "ws-fired-" + uuid.New().String()})
	}

	logging.Info("API server listening on http://%s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.wsHub.Stop()
	return s.httpServer.Shutdown(ctx)
}

// Broadcast sends a message to all WebSocket clients
func (s *Server) Broadcast(msgType string, data interface{}) {
	s.wsHub.Broadcast(WebSocketMessage{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// storePusher forwards store change events to websocket clients.
type storePusher struct {
	server *Server
	id     string
}

func (p *storePusher) Send(ev convstore.Event) error {
	p.server.Broadcast("store."+string(ev.Type), ev)
	return nil
}

func (p *storePusher) ID() string { return p.id }

// firedPusher forwards fired-reminder notifications to websocket clients.
type firedPusher struct {
	server *Server
	id     string
}

func (p *firedPusher) Send(n delivery.Notification) error {
	p.server.Broadcast("reminder.fired", n)
	return nil
}

func (p *firedPusher) ID() string { return p.id }

// --- Response helpers ---

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}
