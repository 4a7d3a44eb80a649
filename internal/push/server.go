package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/dbehnke/js8chat/internal/chat"
	"github.com/dbehnke/js8chat/internal/database"
	"github.com/dbehnke/js8chat/internal/js8"
)

// Service is what the HTTP routes need from the chat layer
type Service interface {
	Connected() bool
	Station(ctx context.Context) (chat.StationStatus, error)
	Conversations() ([]database.Conversation, error)
	Messages(conversation string, limit int) ([]database.Message, error)
	StoreMessage(msg *database.Message) error
	SendMessage(ctx context.Context, to, text string) (*database.Message, error)
	MarkRead(callsign string) error
}

// Config holds HTTP server settings
type Config struct {
	Address     string
	AllowOrigin string
	HealthCheck func() error // optional, reported by /api/health
	Debug       bool
}

// Server exposes the chat API, server-sent events and a websocket feed
type Server struct {
	config   Config
	hub      *Hub
	service  Service
	logger   *log.Logger
	listener net.Listener
	server   *http.Server
}

// NewServer creates an HTTP server. Call Start to listen.
func NewServer(config Config, hub *Hub, service Service, logger *log.Logger) *Server {
	s := &Server{
		config:  config,
		hub:     hub,
		service: service,
		logger:  logger,
	}
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler, wrapped with CORS
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/station", s.handleStation)
	mux.HandleFunc("GET /api/conversations", s.handleConversations)
	mux.HandleFunc("PUT /api/conversations/{callsign}/read", s.handleMarkRead)
	mux.HandleFunc("GET /api/messages", s.handleListMessages)
	mux.HandleFunc("POST /api/messages", s.handleStoreMessage)
	mux.HandleFunc("POST /api/send", s.handleSend)
	return s.cors(mux)
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	s.listener = listener

	if s.logger != nil {
		s.logger.Printf("HTTP server started on %s", listener.Addr().String())
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if s.logger != nil {
				s.logger.Printf("HTTP server error: %v", err)
			}
		}
	}()
	return nil
}

// Addr returns the listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Shutdown disconnects push subscribers and stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.server.Shutdown(ctx)
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.AllowOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.config.AllowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && s.logger != nil {
		s.logger.Printf("Failed to write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	resp := map[string]any{
		"status":      "ok",
		"connected":   s.service.Connected(),
		"subscribers": s.hub.SubscriberCount(),
	}
	if s.config.HealthCheck != nil {
		if err := s.config.HealthCheck(); err != nil {
			status = http.StatusServiceUnavailable
			resp["status"] = "degraded"
			resp["database"] = err.Error()
		}
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleStation(w http.ResponseWriter, r *http.Request) {
	station, err := s.service.Station(r.Context())
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("Error getting station info: %v", err)
		}
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":     "Unable to connect to JS8Call",
			"connected": false,
		})
		return
	}
	s.writeJSON(w, http.StatusOK, station)
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := s.service.Conversations()
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("Error fetching conversations: %v", err)
		}
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if conversations == nil {
		conversations = []database.Conversation{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"conversations": conversations})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	callsign := r.PathValue("callsign")
	if err := s.service.MarkRead(callsign); err != nil {
		if errors.Is(err, chat.ErrInvalidMessage) {
			s.writeError(w, http.StatusBadRequest, "Callsign required")
			return
		}
		if s.logger != nil {
			s.logger.Printf("Error marking conversation as read: %v", err)
		}
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	conversation := r.URL.Query().Get("conversation")
	if conversation == "" {
		s.writeError(w, http.StatusBadRequest, "Conversation parameter required")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = v
	}

	messages, err := s.service.Messages(conversation, limit)
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("Error fetching messages: %v", err)
		}
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if messages == nil {
		messages = []database.Message{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *Server) handleStoreMessage(w http.ResponseWriter, r *http.Request) {
	var msg database.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if msg.Conversation == "" || msg.From == "" || msg.To == "" || msg.Text == "" || msg.Direction == "" {
		s.writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	msg.ID = 0

	if err := s.service.StoreMessage(&msg); err != nil {
		if s.logger != nil {
			s.logger.Printf("Error creating message: %v", err)
		}
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"id": msg.ID, "success": true})
}

type sendRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	msg, err := s.service.SendMessage(r.Context(), req.To, req.Text)
	switch {
	case errors.Is(err, chat.ErrInvalidMessage):
		s.writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	case errors.Is(err, js8.ErrNotConnected):
		s.writeError(w, http.StatusServiceUnavailable, "Not connected to JS8Call")
		return
	case err != nil:
		if s.logger != nil {
			s.logger.Printf("Error sending message: %v", err)
		}
		s.writeError(w, http.StatusInternalServerError, "Failed to send message")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": msg})
}
