// Package api exposes the query service over a JSON HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/linyh/webrag/internal/rag"
)

// maxRequestBody caps request bodies to keep malformed clients from
// holding memory.
const maxRequestBody = 1 << 20 // 1 MiB

// Default rate limit: 10 req/s with burst of 20 per client IP.
const (
	defaultRateLimit = 10.0
	defaultRateBurst = 20
)

// ChatService is what the handlers need from the query service.
type ChatService interface {
	Initialize(ctx context.Context) error
	Status(ctx context.Context) rag.Status
	ChatDirect(ctx context.Context, topic string, reasoningMode bool) (*rag.Exchange, error)
	ChatWithRetrieval(ctx context.Context, question string, reasoningMode bool) (*rag.Exchange, error)
}

// ConfigSource exposes the resolved configuration for inspection and reload.
type ConfigSource interface {
	SafeConfig() map[string]any
	Sources() []string
	Reload() (map[string]any, error)
}

// ServerConfig carries the server's dependencies and settings.
type ServerConfig struct {
	Chat        ChatService
	Config      ConfigSource
	Logger      *slog.Logger
	CORSOrigins []string
	TrustProxy  bool

	// RateLimit overrides the default per-IP limit when > 0.
	RateLimit float64
	RateBurst int
}

// Server wires handlers, middleware and routes into an http.Handler.
type Server struct {
	chat    ChatService
	config  ConfigSource
	logger  *slog.Logger
	handler http.Handler
}

// NewServer builds the server and its middleware chain.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		chat:   cfg.Chat,
		config: cfg.Config,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/config", s.handleConfig)
	mux.HandleFunc("POST /api/config/reload", s.handleConfigReload)
	mux.HandleFunc("POST /api/initialize", s.handleInitialize)
	mux.HandleFunc("POST /api/chat/before-rag", s.handleChatDirect)
	mux.HandleFunc("POST /api/chat/with-rag", s.handleChatWithRetrieval)

	limit := cfg.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = defaultRateBurst
	}
	rl := newRateLimiter(limit, burst)

	// Outermost first: recovery wraps everything, rate limiting runs last
	// before the mux so rejected requests are still logged.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = securityHeadersMiddleware()(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)
	s.handler = handler

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

type healthResponse struct {
	Status       string         `json:"status"`
	Initialized  bool           `json:"initialized"`
	Initializing bool           `json:"initializing"`
	Chunks       int            `json:"chunks"`
	LastError    string         `json:"lastError,omitempty"`
	Config       map[string]any `json:"config"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.chat.Status(r.Context())
	writeJSON(w, http.StatusOK, healthResponse{
		Status:       "ok",
		Initialized:  st.Initialized,
		Initializing: st.Initializing,
		Chunks:       st.Chunks,
		LastError:    st.LastError,
		Config:       s.config.SafeConfig(),
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"config":  s.config.SafeConfig(),
		"sources": s.config.Sources(),
	})
}

func (s *Server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	if _, err := s.config.Reload(); err != nil {
		s.logger.Error("config reload failed", "error", err)
		writeError(w, http.StatusInternalServerError, "reload_failed", "configuration reload failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "reloaded",
		"config":  s.config.SafeConfig(),
		"sources": s.config.Sources(),
	})
}

type initializeResponse struct {
	Success      bool `json:"success"`
	Chunks       int  `json:"chunks"`
	Initializing bool `json:"initializing"`
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	if err := s.chat.Initialize(r.Context()); err != nil {
		s.logger.Error("initialization failed", "error", err)
		writeError(w, http.StatusInternalServerError, "initialization_failed", err.Error())
		return
	}
	st := s.chat.Status(r.Context())
	writeJSON(w, http.StatusOK, initializeResponse{
		Success:      true,
		Chunks:       st.Chunks,
		Initializing: st.Initializing,
	})
}

type chatRequest struct {
	Topic          string `json:"topic"`
	Question       string `json:"question"`
	EnableThinking bool   `json:"enableThinking"`
}

type chatResponse struct {
	Topic        string  `json:"topic,omitempty"`
	Question     string  `json:"question,omitempty"`
	Reasoning    *string `json:"reasoning"`
	Answer       string  `json:"answer"`
	HasReasoning bool    `json:"hasReasoning"`
	RawText      string  `json:"rawText"`
}

// decodeJSON parses a bounded JSON request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	body := http.MaxBytesReader(nil, r.Body, maxRequestBody)
	defer body.Close()

	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty request body")
		}
		return err
	}
	return nil
}

func (s *Server) handleChatDirect(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be valid JSON")
		return
	}
	if req.Topic == "" {
		writeError(w, http.StatusBadRequest, "missing_field", "topic is required")
		return
	}

	ex, err := s.chat.ChatDirect(r.Context(), req.Topic, req.EnableThinking)
	if err != nil {
		s.writeChatError(w, err)
		return
	}
	resp := toChatResponse(ex)
	resp.Topic = req.Topic
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChatWithRetrieval(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be valid JSON")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "missing_field", "question is required")
		return
	}

	ex, err := s.chat.ChatWithRetrieval(r.Context(), req.Question, req.EnableThinking)
	if err != nil {
		s.writeChatError(w, err)
		return
	}
	resp := toChatResponse(ex)
	resp.Question = req.Question
	writeJSON(w, http.StatusOK, resp)
}

// writeChatError maps query service errors to HTTP responses. The client
// gets a generic message; the wrapped cause only goes to the log.
func (s *Server) writeChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rag.ErrRetrievalUnavailable):
		s.logger.Warn("chat rejected: retrieval unavailable", "error", err)
		writeErrorHint(w, http.StatusServiceUnavailable, "not_ready",
			"retrieval is not initialized",
			"POST /api/initialize to load the knowledge base")
	case errors.Is(err, rag.ErrModelUnavailable):
		s.logger.Warn("chat rejected: model unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "model_unavailable",
			"the model server cannot be reached")
	default:
		s.logger.Error("chat request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func toChatResponse(ex *rag.Exchange) chatResponse {
	return chatResponse{
		Reasoning:    ex.Reasoning,
		Answer:       ex.Answer,
		HasReasoning: ex.HasReasoning,
		RawText:      ex.RawText,
	}
}
