// Package http exposes the progression engine as a small JSON API.
// The acting user is taken from the X-User-ID header set by the upstream
// gateway; the server does no authentication of its own.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/skillquest/progression-engine/internal/application/command"
	"github.com/skillquest/progression-engine/internal/application/query"
	"github.com/skillquest/progression-engine/internal/application/saga"
	"github.com/skillquest/progression-engine/internal/domain/progression"
	"github.com/skillquest/progression-engine/internal/domain/shared"
	"github.com/skillquest/progression-engine/internal/domain/skill"
	"github.com/skillquest/progression-engine/internal/interface/http/handlers"
	"github.com/skillquest/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Host - address to bind (default: "0.0.0.0").
	Host string

	// Port - port to listen on (default: 8080).
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxHeaderBytes - maximum size of request headers.
	MaxHeaderBytes int

	// MaxBodyBytes - maximum size of a request body.
	MaxBodyBytes int64

	// AllowedOrigins - allowed origins for CORS. Empty disables CORS.
	AllowedOrigins []string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
		MaxBodyBytes:   64 << 10,
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Engine is the part of the progression engine the API drives.
type Engine interface {
	CalculateLevel(ctx context.Context, xp int) (progression.LevelInfo, error)
	RegisterProfile(ctx context.Context, cmd command.RegisterProfileCommand) (*command.RegisterProfileResult, error)
	DashboardStats(ctx context.Context, userID shared.UserID) (*query.DashboardStats, error)
	SkillTree(ctx context.Context, userID shared.UserID) ([]skill.TreeNode, error)
	AwardXP(ctx context.Context, cmd command.AwardXPCommand) (*command.AwardXPResult, error)
	CompleteLesson(ctx context.Context, input saga.LessonCompletionInput) (*saga.LessonCompletionResult, error)
	CompleteSkill(ctx context.Context, cmd command.CompleteSkillCommand) (*command.CompleteSkillResult, error)
	UpdateStreak(ctx context.Context, userID shared.UserID) (*command.UpdateStreakResult, error)
	JoinChallenge(ctx context.Context, cmd command.JoinChallengeCommand) (*command.JoinChallengeResult, error)
	ApplyChallengeEvent(ctx context.Context, cmd command.ApplyChallengeEventCommand) (*command.ApplyChallengeEventResult, error)
}

// Dependencies contains everything the handlers need.
type Dependencies struct {
	Engine Engine

	// HealthChecker backs /readyz. Nil reports ready.
	HealthChecker handlers.HealthChecker

	Logger *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	router     *http.ServeMux
	handler    http.Handler
	logger     *logger.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	defaults := DefaultConfig()
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaults.MaxBodyBytes
	}
	if config.MaxHeaderBytes <= 0 {
		config.MaxHeaderBytes = defaults.MaxHeaderBytes
	}
	if deps.HealthChecker == nil {
		deps.HealthChecker = handlers.NewNoopHealthChecker()
	}

	s := &Server{
		config: config,
		deps:   deps,
		router: http.NewServeMux(),
		logger: deps.Logger,
	}
	if s.logger == nil {
		s.logger = logger.Default()
	}
	s.logger = s.logger.With(logger.Component("http"))

	s.setupRoutes()
	s.handler = s.buildMiddlewareChain(s.router)

	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        s.handler,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /healthz", s.handleHealth)
	s.router.HandleFunc("GET /readyz", s.handleReady)

	s.router.HandleFunc("GET /v1/levels", s.handleCalculateLevel)

	s.router.Handle("POST /v1/me/profile", s.withUser(s.handleRegisterProfile))
	s.router.Handle("GET /v1/me/dashboard", s.withUser(s.handleDashboard))
	s.router.Handle("GET /v1/me/skills", s.withUser(s.handleSkillTree))
	s.router.Handle("POST /v1/me/xp", s.withUser(s.handleAwardXP))
	s.router.Handle("POST /v1/me/lessons/{lessonID}/complete", s.withUser(s.handleCompleteLesson))
	s.router.Handle("POST /v1/me/skills/{skillID}/complete", s.withUser(s.handleCompleteSkill))
	s.router.Handle("POST /v1/me/streak", s.withUser(s.handleUpdateStreak))
	s.router.Handle("POST /v1/me/challenges/{challengeID}/join", s.withUser(s.handleJoinChallenge))
	s.router.Handle("POST /v1/me/events", s.withUser(s.handleChallengeEvent))
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE CHAIN
// ══════════════════════════════════════════════════════════════════════════════

// buildMiddlewareChain wraps the router; the last wrapper runs first.
func (s *Server) buildMiddlewareChain(handler http.Handler) http.Handler {
	h := handler
	h = s.recoveryMiddleware(h)
	h = s.loggingMiddleware(h)
	h = s.requestMetaMiddleware(h)

	if len(s.config.AllowedOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins: s.config.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", headerUserID, headerRequestID, headerSessionID},
			ExposedHeaders: []string{headerRequestID},
			MaxAge:         86400,
		}).Handler(h)
	}

	return h
}

const (
	headerUserID    = "X-User-ID"
	headerRequestID = "X-Request-ID"
	headerSessionID = "X-Session-ID"
)

// requestMetaMiddleware attaches shared.RequestMeta to the context. The
// request id doubles as the correlation id of every event the request emits.
func (s *Server) requestMetaMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(headerRequestID, requestID)

		ctx := shared.WithRequestMeta(r.Context(), shared.RequestMeta{
			SessionID:     r.Header.Get(headerSessionID),
			CorrelationID: requestID,
		})
		ctx = logger.WithContext(ctx, s.logger.WithRequestID(requestID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs all HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		fields := []logger.Field{
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", rw.statusCode),
			logger.Latency(time.Since(start)),
		}
		if uid := r.Header.Get(headerUserID); uid != "" {
			fields = append(fields, logger.UserID(uid))
		}

		log := logger.FromContext(r.Context())
		if rw.statusCode >= http.StatusInternalServerError {
			log.Warn("http request", fields...)
			return
		}
		log.Info("http request", fields...)
	})
}

// recoveryMiddleware recovers from panics and returns 500.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.FromContext(r.Context()).Error("panic recovered",
					logger.Any("panic", rec),
					logger.String("stack", string(debug.Stack())),
					logger.String("path", r.URL.Path),
				)
				writeJSONError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type userHandler func(w http.ResponseWriter, r *http.Request, userID shared.UserID)

// withUser requires a well-formed X-User-ID header.
func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := shared.UserID(r.Header.Get(headerUserID))
		if userID == "" {
			writeJSONError(w, http.StatusUnauthorized, "missing_user", "X-User-ID header is required")
			return
		}
		if !userID.IsValid() {
			writeJSONError(w, http.StatusBadRequest, string(shared.KindValidation), "X-User-ID must be a uuid")
			return
		}
		next(w, r, userID)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", logger.String("address", s.config.Address()))

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse represents a standard JSON response.
type JSONResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(JSONResponse{Success: status < 300, Data: data})
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(JSONResponse{Error: &APIError{Code: code, Message: message}})
}

// statusResponse is returned for benign repeats such as a second lesson completion.
type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// writeDomainError maps an error kind onto an HTTP status.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, op string, err error) {
	kind := shared.KindOf(err)

	switch kind {
	case shared.KindAlreadyCompleted:
		writeJSON(w, http.StatusOK, statusResponse{Status: string(kind), Message: shared.MessageOf(err)})
		return
	case shared.KindNotFound:
		writeJSONError(w, http.StatusNotFound, string(kind), shared.MessageOf(err))
	case shared.KindValidation:
		writeJSONError(w, http.StatusBadRequest, string(kind), shared.MessageOf(err))
	case shared.KindConflict:
		writeJSONError(w, http.StatusConflict, string(kind), shared.MessageOf(err))
	default:
		logger.FromContext(r.Context()).Error("request failed",
			logger.Operation(op),
			logger.Err(err),
		)
		writeJSONError(w, http.StatusServiceUnavailable, string(shared.KindStore), "storage is unavailable, retry later")
	}
}

// decodeJSON decodes a single JSON object, rejecting unknown fields.
// An empty body leaves dst untouched when optional is set.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any, optional bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && optional {
			return nil
		}
		return shared.WrapError("http", "decode", shared.ErrValidation, "malformed request body", err)
	}
	if dec.More() {
		return shared.Validationf("http", "decode", "request body must hold a single object")
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER TYPES
// ══════════════════════════════════════════════════════════════════════════════

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
