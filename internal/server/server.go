// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/jeranaias/stembot/internal/config"
	"github.com/jeranaias/stembot/internal/export"
	"github.com/jeranaias/stembot/internal/model"
	"github.com/jeranaias/stembot/internal/ollama"
	"github.com/jeranaias/stembot/internal/security/auth"
	"github.com/jeranaias/stembot/internal/session"
	"github.com/jeranaias/stembot/internal/storage"
	"github.com/jeranaias/stembot/internal/telemetry"
	"github.com/jeranaias/stembot/internal/upload"
)

// Version is reported by /health; main sets it at startup.
var Version = "dev"

// maxJSONBody caps JSON request bodies.
const maxJSONBody = 1 << 20

// ============================================================================
// SERVER
// ============================================================================

// Deps are the collaborators behind the API.
type Deps struct {
	Config   *config.Config
	Users    *auth.Store
	Sessions *session.Manager

	// Gateway is checked by /health; nil reports "not_configured".
	Gateway *ollama.Gateway

	// Usage backs /api/usage; nil disables the endpoint.
	Usage *telemetry.UsageTracker

	Logger *slog.Logger
}

// Server is the JSON HTTP API in front of the session Manager.
type Server struct {
	router  *http.ServeMux
	server  *http.Server
	limiter *RateLimiter
	users   *auth.Store
	manager *session.Manager
	gateway *ollama.Gateway
	usage   *telemetry.UsageTracker
	logger  *slog.Logger

	mu  sync.RWMutex
	cfg *config.Config
}

// New creates a Server. Rate limits and the listen address are read once;
// other settings follow SetConfig.
func New(deps Deps) *Server {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router:  http.NewServeMux(),
		limiter: NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst),
		users:   deps.Users,
		manager: deps.Sessions,
		gateway: deps.Gateway,
		usage:   deps.Usage,
		logger:  logger,
		cfg:     cfg,
	}
	s.setupRoutes()
	return s
}

// SetConfig swaps the settings used by subsequent requests.
func (s *Server) SetConfig(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

func (s *Server) config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// ============================================================================
// ROUTES
// ============================================================================

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /health", s.handleHealth)

	s.router.HandleFunc("POST /api/register", s.handleRegister)
	s.router.HandleFunc("POST /api/login", s.handleLogin)

	authed := RequireLogin(s.manager)
	handle := func(pattern string, h http.HandlerFunc) {
		s.router.Handle(pattern, authed(h))
	}

	handle("POST /api/logout", s.handleLogout)
	handle("GET /api/state", s.handleState)
	handle("GET /api/models", s.handleModels)
	handle("PUT /api/model", s.handleSelectModel)
	handle("PUT /api/page", s.handleSetPage)

	handle("GET /api/sessions", s.handleSessions)
	handle("POST /api/sessions/new", s.handleNewChat)
	handle("POST /api/sessions/{id}/open", s.handleOpen)
	handle("DELETE /api/sessions/{id}", s.handleDelete)
	handle("POST /api/sessions/delete-all", s.handleAskDeleteAll)
	handle("POST /api/sessions/delete-all/cancel", s.handleCancelDeleteAll)
	handle("POST /api/sessions/delete-all/confirm", s.handleConfirmDeleteAll)

	handle("POST /api/chat", s.handleChat)
	handle("GET /api/export/{format}", s.handleExport)
	handle("POST /api/upload", s.handleUpload)
	handle("GET /api/usage", s.handleUsage)
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return Chain(
		RecoveryMiddleware(),
		RequestIDMiddleware(),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.logger),
		RateLimitMiddleware(s.limiter),
	)(s.router)
}

// ============================================================================
// ACCOUNT HANDLERS
// ============================================================================

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Confirm  string `json:"confirm"`
}

// handleRegister handles POST /api/register.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.users.Register(req.Username, req.Password, req.Confirm); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"username": req.Username,
		"message":  "Account registered, please log in.",
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Code     string `json:"code,omitempty"`
}

// handleLogin handles POST /api/login. Every successful login gets a fresh
// token; a token presented with the request is dropped.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.users.Authenticate(req.Username, req.Password, req.Code); err != nil {
		s.logger.WarnContext(r.Context(), "login failed",
			"request_id", RequestID(r.Context()), "user", req.Username, "error", err)
		if errors.Is(err, auth.ErrTOTPRequired) {
			writeJSON(w, http.StatusUnauthorized, errorResponse{
				Error:        newAPIError(http.StatusUnauthorized, err.Error()),
				TOTPRequired: true,
			})
			return
		}
		writeFailure(w, err)
		return
	}

	if old, err := r.Cookie(SessionCookie); err == nil {
		s.manager.Remove(old.Value)
	}
	token, ctrl := s.manager.Create()
	if err := ctrl.Login(r.Context(), req.Username); err != nil {
		s.manager.Remove(token)
		writeFailure(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.config().Server.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	s.logger.InfoContext(r.Context(), "user logged in", "request_id", RequestID(r.Context()), "user", req.Username)
	writeJSON(w, http.StatusOK, s.stateOf(ctrl, token))
}

// handleLogout handles POST /api/logout.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctrl := controllerFrom(r.Context())
	if err := ctrl.Logout(); err != nil {
		writeFailure(w, err)
		return
	}
	s.manager.Remove(tokenFrom(r.Context()))
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.config().Server.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// STATE HANDLERS
// ============================================================================

// PageView is one page of the open transcript.
type PageView struct {
	Messages []model.Message `json:"messages"`
	Page     int             `json:"page"`
	Total    int             `json:"total"`
}

// StateResponse is the connection state shown to the browser.
type StateResponse struct {
	Context          session.Context `json:"context"`
	Busy             bool            `json:"busy"`
	View             PageView        `json:"view"`
	RemainingSeconds int             `json:"remaining_seconds"`
}

func (s *Server) stateOf(ctrl *session.Controller, token string) StateResponse {
	items, page, total := ctrl.Page(s.config().Server.MessagesPerPage)
	return StateResponse{
		Context:          ctrl.State(),
		Busy:             ctrl.Busy(),
		View:             PageView{Messages: items, Page: page, Total: total},
		RemainingSeconds: int(s.manager.RemainingTime(token).Seconds()),
	}
}

// handleState handles GET /api/state.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stateOf(controllerFrom(r.Context()), tokenFrom(r.Context())))
}

// handleModels handles GET /api/models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	ctrl := controllerFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"models":   ctrl.Models(r.Context()),
		"selected": ctrl.State().SelectedModel,
	})
}

// handleSelectModel handles PUT /api/model.
func (s *Server) handleSelectModel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model string `json:"model"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	ctrl := controllerFrom(r.Context())
	if err := ctrl.SelectModel(r.Context(), req.Model); err != nil {
		writeFailure(w, err)
		return
	}
	s.handleState(w, r)
}

// handleSetPage handles PUT /api/page.
func (s *Server) handleSetPage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Page int `json:"page"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	ctrl := controllerFrom(r.Context())
	if err := ctrl.SetPage(req.Page, s.config().Server.MessagesPerPage); err != nil {
		writeFailure(w, err)
		return
	}
	s.handleState(w, r)
}

// ============================================================================
// SESSION HANDLERS
// ============================================================================

// handleSessions handles GET /api/sessions.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := controllerFrom(r.Context()).Sessions()
	if err != nil {
		writeFailure(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": ids})
}

// handleNewChat handles POST /api/sessions/new.
func (s *Server) handleNewChat(w http.ResponseWriter, r *http.Request) {
	if err := controllerFrom(r.Context()).NewChat(); err != nil {
		writeFailure(w, err)
		return
	}
	s.handleState(w, r)
}

// handleOpen handles POST /api/sessions/{id}/open.
func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	ctrl := controllerFrom(r.Context())
	notices, err := ctrl.Open(r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":   s.stateOf(ctrl, tokenFrom(r.Context())),
		"notices": notices,
	})
}

// handleDelete handles DELETE /api/sessions/{id}.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	deleted, err := controllerFrom(r.Context()).DeleteSession(id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Session '%s' not found", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAskDeleteAll handles POST /api/sessions/delete-all.
func (s *Server) handleAskDeleteAll(w http.ResponseWriter, r *http.Request) {
	if err := controllerFrom(r.Context()).RequestDeleteAll(); err != nil {
		writeFailure(w, err)
		return
	}
	s.handleState(w, r)
}

// handleCancelDeleteAll handles POST /api/sessions/delete-all/cancel.
func (s *Server) handleCancelDeleteAll(w http.ResponseWriter, r *http.Request) {
	if err := controllerFrom(r.Context()).CancelDeleteAll(); err != nil {
		writeFailure(w, err)
		return
	}
	s.handleState(w, r)
}

// handleConfirmDeleteAll handles POST /api/sessions/delete-all/confirm.
func (s *Server) handleConfirmDeleteAll(w http.ResponseWriter, r *http.Request) {
	res, notices, err := controllerFrom(r.Context()).ConfirmDeleteAll()
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted": res.Deleted,
		"failed":  len(res.Failures),
		"notices": notices,
	})
}

// ============================================================================
// CHAT HANDLERS
// ============================================================================

// handleChat handles POST /api/chat.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := controllerFrom(r.Context()).Send(r.Context(), req.Prompt)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleUpload handles POST /api/upload with a multipart "file" and an
// optional "question".
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := int64(s.config().Server.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, limit+(1<<20))
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "Uploaded file is too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing form field \"file\"")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read upload")
		return
	}
	if int64(len(data)) > limit {
		writeError(w, http.StatusRequestEntityTooLarge, "Uploaded file is too large")
		return
	}

	res, err := controllerFrom(r.Context()).Upload(r.Context(), filepath.Base(header.Filename), data, r.FormValue("question"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ============================================================================
// EXPORT HANDLER
// ============================================================================

// handleExport handles GET /api/export/{format}. The user and assistant
// query flags default to on; "0" or "false" excludes that role.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.PathValue("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	includeUser := queryFlag(r, "user", true)
	includeAssistant := queryFlag(r, "assistant", true)

	path, err := controllerFrom(r.Context()).Export(format, includeUser, includeAssistant)
	if err != nil {
		writeFailure(w, err)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "export file vanished", "file", path, "error", err)
		writeError(w, http.StatusInternalServerError, "Export file could not be read")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", format.MimeType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		s.logger.WarnContext(r.Context(), "export download interrupted", "file", path, "error", err)
	}
}

func queryFlag(r *http.Request, name string, def bool) bool {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// ============================================================================
// USAGE HANDLER
// ============================================================================

// handleUsage handles GET /api/usage?days=N.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		writeError(w, http.StatusNotFound, "Usage tracking is disabled")
		return
	}
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 366 {
			writeError(w, http.StatusBadRequest, "days must be between 1 and 366")
			return
		}
		days = n
	}
	summary, err := s.usage.Summary(days)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	OllamaStatus string `json:"ollama_status"`
	Connections  int    `json:"connections"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:       "ok",
		Version:      Version,
		OllamaStatus: "not_configured",
	}
	if s.manager != nil {
		health.Connections = s.manager.Len()
	}

	if s.gateway != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if _, err := s.gateway.Client().ListModels(ctx); err == nil {
			health.OllamaStatus = "ok"
		} else {
			health.OllamaStatus = "unavailable"
			health.Status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, health)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address and serves until Shutdown.
// It returns http.ErrServerClosed after a clean shutdown.
func (s *Server) Start() error {
	addr := s.config().Server.Addr

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		// Model replies can take as long as the inference timeout
		WriteTimeout: s.config().RequestTimeout() + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("server starting", "addr", addr, "version", Version)
	return srv.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}

	s.logger.Info("server shutting down")
	return srv.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

type errorResponse struct {
	Error        apiError `json:"error"`
	TOTPRequired bool     `json:"totp_required,omitempty"`
}

func newAPIError(status int, message string) apiError {
	typ := "invalid_request_error"
	switch {
	case status == http.StatusUnauthorized:
		typ = "authentication_error"
	case status == http.StatusTooManyRequests:
		typ = "rate_limit_error"
	case status >= 500:
		typ = "server_error"
	}
	return apiError{Message: message, Type: typ, Code: status}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: newAPIError(status, message)})
}

// writeFailure maps err to its status code. Internal errors are not echoed.
func writeFailure(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		message = "Internal Server Error"
	}
	writeError(w, status, message)
}

// StatusFor maps domain errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotAuthenticated),
		errors.Is(err, session.ErrNoSession),
		errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrTOTPRequired):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrTooManyAttempts):
		return http.StatusTooManyRequests
	case errors.Is(err, session.ErrBusy),
		errors.Is(err, session.ErrNotArmed),
		errors.Is(err, auth.ErrUserExists):
		return http.StatusConflict
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, upload.ErrUnsupported):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, upload.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, session.ErrEmptyPrompt),
		errors.Is(err, session.ErrUnknownModel),
		errors.Is(err, session.ErrInvalidSession),
		errors.Is(err, session.ErrInvalidPage),
		errors.Is(err, session.ErrInvalidEvent),
		errors.Is(err, storage.ErrInvalidKey),
		errors.Is(err, auth.ErrEmptyFields),
		errors.Is(err, auth.ErrPasswordMismatch),
		errors.Is(err, auth.ErrInvalidUsername):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a JSON body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body: "+err.Error())
		return false
	}
	return true
}
