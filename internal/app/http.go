package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"retroboard/internal/metrics"
	"retroboard/internal/ratelimit"
	"retroboard/internal/retro"
	"retroboard/internal/search"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        *slog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: service.log}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: strings.Split(s.corsOrigin, ","),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Retry-After", "Content-Disposition"},
		MaxAge:         300,
	}))
	r.Use(metrics.Middleware)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	r.Get("/api/config", s.handleConfig)
	r.Post("/api/session/login", s.handleLogin)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Get("/api/session", s.handleSession)
		r.Post("/api/session/logout", s.handleLogout)
		r.Get("/api/board", s.handleBoard)
		r.Post("/api/cards", s.handleAddCard)
		r.Post("/api/cards/{cardID}/vote", s.handleToggleVote)
		r.Delete("/api/cards/{cardID}", s.handleDeleteCard)
		r.Patch("/api/settings", s.handleUpdateSettings)
		r.Post("/api/backups", s.handleCreateBackup)
		r.Post("/api/sync/reload", s.handleReload)
		r.Post("/api/sync/toggle", s.handleToggleSync)
		r.Get("/api/export", s.handleExport)
		r.Get("/api/search", s.handleSearch)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"loaded":      s.service.Loaded(),
		"syncRunning": s.service.SyncRunning(),
	})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	conn := s.service.Connectivity(ctx)
	status := http.StatusOK
	if !conn.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ok":         conn.OK,
		"repository": conn,
	})
}

func (s *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.PublicConfig())
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Registry string `json:"registry"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	resp, err := s.service.Login(r.Context(), body.Name, body.Registry, body.Password)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"userId": session.UserID,
		"name":   session.Name,
		"role":   session.Role,
	})
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Logout(r.Context(), sessionFrom(r.Context())); err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleBoard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Board(sessionFrom(r.Context())))
}

func (s *HTTPServer) handleAddCard(w http.ResponseWriter, r *http.Request) {
	var input retro.CardInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	card, err := s.service.AddCard(r.Context(), sessionFrom(r.Context()), input)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, card)
}

func (s *HTTPServer) handleToggleVote(w http.ResponseWriter, r *http.Request) {
	card, err := s.service.ToggleVote(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "cardID"))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (s *HTTPServer) handleDeleteCard(w http.ResponseWriter, r *http.Request) {
	card, err := s.service.DeleteCard(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "cardID"))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (s *HTTPServer) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch retro.SettingsPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	settings, err := s.service.UpdateSettings(r.Context(), sessionFrom(r.Context()), patch)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *HTTPServer) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.CreateBackup(r.Context(), sessionFrom(r.Context()))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	status := http.StatusCreated
	if !result.Stored {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

func (s *HTTPServer) handleReload(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Reload(r.Context(), sessionFrom(r.Context()))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleToggleSync(w http.ResponseWriter, r *http.Request) {
	running, err := s.service.ToggleSync(sessionFrom(r.Context()))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"running": running})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Export(r.Context(), r.URL.Query().Get("format"))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := search.Query{
		Text:   strings.TrimSpace(query.Get("q")),
		Column: retro.Column(query.Get("column")),
	}
	if q.Column != "" && !validColumn(q.Column) {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Unknown column", nil)
		return
	}
	var err error
	if q.Limit, err = intParam(query.Get("limit"), 20); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer", nil)
		return
	}
	if q.Offset, err = intParam(query.Get("offset"), 0); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "offset must be a positive integer", nil)
		return
	}
	writeJSON(w, http.StatusOK, s.service.Search(q))
}

func validColumn(col retro.Column) bool {
	for _, c := range retro.Columns {
		if c == col {
			return true
		}
	}
	return false
}

func intParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	return n, nil
}

type sessionKey struct{}

func sessionFrom(ctx context.Context) Session {
	session, _ := ctx.Value(sessionKey{}).(Session)
	return session
}

func (s *HTTPServer) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := s.service.SessionFromToken(r.Context(), bearerToken(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, session)))
	})
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("X-Request-ID", requestID)
		writer.Header().Set("Cache-Control", "no-store")

		next.ServeHTTP(writer, r)

		s.log.Info("http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	var exceeded *ratelimit.ExceededError
	if errors.As(err, &exceeded) {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(exceeded)))
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "request_id", requestIDFrom(r.Context()), "path", r.URL.Path, "error", err)
	} else {
		s.log.Debug("request rejected", "request_id", requestIDFrom(r.Context()), "code", code, "error", err)
	}
	writeError(w, status, code, message, details)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
