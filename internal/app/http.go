package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"marginalia/api/internal/outline"
	"marginalia/api/internal/snapshot"
	"marginalia/api/internal/store"
)

const (
	maxBodyBytes       = 4 << 20
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
	metrics    http.Handler
}

func NewHTTPServer(service *Service, corsOrigin string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		logger:     logger.Named("http"),
		metrics:    promhttp.Handler(),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		s.metrics.ServeHTTP(w, r)
		return
	}

	parts := splitPath(r.URL.EscapedPath())
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "concepts" {
		conceptID, err := url.PathUnescape(parts[2])
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_CONCEPT", "Malformed concept id", nil)
			return
		}
		s.handleConcept(w, r, conceptID, parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleConcept(w http.ResponseWriter, r *http.Request, conceptID string, rest []string) {
	if len(rest) == 0 {
		if r.Method != http.MethodDelete {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		if err := s.service.DeleteConcept(r.Context(), conceptID); err != nil {
			s.fail(w, r, "DeleteConcept", conceptID, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if rest[0] != "workspace" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	switch {
	case len(rest) == 1:
		s.handleWorkspace(w, r, conceptID)
	case len(rest) == 2 && rest[1] == "ops":
		s.handleOperation(w, r, conceptID)
	case len(rest) == 2 && rest[1] == "groups":
		s.handleGroupSearch(w, r, conceptID)
	case len(rest) >= 2 && rest[1] == "snapshots":
		s.handleSnapshots(w, r, conceptID, rest[2:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleWorkspace(w http.ResponseWriter, r *http.Request, conceptID string) {
	if r.Method == http.MethodGet {
		ws, err := s.service.GetWorkspace(r.Context(), conceptID)
		if err != nil {
			s.fail(w, r, "GetWorkspace", conceptID, err)
			return
		}
		writeJSON(w, http.StatusOK, ws)
		return
	}

	if r.Method == http.MethodPut {
		var body struct {
			Workspace json.RawMessage `json:"workspace"`
		}
		if err := decodeBody(w, r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		ws, err := s.service.ReplaceWorkspace(r.Context(), conceptID, body.Workspace)
		if err != nil {
			s.fail(w, r, "ReplaceWorkspace", conceptID, err)
			return
		}
		writeJSON(w, http.StatusOK, ws)
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleOperation(w http.ResponseWriter, r *http.Request, conceptID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	var body struct {
		Op      string          `json:"op"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	ws, err := s.service.ApplyOperation(r.Context(), conceptID, strings.TrimSpace(body.Op), body.Payload)
	if err != nil {
		s.fail(w, r, "ApplyOperation", conceptID, err)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

func (s *HTTPServer) handleGroupSearch(w http.ResponseWriter, r *http.Request, conceptID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", "limit must be a positive integer", nil)
			return
		}
		limit = min(parsed, maxSearchLimit)
	}
	response, err := s.service.SearchGroups(r.Context(), conceptID, r.URL.Query().Get("q"), limit)
	if err != nil {
		s.fail(w, r, "SearchGroups", conceptID, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleSnapshots(w http.ResponseWriter, r *http.Request, conceptID string, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			infos, err := s.service.ListSnapshots(r.Context(), conceptID)
			if err != nil {
				s.fail(w, r, "ListSnapshots", conceptID, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"snapshots": infos})
		case http.MethodPost:
			info, err := s.service.CreateSnapshot(r.Context(), conceptID)
			if err != nil {
				s.fail(w, r, "CreateSnapshot", conceptID, err)
				return
			}
			writeJSON(w, http.StatusCreated, info)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(rest) == 2 && rest[1] == "restore" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		snapshotID, err := url.PathUnescape(rest[0])
		if err != nil {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Snapshot not found", nil)
			return
		}
		ws, err := s.service.RestoreSnapshot(r.Context(), conceptID, snapshotID)
		if err != nil {
			s.fail(w, r, "RestoreSnapshot", conceptID, err)
			return
		}
		writeJSON(w, http.StatusOK, ws)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

// fail maps err onto the error envelope. Unexpected failures are logged here;
// domain rejections were already logged by the service.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, action, conceptID string, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(action+" failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("concept_id", conceptID),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
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
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
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

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
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

func decodeBody(w http.ResponseWriter, r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(target); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", maxBodyBytes)
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var outlineErr *outline.Error
	if errors.As(err, &outlineErr) {
		var details any
		if outlineErr.Op != "" {
			details = map[string]any{"op": outlineErr.Op}
		}
		switch {
		case errors.Is(err, outline.ErrUnknownOperation):
			return http.StatusBadRequest, "UNKNOWN_OPERATION", outlineErr.Message, details
		case errors.Is(err, outline.ErrInvalidPayload):
			return http.StatusUnprocessableEntity, "INVALID_WORKSPACE", outlineErr.Message, nil
		default:
			return http.StatusUnprocessableEntity, "INVALID_OPERATION", outlineErr.Message, details
		}
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, snapshot.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
