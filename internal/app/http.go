package app

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"thesisflow/api/internal/auth"
	"thesisflow/api/internal/authpw"
	"thesisflow/api/internal/blob"
	"thesisflow/api/internal/export"
	"thesisflow/api/internal/feed"
	"thesisflow/api/internal/metrics"
	"thesisflow/api/internal/rbac"
	"thesisflow/api/internal/store"
	"thesisflow/api/internal/util"
	"thesisflow/api/internal/workflow"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/websocket"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	files      http.Handler
}

// NewHTTPServer builds the API handler. files serves locally stored PDFs and
// may be nil when blobs live in object storage.
func NewHTTPServer(service *Service, corsOrigin string, files http.Handler) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, files: files}
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
		promhttp.Handler().ServeHTTP(w, r)
		return
	}

	if strings.HasPrefix(r.URL.Path, "/files/") && (r.Method == http.MethodGet || r.Method == http.MethodHead) {
		if s.files == nil {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		w.Header().Del("Content-Type")
		s.files.ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/verify" {
		s.handleVerifyEmail(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/verify/resend" {
		s.handleResendCode(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleSignIn(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		identity, err := s.service.Identify(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		user, err := s.service.Profile(r.Context(), identity)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated":   true,
			"user":            user,
			"profileComplete": user.ProfileComplete(),
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
				return
			}
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		if err := s.service.Logout(r.Context(), body.RefreshToken); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("logout revoke failed")
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	parts := splitPath(r.URL.Path)

	// The stream authenticates with a query token since browsers cannot set
	// headers on a websocket upgrade.
	if r.Method == http.MethodGet && len(parts) == 4 && parts[0] == "api" && parts[1] == "versions" && parts[3] == "stream" {
		s.handleVersionStream(w, r, parts[2])
		return
	}

	if !strings.HasPrefix(r.URL.Path, "/api/") {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	identity, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}

	if r.URL.Path == "/api/profile" {
		switch r.Method {
		case http.MethodGet:
			user, err := s.service.Profile(r.Context(), identity)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, user)
		case http.MethodPut:
			var body ProfileInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			user, err := s.service.UpdateProfile(r.Context(), identity, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, user)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if rbac.Normalize(identity.Role) == rbac.RolePending {
		writeError(w, http.StatusForbidden, "PROFILE_INCOMPLETE", "Complete your profile first", nil)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/advisers" {
		query := r.URL.Query()
		result, err := s.service.SearchAdvisers(r.Context(), identity, query.Get("q"), query.Get("department"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/dashboard" {
		counts, err := s.service.Dashboard(r.Context(), identity)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, counts)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/conversations" {
		items, err := s.service.ListConversations(r.Context(), identity)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"conversations": items})
		return
	}

	if r.Method == http.MethodGet && len(parts) == 4 && parts[1] == "conversations" && parts[3] == "bundle" {
		bundle, err := s.service.ConversationBundle(r.Context(), identity, parts[2])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, bundle)
		return
	}

	if r.Method == http.MethodGet && len(parts) == 4 && parts[1] == "conversations" && parts[3] == "export" {
		result, err := s.service.Export(r.Context(), identity, parts[2], r.URL.Query().Get("format"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/drafts" {
		file, fields, ok := s.readUpload(w, r, "recipientId", "title", "message")
		if !ok {
			return
		}
		submission, err := s.service.SubmitNewDraft(r.Context(), identity, workflow.NewDraftInput{
			RecipientID: fields["recipientId"],
			Title:       fields["title"],
			Message:     fields["message"],
			File:        file,
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, submission)
		return
	}

	if len(parts) == 4 && parts[1] == "drafts" && parts[3] == "versions" {
		switch r.Method {
		case http.MethodGet:
			versions, err := s.service.ListVersions(r.Context(), identity, parts[2])
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
		case http.MethodPost:
			file, fields, ok := s.readUpload(w, r, "message")
			if !ok {
				return
			}
			submission, err := s.service.SubmitModifiedDraft(r.Context(), identity, parts[2], workflow.ModifiedDraftInput{
				Message: fields["message"],
				File:    file,
			})
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, submission)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if r.Method == http.MethodGet && len(parts) == 4 && parts[1] == "drafts" && parts[3] == "history" {
		items, err := s.service.DraftHistory(r.Context(), identity, parts[2])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
		return
	}

	if r.Method == http.MethodGet && len(parts) == 5 && parts[1] == "drafts" && parts[3] == "history" {
		manifest, err := s.service.DraftManifest(r.Context(), identity, parts[2], parts[4])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, manifest)
		return
	}

	if len(parts) == 4 && parts[1] == "versions" && parts[3] == "messages" {
		switch r.Method {
		case http.MethodGet:
			messages, err := s.service.ListMessages(r.Context(), identity, parts[2])
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
		case http.MethodPost:
			var body struct {
				Message string `json:"message"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			msg, err := s.service.PostMessage(r.Context(), identity, parts[2], body.Message)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, msg)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if r.Method == http.MethodGet && len(parts) == 4 && parts[1] == "versions" && parts[3] == "file" {
		url, version, err := s.service.FileURL(r.Context(), identity, parts[2])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"url": url, "fileName": version.FileName, "versionId": version.ID})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.SignUp(r.Context(), body.Email, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.pendingVerification(result))
}

// pendingVerification echoes the code only when it could not be mailed
// outside production.
func (s *HTTPServer) pendingVerification(result authpw.SignUpResult) map[string]any {
	payload := map[string]any{
		"user":    result.User,
		"message": "Check your email for a confirmation code",
	}
	if !result.Delivered && result.Code != "" && s.service.cfg.Environment != "production" {
		payload["devVerificationCode"] = result.Code
	}
	return payload
}

func (s *HTTPServer) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.VerifyEmail(r.Context(), body.Email, body.Code)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *HTTPServer) handleResendCode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.ResendCode(r.Context(), body.Email)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	payload := s.pendingVerification(result)
	delete(payload, "user")
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// readUpload parses a multipart submission. A missing file part is passed on
// empty so the workflow reports it in its usual validation order.
func (s *HTTPServer) readUpload(w http.ResponseWriter, r *http.Request, fields ...string) (workflow.File, map[string]string, bool) {
	limit := s.service.cfg.MaxUploadMB << 20
	if limit <= 0 {
		limit = 25 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File exceeds the upload limit", map[string]any{"limitMb": limit >> 20})
			return workflow.File{}, nil, false
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid multipart body", nil)
		return workflow.File{}, nil, false
	}
	defer r.MultipartForm.RemoveAll()

	values := make(map[string]string, len(fields))
	for _, name := range fields {
		values[name] = r.FormValue(name)
	}

	part, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return workflow.File{}, values, true
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid file part", nil)
		return workflow.File{}, nil, false
	}
	defer part.Close()
	data, err := io.ReadAll(part)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "could not read file", nil)
		return workflow.File{}, nil, false
	}
	return workflow.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, values, true
}

type streamEvent struct {
	Type     string              `json:"type"`
	Messages []store.ChatMessage `json:"messages,omitempty"`
	Message  *store.ChatMessage  `json:"message,omitempty"`
}

func (s *HTTPServer) handleVersionStream(w http.ResponseWriter, r *http.Request, versionID string) {
	token := r.URL.Query().Get("access_token")
	if token == "" {
		token = bearerToken(r)
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	identity, err := s.service.Identify(r.Context(), token)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub, snapshot, err := s.service.WatchVersion(ctx, identity, versionID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer sub.Close()

	logger := zerolog.Ctx(r.Context()).With().Str("version_id", versionID).Str("user_id", identity.UserID).Logger()
	server := websocket.Server{
		Handshake: func(cfg *websocket.Config, _ *http.Request) error {
			if s.corsOrigin == "*" || s.corsOrigin == "" {
				return nil
			}
			if cfg.Origin == nil || cfg.Origin.Scheme+"://"+cfg.Origin.Host != s.corsOrigin {
				return fmt.Errorf("origin not allowed")
			}
			return nil
		},
		Handler: func(ws *websocket.Conn) {
			defer ws.Close()
			// Anything the client sends is ignored; a read error means it left.
			go func() {
				var discard string
				for {
					if err := websocket.Message.Receive(ws, &discard); err != nil {
						cancel()
						return
					}
				}
			}()

			// Messages published between subscribe and snapshot arrive twice.
			merged := feed.MergeMessages(nil, snapshot...)
			if err := websocket.JSON.Send(ws, streamEvent{Type: "snapshot", Messages: merged}); err != nil {
				return
			}
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-sub.C:
					if !ok {
						return
					}
					next := feed.MergeMessages(merged, msg)
					if len(next) == len(merged) {
						continue
					}
					merged = next
					if err := websocket.JSON.Send(ws, streamEvent{Type: "message", Message: &msg}); err != nil {
						logger.Debug().Err(err).Msg("stream send failed")
						return
					}
				}
			}
		},
	}
	w.Header().Del("Content-Type")
	server.ServeHTTP(w, r)
}

func (s *HTTPServer) requireIdentity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return auth.Identity{}, false
	}
	identity, err := s.service.Identify(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return auth.Identity{}, false
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("identity lookup failed")
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return auth.Identity{}, false
	}
	return identity, true
}

// fail maps err to a response. Unmapped errors are logged with the request.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("code", code).Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		logger := log.With().Str("request_id", requestID).Logger()
		r = r.WithContext(logger.WithContext(r.Context()))

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		elapsed := time.Since(started)
		metrics.RequestsTotal.WithLabelValues(r.Method, strconv.Itoa(writer.status)).Inc()
		metrics.RequestDuration.WithLabelValues(r.Method).Observe(elapsed.Seconds())
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", elapsed.Milliseconds()).
			Msg("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
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

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
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
	var workflowInvalid *workflow.ValidationError
	if errors.As(err, &workflowInvalid) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", workflowInvalid.Message, map[string]string{"field": workflowInvalid.Field}
	}
	var authInvalid *authpw.ValidationError
	if errors.As(err, &authInvalid) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", authInvalid.Message, map[string]string{"field": authInvalid.Field}
	}
	switch {
	case errors.Is(err, blob.ErrNotPDF):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file must be a PDF", map[string]string{"field": "file"}
	case errors.Is(err, workflow.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", "Forbidden", nil
	case errors.Is(err, workflow.ErrVersionClosed):
		return http.StatusConflict, "VERSION_CLOSED", "This version is closed to new messages", nil
	case errors.Is(err, workflow.ErrOpenVersionConflict):
		return http.StatusConflict, "OPEN_VERSION_CONFLICT", "Another submission opened a version first", nil
	case errors.Is(err, authpw.ErrEmailTaken):
		return http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	case errors.Is(err, authpw.ErrEmailNotVerified):
		return http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Confirm your email before signing in", nil
	case errors.Is(err, authpw.ErrInvalidCode):
		return http.StatusBadRequest, "INVALID_CODE", "Invalid or expired confirmation code", nil
	case errors.Is(err, workflow.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "File storage is not configured", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, store.ErrNotFound), errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", "Export format must be html or pdf", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available on this server", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
