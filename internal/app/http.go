package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"quorum/api/internal/auth"
	"quorum/api/internal/export"
	"quorum/api/internal/files"
	"quorum/api/internal/realtime"
	"quorum/api/internal/search"
	"quorum/api/internal/util"
)

type HTTPServer struct {
	service    *Service
	hub        *realtime.Hub
	broker     *realtime.Broker
	files      *files.Service
	corsOrigin string
}

func NewHTTPServer(service *Service, hub *realtime.Hub, broker *realtime.Broker, fileService *files.Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{
		service:    service,
		hub:        hub,
		broker:     broker,
		files:      fileService,
		corsOrigin: corsOrigin,
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
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		var body struct {
			Name     string `json:"name"`
			Position string `json:"position"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Login(r.Context(), body.Name, body.Position)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":    session.Token,
			"userId":   session.UserID,
			"userName": session.UserName,
			"position": string(session.Position),
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        session.UserID,
			"userName":      session.UserName,
			"position":      string(session.Position),
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/ws" {
		s.handleWebsocket(w, r)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.URL.Path == "/api/meetings" {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListMeetings(r.Context())
			s.respond(w, map[string]any{"items": payload}, err)
		case http.MethodPost:
			var body CreateMeetingInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateMeeting(r.Context(), session, body)
			s.respondCreated(w, payload, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if r.URL.Path == "/api/resolutions" {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListResolutions(r.Context(), session, strings.TrimSpace(r.URL.Query().Get("status")))
			s.respond(w, map[string]any{"items": payload}, err)
		case http.MethodPost:
			var body CreateResolutionInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateResolution(r.Context(), session, body)
			s.respondCreated(w, payload, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r, session)
		return
	}

	if strings.HasPrefix(r.URL.Path, "/api/notifications") {
		s.handleNotifications(w, r, session)
		return
	}

	parts := splitPath(r.URL.Path)
	// /api/resolutions/{publicID}[/...]
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "resolutions" {
		s.handleResolution(w, r, session, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleResolution(w http.ResponseWriter, r *http.Request, session Session, publicID string, rest []string) {
	ctx := r.Context()

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetResolution(ctx, session, publicID)
			s.respond(w, payload, err)
		case http.MethodPut:
			var body EditResolutionInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.EditResolution(ctx, session, publicID, body)
			s.respond(w, payload, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	switch rest[0] {
	case "transition":
		if r.Method != http.MethodPost {
			break
		}
		var body TransitionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.ApplyTrigger(ctx, session, publicID, body)
		s.respond(w, payload, err)
		return

	case "progress":
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetProgress(ctx, session, publicID)
			s.respond(w, payload, err)
			return
		case http.MethodPost:
			var body ProgressInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateProgress(ctx, session, publicID, body)
			s.respond(w, payload, err)
			return
		}

	case "interactions":
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListInteractions(ctx, session, publicID)
			s.respond(w, map[string]any{"items": payload}, err)
			return
		case http.MethodPost:
			var body PostInteractionInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.PostInteraction(ctx, session, publicID, body)
			s.respondCreated(w, payload, err)
			return
		}

	case "refer":
		if r.Method != http.MethodPost {
			break
		}
		var body struct {
			UserIDs []string `json:"userIds"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.Refer(ctx, session, publicID, body.UserIDs)
		s.respond(w, payload, err)
		return

	case "participants":
		switch {
		case r.Method == http.MethodPost && len(rest) == 1:
			var body struct {
				UserIDs []string `json:"userIds"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.AddParticipants(ctx, session, publicID, body.UserIDs)
			s.respond(w, payload, err)
			return
		case r.Method == http.MethodDelete && len(rest) == 2:
			payload, err := s.service.RemoveParticipant(ctx, session, publicID, rest[1])
			s.respond(w, payload, err)
			return
		}

	case "views":
		if r.Method != http.MethodGet {
			break
		}
		payload, err := s.service.ListFirstViews(ctx, session, publicID)
		s.respond(w, map[string]any{"items": payload}, err)
		return

	case "attachments":
		switch {
		case r.Method == http.MethodPost && len(rest) == 1:
			s.handleAttachmentUpload(w, r, session, publicID)
			return
		case r.Method == http.MethodGet && len(rest) == 2 && rest[1] == "url":
			s.handleAttachmentURL(w, r, session, publicID)
			return
		}

	case "export":
		if r.Method != http.MethodGet {
			break
		}
		s.handleExport(w, r, session, publicID)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
		"redis":    map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	}
	if s.broker != nil {
		if err := s.broker.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["redis"] = map[string]any{"status": "error", "error": err.Error()}
		}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		limit = parsed
	}
	offset := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		offset = parsed
	}
	response, err := s.service.Search(r.Context(), session, search.Query{
		Text:         q,
		FilterStatus: strings.TrimSpace(r.URL.Query().Get("status")),
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleNotifications(w http.ResponseWriter, r *http.Request, session Session) {
	parts := splitPath(r.URL.Path)

	if r.Method == http.MethodGet && len(parts) == 2 {
		unreadOnly := r.URL.Query().Get("unread") == "true"
		limit := 50
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be an integer", nil)
				return
			}
			limit = parsed
		}
		payload, err := s.service.ListNotifications(r.Context(), session, unreadOnly, limit)
		s.respond(w, map[string]any{"items": payload}, err)
		return
	}

	if r.Method == http.MethodGet && len(parts) == 3 && parts[2] == "unread-count" {
		count, err := s.service.UnreadNotificationCount(r.Context(), session)
		s.respond(w, map[string]any{"count": count}, err)
		return
	}

	if r.Method == http.MethodPost && len(parts) == 3 && parts[2] == "read-all" {
		count, err := s.service.MarkAllNotificationsRead(r.Context(), session)
		s.respond(w, map[string]any{"marked": count}, err)
		return
	}

	if r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "read" {
		if err := s.service.MarkNotificationRead(r.Context(), session, parts[2]); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleAttachmentUpload(w http.ResponseWriter, r *http.Request, session Session, publicID string) {
	if s.files == nil || !s.files.IsConfigured() {
		writeError(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Attachment storage is not configured", nil)
		return
	}
	if _, err := s.service.ChatGroupFor(r.Context(), session, publicID); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	if err := r.ParseMultipartForm(files.MaxAttachmentSize); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File exceeds the attachment size limit", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "file field is required", nil)
		return
	}
	defer file.Close()
	if header.Size > files.MaxAttachmentSize {
		writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File exceeds the attachment size limit", nil)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	objectKey := publicID + "/" + util.NewID("att")
	if err := s.files.Upload(r.Context(), objectKey, file, header.Size, contentType); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"objectKey":   objectKey,
		"fileName":    header.Filename,
		"contentType": contentType,
		"size":        header.Size,
	})
}

func (s *HTTPServer) handleAttachmentURL(w http.ResponseWriter, r *http.Request, session Session, publicID string) {
	if s.files == nil || !s.files.IsConfigured() {
		writeError(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Attachment storage is not configured", nil)
		return
	}
	if _, err := s.service.ChatGroupFor(r.Context(), session, publicID); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	objectKey := strings.TrimSpace(r.URL.Query().Get("key"))
	// object keys are scoped to the resolution they were uploaded against
	if objectKey == "" || !strings.HasPrefix(objectKey, publicID+"/") {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	fileName := strings.TrimSpace(r.URL.Query().Get("name"))
	url, err := s.files.PresignedURL(r.Context(), objectKey, fileName)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, session Session, publicID string) {
	format := export.Format(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = export.FormatPDF
	}
	if format != export.FormatPDF && format != export.FormatDOCX {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "format must be pdf or docx", nil)
		return
	}
	includeLog := r.URL.Query().Get("log") == "true"
	result, err := s.service.ExportReport(r.Context(), session, publicID, format, includeLog)
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
			writeError(w, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export dependency is not available", nil)
			return
		}
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

// handleWebsocket upgrades the connection and serves the realtime session.
// The token travels in the query string because browsers cannot set headers
// on websocket dials.
func (s *HTTPServer) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		token = bearerToken(r)
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closed")

	ctx := r.Context()
	wsSession := s.hub.Attach(conn, realtime.UserGroup(session.UserID))
	defer wsSession.Close()
	go wsSession.WritePump(ctx)

	for {
		data, err := wsSession.Read(ctx)
		if err != nil {
			return
		}
		var frame realtime.Inbound
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		switch frame.Type {
		case realtime.InboundJoinChat:
			group, err := s.service.ChatGroupFor(ctx, session, frame.ResolutionID)
			if err != nil {
				continue
			}
			wsSession.Join(group)
		case realtime.InboundLeaveChat:
			wsSession.Leave(realtime.ChatGroup(frame.ResolutionID))
		case realtime.InboundChatMessage:
			_, err := s.service.PostInteraction(ctx, session, frame.ResolutionID, PostInteractionInput{
				Content:    frame.Message,
				ReplyTo:    frame.ReplyTo,
				MentionIDs: frame.Mentions,
			})
			if err != nil {
				logWarn("websocket chat message rejected", err)
			}
		}
	}
}

func (s *HTTPServer) respond(w http.ResponseWriter, payload any, err error) {
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) respondCreated(w http.ResponseWriter, payload any, err error) {
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, payload)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
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

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

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
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func logWarn(message string, err error) {
	log.Printf(`{"level":"warn","msg":%q,"error":%q}`, message, err.Error())
}
